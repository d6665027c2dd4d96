// Package cmd wires the stitchd commands.
package cmd

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "stitchd",
	Short: "Calendar sync engine for Google, Outlook, and iCloud accounts",
	Long: `stitchd pulls events from connected Google, Outlook, and iCloud calendar
accounts into one local store, tracking incremental changes with provider
sync tokens where available.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/stitch/config.yaml)")
	rootCmd.PersistentFlags().String("db", "", "database file path")
	_ = viper.BindPFlag("database_path", rootCmd.PersistentFlags().Lookup("db"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		configDir := filepath.Join(home, ".config", "stitch")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")

		viper.SetDefault("database_path", filepath.Join(configDir, "stitch.db"))
	}

	viper.SetEnvPrefix("STITCH")
	viper.AutomaticEnv()

	viper.SetDefault("listen_addr", ":8080")
	viper.SetDefault("base_url", "http://localhost:8080")
	viper.SetDefault("settings_url", "http://localhost:8080/settings")
	viper.SetDefault("sync_cron", "@every 15m")
	viper.SetDefault("sync_workers", 4)
	viper.SetDefault("sync_queue_size", 64)
	viper.SetDefault("database_path", "stitch.db")

	if err := viper.ReadInConfig(); err == nil {
		slog.Debug("using config file", "path", viper.ConfigFileUsed())
	}
}

// newLogger builds the service-wide structured logger.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if viper.GetBool("debug") {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
