package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stitchcal/stitch/internal/adapter"
	"github.com/stitchcal/stitch/internal/notify"
	"github.com/stitchcal/stitch/internal/secrets"
	"github.com/stitchcal/stitch/internal/store"
	syncer "github.com/stitchcal/stitch/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync <account-id>",
	Short: "Run one sync pass for an account and exit",
	Args:  cobra.ExactArgs(1),
	RunE:  runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	log := newLogger()

	masterKey := viper.GetString("master_key")
	if masterKey == "" {
		return errors.New("master_key is required (hex-encoded 32 bytes; set STITCH_MASTER_KEY)")
	}
	box, err := secrets.NewBox(masterKey)
	if err != nil {
		return fmt.Errorf("initializing credential box: %w", err)
	}

	st, err := store.Open(viper.GetString("database_path"))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	providers := adapter.NewFactory(adapter.Config{
		BaseURL:               viper.GetString("base_url"),
		GoogleClientID:        viper.GetString("google.client_id"),
		GoogleClientSecret:    viper.GetString("google.client_secret"),
		MicrosoftClientID:     viper.GetString("microsoft.client_id"),
		MicrosoftClientSecret: viper.GetString("microsoft.client_secret"),
		MicrosoftTenantID:     viper.GetString("microsoft.tenant_id"),
		ICloudServerURL:       viper.GetString("icloud.server_url"),
	})

	orch := syncer.NewOrchestrator(st, st, st, providers, box, notify.NewBroker(), log)
	stats, err := orch.SyncAccount(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("synced: %d upserted, %d deleted\n", stats.Upserted, stats.Deleted)
	return nil
}
