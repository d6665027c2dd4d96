package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stitchcal/stitch/internal/adapter"
	"github.com/stitchcal/stitch/internal/connect"
	"github.com/stitchcal/stitch/internal/httpapi"
	"github.com/stitchcal/stitch/internal/notify"
	"github.com/stitchcal/stitch/internal/oauthstate"
	"github.com/stitchcal/stitch/internal/refresh"
	"github.com/stitchcal/stitch/internal/secrets"
	"github.com/stitchcal/stitch/internal/store"
	syncer "github.com/stitchcal/stitch/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync service: HTTP API, workers, and scheduler",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("listen", "", "listen address (overrides config)")
	_ = viper.BindPFlag("listen_addr", serveCmd.Flags().Lookup("listen"))
}

func runServe(cmd *cobra.Command, _ []string) error {
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

	states, err := oauthstate.New(st.DB())
	if err != nil {
		return err
	}

	providers := adapter.NewFactory(adapter.Config{
		BaseURL:               viper.GetString("base_url"),
		GoogleClientID:        viper.GetString("google.client_id"),
		GoogleClientSecret:    viper.GetString("google.client_secret"),
		MicrosoftClientID:     viper.GetString("microsoft.client_id"),
		MicrosoftClientSecret: viper.GetString("microsoft.client_secret"),
		MicrosoftTenantID:     viper.GetString("microsoft.tenant_id"),
		ICloudServerURL:       viper.GetString("icloud.server_url"),
	})

	broker := notify.NewBroker()
	orch := syncer.NewOrchestrator(st, st, st, providers, box, broker, log)
	queue := syncer.NewQueue(orch, viper.GetInt("sync_workers"), viper.GetInt("sync_queue_size"), log)
	connectSvc := connect.NewService(st, st, states, providers, box, queue, log)
	runner := refresh.NewRunner(st, states, queue, log)

	api := httpapi.NewServer(connectSvc, queue, broker, st, viper.GetString("settings_url"), log)
	srv := &http.Server{
		Addr:              viper.GetString("listen_addr"),
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue.Start(ctx)
	if err := runner.Start(viper.GetString("sync_cron")); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	runner.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}

	queue.Wait()
	return nil
}
