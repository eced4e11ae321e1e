package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ethpandaops/balancoor/pkg/api"
	"github.com/ethpandaops/balancoor/pkg/history"
)

var apiReloadInterval time.Duration

var apiCmd = &cobra.Command{
	Use:   "api CONFIG_FILE",
	Short: "Start the history API server",
	Long:  `Serve recorded execution times, statistics and estimates over HTTP.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
	apiCmd.Flags().DurationVar(&apiReloadInterval, "reload-interval", api.DefaultReloadInterval,
		"how often to re-read history from the backend")
}

func runAPI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(args[0])
	if err != nil {
		return err
	}

	if err := cfg.ValidateAPI(); err != nil {
		return fmt.Errorf("validating api config: %w", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	store, backend := openHistory(ctx, cfg, nil)
	defer closeHistory(backend)

	var source history.Source
	if backend != nil {
		source = backend
	}

	srv := api.NewServer(log, &cfg.API, store, source, apiReloadInterval)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	// Wait for shutdown signal.
	<-ctx.Done()
	log.Info("Shutting down API server")

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping api server: %w", err)
	}

	return nil
}
