package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethpandaops/balancoor/pkg/config"
	"github.com/ethpandaops/balancoor/pkg/fsutil"
	"github.com/ethpandaops/balancoor/pkg/history"
	"github.com/ethpandaops/balancoor/pkg/model"
	"github.com/sirupsen/logrus"
)

// loadConfig reads the config file. Every error is a configuration error.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("%w: loading config: %w", model.ErrConfiguration, err)
	}

	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			log.WithField("signal", sig).Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}

		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

// openHistory connects the configured backend and loads the store from it.
// Backend problems only degrade scheduling, so they are logged and the
// returned backend is nil when it could not be started.
func openHistory(
	ctx context.Context,
	cfg *config.Config,
	owner *fsutil.OwnerConfig,
) (*history.Store, history.Backend) {
	store := history.NewStore(log, &cfg.History)

	backend, err := history.NewBackend(log, &cfg.History, owner)
	if err != nil {
		log.WithError(err).Warn("History backend unavailable, using default estimates")

		return store, nil
	}

	if err := backend.Start(ctx); err != nil {
		log.WithError(err).WithField("backend", backend.Name()).
			Warn("History backend unavailable, using default estimates")

		return store, nil
	}

	if err := store.Load(ctx, backend); err != nil {
		l := log.WithError(err).WithField("backend", backend.Name())
		if store.Writable() {
			l.Warn("Starting with empty history")
		} else {
			l.Warn("History could not be read, using default estimates and leaving it untouched")
		}
	} else {
		log.WithFields(logrus.Fields{
			"backend": backend.Name(),
			"tests":   len(store.Tests()),
		}).Info("History loaded")
	}

	return store, backend
}

func closeHistory(backend history.Backend) {
	if backend == nil {
		return
	}

	if err := backend.Stop(); err != nil {
		log.WithError(err).Warn("Failed to close history backend")
	}
}
