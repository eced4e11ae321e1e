package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/balancoor/pkg/config"
	"github.com/ethpandaops/balancoor/pkg/history"
	"github.com/sirupsen/logrus"
)

const (
	shutdownTimeout = 10 * time.Second

	// DefaultReloadInterval is how often the history is re-read from the
	// backend so the API reflects runs finished elsewhere.
	DefaultReloadInterval = 60 * time.Second
)

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
	// Addr returns the bound listen address once started.
	Addr() string
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log            logrus.FieldLogger
	cfg            *config.APIConfig
	store          *history.Store
	source         history.Source
	reloadInterval time.Duration
	httpServer     *http.Server
	listener       net.Listener
	wg             sync.WaitGroup
	done           chan struct{}
}

// NewServer creates a read-only API over store. When source is not nil the
// store is reloaded from it every reloadInterval.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.APIConfig,
	store *history.Store,
	source history.Source,
	reloadInterval time.Duration,
) Server {
	if reloadInterval <= 0 {
		reloadInterval = DefaultReloadInterval
	}

	return &server{
		log:            log.WithField("component", "api"),
		cfg:            cfg,
		store:          store,
		source:         source,
		reloadInterval: reloadInterval,
		done:           make(chan struct{}),
	}
}

// Start binds the listener and serves in the background.
func (s *server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.listener = ln

	if s.source != nil {
		s.wg.Add(1)

		go func() {
			defer s.wg.Done()

			ticker := time.NewTicker(s.reloadInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					if err := s.store.Refresh(ctx, s.source); err != nil {
						s.log.WithError(err).Warn("Failed to reload history")
					}
				case <-ctx.Done():
					return
				case <-s.done:
					return
				}
			}
		}()
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", ln.Addr().String()).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

func (s *server) Addr() string {
	if s.listener == nil {
		return ""
	}

	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	close(s.done)

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	s.log.Info("API server stopped")

	return nil
}
