package history

import (
	"context"
	"fmt"

	"github.com/ethpandaops/balancoor/pkg/config"
	"github.com/ethpandaops/balancoor/pkg/fsutil"
	"github.com/sirupsen/logrus"
)

// Source provides a persisted history document.
type Source interface {
	// Name identifies the source in logs and errors.
	Name() string
	// Load returns the stored document, or an error wrapping ErrNotFound
	// when nothing has been persisted yet.
	Load(ctx context.Context) (Document, error)
}

// Sink durably stores a history document.
type Sink interface {
	Name() string
	// Persist replaces the stored document.
	Persist(ctx context.Context, doc Document) error
}

// Backend is a Source and Sink with a connection lifecycle.
type Backend interface {
	Source
	Sink

	Start(ctx context.Context) error
	Stop() error
}

// NewBackend creates the backend selected by cfg.Backend.
func NewBackend(
	log logrus.FieldLogger,
	cfg *config.HistoryConfig,
	owner *fsutil.OwnerConfig,
) (Backend, error) {
	switch cfg.Backend {
	case config.HistoryBackendFile, "":
		return NewFileBackend(log, cfg.File.Path, owner), nil
	case config.HistoryBackendSQLite, config.HistoryBackendPostgres:
		return NewSQLBackend(log, cfg), nil
	case config.HistoryBackendS3:
		return NewS3Backend(log, &cfg.S3), nil
	default:
		return nil, fmt.Errorf("unsupported history backend: %s", cfg.Backend)
	}
}
