package history

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethpandaops/balancoor/pkg/fsutil"
	"github.com/sirupsen/logrus"
)

type fileBackend struct {
	log    logrus.FieldLogger
	path   string
	format Format
	owner  *fsutil.OwnerConfig
}

// Ensure interface compliance.
var _ Backend = (*fileBackend)(nil)

// NewFileBackend stores history in a single JSON or YAML file.
func NewFileBackend(log logrus.FieldLogger, path string, owner *fsutil.OwnerConfig) Backend {
	return &fileBackend{
		log:    log.WithField("component", "history-file"),
		path:   path,
		format: FormatForPath(path),
		owner:  owner,
	}
}

func (b *fileBackend) Name() string {
	return "file:" + b.path
}

func (b *fileBackend) Start(_ context.Context) error {
	return nil
}

func (b *fileBackend) Stop() error {
	return nil
}

// Load reads and decodes the history file. A JSON file in the flat
// {"test": seconds} layout is read as legacy timings, one record per test
// stamped with the file's modification time.
func (b *fileBackend) Load(_ context.Context) (Document, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %s: %w", b.path, ErrNotFound)
		}

		return nil, fmt.Errorf("reading %s: %w", b.path, err)
	}

	doc, err := DecodeDocument(b.format, data)
	if err == nil || b.format != FormatJSON {
		return doc, err
	}

	ts := time.Now()
	if info, statErr := os.Stat(b.path); statErr == nil {
		ts = info.ModTime()
	}

	legacy, legacyErr := DecodeLegacy(data, ts)
	if legacyErr != nil {
		return nil, err
	}

	b.log.WithFields(logrus.Fields{
		"path":  b.path,
		"tests": len(legacy),
	}).Info("Read legacy timing file, it will be rewritten in the history format")

	return legacy, nil
}

// Persist atomically rewrites the history file.
func (b *fileBackend) Persist(_ context.Context, doc Document) error {
	data, err := doc.Encode(b.format)
	if err != nil {
		return fmt.Errorf("encoding history: %w", err)
	}

	if err := fsutil.WriteFileAtomic(b.path, data, 0o644, b.owner); err != nil {
		return fmt.Errorf("writing %s: %w", b.path, err)
	}

	b.log.WithField("path", b.path).Debug("History file written")

	return nil
}
