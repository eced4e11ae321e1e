package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethpandaops/balancoor/pkg/config"
	"github.com/ethpandaops/balancoor/pkg/model"
	"github.com/sirupsen/logrus"
)

// Store is the in-memory history of per-test executions. It is created once
// per process and shared by the scheduler (reads) and the result collector
// (writes); all access is synchronized.
type Store struct {
	log     logrus.FieldLogger
	cfg     *config.HistoryConfig
	mu      sync.RWMutex
	records Document
	// unread is set when the last Load failed for a reason other than a
	// missing source. The store then holds only part of the history and
	// must not overwrite the backend.
	unread bool
}

// NewStore creates an empty store.
func NewStore(log logrus.FieldLogger, cfg *config.HistoryConfig) *Store {
	return &Store{
		log:     log.WithField("component", "history"),
		cfg:     cfg,
		records: make(Document),
	}
}

// Estimate returns the expected duration of a test. Tests without records
// get the configured fallback.
func (s *Store) Estimate(testID string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.estimateLocked(testID)
}

// Estimates returns estimates for several tests from one consistent snapshot.
func (s *Store) Estimates(testIDs []string) map[string]time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]time.Duration, len(testIDs))
	for _, id := range testIDs {
		out[id] = s.estimateLocked(id)
	}

	return out
}

func (s *Store) estimateLocked(testID string) time.Duration {
	if records := s.records[testID]; len(records) > 0 {
		return seconds(s.statistic(records))
	}

	return s.fallbackLocked()
}

func (s *Store) statistic(records []Record) float64 {
	if s.cfg.Estimator == config.EstimatorEMA {
		return ema(records, s.cfg.EMAAlpha)
	}

	return mean(records)
}

// fallbackLocked is the estimate for an unseen test: either the configured
// default or the average estimate over all known tests.
func (s *Store) fallbackLocked() time.Duration {
	if s.cfg.UnseenEstimate != config.UnseenEstimateAverage || len(s.records) == 0 {
		return s.cfg.DefaultEstimate
	}

	var (
		sum   float64
		known int
	)

	for _, records := range s.records {
		if len(records) == 0 {
			continue
		}

		sum += s.statistic(records)
		known++
	}

	if known == 0 {
		return s.cfg.DefaultEstimate
	}

	return seconds(sum / float64(known))
}

// Stats returns statistics over every record of a test. The boolean is
// false when the test has no records.
func (s *Store) Stats(testID string) (Stats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.records[testID]
	if len(records) == 0 {
		return Stats{}, false
	}

	return computeStats(records), true
}

// Record appends an execution. A record violating the invariants is
// rejected with model.ErrValidation.
func (s *Store) Record(testID string, rec Record) error {
	if testID == "" {
		return fmt.Errorf("%w: empty test id", model.ErrValidation)
	}

	if err := rec.Validate(); err != nil {
		return fmt.Errorf("recording %q: %w", testID, err)
	}

	s.mu.Lock()
	s.records[testID] = append(s.records[testID], rec)
	s.mu.Unlock()

	return nil
}

// Tests returns every test ID with at least one record, sorted.
func (s *Store) Tests() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records))
	for id, records := range s.records {
		if len(records) > 0 {
			ids = append(ids, id)
		}
	}

	sort.Strings(ids)

	return ids
}

// Len returns the total number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	for _, records := range s.records {
		n += len(records)
	}

	return n
}

// Snapshot returns a deep copy of the store contents.
func (s *Store) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.records.clone()
}

// Load replaces the store contents with the backend's document. A missing
// or unreadable source leaves the store empty and returns an error wrapping
// model.ErrHistoryStore; callers treat it as a warning, never as fatal.
// After an unreadable source the store refuses to persist.
func (s *Store) Load(ctx context.Context, src Source) error {
	doc, err := readSource(ctx, src)

	s.mu.Lock()
	if err != nil {
		s.records = make(Document)
		s.unread = !errors.Is(err, ErrNotFound)
	} else {
		s.records = doc
		s.unread = false
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"source":  src.Name(),
		"tests":   len(doc),
		"records": s.Len(),
	}).Debug("History loaded")

	return nil
}

// Refresh replaces the store contents with the backend's document only when
// it could be read. On error the current contents are kept.
func (s *Store) Refresh(ctx context.Context, src Source) error {
	doc, err := readSource(ctx, src)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.records = doc
	s.unread = false
	s.mu.Unlock()

	return nil
}

// Writable reports whether Persist may overwrite the backend.
func (s *Store) Writable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return !s.unread
}

func readSource(ctx context.Context, src Source) (Document, error) {
	doc, err := src.Load(ctx)
	if err == nil {
		err = doc.Validate()
	}

	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: no history in %s: %w", model.ErrHistoryStore, src.Name(), err)
		}

		return nil, fmt.Errorf("%w: loading %s: %w", model.ErrHistoryStore, src.Name(), err)
	}

	return doc.clone(), nil
}

// Persist writes a consistent snapshot of the store to the sink. It fails
// with ErrUnread when the last Load could not read the existing history.
func (s *Store) Persist(ctx context.Context, sink Sink) error {
	if !s.Writable() {
		return fmt.Errorf("%w: persisting history to %s: %w", model.ErrHistoryStore, sink.Name(), ErrUnread)
	}

	doc := s.Snapshot()

	if err := sink.Persist(ctx, doc); err != nil {
		return fmt.Errorf("persisting history to %s: %w", sink.Name(), err)
	}

	s.log.WithFields(logrus.Fields{
		"sink":  sink.Name(),
		"tests": len(doc),
	}).Debug("History persisted")

	return nil
}
