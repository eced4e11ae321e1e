package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/balancoor/pkg/history"
	"github.com/ethpandaops/balancoor/pkg/model"
	"github.com/sirupsen/logrus"
)

// Collector consumes a result stream, records every executed test into the
// history store and builds the run summary.
type Collector struct {
	log          logrus.FieldLogger
	store        *history.Store
	sink         history.Sink
	persistEvery int
	servers      []string
}

// NewCollector creates a collector. With persistEvery > 0 the store is also
// persisted after every persistEvery recorded results; a nil sink disables
// persistence altogether.
func NewCollector(
	log logrus.FieldLogger,
	store *history.Store,
	sink history.Sink,
	persistEvery int,
	servers []model.Server,
) *Collector {
	eps := make([]string, 0, len(servers))
	for _, s := range servers {
		eps = append(eps, s.Endpoint())
	}

	return &Collector{
		log:          log.WithField("component", "collector"),
		store:        store,
		sink:         sink,
		persistEvery: persistEvery,
		servers:      eps,
	}
}

// Collect drains results until the channel closes. total is the number of
// tests dispatched; tests without a result are counted as abandoned. The
// returned error only reports a failed final persist, the summary is
// always complete.
func (c *Collector) Collect(
	ctx context.Context,
	total int,
	results <-chan *model.RunResult,
) (*Summary, error) {
	summary := newSummary(total, c.servers, time.Now())

	sink := c.sink
	if sink != nil && !c.store.Writable() {
		c.log.WithField("sink", sink.Name()).
			Warn("Existing history could not be read, results will not be persisted")

		sink = nil
	}

	var sinceFlush int

	for r := range results {
		summary.add(r)

		if !r.Executed() {
			continue
		}

		rec := history.NewRecord(r.Duration, r.Outcome, r.Server, r.FinishedAt)
		if err := c.store.Record(r.TestID, rec); err != nil {
			c.log.WithError(err).WithField("test", r.TestID).Warn("Failed to record execution")

			continue
		}

		sinceFlush++

		if sink != nil && c.persistEvery > 0 && sinceFlush >= c.persistEvery {
			if err := c.store.Persist(context.WithoutCancel(ctx), sink); err != nil {
				c.log.WithError(err).Warn("Incremental history persist failed")
			} else {
				sinceFlush = 0
			}
		}
	}

	summary.finish(time.Now())

	if sink == nil {
		return summary, nil
	}

	// Persist even when the run was cancelled.
	if err := c.store.Persist(context.WithoutCancel(ctx), sink); err != nil {
		return summary, fmt.Errorf("%w: final persist: %w", model.ErrHistoryStore, err)
	}

	return summary, nil
}
