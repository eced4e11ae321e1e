package scheduler

import (
	"container/heap"
	"fmt"
	"sort"
	"time"

	"github.com/ethpandaops/balancoor/pkg/model"
	"github.com/sirupsen/logrus"
)

// MinEstimate is the floor applied to every estimate so that sorting and
// balancing stay well-defined for zero or negative values.
const MinEstimate = time.Millisecond

// Estimator supplies expected durations for a set of tests from one
// consistent view of history.
type Estimator interface {
	Estimates(testIDs []string) map[string]time.Duration
}

// Scheduler partitions test cases across servers.
type Scheduler interface {
	// Schedule assigns every test case to exactly one server. It fails with
	// model.ErrConfiguration when servers is empty.
	Schedule(tests []model.TestCase, servers []model.Server) (*Assignment, error)
}

type lpt struct {
	log logrus.FieldLogger
	est Estimator
}

// Ensure interface compliance.
var _ Scheduler = (*lpt)(nil)

// NewLPT returns a longest-processing-time-first scheduler.
func NewLPT(log logrus.FieldLogger, est Estimator) Scheduler {
	return &lpt{
		log: log.WithField("component", "scheduler"),
		est: est,
	}
}

// Schedule sorts tests by descending estimate (ties by ID) and hands each to
// the least loaded server (ties by server order).
func (l *lpt) Schedule(tests []model.TestCase, servers []model.Server) (*Assignment, error) {
	if len(servers) == 0 {
		return nil, fmt.Errorf("%w: no servers to schedule on", model.ErrConfiguration)
	}

	ids := make([]string, 0, len(tests))
	seen := make(map[string]struct{}, len(tests))

	for _, tc := range tests {
		if _, dup := seen[tc.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate test case %q", model.ErrValidation, tc.ID)
		}

		seen[tc.ID] = struct{}{}
		ids = append(ids, tc.ID)
	}

	a := newAssignment(servers)

	estimates := l.est.Estimates(ids)
	for _, id := range ids {
		a.Estimates[id] = max(estimates[id], MinEstimate)
	}

	sorted := append([]model.TestCase(nil), tests...)
	sort.Slice(sorted, func(i, j int) bool {
		ei, ej := a.Estimates[sorted[i].ID], a.Estimates[sorted[j].ID]
		if ei != ej {
			return ei > ej
		}

		return sorted[i].ID < sorted[j].ID
	})

	h := make(loadHeap, len(servers))
	for i := range servers {
		h[i] = &serverLoad{index: i}
	}

	heap.Init(&h)

	for _, tc := range sorted {
		least := h[0]
		endpoint := servers[least.index].Endpoint()

		a.Queues[endpoint] = append(a.Queues[endpoint], tc)
		least.load += a.Estimates[tc.ID]
		a.Loads[endpoint] = least.load

		heap.Fix(&h, 0)
	}

	l.log.WithFields(logrus.Fields{
		"tests":    len(tests),
		"servers":  len(servers),
		"makespan": a.Makespan(),
	}).Debug("Schedule computed")

	return a, nil
}

type serverLoad struct {
	index int
	load  time.Duration
}

// loadHeap is a min-heap on load, ties broken by configured server order.
type loadHeap []*serverLoad

func (h loadHeap) Len() int { return len(h) }

func (h loadHeap) Less(i, j int) bool {
	if h[i].load != h[j].load {
		return h[i].load < h[j].load
	}

	return h[i].index < h[j].index
}

func (h loadHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *loadHeap) Push(x any) { *h = append(*h, x.(*serverLoad)) }

func (h *loadHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]

	return item
}
