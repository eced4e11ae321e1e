package scheduler

import (
	"time"

	"github.com/ethpandaops/balancoor/pkg/model"
)

// Assignment maps every server to an ordered queue of test cases. Each test
// case appears in exactly one queue, exactly once.
type Assignment struct {
	// Servers in scheduling order.
	Servers []model.Server
	// Queues is keyed by server endpoint.
	Queues map[string][]model.TestCase
	// Loads is the summed estimate per server endpoint.
	Loads map[string]time.Duration
	// Estimates holds the (clamped) estimate used for every test ID.
	Estimates map[string]time.Duration
}

func newAssignment(servers []model.Server) *Assignment {
	a := &Assignment{
		Servers:   append([]model.Server(nil), servers...),
		Queues:    make(map[string][]model.TestCase, len(servers)),
		Loads:     make(map[string]time.Duration, len(servers)),
		Estimates: make(map[string]time.Duration),
	}

	for _, s := range servers {
		a.Queues[s.Endpoint()] = []model.TestCase{}
		a.Loads[s.Endpoint()] = 0
	}

	return a
}

// Queue returns the queue of a server.
func (a *Assignment) Queue(server model.Server) []model.TestCase {
	return a.Queues[server.Endpoint()]
}

// Makespan is the largest per-server load.
func (a *Assignment) Makespan() time.Duration {
	var longest time.Duration

	for _, load := range a.Loads {
		longest = max(longest, load)
	}

	return longest
}

// Total is the number of test cases across all queues.
func (a *Assignment) Total() int {
	var n int
	for _, q := range a.Queues {
		n += len(q)
	}

	return n
}

// Tests returns every assigned test case, grouped by server in scheduling
// order.
func (a *Assignment) Tests() []model.TestCase {
	out := make([]model.TestCase, 0, a.Total())
	for _, s := range a.Servers {
		out = append(out, a.Queues[s.Endpoint()]...)
	}

	return out
}
