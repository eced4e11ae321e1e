package collector

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ethpandaops/balancoor/pkg/fsutil"
	"github.com/ethpandaops/balancoor/pkg/model"
)

// Process exit codes.
const (
	ExitOK           = 0
	ExitTestFailures = 1
	ExitFatal        = 2
)

// ServerSummary accumulates the results executed on one server.
type ServerSummary struct {
	Executed int `json:"executed"`
	Passed   int `json:"passed"`
	Failed   int `json:"failed"`
	Errored  int `json:"errored"`
	// Busy is the summed duration of the tests the server executed.
	Busy time.Duration `json:"-"`
	// WallTime spans from the first test start to the last test finish.
	WallTime time.Duration `json:"-"`

	BusySeconds     float64 `json:"busy_seconds"`
	WallTimeSeconds float64 `json:"wall_time_seconds"`

	firstStart time.Time
	lastFinish time.Time
}

// Summary is the final report of a run.
type Summary struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	WallTime   time.Duration `json:"-"`

	WallTimeSeconds float64 `json:"wall_time_seconds"`

	Total     int `json:"total"`
	Passed    int `json:"passed"`
	Failed    int `json:"failed"`
	Errored   int `json:"errored"`
	Abandoned int `json:"abandoned"`

	Servers      map[string]*ServerSummary `json:"servers"`
	FailedTests  []string                  `json:"failed_tests"`
	ErroredTests []string                  `json:"errored_tests"`

	// Results in arrival order.
	Results []*model.RunResult `json:"results"`
}

func newSummary(total int, servers []string, started time.Time) *Summary {
	s := &Summary{
		StartedAt:    started,
		Total:        total,
		Servers:      make(map[string]*ServerSummary, len(servers)),
		FailedTests:  []string{},
		ErroredTests: []string{},
		Results:      make([]*model.RunResult, 0, total),
	}

	for _, ep := range servers {
		s.Servers[ep] = &ServerSummary{}
	}

	return s
}

func (s *Summary) add(r *model.RunResult) {
	s.Results = append(s.Results, r)

	switch r.Outcome {
	case model.OutcomePassed:
		s.Passed++
	case model.OutcomeFailed:
		s.Failed++
		s.FailedTests = append(s.FailedTests, r.TestID)
	default:
		s.Errored++
		s.ErroredTests = append(s.ErroredTests, r.TestID)
	}

	if !r.Executed() {
		return
	}

	srv, ok := s.Servers[r.Server]
	if !ok {
		srv = &ServerSummary{}
		s.Servers[r.Server] = srv
	}

	srv.Executed++
	srv.Busy += r.Duration

	switch r.Outcome {
	case model.OutcomePassed:
		srv.Passed++
	case model.OutcomeFailed:
		srv.Failed++
	default:
		srv.Errored++
	}

	if srv.firstStart.IsZero() || r.StartedAt.Before(srv.firstStart) {
		srv.firstStart = r.StartedAt
	}

	if r.FinishedAt.After(srv.lastFinish) {
		srv.lastFinish = r.FinishedAt
	}
}

func (s *Summary) finish(at time.Time) {
	s.FinishedAt = at
	s.WallTime = at.Sub(s.StartedAt)
	s.WallTimeSeconds = s.WallTime.Seconds()
	s.Abandoned = max(s.Total-len(s.Results), 0)

	sort.Strings(s.FailedTests)
	sort.Strings(s.ErroredTests)

	for _, srv := range s.Servers {
		if !srv.firstStart.IsZero() {
			srv.WallTime = srv.lastFinish.Sub(srv.firstStart)
		}

		srv.BusySeconds = srv.Busy.Seconds()
		srv.WallTimeSeconds = srv.WallTime.Seconds()
	}
}

// ExitCode is ExitOK only when every test was dispatched and passed.
func (s *Summary) ExitCode() int {
	if s.Failed > 0 || s.Errored > 0 || s.Abandoned > 0 {
		return ExitTestFailures
	}

	return ExitOK
}

// ServerEndpoints returns the endpoints present in the summary, sorted.
func (s *Summary) ServerEndpoints() []string {
	eps := make([]string, 0, len(s.Servers))
	for ep := range s.Servers {
		eps = append(eps, ep)
	}

	sort.Strings(eps)

	return eps
}

// WriteSummary writes the summary as indented JSON.
func WriteSummary(path string, owner *fsutil.OwnerConfig, s *Summary) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling summary: %w", err)
	}

	if err := fsutil.WriteFileAtomic(path, data, 0o644, owner); err != nil {
		return fmt.Errorf("writing summary: %w", err)
	}

	return nil
}
