package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/ethpandaops/balancoor/pkg/model"
)

// DurationEstimator returns the expected duration of a test.
type DurationEstimator interface {
	Estimate(testID string) time.Duration
}

type simulated struct {
	est     DurationEstimator
	speedup float64
}

// Ensure interface compliance.
var _ Runner = (*simulated)(nil)

// NewSimulated returns a runner that sleeps for each test's estimated
// duration divided by speedup and reports it as passed. Servers are always
// reachable.
func NewSimulated(est DurationEstimator, speedup float64) Runner {
	if speedup <= 0 {
		speedup = 1
	}

	return &simulated{est: est, speedup: speedup}
}

func (s *simulated) Probe(_ context.Context, _ model.Server) error {
	return nil
}

func (s *simulated) Run(ctx context.Context, _ model.Server, tc model.TestCase) (*Report, error) {
	wait := time.Duration(float64(s.est.Estimate(tc.ID)) / s.speedup)
	start := time.Now()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return &Report{Outcome: model.OutcomeErrored, Duration: time.Since(start)},
			fmt.Errorf("%w: %s interrupted: %w", model.ErrRunnerExecution, tc.ID, ctx.Err())
	}

	return &Report{
		Outcome:  model.OutcomePassed,
		Duration: time.Since(start),
		Output:   fmt.Sprintf("simulated %s", tc.ID),
	}, nil
}
