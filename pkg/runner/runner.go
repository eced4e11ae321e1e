package runner

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ethpandaops/balancoor/pkg/model"
)

// Report is what a runner returns for one executed test case.
type Report struct {
	Outcome  model.Outcome
	Duration time.Duration
	Output   string
}

// Runner executes single test cases against a server.
type Runner interface {
	// Probe checks that the server accepts connections. Failures wrap
	// model.ErrServerUnavailable.
	Probe(ctx context.Context, server model.Server) error

	// Run executes one test case and blocks until it finishes. A test that
	// ran to completion returns a report with OutcomePassed or
	// OutcomeFailed. Infrastructure problems return an error wrapping
	// model.ErrRunnerExecution or model.ErrServerUnavailable, optionally
	// alongside a partial report carrying the output seen so far.
	Run(ctx context.Context, server model.Server, tc model.TestCase) (*Report, error)
}

// DialProbe checks TCP reachability of a server.
func DialProbe(ctx context.Context, server model.Server, timeout time.Duration) error {
	dialer := net.Dialer{Timeout: timeout}

	conn, err := dialer.DialContext(ctx, "tcp", server.Endpoint())
	if err != nil {
		return fmt.Errorf("%w: dialing %s: %v", model.ErrServerUnavailable, server, err)
	}

	_ = conn.Close()

	return nil
}
