package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ethpandaops/balancoor/pkg/config"
	"github.com/ethpandaops/balancoor/pkg/model"
	"github.com/sirupsen/logrus"
)

// maxOutputBytes bounds the captured runner output kept per test.
const maxOutputBytes = 64 * 1024

// outputWaitDelay bounds how long a killed runner's children may hold the
// output pipes open.
const outputWaitDelay = 2 * time.Second

type squishRunner struct {
	log          logrus.FieldLogger
	cfg          *config.RunnerConfig
	probeTimeout time.Duration
	suitesDir    string
}

// Ensure interface compliance.
var _ Runner = (*squishRunner)(nil)

// NewSquishRunner runs test cases with the squishrunner binary. Test suite
// paths are resolved relative to suitesDir.
func NewSquishRunner(
	log logrus.FieldLogger,
	cfg *config.RunnerConfig,
	probeTimeout time.Duration,
	suitesDir string,
) Runner {
	return &squishRunner{
		log:          log.WithField("component", "squishrunner"),
		cfg:          cfg,
		probeTimeout: probeTimeout,
		suitesDir:    suitesDir,
	}
}

func (r *squishRunner) Probe(ctx context.Context, server model.Server) error {
	return DialProbe(ctx, server, r.probeTimeout)
}

// Args builds the squishrunner command line for one test case.
func (r *squishRunner) Args(server model.Server, tc model.TestCase) []string {
	args := []string{
		"--host", server.Host,
		"--port", strconv.Itoa(server.Port),
		"--testsuite", filepath.Join(r.suitesDir, filepath.FromSlash(tc.Suite)),
		"--testcase", tc.Name,
		"--exitCodeOnFail", strconv.Itoa(r.cfg.ExitCodeOnFail),
		"--reportgen", r.cfg.ReportGenerator,
	}

	return append(args, r.cfg.ExtraArgs...)
}

func (r *squishRunner) Run(ctx context.Context, server model.Server, tc model.TestCase) (*Report, error) {
	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	args := r.Args(server, tc)

	r.log.WithFields(logrus.Fields{
		"server": server.Endpoint(),
		"test":   tc.ID,
	}).Debugf("Running command: %s %v", r.cfg.Path, args)

	output := &tailBuffer{limit: maxOutputBytes}

	//nolint:gosec // runner path and args come from validated configuration.
	cmd := exec.CommandContext(ctx, r.cfg.Path, args...)
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.WaitDelay = outputWaitDelay

	start := time.Now()
	err := cmd.Run()
	report := &Report{
		Duration: time.Since(start),
		Output:   output.String(),
	}

	if err == nil {
		report.Outcome = model.OutcomePassed

		return report, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		report.Outcome = model.OutcomeErrored

		return report, fmt.Errorf("%w: %s terminated: %w", model.ErrRunnerExecution, tc.ID, ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.ExitCode() == r.cfg.ExitCodeOnFail {
			report.Outcome = model.OutcomeFailed

			return report, nil
		}

		report.Outcome = model.OutcomeErrored

		return report, fmt.Errorf(
			"%w: %s exited with code %d", model.ErrRunnerExecution, tc.ID, exitErr.ExitCode(),
		)
	}

	report.Outcome = model.OutcomeErrored

	return report, fmt.Errorf("%w: starting squishrunner: %w", model.ErrRunnerExecution, err)
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)

	if len(p) >= b.limit {
		b.buf.Reset()
		b.buf.Write(p[len(p)-b.limit:])

		return n, nil
	}

	if over := b.buf.Len() + len(p) - b.limit; over > 0 {
		b.buf.Next(over)
	}

	b.buf.Write(p)

	return n, nil
}

func (b *tailBuffer) String() string {
	return b.buf.String()
}
