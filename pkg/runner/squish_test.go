package runner

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/balancoor/pkg/config"
	"github.com/ethpandaops/balancoor/pkg/model"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

// fakeSquishrunner writes a script that echoes its arguments and then runs
// body.
func fakeSquishrunner(t *testing.T, body string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}

	path := filepath.Join(t.TempDir(), "squishrunner")
	script := "#!/bin/sh\necho \"$@\"\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))

	return path
}

func TestSquishRunner_Args(t *testing.T) {
	r := &squishRunner{
		cfg: &config.RunnerConfig{
			Path:            "squishrunner",
			ExitCodeOnFail:  44,
			ReportGenerator: "null",
			ExtraArgs:       []string{"--timeout", "60"},
		},
		suitesDir: "/suites",
	}

	args := r.Args(
		model.Server{Host: "10.0.0.5", Port: 4432},
		model.TestCase{ID: "suite_a/tst_login", Name: "tst_login", Suite: "suite_a"},
	)

	assert.Equal(t, []string{
		"--host", "10.0.0.5",
		"--port", "4432",
		"--testsuite", filepath.Join("/suites", "suite_a"),
		"--testcase", "tst_login",
		"--exitCodeOnFail", "44",
		"--reportgen", "null",
		"--timeout", "60",
	}, args)
}

func TestSquishRunner_Run(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		timeout     time.Duration
		wantOutcome model.Outcome
		wantErr     error
	}{
		{
			name:        "passed",
			body:        "exit 0",
			wantOutcome: model.OutcomePassed,
		},
		{
			name:        "failed",
			body:        "exit 44",
			wantOutcome: model.OutcomeFailed,
		},
		{
			name:        "unexpected exit code",
			body:        "exit 3",
			wantOutcome: model.OutcomeErrored,
			wantErr:     model.ErrRunnerExecution,
		},
		{
			name:        "timeout",
			body:        "exec sleep 5",
			timeout:     100 * time.Millisecond,
			wantOutcome: model.OutcomeErrored,
			wantErr:     model.ErrRunnerExecution,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.RunnerConfig{
				Path:            fakeSquishrunner(t, tt.body),
				ExitCodeOnFail:  44,
				ReportGenerator: "null",
				Timeout:         tt.timeout,
			}
			r := NewSquishRunner(testLogger(), cfg, time.Second, "/suites")

			report, err := r.Run(
				context.Background(),
				model.Server{Host: "127.0.0.1", Port: 4432},
				model.TestCase{ID: "s/tst_a", Name: "tst_a", Suite: "s"},
			)

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			require.NotNil(t, report)
			assert.Equal(t, tt.wantOutcome, report.Outcome)
			assert.Contains(t, report.Output, "--testcase tst_a")
		})
	}
}

func TestSquishRunner_MissingBinary(t *testing.T) {
	cfg := &config.RunnerConfig{
		Path:           filepath.Join(t.TempDir(), "does-not-exist"),
		ExitCodeOnFail: 44,
	}
	r := NewSquishRunner(testLogger(), cfg, time.Second, ".")

	report, err := r.Run(context.Background(), model.Server{Host: "h", Port: 1}, model.TestCase{ID: "t"})
	require.ErrorIs(t, err, model.ErrRunnerExecution)
	assert.Equal(t, model.OutcomeErrored, report.Outcome)
}

func TestDialProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := ln.Addr().(*net.TCPAddr)
	up := model.Server{Host: "127.0.0.1", Port: addr.Port}

	require.NoError(t, DialProbe(context.Background(), up, time.Second))

	require.NoError(t, ln.Close())

	err = DialProbe(context.Background(), up, 200*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrServerUnavailable)
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{limit: 8}

	_, _ = b.Write([]byte("0123"))
	_, _ = b.Write([]byte("4567"))
	assert.Equal(t, "01234567", b.String())

	_, _ = b.Write([]byte("89"))
	assert.Equal(t, "23456789", b.String())

	_, _ = b.Write([]byte(strings.Repeat("x", 20) + "end"))
	assert.Equal(t, "xxxxxend", b.String())
}

type constEstimator time.Duration

func (c constEstimator) Estimate(string) time.Duration { return time.Duration(c) }

func TestSimulated(t *testing.T) {
	r := NewSimulated(constEstimator(50*time.Millisecond), 10)

	require.NoError(t, r.Probe(context.Background(), model.Server{}))

	report, err := r.Run(context.Background(), model.Server{}, model.TestCase{ID: "a"})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomePassed, report.Outcome)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	slow := NewSimulated(constEstimator(time.Hour), 1)
	report, err = slow.Run(ctx, model.Server{}, model.TestCase{ID: "b"})
	require.ErrorIs(t, err, model.ErrRunnerExecution)
	assert.Equal(t, model.OutcomeErrored, report.Outcome)
}
