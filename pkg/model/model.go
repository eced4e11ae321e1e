package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Outcome is the terminal state of a single test execution.
type Outcome string

const (
	OutcomePassed  Outcome = "passed"
	OutcomeFailed  Outcome = "failed"
	OutcomeErrored Outcome = "errored"
)

// ParseOutcome parses a case-insensitive outcome name.
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(strings.ToLower(strings.TrimSpace(s))); o {
	case OutcomePassed, OutcomeFailed, OutcomeErrored:
		return o, nil
	default:
		return "", fmt.Errorf("%w: unknown outcome %q", ErrValidation, s)
	}
}

// TestCase is a single test discovered for a run. It is immutable once
// discovered.
type TestCase struct {
	// ID is stable across runs, derived from the suite-relative path.
	ID string `json:"id"`
	// Name is the display name (the test case directory name).
	Name string `json:"name"`
	// Suite is the path of the test suite directory holding the case.
	Suite string `json:"suite"`
}

func (t TestCase) String() string {
	return fmt.Sprintf("TestCase(name=%s, suite=%s)", t.Name, t.Suite)
}

// Server is a remote execution endpoint. It runs one test at a time.
type Server struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Endpoint returns the host:port identity of the server.
func (s Server) Endpoint() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

func (s Server) String() string {
	return s.Endpoint()
}

// ParseServer parses a host:port endpoint.
func ParseServer(endpoint string) (Server, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(endpoint))
	if err != nil {
		return Server{}, fmt.Errorf("%w: invalid endpoint %q: %v", ErrConfiguration, endpoint, err)
	}

	if host == "" {
		return Server{}, fmt.Errorf("%w: endpoint %q has no host", ErrConfiguration, endpoint)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Server{}, fmt.Errorf("%w: endpoint %q has invalid port %q", ErrConfiguration, endpoint, portStr)
	}

	return Server{Host: host, Port: port}, nil
}

// ParseServers parses an ordered list of unique endpoints.
func ParseServers(endpoints []string) ([]Server, error) {
	servers := make([]Server, 0, len(endpoints))
	seen := make(map[string]struct{}, len(endpoints))

	for _, endpoint := range endpoints {
		server, err := ParseServer(endpoint)
		if err != nil {
			return nil, err
		}

		if _, exists := seen[server.Endpoint()]; exists {
			return nil, fmt.Errorf("%w: duplicate endpoint %q", ErrConfiguration, server.Endpoint())
		}

		seen[server.Endpoint()] = struct{}{}
		servers = append(servers, server)
	}

	return servers, nil
}

// RunResult is produced exactly once per dispatched test case per run.
type RunResult struct {
	TestID     string        `json:"test_id"`
	Name       string        `json:"name"`
	Server     string        `json:"server"`
	Outcome    Outcome       `json:"outcome"`
	Duration   time.Duration `json:"duration"`
	Output     string        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Executed reports whether the test actually ran on a server, as opposed to
// being marked errored without ever starting.
func (r *RunResult) Executed() bool {
	return !r.StartedAt.IsZero()
}
