package events

import (
	"sync"
	"time"

	"github.com/ethpandaops/balancoor/pkg/model"
)

// Type names an event kind.
type Type string

const (
	TypeTestStarted        Type = "test_started"
	TypeTestFinished       Type = "test_finished"
	TypeServerUnhealthy    Type = "server_unhealthy"
	TypeRebalanceTriggered Type = "rebalance_triggered"
	TypeRunCancelled       Type = "run_cancelled"
)

// Event is emitted by the dispatcher while a run progresses.
type Event interface {
	Type() Type
	Time() time.Time
}

type base struct {
	At time.Time
}

func (b base) Time() time.Time { return b.At }

func now() base { return base{At: time.Now()} }

// TestStarted is emitted right before a test is handed to the runner.
type TestStarted struct {
	base
	Test   model.TestCase
	Server string
}

func (TestStarted) Type() Type { return TypeTestStarted }

// NewTestStarted creates a TestStarted event.
func NewTestStarted(tc model.TestCase, server string) *TestStarted {
	return &TestStarted{base: now(), Test: tc, Server: server}
}

// TestFinished carries the result of a test.
type TestFinished struct {
	base
	Result *model.RunResult
}

func (TestFinished) Type() Type { return TypeTestFinished }

// NewTestFinished creates a TestFinished event.
func NewTestFinished(result *model.RunResult) *TestFinished {
	return &TestFinished{base: now(), Result: result}
}

// ServerUnhealthy is emitted once when a server is taken out of rotation.
type ServerUnhealthy struct {
	base
	Server string
	Reason error
}

func (ServerUnhealthy) Type() Type { return TypeServerUnhealthy }

// NewServerUnhealthy creates a ServerUnhealthy event.
func NewServerUnhealthy(server string, reason error) *ServerUnhealthy {
	return &ServerUnhealthy{base: now(), Server: server, Reason: reason}
}

// RebalanceTriggered describes how the unstarted tests of a failed server
// were redistributed. Targets maps endpoint to the number of tests moved
// there; it is empty when no healthy server remained.
type RebalanceTriggered struct {
	base
	From    string
	Moved   int
	Targets map[string]int
}

func (RebalanceTriggered) Type() Type { return TypeRebalanceTriggered }

// NewRebalanceTriggered creates a RebalanceTriggered event.
func NewRebalanceTriggered(from string, moved int, targets map[string]int) *RebalanceTriggered {
	return &RebalanceTriggered{base: now(), From: from, Moved: moved, Targets: targets}
}

// RunCancelled is emitted when cancellation abandons queued tests.
type RunCancelled struct {
	base
	Abandoned int
}

func (RunCancelled) Type() Type { return TypeRunCancelled }

// NewRunCancelled creates a RunCancelled event.
func NewRunCancelled(abandoned int) *RunCancelled {
	return &RunCancelled{base: now(), Abandoned: abandoned}
}

// Listener receives events. Implementations must be safe for concurrent
// use and must not block for long.
type Listener interface {
	OnEvent(ev Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev Event)

func (f ListenerFunc) OnEvent(ev Event) { f(ev) }

// Bus fans events out to every subscribed listener in subscription order.
type Bus struct {
	mu        sync.RWMutex
	listeners []Listener
}

// Ensure interface compliance.
var _ Listener = (*Bus)(nil)

// NewBus creates a bus with the given listeners.
func NewBus(listeners ...Listener) *Bus {
	return &Bus{listeners: listeners}
}

// Subscribe adds a listener.
func (b *Bus) Subscribe(l Listener) {
	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	b.mu.Unlock()
}

// OnEvent delivers ev to every listener.
func (b *Bus) OnEvent(ev Event) {
	b.mu.RLock()
	listeners := b.listeners
	b.mu.RUnlock()

	for _, l := range listeners {
		l.OnEvent(ev)
	}
}

// Discard is a listener that drops every event.
var Discard Listener = ListenerFunc(func(Event) {})
