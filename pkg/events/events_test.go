package events_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/balancoor/pkg/events"
	"github.com/ethpandaops/balancoor/pkg/model"
)

func TestBus_FanOut(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)

	collect := func(name string) events.Listener {
		return events.ListenerFunc(func(ev events.Event) {
			mu.Lock()
			defer mu.Unlock()

			seen = append(seen, name+":"+string(ev.Type()))
		})
	}

	bus := events.NewBus(collect("a"))
	bus.Subscribe(collect("b"))

	bus.OnEvent(events.NewRunCancelled(3))

	assert.Equal(t, []string{"a:run_cancelled", "b:run_cancelled"}, seen)
}

func TestLogListener(t *testing.T) {
	tests := []struct {
		name      string
		event     events.Event
		wantLevel logrus.Level
		wantMsg   string
	}{
		{
			name:      "started",
			event:     events.NewTestStarted(model.TestCase{ID: "s/tst_a", Name: "tst_a", Suite: "s"}, "h:1"),
			wantLevel: logrus.InfoLevel,
			wantMsg:   "Execute TestCase(name=tst_a, suite=s)",
		},
		{
			name:      "passed",
			event:     events.NewTestFinished(&model.RunResult{TestID: "a", Outcome: model.OutcomePassed}),
			wantLevel: logrus.InfoLevel,
			wantMsg:   "Test passed",
		},
		{
			name:      "failed",
			event:     events.NewTestFinished(&model.RunResult{TestID: "a", Outcome: model.OutcomeFailed}),
			wantLevel: logrus.WarnLevel,
			wantMsg:   "Test failed",
		},
		{
			name:      "errored",
			event:     events.NewTestFinished(&model.RunResult{TestID: "a", Outcome: model.OutcomeErrored}),
			wantLevel: logrus.ErrorLevel,
			wantMsg:   "Test errored",
		},
		{
			name:      "unhealthy",
			event:     events.NewServerUnhealthy("h:1", errors.New("refused")),
			wantLevel: logrus.WarnLevel,
			wantMsg:   "Server marked unhealthy",
		},
		{
			name:      "rebalanced",
			event:     events.NewRebalanceTriggered("h:1", 2, map[string]int{"h:2": 2}),
			wantLevel: logrus.InfoLevel,
			wantMsg:   "Rebalanced remaining tests",
		},
		{
			name:      "nowhere to go",
			event:     events.NewRebalanceTriggered("h:1", 2, nil),
			wantLevel: logrus.ErrorLevel,
			wantMsg:   "No healthy servers left for remaining tests",
		},
		{
			name:      "cancelled",
			event:     events.NewRunCancelled(4),
			wantLevel: logrus.WarnLevel,
			wantMsg:   "Run cancelled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, hook := test.NewNullLogger()

			events.NewLogListener(log).OnEvent(tt.event)

			entry := hook.LastEntry()
			require.NotNil(t, entry)
			assert.Equal(t, tt.wantLevel, entry.Level)
			assert.Equal(t, tt.wantMsg, entry.Message)
			assert.Equal(t, "events", entry.Data["component"])
		})
	}
}
