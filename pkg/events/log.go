package events

import (
	"github.com/ethpandaops/balancoor/pkg/model"
	"github.com/sirupsen/logrus"
)

type logListener struct {
	log logrus.FieldLogger
}

// NewLogListener renders events as structured log lines.
func NewLogListener(log logrus.FieldLogger) Listener {
	return &logListener{log: log.WithField("component", "events")}
}

func (l *logListener) OnEvent(ev Event) {
	switch e := ev.(type) {
	case *TestStarted:
		l.log.WithFields(logrus.Fields{
			"test":   e.Test.ID,
			"server": e.Server,
		}).Infof("Execute %s", e.Test)
	case *TestFinished:
		r := e.Result
		fields := logrus.Fields{
			"test":     r.TestID,
			"server":   r.Server,
			"outcome":  r.Outcome,
			"duration": r.Duration,
		}

		switch r.Outcome {
		case model.OutcomePassed:
			l.log.WithFields(fields).Info("Test passed")
		case model.OutcomeFailed:
			l.log.WithFields(fields).Warn("Test failed")
		default:
			l.log.WithFields(fields).WithField("error", r.Error).Error("Test errored")
		}
	case *ServerUnhealthy:
		l.log.WithField("server", e.Server).WithError(e.Reason).
			Warn("Server marked unhealthy")
	case *RebalanceTriggered:
		entry := l.log.WithFields(logrus.Fields{
			"from":  e.From,
			"moved": e.Moved,
		})

		if len(e.Targets) == 0 {
			entry.Error("No healthy servers left for remaining tests")
		} else {
			entry.WithField("targets", e.Targets).Info("Rebalanced remaining tests")
		}
	case *RunCancelled:
		l.log.WithField("abandoned", e.Abandoned).Warn("Run cancelled")
	default:
		l.log.WithField("type", ev.Type()).Debug("Event")
	}
}
