package collector

import (
	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/balancoor/pkg/model"
)

// LogSummary writes per-server counts, the PASS/FAIL listing and the totals.
func LogSummary(log logrus.FieldLogger, s *Summary) {
	for _, ep := range s.ServerEndpoints() {
		srv := s.Servers[ep]

		log.WithFields(logrus.Fields{
			"server":    ep,
			"executed":  srv.Executed,
			"passed":    srv.Passed,
			"failed":    srv.Failed,
			"errored":   srv.Errored,
			"busy":      units.HumanDuration(srv.Busy),
			"wall_time": units.HumanDuration(srv.WallTime),
		}).Infof("Server %s executed %d test cases", ep, srv.Executed)
	}

	log.Info("Test execution results:")

	for _, r := range s.Results {
		entry := log.WithFields(logrus.Fields{
			"server":   r.Server,
			"duration": r.Duration,
		})

		switch r.Outcome {
		case model.OutcomePassed:
			entry.Infof("PASS %s %s", r.Server, r.TestID)
		case model.OutcomeFailed:
			entry.Warnf("FAIL %s %s", r.Server, r.TestID)
		default:
			entry.WithField("error", r.Error).Errorf("ERROR %s %s", r.Server, r.TestID)
		}
	}

	entry := log.WithFields(logrus.Fields{
		"total":     s.Total,
		"passed":    s.Passed,
		"failed":    s.Failed,
		"errored":   s.Errored,
		"abandoned": s.Abandoned,
		"wall_time": units.HumanDuration(s.WallTime),
	})

	if s.ExitCode() == ExitOK {
		entry.Info("All tests passed")
	} else {
		entry.Warn("Run finished with failures")
	}
}
