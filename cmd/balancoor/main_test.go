package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/ethpandaops/balancoor/pkg/collector"
	"github.com/ethpandaops/balancoor/pkg/model"
)

func TestExitCode(t *testing.T) {
	log = logrus.New()
	log.SetLevel(logrus.PanicLevel)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: collector.ExitOK},
		{name: "test failures", err: &exitError{code: collector.ExitTestFailures}, want: collector.ExitTestFailures},
		{name: "configuration", err: fmt.Errorf("validating config: %w", model.ErrConfiguration), want: collector.ExitFatal},
		{name: "other", err: errors.New("boom"), want: collector.ExitFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
