package history

import (
	"errors"
	"fmt"
	"testing"

	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
)

func TestIsS3NotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "typed", err: &s3types.NoSuchKey{}, want: true},
		{name: "wrapped typed", err: fmt.Errorf("get: %w", &s3types.NoSuchKey{}), want: true},
		{name: "message", err: errors.New("api error NoSuchKey: key missing"), want: true},
		{name: "other", err: errors.New("access denied"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isS3NotFound(tt.err))
		})
	}
}

func TestFormatForPath(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatForPath("history.yaml"))
	assert.Equal(t, FormatYAML, FormatForPath("dir/HISTORY.YML"))
	assert.Equal(t, FormatJSON, FormatForPath("historical_times.json"))
	assert.Equal(t, FormatJSON, FormatForPath("noext"))
}

func TestEMA(t *testing.T) {
	records := []Record{{Duration: 10}, {Duration: 20}, {Duration: 30}}

	// 10 -> 13 -> 18.1
	assert.InDelta(t, 18.1, ema(records, 0.3), 1e-9)
	assert.InDelta(t, 30, ema(records, 1), 1e-9)
}
