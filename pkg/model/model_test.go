package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServer(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		want     Server
		wantErr  bool
	}{
		{
			name:     "ipv4",
			endpoint: "192.168.1.100:4432",
			want:     Server{Host: "192.168.1.100", Port: 4432},
		},
		{
			name:     "hostname with spaces",
			endpoint: "  squish-01:4433 ",
			want:     Server{Host: "squish-01", Port: 4433},
		},
		{
			name:     "ipv6",
			endpoint: "[::1]:4432",
			want:     Server{Host: "::1", Port: 4432},
		},
		{
			name:     "missing port",
			endpoint: "squish-01",
			wantErr:  true,
		},
		{
			name:     "missing host",
			endpoint: ":4432",
			wantErr:  true,
		},
		{
			name:     "port out of range",
			endpoint: "squish-01:70000",
			wantErr:  true,
		},
		{
			name:     "non numeric port",
			endpoint: "squish-01:http",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseServer(tt.endpoint)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrConfiguration))

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseServers_RejectsDuplicates(t *testing.T) {
	_, err := ParseServers([]string{"a:1", "b:2", "a:1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)

	servers, err := ParseServers([]string{"b:2", "a:1"})
	require.NoError(t, err)
	require.Len(t, servers, 2)
	assert.Equal(t, "b:2", servers[0].Endpoint())
	assert.Equal(t, "a:1", servers[1].Endpoint())
}

func TestParseOutcome(t *testing.T) {
	o, err := ParseOutcome(" Passed ")
	require.NoError(t, err)
	assert.Equal(t, OutcomePassed, o)

	_, err = ParseOutcome("skipped")
	assert.ErrorIs(t, err, ErrValidation)
}
