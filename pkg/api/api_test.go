package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethpandaops/balancoor/pkg/config"
	"github.com/ethpandaops/balancoor/pkg/history"
	"github.com/ethpandaops/balancoor/pkg/model"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

func newTestServer(t *testing.T, cfg *config.APIConfig) (*server, *history.Store) {
	t.Helper()

	store := history.NewStore(testLogger(), &config.HistoryConfig{
		DefaultEstimate: 30 * time.Second,
		Estimator:       config.EstimatorMean,
		UnseenEstimate:  config.UnseenEstimateDefault,
	})

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, rec := range []struct {
		id   string
		secs float64
	}{
		{"suite_a/tst_login", 10},
		{"suite_a/tst_login", 20},
		{"suite_b/tst_cart", 5},
	} {
		require.NoError(t, store.Record(rec.id, history.Record{
			Timestamp: ts,
			Duration:  rec.secs,
			Outcome:   model.OutcomePassed,
			Server:    "10.0.0.1:4432",
		}))
	}

	return NewServer(testLogger(), cfg, store, nil, 0).(*server), store
}

func get(t *testing.T, h http.Handler, target string, out any) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if out != nil && rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
	}

	return rec
}

func TestHandleHealth(t *testing.T) {
	s, _ := newTestServer(t, &config.APIConfig{})

	var body map[string]any

	rec := get(t, s.buildRouter(), "/api/v1/health", &body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(2), body["tests"])
	assert.Equal(t, float64(3), body["records"])
}

func TestHandleListHistory(t *testing.T) {
	tests := []struct {
		name    string
		target  string
		wantIDs []string
	}{
		{
			name:    "all",
			target:  "/api/v1/history",
			wantIDs: []string{"suite_a/tst_login", "suite_b/tst_cart"},
		},
		{
			name:    "prefix",
			target:  "/api/v1/history?prefix=suite_b/",
			wantIDs: []string{"suite_b/tst_cart"},
		},
		{
			name:    "no match",
			target:  "/api/v1/history?prefix=nope",
			wantIDs: []string{},
		},
	}

	s, _ := newTestServer(t, &config.APIConfig{})
	router := s.buildRouter()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body []testSummary

			rec := get(t, router, tt.target, &body)
			require.Equal(t, http.StatusOK, rec.Code)

			ids := make([]string, 0, len(body))
			for _, ts := range body {
				ids = append(ids, ts.TestID)
			}

			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestHandleGetHistory(t *testing.T) {
	s, _ := newTestServer(t, &config.APIConfig{})
	router := s.buildRouter()

	var body testDetail

	rec := get(t, router, "/api/v1/history/suite_a/tst_login", &body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "suite_a/tst_login", body.TestID)
	assert.Equal(t, 15.0, body.EstimateSeconds)
	assert.Equal(t, 2, body.Stats.SampleCount)
	assert.Equal(t, 5.0, body.Stats.StdDev)
	assert.Len(t, body.Records, 2)

	rec = get(t, router, "/api/v1/history/suite_a/tst_unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleEstimates(t *testing.T) {
	s, _ := newTestServer(t, &config.APIConfig{})
	router := s.buildRouter()

	var body map[string]float64

	rec := get(t, router, "/api/v1/estimates?test=suite_b/tst_cart&test=new/tst_x", &body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]float64{
		"suite_b/tst_cart": 5,
		"new/tst_x":        30,
	}, body)

	body = nil
	rec = get(t, router, "/api/v1/estimates", &body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body, 2)
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, &config.APIConfig{
		RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2},
	})

	router := s.buildRouter()

	assert.Equal(t, http.StatusOK, get(t, router, "/api/v1/history", nil).Code)
	assert.Equal(t, http.StatusOK, get(t, router, "/api/v1/history", nil).Code)

	rec := get(t, router, "/api/v1/history", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))

	// Health is never limited.
	assert.Equal(t, http.StatusOK, get(t, router, "/api/v1/health", nil).Code)
}

func TestClientLimiter(t *testing.T) {
	cl := newClientLimiter(1)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	ok, _ := cl.reserve("192.0.2.1", now)
	assert.True(t, ok)

	ok, delay := cl.reserve("192.0.2.1", now)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, delay)

	// Other clients have their own bucket.
	ok, _ = cl.reserve("192.0.2.2", now)
	assert.True(t, ok)

	// A rejected request does not consume the next token.
	ok, _ = cl.reserve("192.0.2.1", now.Add(time.Minute))
	assert.True(t, ok)
	assert.Equal(t, 2, cl.size())

	// Idle buckets are swept on a later access.
	later := now.Add(time.Minute + clientIdleTTL + time.Second)
	ok, _ = cl.reserve("192.0.2.3", later)
	assert.True(t, ok)
	assert.Equal(t, 1, cl.size())
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name   string
		xff    string
		remote string
		want   string
	}{
		{name: "remote addr", remote: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "forwarded chain", xff: "203.0.113.5, 10.0.0.1", remote: "10.0.0.1:80", want: "203.0.113.5"},
		{name: "forwarded single", xff: "203.0.113.9", remote: "10.0.0.1:80", want: "203.0.113.9"},
		{name: "bad remote", remote: "garbage", want: "garbage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote

			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}

			assert.Equal(t, tt.want, extractIP(req))
		})
	}
}

func TestServer_StartStop(t *testing.T) {
	s, _ := newTestServer(t, &config.APIConfig{Listen: "127.0.0.1:0"})

	require.NoError(t, s.Start(context.Background()))

	resp, err := http.Get("http://" + s.Addr() + "/api/v1/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop())
}
