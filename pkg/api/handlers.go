package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ethpandaops/balancoor/pkg/history"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// testSummary is the list view of one test's history.
type testSummary struct {
	TestID          string        `json:"test_id"`
	EstimateSeconds float64       `json:"estimate_seconds"`
	Stats           history.Stats `json:"stats"`
}

type testDetail struct {
	testSummary
	Records []history.Record `json:"records"`
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"tests":   len(s.store.Tests()),
		"records": s.store.Len(),
	})
}

// handleListHistory returns stats for every known test, optionally
// filtered by an ID prefix.
func (s *server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	ids := s.store.Tests()
	estimates := s.store.Estimates(ids)

	out := make([]testSummary, 0, len(ids))

	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) {
			continue
		}

		stats, _ := s.store.Stats(id)
		out = append(out, testSummary{
			TestID:          id,
			EstimateSeconds: estimates[id].Seconds(),
			Stats:           stats,
		})
	}

	writeJSON(w, http.StatusOK, out)
}

// handleGetHistory returns stats and records of one test.
func (s *server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")

	stats, ok := s.store.Stats(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{"no history for test"})

		return
	}

	writeJSON(w, http.StatusOK, testDetail{
		testSummary: testSummary{
			TestID:          id,
			EstimateSeconds: s.store.Estimate(id).Seconds(),
			Stats:           stats,
		},
		Records: s.store.Snapshot()[id],
	})
}

// handleEstimates returns the scheduling estimate in seconds for every
// ?test= parameter, or for every known test when none is given. Unseen
// tests get the fallback estimate.
func (s *server) handleEstimates(w http.ResponseWriter, r *http.Request) {
	ids := r.URL.Query()["test"]
	if len(ids) == 0 {
		ids = s.store.Tests()
	}

	estimates := s.store.Estimates(ids)

	out := make(map[string]float64, len(estimates))
	for id, d := range estimates {
		out[id] = d.Seconds()
	}

	writeJSON(w, http.StatusOK, out)
}
