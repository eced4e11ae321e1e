package history

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ethpandaops/balancoor/pkg/model"
)

// LegacyServer is the server recorded on imported records.
const LegacyServer = "imported"

// DecodeLegacy parses a flat {"test": seconds} timing file into a document
// with one passed record per test.
func DecodeLegacy(data []byte, ts time.Time) (Document, error) {
	var flat map[string]float64
	if err := json.Unmarshal(data, &flat); err != nil {
		return nil, fmt.Errorf("decoding legacy timings: %w", err)
	}

	doc := make(Document, len(flat))

	for testID, secs := range flat {
		rec := Record{
			Timestamp: ts.UTC(),
			Duration:  secs,
			Outcome:   model.OutcomePassed,
			Server:    LegacyServer,
		}

		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("legacy test %q: %w", testID, err)
		}

		doc[testID] = []Record{rec}
	}

	return doc, doc.Validate()
}

// Import appends every record of doc to the store, in test ID order. It
// returns the number of records added.
func (s *Store) Import(doc Document) (int, error) {
	if err := doc.Validate(); err != nil {
		return 0, err
	}

	ids := make([]string, 0, len(doc))
	for id := range doc {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int

	for _, id := range ids {
		s.records[id] = append(s.records[id], doc[id]...)
		n += len(doc[id])
	}

	return n, nil
}
