package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path"
	"strings"
	"time"

	"github.com/ethpandaops/balancoor/pkg/model"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned by a backend that holds no history yet.
var ErrNotFound = errors.New("history not found")

// ErrUnread is returned by Persist when the existing history could not be
// read, so writing would replace it.
var ErrUnread = errors.New("existing history was not read")

// Record is a single past execution of a test. Records are append-only.
type Record struct {
	Timestamp time.Time     `json:"timestamp" yaml:"timestamp"`
	Duration  float64       `json:"duration" yaml:"duration"` // seconds
	Outcome   model.Outcome `json:"outcome" yaml:"outcome"`
	Server    string        `json:"server" yaml:"server"`
}

// NewRecord builds a record from a measured duration.
func NewRecord(d time.Duration, outcome model.Outcome, server string, ts time.Time) Record {
	return Record{
		Timestamp: ts.UTC(),
		Duration:  d.Seconds(),
		Outcome:   outcome,
		Server:    server,
	}
}

// Validate checks the record invariants.
func (r *Record) Validate() error {
	if math.IsNaN(r.Duration) || math.IsInf(r.Duration, 0) {
		return fmt.Errorf("%w: duration is not a finite number", model.ErrValidation)
	}

	if r.Duration < 0 {
		return fmt.Errorf("%w: negative duration %v", model.ErrValidation, r.Duration)
	}

	if _, err := model.ParseOutcome(string(r.Outcome)); err != nil {
		return err
	}

	return nil
}

// Document is the persisted form of the store: test ID to chronologically
// ordered records.
type Document map[string][]Record

// Validate checks every record in the document.
func (d Document) Validate() error {
	for testID, records := range d {
		if testID == "" {
			return fmt.Errorf("%w: empty test id", model.ErrValidation)
		}

		for i := range records {
			if err := records[i].Validate(); err != nil {
				return fmt.Errorf("test %q record %d: %w", testID, i, err)
			}
		}
	}

	return nil
}

// Format is the on-disk encoding of a Document.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatForPath picks YAML for .yaml/.yml names and JSON otherwise.
func FormatForPath(name string) Format {
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Encode serializes the document.
func (d Document) Encode(format Format) ([]byte, error) {
	if d == nil {
		d = Document{}
	}

	switch format {
	case FormatYAML:
		return yaml.Marshal(d)
	default:
		return json.MarshalIndent(d, "", "    ")
	}
}

// DecodeDocument parses a serialized document.
func DecodeDocument(format Format, data []byte) (Document, error) {
	doc := make(Document)

	var err error

	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &doc)
	default:
		err = json.Unmarshal(data, &doc)
	}

	if err != nil {
		return nil, fmt.Errorf("decoding history: %w", err)
	}

	if doc == nil {
		doc = make(Document)
	}

	return doc, nil
}

func (d Document) clone() Document {
	out := make(Document, len(d))
	for testID, records := range d {
		out[testID] = append([]Record(nil), records...)
	}

	return out
}
