// Package keystore loads the API key table from a CSV source and serves
// lookups from an immutable snapshot.
//
// A Snapshot is built once at startup and never mutated afterwards, so any
// number of request goroutines may call Lookup concurrently without locking.
package keystore

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/autoscore/autoscore/internal/model"
)

// Column names expected in the key source header.
const (
	ColumnAPIKey     = "api_key"
	ColumnClientName = "client_name"
	ColumnExpiration = "expiration_date"
)

// Options controls how malformed rows are handled.
type Options struct {
	// Strict aborts the load on the first malformed row. When false the row
	// is excluded and reported in LoadReport.Skipped.
	Strict bool
}

// Snapshot is a read-only API key table.
type Snapshot struct {
	records map[string]model.APIKeyRecord
}

// LoadFile reads the key table from a CSV file on disk.
func LoadFile(path string, opts Options) (*Snapshot, *LoadReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, &LoadError{Source: path, Err: err}
	}
	defer f.Close()
	return load(f, path, opts)
}

// Load reads the key table from r. Header or syntax problems are always
// fatal; malformed rows are fatal only in strict mode.
func Load(r io.Reader, opts Options) (*Snapshot, *LoadReport, error) {
	return load(r, "reader", opts)
}

func load(r io.Reader, source string, opts Options) (*Snapshot, *LoadReport, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // row width is validated per row below
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty key source")
		}
		return nil, nil, &LoadError{Source: source, Line: 1, Err: err}
	}

	idx, err := columnIndex(header)
	if err != nil {
		return nil, nil, &LoadError{Source: source, Line: 1, Err: err}
	}

	snap := &Snapshot{records: make(map[string]model.APIKeyRecord)}
	report := &LoadReport{Source: source}

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return nil, nil, &LoadError{Source: source, Line: perr.StartLine, Err: perr.Err}
			}
			return nil, nil, &LoadError{Source: source, Err: err}
		}
		line, _ := cr.FieldPos(0)

		rec, reason := parseRow(row, idx, len(header))
		if reason == "" {
			if _, dup := snap.records[rec.Key]; dup {
				reason = "duplicate api_key"
			}
		}
		if reason != "" {
			if opts.Strict {
				return nil, nil, &LoadError{Source: source, Line: line, Err: errors.New(reason)}
			}
			report.Skipped = append(report.Skipped, RowError{Line: line, Reason: reason})
			continue
		}
		snap.records[rec.Key] = rec
	}

	report.Loaded = len(snap.records)
	return snap, report, nil
}

type columns struct {
	key, client, expiration int
}

func columnIndex(header []string) (columns, error) {
	c := columns{key: -1, client: -1, expiration: -1}
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case ColumnAPIKey:
			c.key = i
		case ColumnClientName:
			c.client = i
		case ColumnExpiration:
			c.expiration = i
		}
	}

	var missing []string
	if c.key < 0 {
		missing = append(missing, ColumnAPIKey)
	}
	if c.client < 0 {
		missing = append(missing, ColumnClientName)
	}
	if c.expiration < 0 {
		missing = append(missing, ColumnExpiration)
	}
	if len(missing) > 0 {
		return c, fmt.Errorf("%w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}
	return c, nil
}

// parseRow returns the record or a non-empty reason describing why the row
// is malformed.
func parseRow(row []string, c columns, width int) (model.APIKeyRecord, string) {
	if len(row) != width {
		return model.APIKeyRecord{}, fmt.Sprintf("expected %d fields, got %d", width, len(row))
	}

	key := strings.TrimSpace(row[c.key])
	client := strings.TrimSpace(row[c.client])
	rawDate := strings.TrimSpace(row[c.expiration])

	if key == "" {
		return model.APIKeyRecord{}, "empty api_key"
	}
	if client == "" {
		return model.APIKeyRecord{}, "empty client_name"
	}
	exp, err := ParseExpiration(rawDate)
	if err != nil {
		return model.APIKeyRecord{}, err.Error()
	}

	return model.APIKeyRecord{Key: key, ClientName: client, Expiration: exp}, ""
}

// ParseExpiration parses a YYYY-MM-DD date as UTC midnight.
func ParseExpiration(s string) (time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiration_date %q (want YYYY-MM-DD)", s)
	}
	return t, nil
}

// Lookup returns the record for key. Matching is exact and case-sensitive.
func (s *Snapshot) Lookup(key string) (model.APIKeyRecord, bool) {
	if s == nil {
		return model.APIKeyRecord{}, false
	}
	rec, ok := s.records[key]
	return rec, ok
}

// Len returns the number of keys in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.records)
}

// Records returns a copy of all records sorted by client name, then key.
func (s *Snapshot) Records() []model.APIKeyRecord {
	if s == nil {
		return nil
	}
	out := make([]model.APIKeyRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ClientName != out[j].ClientName {
			return out[i].ClientName < out[j].ClientName
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// FromRecords builds a snapshot from records already in memory. Duplicate
// keys are rejected.
func FromRecords(records ...model.APIKeyRecord) (*Snapshot, error) {
	snap := &Snapshot{records: make(map[string]model.APIKeyRecord, len(records))}
	for _, rec := range records {
		if _, dup := snap.records[rec.Key]; dup {
			return nil, fmt.Errorf("duplicate api_key %q", rec.Key)
		}
		rec.Expiration = rec.Expiration.UTC()
		snap.records[rec.Key] = rec
	}
	return snap, nil
}
