package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"github.com/autoscore/autoscore/internal/model"
)

// FileSink appends records to a file as JSON lines. Each record is synced to
// disk before Record returns.
type FileSink struct {
	mu      sync.Mutex
	path   string
	file   *os.File
	nextID int64
}

// NewFileSink opens path for appending, creating it if needed. IDs continue
// from the number of lines already in the file.
func NewFileSink(path string) (*FileSink, error) {
	existing, err := countLines(path)
	if err != nil {
		return nil, storageErr("open", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, storageErr("open", err)
	}
	return &FileSink{
		path:   path,
		file:   f,
		nextID: existing,
	}, nil
}

// Record writes rec as one JSON line and fsyncs the file. A failed write is
// truncated away and does not consume an ID.
func (s *FileSink) Record(_ context.Context, rec model.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return storageErr("record", ErrClosed)
	}
	rec.ID = s.nextID + 1
	line, err := json.Marshal(rec)
	if err != nil {
		return storageErr("record", fmt.Errorf("encode: %w", err))
	}
	line = append(line, '\n')

	info, err := s.file.Stat()
	if err != nil {
		return storageErr("record", err)
	}
	offset := info.Size()
	if _, err := s.file.Write(line); err != nil {
		return storageErr("record", errors.Join(err, s.rollback(offset)))
	}
	if err := s.file.Sync(); err != nil {
		return storageErr("record", errors.Join(err, s.rollback(offset)))
	}
	s.nextID = rec.ID
	return nil
}

// rollback drops anything written past offset so a partial line never
// reaches readers.
func (s *FileSink) rollback(offset int64) error {
	if err := os.Truncate(s.path, offset); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}
	return nil
}

// List reads the file back and returns matching records newest first.
func (s *FileSink) List(_ context.Context, f Filter) ([]model.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := readJSONLines(s.path)
	if err != nil {
		return nil, storageErr("list", err)
	}
	slices.Reverse(all)

	var out []model.AuditRecord
	skipped := 0
	for _, rec := range all {
		if len(out) >= f.limit() {
			break
		}
		if !f.matches(rec) {
			continue
		}
		if skipped < f.offset() {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Count returns the number of matching records in the file.
func (s *FileSink) Count(_ context.Context, f Filter) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := readJSONLines(s.path)
	if err != nil {
		return 0, storageErr("count", err)
	}
	var n int64
	for _, rec := range all {
		if f.matches(rec) {
			n++
		}
	}
	return n, nil
}

// Close syncs and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return nil
	}
	syncErr := s.file.Sync()
	closeErr := s.file.Close()
	s.file = nil
	return storageErr("close", errors.Join(syncErr, closeErr))
}

func readJSONLines(path string) ([]model.AuditRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []model.AuditRecord
	dec := json.NewDecoder(f)
	for {
		var rec model.AuditRecord
		err := dec.Decode(&rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode record %d: %w", len(out)+1, err)
		}
		out = append(out, rec)
	}
}

func countLines(path string) (int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 64<<20)
	var n int64
	for sc.Scan() {
		if len(sc.Bytes()) > 0 {
			n++
		}
	}
	return n, sc.Err()
}

var (
	_ Sink   = (*FileSink)(nil)
	_ Reader = (*FileSink)(nil)
)
