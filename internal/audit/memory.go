package audit

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/autoscore/autoscore/internal/model"
)

// ErrClosed is returned by sinks after Close.
var ErrClosed = errors.New("sink closed")

// MemorySink keeps records in process memory. Used by tests and by the
// "memory" driver.
type MemorySink struct {
	mu      sync.RWMutex
	records []model.AuditRecord
	nextID  int64
	closed  bool
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record appends rec, assigning the next ID.
func (m *MemorySink) Record(_ context.Context, rec model.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return storageErr("record", ErrClosed)
	}
	m.nextID++
	rec.ID = m.nextID
	rec.RequestHeaders = cloneHeaders(rec.RequestHeaders)
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of every record in insertion order.
func (m *MemorySink) Records() []model.AuditRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.records)
}

// List returns matching records newest first.
func (m *MemorySink) List(_ context.Context, f Filter) ([]model.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.AuditRecord
	skipped := 0
	for i := len(m.records) - 1; i >= 0 && len(out) < f.limit(); i-- {
		rec := m.records[i]
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

// Count returns the number of matching records.
func (m *MemorySink) Count(_ context.Context, f Filter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, rec := range m.records {
		if f.matches(rec) {
			n++
		}
	}
	return n, nil
}

func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func cloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

var (
	_ Sink   = (*MemorySink)(nil)
	_ Reader = (*MemorySink)(nil)
)
