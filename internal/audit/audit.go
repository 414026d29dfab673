// Package audit persists one record per handled request. Sinks are written to
// after the response has been delivered, so a failing sink never changes what
// the client received; callers log and count the returned error instead.
package audit

import (
	"context"
	"fmt"

	"github.com/autoscore/autoscore/internal/model"
)

// Sink persists audit records. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, rec model.AuditRecord) error
	Close() error
}

// Reader is implemented by sinks whose records can be queried back.
type Reader interface {
	List(ctx context.Context, f Filter) ([]model.AuditRecord, error)
	Count(ctx context.Context, f Filter) (int64, error)
}

// Pinger is implemented by sinks backed by a remote store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Filter narrows List and Count. Results are ordered newest first.
type Filter struct {
	Limit  int
	Offset int
	Client string // exact client name; empty matches all
}

// DefaultLimit applies when Filter.Limit is zero or negative.
const DefaultLimit = 100

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return DefaultLimit
	}
	return f.Limit
}

func (f Filter) offset() int {
	if f.Offset < 0 {
		return 0
	}
	return f.Offset
}

func (f Filter) matches(rec model.AuditRecord) bool {
	if f.Client == "" {
		return true
	}
	return rec.ClientName != nil && *rec.ClientName == f.Client
}

// StorageError reports a failed sink operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("audit %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// NopSink discards every record. It is used when audit is disabled.
type NopSink struct{}

func (NopSink) Record(context.Context, model.AuditRecord) error { return nil }
func (NopSink) Close() error                                    { return nil }

var _ Sink = NopSink{}
