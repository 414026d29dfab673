package audit

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/autoscore/autoscore/internal/config"
	"github.com/autoscore/autoscore/internal/connector"
	"github.com/autoscore/autoscore/internal/connector/sqlite"
	"github.com/autoscore/autoscore/internal/model"
)

func strPtr(s string) *string { return &s }

func sampleRecord(client *string, path string) model.AuditRecord {
	return model.AuditRecord{
		Timestamp:      time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC),
		RequestID:      "0190a1b2-c3d4-7e5f-8a9b-0c1d2e3f4a5b",
		RequestHeaders: map[string]string{"X-Api-Key": "K1", "Accept": "application/json, text/plain"},
		Path:           path,
		Method:         "POST",
		StatusCode:     200,
		ResponseBody:   `{"make":"Toyota","model":"Corolla","year":2018,"score":42.5}`,
		ClientName:     client,
		DurationMs:     1.25,
	}
}

// newTestStore returns a migrated SQLStore over in-memory SQLite.
func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	conn := sqlite.New()
	if err := conn.Connect(connector.ConnectionConfig{Driver: "sqlite", DSN: ":memory:"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	store := NewSQLStore(conn)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLStoreRecordAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := sampleRecord(strPtr("Acme"), "/score/single")
	if err := store.Record(ctx, want); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := store.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	rec := got[0]
	if rec.ID == 0 {
		t.Error("expected database-assigned ID")
	}
	if !rec.Timestamp.Equal(want.Timestamp) {
		t.Errorf("timestamp = %v, want %v", rec.Timestamp, want.Timestamp)
	}
	if rec.ClientName == nil || *rec.ClientName != "Acme" {
		t.Errorf("client_name = %v, want Acme", rec.ClientName)
	}
	if rec.ResponseBody != want.ResponseBody {
		t.Errorf("response_body = %q", rec.ResponseBody)
	}
	if rec.RequestHeaders["Accept"] != "application/json, text/plain" {
		t.Errorf("headers = %v", rec.RequestHeaders)
	}
	if rec.StatusCode != 200 || rec.Method != "POST" || rec.Path != "/score/single" {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestSQLStoreNullClient(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rejected := sampleRecord(nil, "/score/single")
	rejected.StatusCode = 401
	rejected.ResponseBody = `{"error":{"code":401,"message":"Missing API Key"}}`
	if err := store.Record(ctx, rejected); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := store.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got[0].ClientName != nil {
		t.Errorf("client_name = %q, want nil", *got[0].ClientName)
	}
}

func TestSQLStoreFilterAndPaging(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		store.Record(ctx, sampleRecord(strPtr("Acme"), "/score/single"))
	}
	for i := 0; i < 3; i++ {
		store.Record(ctx, sampleRecord(strPtr("Globex"), "/score/batch"))
	}
	store.Record(ctx, sampleRecord(nil, "/score/rules"))

	total, err := store.Count(ctx, Filter{})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if total != 9 {
		t.Errorf("Count() = %d, want 9", total)
	}

	acme, _ := store.Count(ctx, Filter{Client: "Acme"})
	if acme != 5 {
		t.Errorf("Count(Acme) = %d, want 5", acme)
	}

	page, err := store.List(ctx, Filter{Client: "Acme", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page size = %d, want 2", len(page))
	}
	if page[0].ID <= page[1].ID {
		t.Error("records should be newest first")
	}
	for _, r := range page {
		if *r.ClientName != "Acme" {
			t.Errorf("filter leaked client %q", *r.ClientName)
		}
	}

	newest, _ := store.List(ctx, Filter{Limit: 1})
	if newest[0].Path != "/score/rules" {
		t.Errorf("newest record path = %q", newest[0].Path)
	}
}

func TestSQLStoreMigrateIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestSQLStoreFailureReturnsStorageError(t *testing.T) {
	conn := sqlite.New()
	if err := conn.Connect(connector.ConnectionConfig{Driver: "sqlite", DSN: ":memory:"}); err != nil {
		t.Fatalf("connect: %v", err)
	}
	// No Migrate: the insert fails because the table is missing.
	store := NewSQLStore(conn)
	defer store.Close()

	err := store.Record(context.Background(), sampleRecord(strPtr("Acme"), "/score/single"))
	var serr *StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *StorageError, got %v", err)
	}
	if serr.Op != "insert" {
		t.Errorf("Op = %q, want insert", serr.Op)
	}

	// The failed transaction must have released the single connection.
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate after failed insert: %v", err)
	}
	if err := store.Record(context.Background(), sampleRecord(strPtr("Acme"), "/score/single")); err != nil {
		t.Fatalf("Record after recovery: %v", err)
	}
}

func TestSQLStoreClosed(t *testing.T) {
	store := newTestStore(t)
	store.Close()

	err := store.Record(context.Background(), sampleRecord(nil, "/"))
	var serr *StorageError
	if !errors.As(err, &serr) || serr.Op != "begin" {
		t.Fatalf("expected begin StorageError, got %v", err)
	}
	if err := store.Ping(context.Background()); err == nil {
		t.Error("Ping on closed store should fail")
	}
}

func TestSQLStoreConcurrentRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Record(ctx, sampleRecord(strPtr("Acme"), "/score/single")); err != nil {
				t.Errorf("Record: %v", err)
			}
		}()
	}
	wg.Wait()

	n, _ := store.Count(ctx, Filter{})
	if n != 20 {
		t.Errorf("Count() = %d, want 20", n)
	}
}

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	sink.Record(ctx, sampleRecord(strPtr("Acme"), "/a"))
	sink.Record(ctx, sampleRecord(nil, "/b"))
	sink.Record(ctx, sampleRecord(strPtr("Acme"), "/c"))

	all := sink.Records()
	if len(all) != 3 || all[0].ID != 1 || all[2].ID != 3 {
		t.Fatalf("Records() = %+v", all)
	}

	list, _ := sink.List(ctx, Filter{Client: "Acme"})
	if len(list) != 2 || list[0].Path != "/c" || list[1].Path != "/a" {
		t.Errorf("List(Acme) = %+v", list)
	}
	paged, _ := sink.List(ctx, Filter{Limit: 1, Offset: 1})
	if len(paged) != 1 || paged[0].Path != "/b" {
		t.Errorf("List(limit 1, offset 1) = %+v", paged)
	}
	if n, _ := sink.Count(ctx, Filter{}); n != 3 {
		t.Errorf("Count() = %d", n)
	}

	sink.Close()
	if err := sink.Record(ctx, sampleRecord(nil, "/d")); !errors.Is(err, ErrClosed) {
		t.Errorf("Record after Close = %v, want ErrClosed", err)
	}
}

func TestFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	ctx := context.Background()

	sink.Record(ctx, sampleRecord(strPtr("Acme"), "/score/single"))
	sink.Record(ctx, sampleRecord(nil, "/score/batch"))

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSON lines, got %d", len(lines))
	}
	if !strings.Contains(lines[1], `"client_name":null`) {
		t.Errorf("rejected record should carry null client: %s", lines[1])
	}

	list, err := sink.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].Path != "/score/batch" {
		t.Errorf("List() = %+v", list)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopening continues the ID sequence.
	again, err := NewFileSink(path)
	if err != nil {
		t.Fatal(err)
	}
	defer again.Close()
	again.Record(ctx, sampleRecord(strPtr("Globex"), "/score/rules"))
	list, _ = again.List(ctx, Filter{Limit: 1})
	if list[0].ID != 3 {
		t.Errorf("ID after reopen = %d, want 3", list[0].ID)
	}
	if n, _ := again.Count(ctx, Filter{Client: "Globex"}); n != 1 {
		t.Errorf("Count(Globex) = %d", n)
	}
}

func TestFileSinkClosed(t *testing.T) {
	sink, err := NewFileSink(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	sink.Close()
	err = sink.Record(context.Background(), sampleRecord(nil, "/"))
	var serr *StorageError
	if !errors.As(err, &serr) || !errors.Is(err, ErrClosed) {
		t.Errorf("expected StorageError wrapping ErrClosed, got %v", err)
	}
}

func TestFileSinkFailedRecordKeepsIDsAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewFileSink(path)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()
	ctx := context.Background()

	// Unencodable record.
	bad := sampleRecord(nil, "/score/single")
	bad.DurationMs = math.NaN()
	if err := sink.Record(ctx, bad); err == nil {
		t.Fatal("expected encode error")
	}

	// Write failure: swap in a read-only handle on the same file.
	writable := sink.file
	ro, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	sink.file = ro
	err = sink.Record(ctx, sampleRecord(nil, "/score/single"))
	sink.file = writable
	ro.Close()
	var serr *StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StorageError on write failure, got %v", err)
	}

	if err := sink.Record(ctx, sampleRecord(strPtr("Acme"), "/score/batch")); err != nil {
		t.Fatalf("Record: %v", err)
	}
	list, err := sink.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List after failed writes: %v", err)
	}
	if len(list) != 1 || list[0].ID != 1 {
		t.Errorf("List() = %+v, want one record with ID 1", list)
	}
}

func TestOpen(t *testing.T) {
	reg := connector.NewRegistry()
	reg.RegisterDriver("sqlite", func() connector.Connector { return sqlite.New() })
	ctx := context.Background()

	tests := []struct {
		name string
		cfg  config.AuditConfig
		want string
	}{
		{"disabled", config.AuditConfig{Enabled: false, Driver: "sqlite"}, "audit.NopSink"},
		{"memory", config.AuditConfig{Enabled: true, Driver: config.DriverMemory}, "*audit.MemorySink"},
		{"file", config.AuditConfig{Enabled: true, Driver: config.DriverFile, File: filepath.Join(t.TempDir(), "a.jsonl")}, "*audit.FileSink"},
		{"sqlite", config.AuditConfig{Enabled: true, Driver: "sqlite", DSN: ":memory:"}, "*audit.SQLStore"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink, err := Open(ctx, tt.cfg, reg)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer sink.Close()
			if got := typeName(sink); got != tt.want {
				t.Errorf("Open() = %s, want %s", got, tt.want)
			}
			if err := sink.Record(ctx, sampleRecord(nil, "/healthz")); err != nil {
				t.Errorf("Record: %v", err)
			}
		})
	}

	if _, err := Open(ctx, config.AuditConfig{Enabled: true, Driver: "db2"}, reg); err == nil {
		t.Error("expected error for unregistered driver")
	}
}

func typeName(v any) string {
	switch v.(type) {
	case NopSink:
		return "audit.NopSink"
	case *MemorySink:
		return "*audit.MemorySink"
	case *FileSink:
		return "*audit.FileSink"
	case *SQLStore:
		return "*audit.SQLStore"
	}
	return "unknown"
}
