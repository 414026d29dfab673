package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/autoscore/autoscore/internal/audit"
	"github.com/autoscore/autoscore/internal/keystore"
	"github.com/autoscore/autoscore/internal/model"
	"github.com/autoscore/autoscore/internal/service"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var testNow = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

func testGate(t *testing.T) *service.Gate {
	t.Helper()
	snap, err := keystore.FromRecords(
		model.APIKeyRecord{Key: "K1", ClientName: "Acme", Expiration: time.Date(2999, 1, 1, 0, 0, 0, 0, time.UTC)},
		model.APIKeyRecord{Key: "EXPIRED1", ClientName: "Initech", Expiration: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)},
	)
	if err != nil {
		t.Fatalf("FromRecords: %v", err)
	}
	return service.NewGate(snap, service.WithClock(func() time.Time { return testNow }))
}

// failingSink always reports a storage failure.
type failingSink struct {
	mu    sync.Mutex
	calls int
}

func (f *failingSink) Record(context.Context, model.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return &audit.StorageError{Op: "insert", Err: errors.New("disk full")}
}
func (f *failingSink) Close() error { return nil }

// chunkedHandler writes its body in several writes.
func chunkedHandler(called *bool, chunks ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if called != nil {
			*called = true
		}
		w.Header().Set("Content-Type", "application/json")
		for _, c := range chunks {
			w.Write([]byte(c))
		}
	})
}

func pipeline(sink audit.Sink, opts AuditOptions, t *testing.T, h http.Handler) http.Handler {
	return RequestID(Audit(sink, opts, nil, discard)(APIKey(testGate(t), nil, discard)(h)))
}

// ---------------------------------------------------------------------------
// RequestID
// ---------------------------------------------------------------------------

func TestRequestID(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/score/rules", nil))
	if len(seen) != 36 || rr.Header().Get("X-Request-ID") != seen {
		t.Errorf("generated ID %q, header %q", seen, rr.Header().Get("X-Request-ID"))
	}

	req := httptest.NewRequest("GET", "/score/rules", nil)
	req.Header.Set("X-Request-ID", "trace-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "trace-123" {
		t.Errorf("client request ID not preserved: %q", seen)
	}

	for _, bad := range []string{"has space", "line\nbreak", strings.Repeat("x", maxRequestIDLen+1)} {
		req := httptest.NewRequest("GET", "/score/rules", nil)
		req.Header.Set("X-Request-ID", bad)
		handler.ServeHTTP(httptest.NewRecorder(), req)
		if seen == bad || len(seen) != 36 {
			t.Errorf("malformed request ID %q was kept as %q", bad, seen)
		}
	}

	if GetRequestID(context.Background()) != "" {
		t.Error("expected empty ID from bare context")
	}
}

// ---------------------------------------------------------------------------
// APIKey
// ---------------------------------------------------------------------------

func TestAPIKey(t *testing.T) {
	tests := []struct {
		name       string
		header     map[string]string
		wantStatus int
		wantMsg    string
		wantClient string
	}{
		{"valid", map[string]string{"x-api-key": "K1"}, 200, "", "Acme"},
		{"header case insensitive", map[string]string{"X-API-KEY": "K1"}, 200, "", "Acme"},
		{"missing", nil, 401, "Missing API Key", ""},
		{"empty", map[string]string{"X-Api-Key": ""}, 401, "Missing API Key", ""},
		{"unknown", map[string]string{"X-Api-Key": "nope"}, 401, "Invalid API Key", ""},
		{"wrong case key", map[string]string{"X-Api-Key": "k1"}, 401, "Invalid API Key", ""},
		{"expired", map[string]string{"X-Api-Key": "EXPIRED1"}, 401, "API Key expired on 2000-01-01", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var called bool
			var client string
			h := APIKey(testGate(t), nil, discard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				client, _ = ClientFromContext(r.Context())
			}))

			req := httptest.NewRequest("POST", "/score/single", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if tt.wantStatus == 401 {
				if called {
					t.Error("handler ran for rejected request")
				}
				var body model.ErrorResponse
				if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
					t.Fatalf("decode error body: %v", err)
				}
				if body.Error.Message != tt.wantMsg || body.Error.Code != 401 {
					t.Errorf("error = %+v, want message %q", body.Error, tt.wantMsg)
				}
				return
			}
			if !called || client != tt.wantClient {
				t.Errorf("called=%v client=%q, want %q", called, client, tt.wantClient)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// RequireAdmin
// ---------------------------------------------------------------------------

func TestRequireAdmin(t *testing.T) {
	tokens := service.NewAdminTokens("test-secret", "autoscore")
	good, err := tokens.Issue("ops@example.com", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	var subject string
	h := RequireAdmin(tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = GetAdmin(r.Context()).Subject
	}))

	tests := []struct {
		name   string
		auth   string
		status int
	}{
		{"valid", "Bearer " + good, 200},
		{"missing", "", 401},
		{"not bearer", "Basic abc", 401},
		{"garbage", "Bearer not-a-jwt", 401},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/audit", nil)
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.status {
				t.Errorf("status = %d, want %d", rr.Code, tt.status)
			}
		})
	}
	if subject != "ops@example.com" {
		t.Errorf("subject = %q", subject)
	}
	if GetAdmin(context.Background()) != nil {
		t.Error("expected nil admin from bare context")
	}
}

// ---------------------------------------------------------------------------
// Audit
// ---------------------------------------------------------------------------

func TestAuditAuthenticatedRequest(t *testing.T) {
	sink := audit.NewMemorySink()
	chunks := []string{`{"make":"Toyota",`, `"model":"Corolla",`, `"year":2018,"score":7.6}`}
	h := pipeline(sink, AuditOptions{RecordRejections: true}, t, chunkedHandler(nil, chunks...))

	req := httptest.NewRequest("POST", "/score/single", strings.NewReader(`{}`))
	req.Header.Set("x-api-key", "K1")
	req.Header.Add("Accept", "application/json")
	req.Header.Add("Accept", "text/plain")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	want := strings.Join(chunks, "")
	if rr.Code != 200 || rr.Body.String() != want {
		t.Fatalf("client got %d %q", rr.Code, rr.Body.String())
	}

	recs := sink.Records()
	if len(recs) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(recs))
	}
	rec := recs[0]
	if rec.ClientName == nil || *rec.ClientName != "Acme" {
		t.Errorf("client_name = %v, want Acme", rec.ClientName)
	}
	if rec.ResponseBody != want {
		t.Errorf("audited body = %q, want %q", rec.ResponseBody, want)
	}
	if rec.StatusCode != 200 || rec.Method != "POST" || rec.Path != "/score/single" {
		t.Errorf("record = %+v", rec)
	}
	if rec.RequestHeaders["Accept"] != "application/json, text/plain" {
		t.Errorf("multi-valued header = %q", rec.RequestHeaders["Accept"])
	}
	if rec.RequestID == "" || rec.RequestID != rr.Header().Get("X-Request-ID") {
		t.Errorf("request_id = %q", rec.RequestID)
	}
	if rec.Timestamp.Location() != time.UTC {
		t.Error("timestamp should be UTC")
	}
}

func TestAuditRejectedRequest(t *testing.T) {
	sink := audit.NewMemorySink()
	var called bool
	h := pipeline(sink, AuditOptions{RecordRejections: true}, t, chunkedHandler(&called, "never"))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("POST", "/score/single", nil))

	if called {
		t.Fatal("handler ran without credentials")
	}
	if rr.Code != 401 {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
	recs := sink.Records()
	if len(recs) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(recs))
	}
	if recs[0].ClientName != nil {
		t.Errorf("client_name = %q, want nil", *recs[0].ClientName)
	}
	if recs[0].StatusCode != 401 || recs[0].ResponseBody != rr.Body.String() {
		t.Errorf("record = %+v", recs[0])
	}
}

func TestAuditSkipsRejectionsWhenDisabled(t *testing.T) {
	sink := audit.NewMemorySink()
	h := pipeline(sink, AuditOptions{RecordRejections: false}, t, chunkedHandler(nil, "ok"))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/score/single", nil)
	req.Header.Set("X-Api-Key", "EXPIRED1")
	h.ServeHTTP(rr, req)
	if rr.Code != 401 {
		t.Fatalf("status = %d", rr.Code)
	}
	if n := len(sink.Records()); n != 0 {
		t.Errorf("expected no audit record, got %d", n)
	}

	// Accepted requests are still recorded.
	req = httptest.NewRequest("POST", "/score/single", nil)
	req.Header.Set("X-Api-Key", "K1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if n := len(sink.Records()); n != 1 {
		t.Errorf("expected 1 audit record, got %d", n)
	}
}

func TestAuditFailingSinkLeavesResponseIntact(t *testing.T) {
	body := `{"results":[]}`
	withSink := func(s audit.Sink) *httptest.ResponseRecorder {
		h := pipeline(s, AuditOptions{RecordRejections: true}, t, chunkedHandler(nil, body))
		req := httptest.NewRequest("POST", "/score/batch", nil)
		req.Header.Set("X-Api-Key", "K1")
		req.Header.Set("X-Request-ID", "fixed")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	failing := &failingSink{}
	got := withSink(failing)
	want := withSink(audit.NewMemorySink())

	if failing.calls != 1 {
		t.Errorf("sink called %d times, want 1", failing.calls)
	}
	if got.Code != want.Code || !bytes.Equal(got.Body.Bytes(), want.Body.Bytes()) {
		t.Errorf("failing sink changed response: %d %q vs %d %q", got.Code, got.Body, want.Code, want.Body)
	}
	if got.Header().Get("Content-Type") != want.Header().Get("Content-Type") {
		t.Error("failing sink changed headers")
	}
}

func TestAuditRedactsHeaders(t *testing.T) {
	sink := audit.NewMemorySink()
	h := pipeline(sink, AuditOptions{RedactHeaders: []string{"authorization"}}, t, chunkedHandler(nil, "ok"))

	req := httptest.NewRequest("GET", "/score/rules", nil)
	req.Header.Set("X-Api-Key", "K1")
	req.Header.Set("Authorization", "Bearer secret")
	h.ServeHTTP(httptest.NewRecorder(), req)

	rec := sink.Records()[0]
	if rec.RequestHeaders["Authorization"] != RedactedValue {
		t.Errorf("Authorization = %q, want redacted", rec.RequestHeaders["Authorization"])
	}
	if rec.RequestHeaders["X-Api-Key"] != "K1" {
		t.Errorf("X-Api-Key = %q", rec.RequestHeaders["X-Api-Key"])
	}
}

func TestAuditBodyLimitAndBinary(t *testing.T) {
	sink := audit.NewMemorySink()
	h := pipeline(sink, AuditOptions{MaxBodyBytes: 4}, t, chunkedHandler(nil, "abcdefgh"))
	req := httptest.NewRequest("GET", "/score/rules", nil)
	req.Header.Set("X-Api-Key", "K1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Body.String() != "abcdefgh" {
		t.Errorf("client body truncated: %q", rr.Body.String())
	}
	rec := sink.Records()[0]
	if rec.ResponseBody != "abcd" || !rec.BodyTruncated {
		t.Errorf("record body = %q truncated=%v", rec.ResponseBody, rec.BodyTruncated)
	}

	binary := string([]byte{0xff, 0xd8, 0xff, 0xe0})
	h = pipeline(sink, AuditOptions{}, t, chunkedHandler(nil, binary))
	req = httptest.NewRequest("GET", "/score/rules", nil)
	req.Header.Set("X-Api-Key", "K1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	rec = sink.Records()[1]
	if rec.ResponseBody != "<undecodable body: 4 bytes>" {
		t.Errorf("binary body recorded as %q", rec.ResponseBody)
	}
}

func TestAuditWithoutGate(t *testing.T) {
	sink := audit.NewMemorySink()
	h := Audit(sink, AuditOptions{}, nil, discard)(chunkedHandler(nil, `{"status":"ok"}`))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/openapi.json", nil))

	rec := sink.Records()[0]
	if rec.ClientName != nil {
		t.Error("ungated route should record a null client")
	}
	if rec.StatusCode != 200 {
		t.Errorf("status = %d", rec.StatusCode)
	}
}

// ---------------------------------------------------------------------------
// RateLimitByAPIKey
// ---------------------------------------------------------------------------

func TestRateLimitByAPIKey(t *testing.T) {
	h := RateLimitByAPIKey(2, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(key string) int {
		req := httptest.NewRequest("GET", "/score/rules", nil)
		req.Header.Set(APIKeyHeader, key)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	if send("K1") != 200 || send("K1") != 200 {
		t.Fatal("first two requests should pass")
	}
	if code := send("K1"); code != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want 429", code)
	}
	if code := send("K2"); code != 200 {
		t.Errorf("other key = %d, want 200", code)
	}
}

// ---------------------------------------------------------------------------
// Logger
// ---------------------------------------------------------------------------

func TestLoggerRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	h := Logger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte("nope"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/score/single", nil))

	out := buf.String()
	for _, want := range []string{"level=WARN", "status=422", "bytes=4", "path=/score/single"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %q: %s", want, out)
		}
	}
}
