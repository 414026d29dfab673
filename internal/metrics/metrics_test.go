package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := NewMetrics()
	if err := m.Register(prometheus.NewRegistry()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	m.IncAuthRejection("expired")
	m.IncAuthRejection("expired")
	m.IncAuthRejection("missing")
	m.IncAuditWrite(OutcomeError)
	m.AddKeystoreRowsSkipped(3)
	m.AddKeystoreRowsSkipped(0)

	if got := testutil.ToFloat64(m.authRejections.WithLabelValues("expired")); got != 2 {
		t.Errorf("expired rejections = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.auditWrites.WithLabelValues(OutcomeError)); got != 1 {
		t.Errorf("audit errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.keystoreRowsSkipped); got != 3 {
		t.Errorf("rows skipped = %v, want 3", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.IncAuthRejection("missing")
	m.IncAuditWrite(OutcomeOK)
	m.AddKeystoreRowsSkipped(1)
	m.IncRateLimited()
	m.ObserveRequest("GET", "/score/rules", 200, time.Millisecond)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	reg, err := NewRegistry(m)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	m.ObserveRequest("POST", "/score/single", 200, 3*time.Millisecond)
	m.IncAuthRejection("unknown")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{
		`autoscore_http_requests_total{method="POST",route="/score/single",status="200"} 1`,
		`autoscore_auth_rejections_total{reason="unknown"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
