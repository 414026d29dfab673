package model

import (
	"net/http"
	"strings"
	"time"
)

// AuditRecord is the persisted description of one request/response pair.
// Records are append-only: once written they are never updated or deleted.
type AuditRecord struct {
	ID             int64             `json:"id,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	RequestID      string            `json:"request_id,omitempty"`
	RequestHeaders map[string]string `json:"request_headers"`
	Path           string            `json:"path"`
	Method         string            `json:"method"`
	StatusCode     int               `json:"status_code"`
	ResponseBody   string            `json:"response_body"`
	BodyTruncated  bool              `json:"body_truncated,omitempty"`
	ClientName     *string           `json:"client_name"`
	DurationMs     float64           `json:"duration_ms"`
}

// FlattenHeaders converts an http.Header into a single-valued map. Repeated
// values are joined with ", " as permitted by RFC 9110.
func FlattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[http.CanonicalHeaderKey(name)] = strings.Join(values, ", ")
	}
	return out
}
