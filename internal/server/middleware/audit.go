package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/autoscore/autoscore/internal/audit"
	"github.com/autoscore/autoscore/internal/capture"
	"github.com/autoscore/autoscore/internal/metrics"
	"github.com/autoscore/autoscore/internal/model"
)

// RedactedValue replaces the values of headers listed in AuditOptions.RedactHeaders.
const RedactedValue = "[REDACTED]"

// AuditOptions tunes the Audit middleware.
type AuditOptions struct {
	// MaxBodyBytes caps the captured copy of the response body; <= 0 keeps all.
	MaxBodyBytes int64
	// RecordRejections writes records for requests refused by APIKey.
	RecordRejections bool
	// RedactHeaders names request headers whose values are not persisted.
	RedactHeaders []string
	// Now defaults to time.Now.
	Now func() time.Time
}

type auditStateKey struct{}

// auditState is shared between Audit and the middlewares it wraps. Inner
// middlewares replace the request, so they report back through this pointer.
type auditState struct {
	client   *string
	rejected bool
}

func auditStateFrom(ctx context.Context) *auditState {
	st, _ := ctx.Value(auditStateKey{}).(*auditState)
	return st
}

func setAuditClient(ctx context.Context, name string) {
	if st := auditStateFrom(ctx); st != nil {
		st.client = &name
	}
}

func markRejected(ctx context.Context) {
	if st := auditStateFrom(ctx); st != nil {
		st.rejected = true
	}
}

// Audit wraps the rest of the pipeline. The response is streamed to the client
// through a capture.Recorder; once next returns, one AuditRecord is built and
// handed to sink. Sink failures are logged and counted but never surface to
// the client, which has already received the response.
func Audit(sink audit.Sink, opts AuditOptions, m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	redact := make(map[string]bool, len(opts.RedactHeaders))
	for _, h := range opts.RedactHeaders {
		redact[http.CanonicalHeaderKey(strings.TrimSpace(h))] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := now()
			st := &auditState{}
			ctx := context.WithValue(r.Context(), auditStateKey{}, st)
			rec := capture.NewRecorder(w, max(opts.MaxBodyBytes, 0))

			next.ServeHTTP(rec, r.WithContext(ctx))

			if st.rejected && !opts.RecordRejections {
				m.IncAuditWrite(metrics.OutcomeSkipped)
				return
			}

			body, _ := rec.Buffer().Text()
			headers := model.FlattenHeaders(r.Header)
			for name := range headers {
				if redact[name] {
					headers[name] = RedactedValue
				}
			}

			entry := model.AuditRecord{
				Timestamp:      start.UTC(),
				RequestID:      GetRequestID(r.Context()),
				RequestHeaders: headers,
				Path:           r.URL.Path,
				Method:         r.Method,
				StatusCode:     rec.Status(),
				ResponseBody:   body,
				BodyTruncated:  rec.Buffer().Truncated(),
				ClientName:     st.client,
				DurationMs:     float64(now().Sub(start).Microseconds()) / 1000.0,
			}

			// The client may already have gone away; the record is still written.
			if err := sink.Record(context.WithoutCancel(r.Context()), entry); err != nil {
				logger.Error("audit write failed",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path,
					"request_id", entry.RequestID,
				)
				m.IncAuditWrite(metrics.OutcomeError)
				return
			}
			m.IncAuditWrite(metrics.OutcomeOK)
		})
	}
}
