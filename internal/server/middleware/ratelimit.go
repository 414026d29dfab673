package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/autoscore/autoscore/internal/metrics"
)

// RateLimitByAPIKey limits each API key to requestsPerMinute using a sliding
// window. Requests without a key are limited by client IP. Limited requests
// get a 429 error envelope.
func RateLimitByAPIKey(requestsPerMinute int, m *metrics.Metrics) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(keyByAPIKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			m.IncRateLimited()
			writeErrorEnvelope(w, http.StatusTooManyRequests, "Rate limit exceeded")
		}),
	)
}

func keyByAPIKey(r *http.Request) (string, error) {
	if k := r.Header.Get(APIKeyHeader); k != "" {
		return "key:" + k, nil
	}
	ip, err := httprate.KeyByIP(r)
	return "ip:" + ip, err
}
