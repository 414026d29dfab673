package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/autoscore/autoscore/internal/metrics"
	"github.com/autoscore/autoscore/internal/model"
	"github.com/autoscore/autoscore/internal/service"
)

// APIKeyHeader carries the client credential. Header lookup is
// case-insensitive.
const APIKeyHeader = "X-API-Key"

type contextKeyAuth string

const (
	clientNameKey contextKeyAuth = "client_name"
	adminKey      contextKeyAuth = "admin_principal"
)

// Authenticator is the part of service.Gate the middleware depends on.
type Authenticator interface {
	Authenticate(credential string, present bool) service.AuthResult
}

// APIKey returns a middleware that authenticates the x-api-key header.
// Authenticated requests continue with the client name in the context.
// Rejected requests get a 401 error envelope and never reach next.
func APIKey(gate Authenticator, m *metrics.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			values, present := r.Header[http.CanonicalHeaderKey(APIKeyHeader)]
			credential := ""
			if len(values) > 0 {
				credential = values[0]
			}

			res := gate.Authenticate(credential, present)
			if !res.Authenticated() {
				reason := res.Reason.String()
				logger.Info("api key rejected",
					"reason", reason,
					"path", r.URL.Path,
					"request_id", GetRequestID(r.Context()),
				)
				m.IncAuthRejection(reason)
				markRejected(r.Context())
				writeAuthError(w, http.StatusUnauthorized, res.Err().Error())
				return
			}

			setAuditClient(r.Context(), res.ClientName)
			ctx := context.WithValue(r.Context(), clientNameKey, res.ClientName)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientFromContext returns the authenticated client name, if any.
func ClientFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(clientNameKey).(string)
	return name, ok
}

// RequireAdmin returns a middleware that accepts only requests carrying a
// valid admin bearer token.
func RequireAdmin(tokens *service.AdminTokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || token == "" {
				writeAuthError(w, http.StatusUnauthorized, "Authentication required. Provide a Bearer token.")
				return
			}
			p, err := tokens.Validate(token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "Invalid token")
				return
			}
			ctx := context.WithValue(r.Context(), adminKey, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAdmin extracts the admin principal set by RequireAdmin.
func GetAdmin(ctx context.Context) *service.AdminPrincipal {
	if p, ok := ctx.Value(adminKey).(*service.AdminPrincipal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	writeErrorEnvelope(w, status, message)
}

// writeErrorEnvelope writes the same error shape the handlers use. It lives
// here to avoid an import cycle with the handler package.
func writeErrorEnvelope(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}
