package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/autoscore/autoscore/internal/audit"
	"github.com/autoscore/autoscore/internal/connector"
	"github.com/autoscore/autoscore/internal/handler"
	"github.com/autoscore/autoscore/internal/metrics"
	"github.com/autoscore/autoscore/internal/openapi"
	"github.com/autoscore/autoscore/internal/scoring"
	"github.com/autoscore/autoscore/internal/server/middleware"
	"github.com/autoscore/autoscore/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host               string
	Port               int
	ShutdownTimeout    time.Duration
	CORSOrigins        []string
	MaxBodySize        int64 // bytes; 0 disables the limit
	RateLimitPerMinute int   // per API key; 0 disables the limit

	// ApplyGlobally puts /score/rules and /openapi.json behind the API key
	// gate as well. /score/* is always gated.
	ApplyGlobally bool

	Audit   middleware.AuditOptions
	Version string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8000,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxBodySize:     1 << 20,
		ApplyGlobally:   true,
		Audit: middleware.AuditOptions{
			MaxBodyBytes:     1 << 20,
			RecordRejections: true,
			RedactHeaders:    []string{"Authorization", "Cookie"},
		},
	}
}

// Deps are the collaborators the server routes to. Sink, Metrics, Gatherer,
// Admin and Registry are optional.
type Deps struct {
	Gate     middleware.Authenticator
	Scorer   *scoring.Scorer
	Sink     audit.Sink
	Admin    *service.AdminTokens
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Registry *connector.Registry
	Logger   *slog.Logger
}

// Server is the top-level HTTP server. It owns the Chi router and the audit
// sink, which it closes on shutdown.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps) *Server {
	if deps.Sink == nil {
		deps.Sink = audit.NopSink{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()
	m := s.deps.Metrics

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(s.logger, m))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))
	r.Use(chimw.Compress(5))
	// Every request is audited, including 404s, 405s and the admin API.
	// Audit sits inside Compress, so records hold the body before content
	// encoding.
	r.Use(exceptPaths(middleware.Audit(s.deps.Sink, s.cfg.Audit, m, s.logger), unauditedPaths...))
	// Recover inside the audit wrapper so a panic is recorded as a 500.
	r.Use(chimw.Recoverer)

	// --- Outside the audited pipeline ---
	pinger, _ := s.deps.Sink.(audit.Pinger)
	health := handler.NewHealthHandler(pinger)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	if s.deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.deps.Gatherer))
	}

	// --- Scoring pipeline: body limit -> rate limit -> gate -> handler ---
	scoringHandler := handler.NewScoringHandler(s.deps.Scorer)
	openAPIHandler := handler.NewOpenAPIHandler(openapi.Generate(openapi.DocInfo{
		Version: s.cfg.Version,
		GateAll: s.cfg.ApplyGlobally,
	}))
	gate := middleware.APIKey(s.deps.Gate, m, s.logger)

	r.Group(func(r chi.Router) {
		if s.cfg.MaxBodySize > 0 {
			r.Use(maxBody(s.cfg.MaxBodySize))
		}
		if s.cfg.RateLimitPerMinute > 0 {
			r.Use(middleware.RateLimitByAPIKey(s.cfg.RateLimitPerMinute, m))
		}

		r.Group(func(r chi.Router) {
			r.Use(gate)
			r.Post("/score/single", scoringHandler.Single)
			r.Post("/score/batch", scoringHandler.Batch)
		})

		r.Group(func(r chi.Router) {
			if s.cfg.ApplyGlobally {
				r.Use(gate)
			}
			r.Get("/score/rules", scoringHandler.Rules)
			r.Get("/openapi.json", openAPIHandler.ServeSpec)
		})
	})

	// --- Admin API ---
	if s.deps.Admin != nil {
		reader, _ := s.deps.Sink.(audit.Reader)
		auditHandler := handler.NewAuditHandler(reader)
		r.Route("/api/v1", func(r chi.Router) {
			r.Use(middleware.RequireAdmin(s.deps.Admin))
			r.Get("/audit", auditHandler.List)
		})
	}

	s.router = r
}

// unauditedPaths are health checks and scrapes that bypass the audit wrapper.
var unauditedPaths = []string{"/healthz", "/readyz", "/metrics"}

// exceptPaths applies mw to every request whose path is not in paths.
func exceptPaths(mw func(http.Handler) http.Handler, paths ...string) func(http.Handler) http.Handler {
	skip := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		skip[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}
			wrapped.ServeHTTP(w, r)
		})
	}
}

// maxBody caps request bodies at n bytes.
func maxBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the audit sink and database connections.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.closeStores()
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// In-flight requests have finished writing audit records.
	s.closeStores()
	s.logger.Info("server stopped")
	return nil
}

// closeStores closes the audit sink and every database connection.
func (s *Server) closeStores() {
	if err := s.deps.Sink.Close(); err != nil {
		s.logger.Error("closing audit sink", "error", err)
	}
	if s.deps.Registry != nil {
		s.deps.Registry.CloseAll()
	}
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
