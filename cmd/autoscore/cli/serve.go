package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/autoscore/autoscore/internal/metrics"
	"github.com/autoscore/autoscore/internal/server"
	"github.com/autoscore/autoscore/internal/server/middleware"
)

const banner = `
    _         _
   / \  _   _| |_ ___  ___  ___ ___  _ __ ___
  / _ \| | | | __/ _ \/ __|/ __/ _ \| '__/ _ \
 / ___ \ |_| | || (_) \__ \ (_| (_) | | |  __/
/_/   \_\__,_|\__\___/|___/\___\___/|_|  \___|
`

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Autoscore API server",
		Long:  "Start the HTTP server that scores vehicles for authenticated clients and audits every request.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	cmd.Flags().IntP("port", "p", 8000, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().String("keys", "", "API key table (CSV)")
	cmd.Flags().String("rules", "", "scoring rule table (CSV)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))
	viper.BindPFlag("auth.keys_file", cmd.Flags().Lookup("keys"))
	viper.BindPFlag("scoring.rules_file", cmd.Flags().Lookup("rules"))

	return cmd
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Logging, os.Stderr)

	fmt.Print(banner)
	fmt.Println()

	// 1. Metrics
	m := metrics.NewMetrics()
	promReg, err := metrics.NewRegistry(m)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// 2. Keys, rules and the audit sink
	c, err := buildCore(ctx, cfg, logger, m)
	if err != nil {
		return err
	}

	// 3. Admin tokens for the audit API
	admin := adminTokens(cfg.Auth)
	if admin == nil {
		logger.Warn("auth.jwt_secret is not set; the audit API is disabled")
	}

	// 4. Build and start HTTP server
	srvCfg := server.Config{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		ShutdownTimeout:    cfg.Server.ShutdownTimeoutDuration(),
		CORSOrigins:        cfg.Server.CORSOrigins,
		MaxBodySize:        cfg.Server.MaxBodyBytes(),
		RateLimitPerMinute: cfg.Server.RateLimitPerMinute,
		ApplyGlobally:      cfg.Auth.ApplyGlobally,
		Audit: middleware.AuditOptions{
			MaxBodyBytes:     cfg.Audit.MaxBodyBytes,
			RecordRejections: cfg.Audit.RecordRejections,
			RedactHeaders:    cfg.Audit.RedactHeaders,
		},
		Version: versionString(),
	}

	srv := server.New(srvCfg, server.Deps{
		Gate:     c.gate,
		Scorer:   c.scorer,
		Sink:     c.sink,
		Admin:    admin,
		Metrics:  m,
		Gatherer: promReg,
		Registry: c.registry,
		Logger:   logger,
	})

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write PID file", "path", pidFile, "error", err)
	}
	defer removePID()

	host := cfg.Server.Host
	port := cfg.Server.Port
	fmt.Printf("→ Autoscore %s\n", versionString())
	fmt.Printf("→ Listening on http://%s:%d\n", host, port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", host, port)
	fmt.Printf("→ Health:     http://%s:%d/healthz\n", host, port)
	if admin != nil {
		fmt.Printf("→ Audit API:  http://%s:%d/api/v1/audit\n", host, port)
	}
	fmt.Printf("→ API keys:   %d\n", c.keys.Len())
	fmt.Println()

	// Run closes the sink and the registry on shutdown.
	return srv.ListenAndServe()
}
