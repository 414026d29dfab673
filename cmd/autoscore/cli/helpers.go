package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/autoscore/autoscore/internal/audit"
	"github.com/autoscore/autoscore/internal/config"
	"github.com/autoscore/autoscore/internal/connector"
	"github.com/autoscore/autoscore/internal/connector/mssql"
	"github.com/autoscore/autoscore/internal/connector/mysql"
	"github.com/autoscore/autoscore/internal/connector/oracle"
	"github.com/autoscore/autoscore/internal/connector/postgres"
	"github.com/autoscore/autoscore/internal/connector/snowflake"
	"github.com/autoscore/autoscore/internal/connector/sqlite"
	"github.com/autoscore/autoscore/internal/keystore"
	"github.com/autoscore/autoscore/internal/metrics"
	"github.com/autoscore/autoscore/internal/scoring"
	"github.com/autoscore/autoscore/internal/service"
)

// newRegistry creates a connector registry with all supported database drivers registered.
func newRegistry() *connector.Registry {
	registry := connector.NewRegistry()
	registry.RegisterDriver("postgres", func() connector.Connector { return postgres.New() })
	registry.RegisterDriver("mysql", func() connector.Connector { return mysql.New() })
	registry.RegisterDriver("mssql", func() connector.Connector { return mssql.New() })
	registry.RegisterDriver("oracle", func() connector.Connector { return oracle.New() })
	registry.RegisterDriver("snowflake", func() connector.Connector { return snowflake.New() })
	registry.RegisterDriver("sqlite", func() connector.Connector { return sqlite.New() })
	return registry
}

// loadConfig returns the effective configuration: defaults, then the config
// file, then AUTOSCORE_* env vars, then bound flags.
func loadConfig() (*config.Config, error) {
	if configErr != nil {
		return nil, fmt.Errorf("read config: %w", configErr)
	}
	return config.Load(viper.GetViper())
}

// newLogger builds the process logger. --dev forces debug level.
func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	if devMode {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadKeys reads the API key table. In lenient mode bad rows are logged and
// counted instead of failing the load.
func loadKeys(cfg config.AuthConfig, logger *slog.Logger, m *metrics.Metrics) (*keystore.Snapshot, error) {
	snap, report, err := keystore.LoadFile(cfg.KeysFile, keystore.Options{Strict: cfg.StrictKeys})
	if err != nil {
		return nil, err
	}
	for _, row := range report.Skipped {
		logger.Warn("skipped api key row", "file", report.Source, "line", row.Line, "reason", row.Reason)
	}
	m.AddKeystoreRowsSkipped(len(report.Skipped))
	logger.Info("api keys loaded", "file", report.Source, "keys", report.Loaded, "skipped", len(report.Skipped))
	return snap, nil
}

// core is what every entry point that scores vehicles needs.
type core struct {
	gate     *service.Gate
	keys     *keystore.Snapshot
	scorer   *scoring.Scorer
	sink     audit.Sink
	registry *connector.Registry
}

func (c *core) Close() {
	if err := c.sink.Close(); err != nil && !errors.Is(err, audit.ErrClosed) {
		slog.Warn("closing audit sink", "error", err)
	}
	c.registry.CloseAll()
}

// buildCore loads keys and rules and opens the audit sink.
func buildCore(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*core, error) {
	keys, err := loadKeys(cfg.Auth, logger, m)
	if err != nil {
		return nil, err
	}

	rules, err := scoring.LoadRulesFile(cfg.Scoring.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("load scoring rules: %w", err)
	}
	logger.Info("scoring rules loaded", "file", cfg.Scoring.RulesFile, "rules", rules.Len())

	registry := newRegistry()
	sink, err := audit.Open(ctx, cfg.Audit, registry)
	if err != nil {
		registry.CloseAll()
		return nil, err
	}
	logger.Info("audit sink ready", "enabled", cfg.Audit.Enabled, "driver", cfg.Audit.Driver)

	return &core{
		gate:     service.NewGate(keys),
		keys:     keys,
		scorer:   scoring.NewScorer(rules),
		sink:     sink,
		registry: registry,
	}, nil
}

// adminTokens returns nil when no JWT secret is configured.
func adminTokens(cfg config.AuthConfig) *service.AdminTokens {
	if cfg.JWTSecret == "" {
		return nil
	}
	return service.NewAdminTokens(cfg.JWTSecret, "autoscore")
}

// isTerminal reports whether w is an interactive terminal. Commands print
// tables to terminals and JSON everywhere else.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// --- PID file management ---

func defaultPIDFile() string {
	return filepath.Join(os.TempDir(), "autoscore.pid")
}

func writePID(pid int) error {
	if err := os.MkdirAll(filepath.Dir(pidFile), 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFile)
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
