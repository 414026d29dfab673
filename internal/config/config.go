// Package config defines the autoscore configuration file and how it is
// layered with environment variables and flags through viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g.
// AUTOSCORE_AUTH_JWT_SECRET for auth.jwt_secret.
const EnvPrefix = "AUTOSCORE"

// Config represents the top-level autoscore configuration file.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Scoring ScoringConfig `mapstructure:"scoring" yaml:"scoring"`
	Audit   AuditConfig   `mapstructure:"audit" yaml:"audit"`
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host               string   `mapstructure:"host" yaml:"host"`
	Port               int      `mapstructure:"port" yaml:"port"`
	ShutdownTimeout    string   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxBodySize        string   `mapstructure:"max_body_size" yaml:"max_body_size"`
	CORSOrigins        []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	RateLimitPerMinute int      `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
}

// AuthConfig controls API key and admin token authentication.
type AuthConfig struct {
	KeysFile      string `mapstructure:"keys_file" yaml:"keys_file"`
	StrictKeys    bool   `mapstructure:"strict_keys" yaml:"strict_keys"`
	ApplyGlobally bool   `mapstructure:"apply_globally" yaml:"apply_globally"`
	JWTSecret     string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	AdminTokenTTL string `mapstructure:"admin_token_ttl" yaml:"admin_token_ttl"`
}

// ScoringConfig points at the rule table.
type ScoringConfig struct {
	RulesFile string `mapstructure:"rules_file" yaml:"rules_file"`
}

// AuditConfig selects and tunes the audit sink.
type AuditConfig struct {
	Enabled          bool       `mapstructure:"enabled" yaml:"enabled"`
	Driver           string     `mapstructure:"driver" yaml:"driver"`
	DSN              string     `mapstructure:"dsn" yaml:"dsn"`
	File             string     `mapstructure:"file" yaml:"file"`
	PrivateKeyPath   string     `mapstructure:"private_key_path" yaml:"private_key_path,omitempty"`
	MaxBodyBytes     int64      `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	RecordRejections bool       `mapstructure:"record_rejections" yaml:"record_rejections"`
	RedactHeaders    []string   `mapstructure:"redact_headers" yaml:"redact_headers"`
	Pool             PoolConfig `mapstructure:"pool" yaml:"pool"`
}

// PoolConfig controls the SQL connection pool of the audit store.
type PoolConfig struct {
	MaxOpenConns    int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	ConnMaxIdleTime string `mapstructure:"conn_max_idle_time" yaml:"conn_max_idle_time"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Audit drivers that are not SQL databases.
const (
	DriverFile   = "file"
	DriverMemory = "memory"
)

// Default returns a Config pre-filled with defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8000,
			ShutdownTimeout:    "30s",
			MaxBodySize:        "1MB",
			CORSOrigins:        []string{"*"},
			RateLimitPerMinute: 0,
		},
		Auth: AuthConfig{
			KeysFile:      "data/api_keys.csv",
			StrictKeys:    true,
			ApplyGlobally: true,
			AdminTokenTTL: "1h",
		},
		Scoring: ScoringConfig{
			RulesFile: "data/scoring_variables.csv",
		},
		Audit: AuditConfig{
			Enabled:          true,
			Driver:           "sqlite",
			DSN:              "autoscore-audit.db",
			File:             "audit.jsonl",
			MaxBodyBytes:     1 << 20,
			RecordRejections: true,
			RedactHeaders:    []string{"Authorization", "Cookie"},
			Pool: PoolConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: "5m",
				ConnMaxIdleTime: "1m",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers every default with v. Viper only maps environment
// variables onto keys it already knows, so this must run before Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.max_body_size", d.Server.MaxBodySize)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.rate_limit_per_minute", d.Server.RateLimitPerMinute)

	v.SetDefault("auth.keys_file", d.Auth.KeysFile)
	v.SetDefault("auth.strict_keys", d.Auth.StrictKeys)
	v.SetDefault("auth.apply_globally", d.Auth.ApplyGlobally)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.admin_token_ttl", d.Auth.AdminTokenTTL)

	v.SetDefault("scoring.rules_file", d.Scoring.RulesFile)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.driver", d.Audit.Driver)
	v.SetDefault("audit.dsn", d.Audit.DSN)
	v.SetDefault("audit.file", d.Audit.File)
	v.SetDefault("audit.private_key_path", d.Audit.PrivateKeyPath)
	v.SetDefault("audit.max_body_bytes", d.Audit.MaxBodyBytes)
	v.SetDefault("audit.record_rejections", d.Audit.RecordRejections)
	v.SetDefault("audit.redact_headers", d.Audit.RedactHeaders)
	v.SetDefault("audit.pool.max_open_conns", d.Audit.Pool.MaxOpenConns)
	v.SetDefault("audit.pool.max_idle_conns", d.Audit.Pool.MaxIdleConns)
	v.SetDefault("audit.pool.conn_max_lifetime", d.Audit.Pool.ConnMaxLifetime)
	v.SetDefault("audit.pool.conn_max_idle_time", d.Audit.Pool.ConnMaxIdleTime)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// ConfigureEnv enables AUTOSCORE_* overrides on v, mapping "." in keys to "_".
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load builds a Config from everything v knows: defaults, the config file,
// environment variables and bound flags. The result is validated.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port: %d out of range", c.Server.Port))
	}
	if _, err := time.ParseDuration(c.Server.ShutdownTimeout); err != nil {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout: %w", err))
	}
	if _, err := ParseSize(c.Server.MaxBodySize); err != nil {
		errs = append(errs, fmt.Errorf("server.max_body_size: %w", err))
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, errors.New("server.rate_limit_per_minute: must not be negative"))
	}
	if c.Auth.KeysFile == "" {
		errs = append(errs, errors.New("auth.keys_file: required"))
	}
	if _, err := time.ParseDuration(c.Auth.AdminTokenTTL); err != nil {
		errs = append(errs, fmt.Errorf("auth.admin_token_ttl: %w", err))
	}
	if c.Audit.Enabled {
		switch c.Audit.Driver {
		case "":
			errs = append(errs, errors.New("audit.driver: required when audit is enabled"))
		case DriverFile:
			if c.Audit.File == "" {
				errs = append(errs, errors.New("audit.file: required for the file driver"))
			}
		}
	}
	for key, d := range map[string]string{
		"audit.pool.conn_max_lifetime":  c.Audit.Pool.ConnMaxLifetime,
		"audit.pool.conn_max_idle_time": c.Audit.Pool.ConnMaxIdleTime,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// ShutdownTimeoutDuration returns server.shutdown_timeout, falling back to
// 30s when it does not parse.
func (s ServerConfig) ShutdownTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(s.ShutdownTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// MaxBodyBytes returns server.max_body_size in bytes, or 0 when unset.
func (s ServerConfig) MaxBodyBytes() int64 {
	n, _ := ParseSize(s.MaxBodySize)
	return n
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TokenTTL returns auth.admin_token_ttl, falling back to one hour.
func (a AuthConfig) TokenTTL() time.Duration {
	d, err := time.ParseDuration(a.AdminTokenTTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// Durations returns the parsed pool lifetimes. Empty or invalid values are zero.
func (p PoolConfig) Durations() (lifetime, idle time.Duration) {
	lifetime, _ = time.ParseDuration(p.ConnMaxLifetime)
	idle, _ = time.ParseDuration(p.ConnMaxIdleTime)
	return lifetime, idle
}

// ParseSize parses sizes such as "512", "64KB", "10MB" or "1GB" into bytes.
// An empty string is zero.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, nil
	}
	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	} {
		if strings.HasSuffix(s, u.suffix) {
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			mult = u.mult
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid size %q: negative", s)
	}
	return n * mult, nil
}

// WriteDefault writes the default configuration to path as YAML.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
