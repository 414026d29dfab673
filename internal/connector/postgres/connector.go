package postgres

import (
	"context"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/autoscore/autoscore/internal/connector"
)

// PostgresConnector implements connector.Connector for PostgreSQL databases.
type PostgresConnector struct {
	db *sqlx.DB
}

// New creates a new PostgresConnector.
func New() connector.Connector {
	return &PostgresConnector{}
}

// Connect establishes a connection pool to PostgreSQL through the pgx stdlib
// driver.
func (c *PostgresConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := sqlx.Connect("pgx", cfg.DSN)
	if err != nil {
		return fmt.Errorf("postgres connect: %w", err)
	}
	connector.ApplyPool(db, cfg)

	c.db = db
	return nil
}

// Disconnect closes the database connection pool.
func (c *PostgresConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *PostgresConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *PostgresConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for PostgreSQL.
func (c *PostgresConnector) DriverName() string { return "postgres" }

func (c *PostgresConnector) AuditDDL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS request_logs (
			id BIGSERIAL PRIMARY KEY,
			logged_at TIMESTAMPTZ NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			request_headers TEXT NOT NULL DEFAULT '{}',
			path TEXT NOT NULL,
			method TEXT NOT NULL,
			status_code INTEGER NOT NULL,
			response_body TEXT NOT NULL DEFAULT '',
			body_truncated SMALLINT NOT NULL DEFAULT 0,
			client_name TEXT,
			duration_ms DOUBLE PRECISION NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_client ON request_logs(client_name)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_logged_at ON request_logs(logged_at)`,
	}
}

// IsAlreadyExists matches SQLSTATE 42P07 (duplicate_table) by message.
func (c *PostgresConnector) IsAlreadyExists(err error) bool {
	return connector.ErrorContains(err, "already exists", "42P07")
}

func (c *PostgresConnector) LimitOffset(limit, offset int) (string, []any) {
	return connector.StandardLimitOffset(limit, offset)
}
