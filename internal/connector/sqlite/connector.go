package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/autoscore/autoscore/internal/connector"
)

// SQLiteConnector implements connector.Connector for SQLite databases.
type SQLiteConnector struct {
	db *sqlx.DB
}

// New creates a new SQLiteConnector.
func New() connector.Connector {
	return &SQLiteConnector{}
}

// Connect opens the SQLite database named by the DSN, a file path or
// ":memory:". An empty DSN opens an in-memory database.
//
// The pool is always capped at one open connection: SQLite serializes writers
// and every connection to ":memory:" would otherwise see its own database.
func (c *SQLiteConnector) Connect(cfg connector.ConnectionConfig) error {
	dsn := cfg.DSN
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("sqlite connect: %w", err)
	}
	connector.ApplyPool(db, cfg)
	db.SetMaxOpenConns(1)

	c.db = db
	return nil
}

// Disconnect closes the database connection.
func (c *SQLiteConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *SQLiteConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *SQLiteConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for SQLite.
func (c *SQLiteConnector) DriverName() string { return "sqlite" }

func (c *SQLiteConnector) AuditDDL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS request_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			logged_at DATETIME NOT NULL,
			request_id TEXT NOT NULL DEFAULT '',
			request_headers TEXT NOT NULL DEFAULT '{}',
			path TEXT NOT NULL,
			method TEXT NOT NULL,
			status_code INTEGER NOT NULL,
			response_body TEXT NOT NULL DEFAULT '',
			body_truncated INTEGER NOT NULL DEFAULT 0,
			client_name TEXT,
			duration_ms REAL NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_client ON request_logs(client_name)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_logged_at ON request_logs(logged_at)`,
	}
}

func (c *SQLiteConnector) IsAlreadyExists(err error) bool {
	return connector.ErrorContains(err, "already exists")
}

func (c *SQLiteConnector) LimitOffset(limit, offset int) (string, []any) {
	return connector.StandardLimitOffset(limit, offset)
}
