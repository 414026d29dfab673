package mysql

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/autoscore/autoscore/internal/connector"
)

// MySQLConnector implements connector.Connector for MySQL and MariaDB.
type MySQLConnector struct {
	db *sqlx.DB
}

// New creates a new MySQLConnector.
func New() connector.Connector {
	return &MySQLConnector{}
}

// Connect opens a MySQL connection pool. The DSN is rewritten to enable
// parseTime in UTC so DATETIME columns scan into time.Time.
func (c *MySQLConnector) Connect(cfg connector.ConnectionConfig) error {
	mcfg, err := mysqldriver.ParseDSN(cfg.DSN)
	if err != nil {
		return fmt.Errorf("mysql dsn: %w", err)
	}
	mcfg.ParseTime = true
	mcfg.Loc = time.UTC

	db, err := sqlx.Connect("mysql", mcfg.FormatDSN())
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	connector.ApplyPool(db, cfg)

	c.db = db
	return nil
}

// Disconnect closes the database connection pool.
func (c *MySQLConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *MySQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *MySQLConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for MySQL.
func (c *MySQLConnector) DriverName() string { return "mysql" }

// AuditDDL creates the table with IF NOT EXISTS. MySQL has no IF NOT EXISTS
// for indexes, so those rely on IsAlreadyExists.
func (c *MySQLConnector) AuditDDL() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS request_logs (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			logged_at DATETIME(6) NOT NULL,
			request_id VARCHAR(64) NOT NULL DEFAULT '',
			request_headers LONGTEXT NOT NULL,
			path VARCHAR(2048) NOT NULL,
			method VARCHAR(16) NOT NULL,
			status_code INT NOT NULL,
			response_body LONGTEXT NOT NULL,
			body_truncated TINYINT NOT NULL DEFAULT 0,
			client_name VARCHAR(255) NULL,
			duration_ms DOUBLE NOT NULL DEFAULT 0
		) CHARACTER SET utf8mb4`,
		`CREATE INDEX idx_request_logs_client ON request_logs(client_name)`,
		`CREATE INDEX idx_request_logs_logged_at ON request_logs(logged_at)`,
	}
}

// IsAlreadyExists matches error 1050 (table exists) and 1061 (duplicate key name).
func (c *MySQLConnector) IsAlreadyExists(err error) bool {
	var merr *mysqldriver.MySQLError
	if errors.As(err, &merr) {
		return merr.Number == 1050 || merr.Number == 1061
	}
	return connector.ErrorContains(err, "already exists", "duplicate key name")
}

func (c *MySQLConnector) LimitOffset(limit, offset int) (string, []any) {
	return connector.StandardLimitOffset(limit, offset)
}
