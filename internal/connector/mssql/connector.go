package mssql

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/autoscore/autoscore/internal/connector"
)

// MSSQLConnector implements connector.Connector for SQL Server databases.
type MSSQLConnector struct {
	db *sqlx.DB
}

// New creates a new MSSQLConnector.
func New() connector.Connector {
	return &MSSQLConnector{}
}

// Connect opens a SQL Server connection pool using the "sqlserver" driver,
// which expects sqlserver:// URLs and @pN parameters.
func (c *MSSQLConnector) Connect(cfg connector.ConnectionConfig) error {
	db, err := sqlx.Connect("sqlserver", cfg.DSN)
	if err != nil {
		return fmt.Errorf("mssql connect: %w", err)
	}
	connector.ApplyPool(db, cfg)

	c.db = db
	return nil
}

// Disconnect closes the database connection pool.
func (c *MSSQLConnector) Disconnect() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (c *MSSQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// DB returns the underlying sqlx.DB connection pool.
func (c *MSSQLConnector) DB() *sqlx.DB {
	return c.db
}

// DriverName returns the driver identifier for SQL Server.
func (c *MSSQLConnector) DriverName() string { return "mssql" }

func (c *MSSQLConnector) AuditDDL() []string {
	return []string{
		`IF OBJECT_ID(N'request_logs', N'U') IS NULL
		CREATE TABLE request_logs (
			id BIGINT IDENTITY(1,1) PRIMARY KEY,
			logged_at DATETIMEOFFSET NOT NULL,
			request_id NVARCHAR(64) NOT NULL DEFAULT '',
			request_headers NVARCHAR(MAX) NOT NULL,
			path NVARCHAR(2048) NOT NULL,
			method NVARCHAR(16) NOT NULL,
			status_code INT NOT NULL,
			response_body NVARCHAR(MAX) NOT NULL,
			body_truncated TINYINT NOT NULL DEFAULT 0,
			client_name NVARCHAR(255) NULL,
			duration_ms FLOAT NOT NULL DEFAULT 0
		)`,
		`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = 'idx_request_logs_client')
		CREATE INDEX idx_request_logs_client ON request_logs(client_name)`,
		`IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE name = 'idx_request_logs_logged_at')
		CREATE INDEX idx_request_logs_logged_at ON request_logs(logged_at)`,
	}
}

// IsAlreadyExists matches error 2714 (object exists) and 1913 (index exists).
func (c *MSSQLConnector) IsAlreadyExists(err error) bool {
	var serr mssqldb.Error
	if errors.As(err, &serr) {
		return serr.Number == 2714 || serr.Number == 1913
	}
	return connector.ErrorContains(err, "there is already an object named")
}

func (c *MSSQLConnector) LimitOffset(limit, offset int) (string, []any) {
	return connector.FetchLimitOffset(limit, offset)
}
