package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/autoscore/autoscore/internal/connector"
	"github.com/autoscore/autoscore/internal/model"
)

// SQLStore writes audit records to a SQL database through a connector.
// Every Record runs in its own transaction so a connection is never shared
// between requests and is released on every exit path.
type SQLStore struct {
	conn connector.Connector
	db   *sqlx.DB
}

// NewSQLStore wraps an already connected connector. Call Migrate before use.
func NewSQLStore(conn connector.Connector) *SQLStore {
	return &SQLStore{conn: conn, db: conn.DB()}
}

// auditRow maps 1:1 to the request_logs columns. Text columns that may be
// empty are nullable because Oracle stores '' as NULL.
type auditRow struct {
	ID             int64          `db:"id"`
	LoggedAt       time.Time      `db:"logged_at"`
	RequestID      sql.NullString `db:"request_id"`
	RequestHeaders string         `db:"request_headers"`
	Path           string         `db:"path"`
	Method         string         `db:"method"`
	StatusCode     int            `db:"status_code"`
	ResponseBody   sql.NullString `db:"response_body"`
	BodyTruncated  int            `db:"body_truncated"`
	ClientName     sql.NullString `db:"client_name"`
	DurationMs     float64        `db:"duration_ms"`
}

func rowFromRecord(rec model.AuditRecord) (auditRow, error) {
	headers := rec.RequestHeaders
	if headers == nil {
		headers = map[string]string{}
	}
	hdr, err := json.Marshal(headers)
	if err != nil {
		return auditRow{}, fmt.Errorf("encode headers: %w", err)
	}
	row := auditRow{
		LoggedAt:       rec.Timestamp.UTC(),
		RequestID:      sql.NullString{String: rec.RequestID, Valid: true},
		RequestHeaders: string(hdr),
		Path:           rec.Path,
		Method:         rec.Method,
		StatusCode:     rec.StatusCode,
		ResponseBody:   sql.NullString{String: rec.ResponseBody, Valid: true},
		DurationMs:     rec.DurationMs,
	}
	if rec.BodyTruncated {
		row.BodyTruncated = 1
	}
	if rec.ClientName != nil {
		row.ClientName = sql.NullString{String: *rec.ClientName, Valid: true}
	}
	return row, nil
}

func (r auditRow) toModel() (model.AuditRecord, error) {
	rec := model.AuditRecord{
		ID:            r.ID,
		Timestamp:     r.LoggedAt.UTC(),
		RequestID:     r.RequestID.String,
		Path:          r.Path,
		Method:        r.Method,
		StatusCode:    r.StatusCode,
		ResponseBody:  r.ResponseBody.String,
		BodyTruncated: r.BodyTruncated != 0,
		DurationMs:    r.DurationMs,
	}
	if err := json.Unmarshal([]byte(r.RequestHeaders), &rec.RequestHeaders); err != nil {
		return model.AuditRecord{}, fmt.Errorf("decode headers of record %d: %w", r.ID, err)
	}
	if r.ClientName.Valid {
		name := r.ClientName.String
		rec.ClientName = &name
	}
	return rec, nil
}

const insertSQL = `INSERT INTO request_logs
	(logged_at, request_id, request_headers, path, method, status_code,
	 response_body, body_truncated, client_name, duration_ms)
	VALUES
	(:logged_at, :request_id, :request_headers, :path, :method, :status_code,
	 :response_body, :body_truncated, :client_name, :duration_ms)`

const selectColumns = `SELECT id, logged_at, request_id, request_headers, path, method,
	status_code, response_body, body_truncated, client_name, duration_ms
	FROM request_logs`

// Migrate creates the request log table and its indexes. Statements that fail
// because the object already exists are skipped.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, stmt := range s.conn.AuditDDL() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if s.conn.IsAlreadyExists(err) {
				continue
			}
			return storageErr("migrate", err)
		}
	}
	return nil
}

// Record inserts rec in a dedicated transaction.
func (s *SQLStore) Record(ctx context.Context, rec model.AuditRecord) error {
	row, err := rowFromRecord(rec)
	if err != nil {
		return storageErr("record", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, insertSQL, row); err != nil {
		return storageErr("insert", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

// List returns matching records newest first.
func (s *SQLStore) List(ctx context.Context, f Filter) ([]model.AuditRecord, error) {
	query := selectColumns
	var args []any
	if f.Client != "" {
		query += " WHERE client_name = ?"
		args = append(args, f.Client)
	}
	page, pageArgs := s.conn.LimitOffset(f.limit(), f.offset())
	query += " ORDER BY id DESC " + page
	args = append(args, pageArgs...)

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, storageErr("list", err)
	}

	out := make([]model.AuditRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toModel()
		if err != nil {
			return nil, storageErr("list", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Count returns the number of matching records.
func (s *SQLStore) Count(ctx context.Context, f Filter) (int64, error) {
	query := "SELECT COUNT(*) FROM request_logs"
	var args []any
	if f.Client != "" {
		query += " WHERE client_name = ?"
		args = append(args, f.Client)
	}
	var n int64
	if err := s.db.GetContext(ctx, &n, s.db.Rebind(query), args...); err != nil {
		return 0, storageErr("count", err)
	}
	return n, nil
}

// Ping checks that the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	return storageErr("ping", s.conn.Ping(ctx))
}

// Close disconnects the underlying connector.
func (s *SQLStore) Close() error {
	return storageErr("close", s.conn.Disconnect())
}

var (
	_ Sink   = (*SQLStore)(nil)
	_ Reader = (*SQLStore)(nil)
	_ Pinger = (*SQLStore)(nil)
)
