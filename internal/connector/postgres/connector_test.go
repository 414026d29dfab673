package postgres

import (
	"errors"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
)

func TestDollarPlaceholders(t *testing.T) {
	// Inserts and list queries are written with ? and rebound per driver.
	q := sqlx.Rebind(sqlx.BindType("pgx"), "SELECT id FROM request_logs WHERE client_name = ? LIMIT ? OFFSET ?")
	if !strings.Contains(q, "$1") || !strings.Contains(q, "$3") {
		t.Errorf("Rebind = %q", q)
	}
}

func TestIsAlreadyExists(t *testing.T) {
	c := New()
	if !c.IsAlreadyExists(errors.New(`ERROR: relation "request_logs" already exists (SQLSTATE 42P07)`)) {
		t.Error("duplicate table should match")
	}
	if c.IsAlreadyExists(errors.New("password authentication failed")) {
		t.Error("unrelated error matched")
	}
}
