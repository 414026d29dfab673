package mssql

import (
	"errors"
	"strings"
	"testing"

	mssqldb "github.com/microsoft/go-mssqldb"
)

func TestIsAlreadyExists(t *testing.T) {
	c := New()
	if !c.IsAlreadyExists(mssqldb.Error{Number: 2714, Message: "There is already an object named 'request_logs'"}) {
		t.Error("2714 should count as already exists")
	}
	if c.IsAlreadyExists(mssqldb.Error{Number: 208, Message: "Invalid object name"}) {
		t.Error("208 should not count as already exists")
	}
	if c.IsAlreadyExists(errors.New("login failed")) {
		t.Error("unrelated error matched")
	}
}

func TestLimitOffsetUsesFetch(t *testing.T) {
	clause, args := New().LimitOffset(5, 15)
	if !strings.HasPrefix(clause, "OFFSET ? ROWS FETCH NEXT ? ROWS ONLY") {
		t.Errorf("clause = %q", clause)
	}
	if args[0] != 15 || args[1] != 5 {
		t.Errorf("args = %v, want offset then limit", args)
	}
}

func TestAuditDDLGuardsExistence(t *testing.T) {
	for _, stmt := range New().AuditDDL() {
		if !strings.HasPrefix(strings.TrimSpace(stmt), "IF ") {
			t.Errorf("statement is not guarded: %s", stmt)
		}
	}
}
