package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/autoscore/autoscore/internal/keystore"
	"github.com/autoscore/autoscore/internal/model"
)

func TestAppendKeyCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.csv")

	if err := appendKey(path, "as_one", "Acme Corp", "2030-01-31"); err != nil {
		t.Fatalf("appendKey: %v", err)
	}
	if err := appendKey(path, "as_two", "Initech", "2031-06-30"); err != nil {
		t.Fatalf("appendKey: %v", err)
	}

	snap, _, err := keystore.LoadFile(path, keystore.Options{Strict: true})
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if snap.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", snap.Len())
	}
	rec, ok := snap.Lookup("as_one")
	if !ok || rec.ClientName != "Acme Corp" || rec.ExpiresOn() != "2030-01-31" {
		t.Errorf("Lookup(as_one) = %+v, %v", rec, ok)
	}
}

func TestAppendKeyFollowsExistingColumns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.csv")
	// Different column order, an extra column and no trailing newline.
	existing := "client_name,notes,expiration_date,api_key\nGlobex,vip,2029-12-31,K9"
	if err := os.WriteFile(path, []byte(existing), 0600); err != nil {
		t.Fatal(err)
	}

	if err := appendKey(path, "as_new", "Umbrella", "2030-05-01"); err != nil {
		t.Fatalf("appendKey: %v", err)
	}

	snap, _, err := keystore.LoadFile(path, keystore.Options{Strict: true})
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	for key, client := range map[string]string{"K9": "Globex", "as_new": "Umbrella"} {
		rec, ok := snap.Lookup(key)
		if !ok || rec.ClientName != client {
			t.Errorf("Lookup(%s) = %+v, %v; want client %s", key, rec, ok, client)
		}
	}
}

func TestRunKeyCreate(t *testing.T) {
	var out bytes.Buffer
	if err := runKeyCreate(&out, "Acme Corp", "2030-01-31", false); err != nil {
		t.Fatalf("runKeyCreate: %v", err)
	}
	if !strings.Contains(out.String(), "Key:     as_") || !strings.Contains(out.String(), "Acme Corp") {
		t.Errorf("unexpected output:\n%s", out.String())
	}

	if err := runKeyCreate(&out, "Acme Corp", "31/01/2030", false); err == nil {
		t.Error("expected error for a malformed expiration date")
	}
}

func TestMaskKey(t *testing.T) {
	tests := []struct {
		key, want string
	}{
		{"as_0123456789", "as_0****"},
		{"K1", "****"},
		{"ABCD", "****"},
	}
	for _, tt := range tests {
		if got := maskKey(tt.key); got != tt.want {
			t.Errorf("maskKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestReadVehicles(t *testing.T) {
	stdin := strings.NewReader(`[{"make":"Toyota","model":"Corolla","year":2018,"mileage":42000}]`)
	vs, err := readVehicles("-", stdin)
	if err != nil {
		t.Fatalf("readVehicles: %v", err)
	}
	if len(vs) != 1 || vs[0].Make != "Toyota" || vs[0].Mileage == nil || *vs[0].Mileage != 42000 {
		t.Errorf("got %+v", vs)
	}

	if _, err := readVehicles("-", strings.NewReader(`{"make":`)); err == nil {
		t.Error("expected decode error")
	}
	if _, err := readVehicles(filepath.Join(t.TempDir(), "missing.json"), nil); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPrintAuditTable(t *testing.T) {
	client := "Acme Corp"
	records := []model.AuditRecord{
		{
			Timestamp:  time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC),
			Path:       "/score/single",
			Method:     "POST",
			StatusCode: 200,
			ClientName: &client,
			DurationMs: 1.25,
		},
		{
			Timestamp:  time.Date(2026, 10, 16, 9, 31, 0, 0, time.UTC),
			Path:       "/score/single",
			Method:     "POST",
			StatusCode: 401,
		},
	}

	var out bytes.Buffer
	printAuditTable(&out, records)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want header, rule and 2 rows:\n%s", len(lines), out.String())
	}
	if !strings.Contains(lines[2], "2026-10-16 09:30:00") || !strings.Contains(lines[2], "Acme Corp") {
		t.Errorf("row 1 = %q", lines[2])
	}
	if !strings.Contains(lines[3], "401") || !strings.Contains(lines[3], " - ") {
		t.Errorf("row 2 = %q, want status 401 and no client", lines[3])
	}

	out.Reset()
	printAuditTable(&out, nil)
	if strings.TrimSpace(out.String()) != "No audit records." {
		t.Errorf("empty table = %q", out.String())
	}
}

func TestVersionJSON(t *testing.T) {
	cmd := newVersionCmd("1.2.3", "abc123", "2026-10-16")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--json"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var info buildInfo
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info.Version != "1.2.3" || info.Commit != "abc123" || info.Built != "2026-10-16" {
		t.Errorf("info = %+v", info)
	}
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd("dev", "none", "unknown")
	want := []string{"serve", "status", "stop", "version", "config", "key", "score", "audit", "admin", "openapi", "mcp"}
	for _, name := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd == root {
			t.Errorf("command %q not registered", name)
		}
	}
}
