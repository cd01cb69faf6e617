package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rflorenc/fitsync/internal/db"
	"github.com/rflorenc/fitsync/internal/keyspace"
	"github.com/rflorenc/fitsync/internal/localstore"
	"github.com/rflorenc/fitsync/internal/models"
)

// setup switches to an empty directory and seeds a guest weight record into
// a fresh database. It returns the database path.
func setup(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	oldCwd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(oldCwd) })

	path := filepath.Join(dir, "device.db")
	database, err := db.OpenAndMigrate(path)
	if err != nil {
		t.Fatal(err)
	}
	defer database.Close()

	raw, err := models.EncodePayload(models.Measurement{Value: 80.5}, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	key, _ := keyspace.GuestKey(models.KeyWeightKg)
	if err := localstore.NewSQLiteStore(database).Set(key, raw); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrateCommand(t *testing.T) {
	dbPath := setup(t)
	common := []string{"--local-db", dbPath, "--remote", "memory"}

	out, err := run(t, append([]string{"status", "--account", "acct-1"}, common...)...)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Migration needed for acct-1: yes") {
		t.Errorf("status output:\n%s", out)
	}

	out, err = run(t, append([]string{"migrate", "--account", "acct-1", "--dry-run"}, common...)...)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !strings.Contains(out, "weight_kg") || !strings.Contains(out, "create") {
		t.Errorf("dry run output:\n%s", out)
	}

	out, err = run(t, append([]string{"migrate", "--account", "acct-1"}, common...)...)
	if err != nil {
		t.Fatalf("migrate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Migrated 1 key(s): weight_kg") {
		t.Errorf("migrate output:\n%s", out)
	}
	if !strings.Contains(out, "[100%]") {
		t.Errorf("migrate output has no final progress line:\n%s", out)
	}

	out, err = run(t, append([]string{"inventory"}, common...)...)
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	if !strings.Contains(out, "No guest data") {
		t.Errorf("inventory after migrate:\n%s", out)
	}

	out, err = run(t, append([]string{"migrate", "--account", "acct-1"}, common...)...)
	if err != nil {
		t.Fatalf("second migrate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "No guest data on this device.") || !strings.Contains(out, "Nothing to migrate.") {
		t.Errorf("second migrate output:\n%s", out)
	}

	out, err = run(t, append([]string{"history", "--json"}, common...)...)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var attempts []models.MigrationAttempt
	if err := json.Unmarshal([]byte(out), &attempts); err != nil {
		t.Fatalf("history output is not JSON: %v\n%s", err, out)
	}
	if len(attempts) != 2 || !attempts[1].Success || attempts[1].AccountID != "acct-1" {
		t.Errorf("history = %s", out)
	}
}

func TestInventoryCommand_JSON(t *testing.T) {
	dbPath := setup(t)
	out, err := run(t, "inventory", "--json", "--local-db", dbPath)
	if err != nil {
		t.Fatalf("inventory: %v", err)
	}
	var records []models.MigrationRecord
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("not JSON: %v\n%s", err, out)
	}
	if len(records) != 1 || records[0].Key != models.KeyWeightKg {
		t.Errorf("records = %s", out)
	}
}

func TestCommandErrors(t *testing.T) {
	dbPath := setup(t)
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"migrate needs an account", []string{"migrate", "--remote", "memory", "--local-db", dbPath}, "--account"},
		{"http remote needs a host", []string{"migrate", "--account", "a", "--remote", "http", "--local-db", dbPath}, "endpoint.host"},
		{"unknown remote kind", []string{"inventory", "--remote", "ftp", "--local-db", dbPath}, "remote.kind"},
		{"bad log level", []string{"inventory", "--log-level", "loud", "--local-db", dbPath}, "log_level"},
		{"malformed account", []string{"migrate", "--account", "a:b", "--remote", "memory", "--local-db", dbPath}, "malformed account"},
		{"ping without http remote", []string{"remote", "ping", "--remote", "memory"}, "has no ping"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := run(t, tc.args...)
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	Version, Commit = "1.0.0", "abc123"
	t.Cleanup(func() { Version, Commit = "dev", "none" })

	out, err := run(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "fitsync 1.0.0 (commit: abc123") {
		t.Errorf("version output = %q", out)
	}
}
