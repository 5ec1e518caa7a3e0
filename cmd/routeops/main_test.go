package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/config"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/db"
	"github.com/maciej-sienkiewicz/route-crm-sub001/internal/models"
	"gorm.io/gorm"
)

// run executes the root command with args and returns combined output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeConfig writes a sqlite config into a temp dir and returns its path
// and the database file.
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "routeops.db")
	cfgPath := filepath.Join(dir, "routeops.yaml")
	yaml := "database:\n  driver: sqlite\n  dsn: " + dbPath + "\nlog:\n  mode: prod\n  file: " + filepath.Join(dir, "routeops.log") + "\n"
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath, dbPath
}

func openDB(t *testing.T, dbPath string) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect(config.DatabaseConfig{Driver: "sqlite", DSN: dbPath})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "routeops dev") {
		t.Errorf("expected output to contain 'routeops dev', got: %s", out)
	}
	if !strings.Contains(out, "commit: none") {
		t.Errorf("expected output to contain 'commit: none', got: %s", out)
	}
}

func TestVersionCmdWithCustomValues(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	Version, Commit, Date = "1.0.0", "abc123", "2026-01-01"
	defer func() { Version, Commit, Date = origVersion, origCommit, origDate }()

	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if !strings.Contains(out, "routeops 1.0.0") || !strings.Contains(out, "built: 2026-01-01") {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestRootCmdHelp(t *testing.T) {
	out, err := run(t, "--help")
	if err != nil {
		t.Fatalf("help failed: %v", err)
	}
	for _, sub := range []string{"db", "serve", "scheduler", "materialize", "repair", "series", "route"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help to list %q, got: %s", sub, out)
		}
	}
}

func TestDBMigrate_MissingConfig(t *testing.T) {
	_, err := run(t, "db", "migrate", "--config", "/nonexistent/routeops.yaml")
	if err == nil {
		t.Fatal("expected error for missing config")
	}
	if !strings.Contains(err.Error(), "load config") {
		t.Errorf("error = %q, want to mention 'load config'", err)
	}
}

func TestMaterializeCmd_RequiresCompany(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	_, err := run(t, "materialize", "--config", cfgPath)
	if err == nil || !strings.Contains(err.Error(), "company") {
		t.Errorf("err = %v, want required company flag", err)
	}
}

func TestEndToEnd_MigrateCreateMaterialize(t *testing.T) {
	cfgPath, dbPath := writeConfig(t)

	out, err := run(t, "db", "migrate", "--config", cfgPath)
	if err != nil {
		t.Fatalf("db migrate: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Migrated") {
		t.Errorf("migrate output: %s", out)
	}

	gdb := openDB(t, dbPath)
	if err := gdb.Create(&models.ChildSchedule{
		ID:             "sched-1",
		CompanyID:      "acme",
		ChildID:        "child-1",
		Name:           "school run",
		PickupAddress:  "Home",
		PickupTime:     "07:30",
		DropoffAddress: "School",
		DropoffTime:    "08:15",
		Active:         true,
	}).Error; err != nil {
		t.Fatalf("seed schedule: %v", err)
	}

	out, err = run(t, "series", "create", "--config", cfgPath, "--company", "acme", "--name", "Morning", "--start-date", "2024-01-01")
	if err != nil {
		t.Fatalf("series create: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Monday") {
		t.Errorf("create output: %s", out)
	}
	var rs models.RouteSeries
	if err := gdb.First(&rs).Error; err != nil {
		t.Fatalf("load series: %v", err)
	}

	out, err = run(t, "series", "add-child", rs.ID, "--config", cfgPath, "--company", "acme", "--schedule", "sched-1", "--from", "2024-01-01")
	if err != nil {
		t.Fatalf("add-child: %v\n%s", err, out)
	}

	out, err = run(t, "materialize", "--config", cfgPath, "--company", "acme", "--from", "2024-01-01", "--to", "2024-01-21")
	if err != nil {
		t.Fatalf("materialize: %v\n%s", err, out)
	}
	if !strings.Contains(out, "3 created") {
		t.Errorf("materialize output: %s", out)
	}

	out, err = run(t, "materialize", "--config", cfgPath, "--company", "acme", "--from", "2024-01-01", "--to", "2024-01-21")
	if err != nil {
		t.Fatalf("second materialize: %v\n%s", err, out)
	}
	if !strings.Contains(out, "0 created") || !strings.Contains(out, "3 skipped") {
		t.Errorf("second materialize output: %s", out)
	}

	out, err = run(t, "repair", "--config", cfgPath)
	if err != nil {
		t.Fatalf("repair: %v\n%s", err, out)
	}
	if !strings.Contains(out, "0 routes repaired") {
		t.Errorf("repair output: %s", out)
	}
}
