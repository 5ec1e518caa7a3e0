package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_Modes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "production", ""} {
		l, err := New(mode, "")
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		if l.SugaredLogger == nil {
			t.Fatalf("New(%q) returned nil sugared logger", mode)
		}
	}
}

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routeops.log")
	l, err := New("prod", path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.With("component", "test").Info("materialized", "series_id", "s-1", "routes_created", 3)
	l.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	out := string(data)
	for _, want := range []string{`"msg":"materialized"`, `"component":"test"`, `"series_id":"s-1"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %s; got %s", want, out)
		}
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	l.Info("ignored", "k", "v")
	l.With("a", 1).Error("ignored")
}
