package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/blink/internal/notes"
)

func TestRunRequiresConfig(t *testing.T) {
	if err := Run(context.Background()); err == nil {
		t.Error("Run without config should fail")
	}
	if err := RunReconcile(context.Background()); err == nil {
		t.Error("RunReconcile without config should fail")
	}
}

func TestRunReconcile_RepairsAndReports(t *testing.T) {
	dir := t.TempDir()
	note := func(id, title string) string {
		return "---\nid: " + id + "\ntitle: " + title +
			"\ncreated_at: 2024-01-01T00:00:00Z\nupdated_at: 2024-01-01T00:00:00Z\ntags: []\nposition: 0\n---\n\nbody\n"
	}
	for name, body := range map[string]string{
		"a.md": note("one", "A"),
		"b.md": note("one", "B"),
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := NewDefaultConfig()
	cfg.Notes.Dir = dir
	cfg.App.LogLevel = slog.LevelError

	var out bytes.Buffer
	if err := RunReconcile(context.Background(), WithConfig(cfg), WithOutput(&out)); err != nil {
		t.Fatal(err)
	}

	var report notes.LoadReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("report %q: %v", out.String(), err)
	}
	if report.Loaded != 2 || len(report.DuplicateIDs) != 1 || len(report.PositionRepairs) != 1 {
		t.Errorf("report = %+v", report)
	}
	if _, err := os.Stat(cfg.IndexPath()); err != nil {
		t.Errorf("index not created: %v", err)
	}
}
