package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/tejas242/vellum/internal/config"
)

func TestLoadMissingFileReturnsZeroValue(t *testing.T) {
	f, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if f != (config.File{}) {
		t.Fatalf("expected zero value, got %+v", f)
	}
}

func TestOverlayOnlyReplacesSetFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".vellum.toml")
	contents := "threads = 4\nmodel-kind = \"chat\"\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	got := f.Overlay(config.Defaults{
		Checkpoint: "./model.bin",
		Threads:    1,
		ModelKind:  "gen",
	})

	if got.Checkpoint != "./model.bin" {
		t.Errorf("Checkpoint overridden unexpectedly: %q", got.Checkpoint)
	}
	if got.Threads != 4 {
		t.Errorf("Threads = %d, want 4", got.Threads)
	}
	if got.ModelKind != "chat" {
		t.Errorf("ModelKind = %q, want chat", got.ModelKind)
	}
}
