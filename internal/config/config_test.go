package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GRID_CONFIG_FILE", "")
	t.Setenv("GRID_DONE_LABELS", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if len(cfg.Grid.DoneLabels) != 1 || cfg.Grid.DoneLabels[0] != "Done" {
		t.Fatalf("unexpected done labels %v", cfg.Grid.DoneLabels)
	}
	if cfg.Grid.SnapshotTTL() != 5*time.Minute {
		t.Fatalf("unexpected ttl %s", cfg.Grid.SnapshotTTL())
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("GRID_CONFIG_FILE", "")
	t.Setenv("GRID_DONE_LABELS", "Done, Shipped ,")
	t.Setenv("GRID_CASCADE_LIMIT", "8")
	t.Setenv("GRID_ROLLUP_PRECISION", "not-a-number")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Grid.DoneLabels; len(got) != 2 || got[1] != "Shipped" {
		t.Fatalf("unexpected done labels %v", got)
	}
	if cfg.Grid.CascadeLimit != 8 {
		t.Fatalf("expected cascade limit 8, got %d", cfg.Grid.CascadeLimit)
	}
	if cfg.Grid.RollupPrecision != 2 {
		t.Fatalf("bad ints fall back, got %d", cfg.Grid.RollupPrecision)
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.toml")
	body := "[grid]\ndone_labels = [\"Closed\"]\nformula_precision = 4\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GRID_CONFIG_FILE", path)
	t.Setenv("GRID_CASCADE_LIMIT", "12")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Grid.FormulaPrecision != 4 || cfg.Grid.DoneLabels[0] != "Closed" {
		t.Fatalf("overlay not applied: %+v", cfg.Grid)
	}
	if cfg.Grid.CascadeLimit != 12 {
		t.Fatalf("keys absent from the file keep env values, got %d", cfg.Grid.CascadeLimit)
	}
}

func TestLoadFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grid.toml")
	if err := os.WriteFile(path, []byte("[grid]\ncascade = 3\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GRID_CONFIG_FILE", path)
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown key")
	}
}
