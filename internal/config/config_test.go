package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/FocuswithJustin/sqlrecover/internal/logging"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "json" {
		t.Fatalf("cfg = %+v, want defaults", cfg)
	}
}

func TestLoadParsesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
catalog_path: /etc/sqlrecover/heuristics.yaml
log_level: debug
log_format: text
csv_output_dir: /tmp/dumps
clone_dir: /tmp/clones
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CatalogPath != "/etc/sqlrecover/heuristics.yaml" {
		t.Fatalf("CatalogPath = %q", cfg.CatalogPath)
	}
	if cfg.Level() != logging.LevelDebug {
		t.Fatalf("Level() = %v, want LevelDebug", cfg.Level())
	}
	if cfg.Format() != logging.FormatText {
		t.Fatalf("Format() = %v, want FormatText", cfg.Format())
	}
}

func TestEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Level() != logging.LevelInfo {
		t.Fatalf("Level() = %v, want LevelInfo", cfg.Level())
	}
}
