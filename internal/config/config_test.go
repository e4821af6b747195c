package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "bundle.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Version != 1 {
		t.Fatalf("version = %d, want 1", cfg.Version)
	}
	if !cfg.MinifyValue() {
		t.Fatal("minify should default to true")
	}
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
version: 1
minify: false
node_modules_mode: symlink
ignore:
  - '\.bak$'
warehouse:
  url: https://example.test
  release: "0.9.1"
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MinifyValue() {
		t.Fatal("minify should be false")
	}
	if cfg.Modules != "symlink" {
		t.Fatalf("node_modules_mode = %q", cfg.Modules)
	}
	if got := len(cfg.IgnorePatterns()); got != 1 {
		t.Fatalf("ignore patterns = %d, want 1", got)
	}
	if cfg.Warehouse.URL != "https://example.test" || cfg.Warehouse.Release != "0.9.1" {
		t.Fatalf("warehouse = %+v", cfg.Warehouse)
	}
}

func TestLoadRejectsBadMode(t *testing.T) {
	if _, err := Load(writeConfig(t, "node_modules_mode: hardlink\n")); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}

func TestLoadRejectsBadIgnorePattern(t *testing.T) {
	if _, err := Load(writeConfig(t, "ignore:\n  - '['\n")); err == nil {
		t.Fatal("expected an error for an invalid pattern")
	}
}
