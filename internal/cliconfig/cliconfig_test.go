package cliconfig_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/circlemind-ai/smooth-sdk/internal/cliconfig"
)

func TestSaveLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SMOOTH_HOME", dir)
	t.Setenv("CIRCLEMIND_API_KEY", "")
	t.Setenv("SMOOTH_BASE_URL", "")
	t.Setenv("SMOOTH_API_VERSION", "")

	want := cliconfig.Config{
		APIKey:     "sk-test",
		BaseURL:    "https://api.example.com/api",
		APIVersion: "v2",
		Timeout:    90 * time.Second,
		Retries:    5,
		SmoothDir:  dir,
	}
	if err := cliconfig.Save(want); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := cliconfig.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.APIKey != "sk-test" || got.BaseURL != want.BaseURL || got.APIVersion != "v2" {
		t.Fatalf("unexpected config: %+v", got)
	}
	if got.Timeout != 90*time.Second {
		t.Fatalf("expected 90s timeout, got %v", got.Timeout)
	}
	if got.Retries != 5 {
		t.Fatalf("expected 5 retries, got %d", got.Retries)
	}
	if got.HistoryPath != filepath.Join(dir, "history.db") {
		t.Fatalf("unexpected history path: %q", got.HistoryPath)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SMOOTH_HOME", dir)
	t.Setenv("CIRCLEMIND_API_KEY", "")
	t.Setenv("SMOOTH_BASE_URL", "")
	t.Setenv("SMOOTH_API_VERSION", "")

	cfg, err := cliconfig.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIKey != "" || cfg.SmoothDir != dir {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SMOOTH_HOME", dir)
	if err := cliconfig.Save(cliconfig.Config{APIKey: "from-file", SmoothDir: dir}); err != nil {
		t.Fatalf("save: %v", err)
	}
	t.Setenv("CIRCLEMIND_API_KEY", "from-env")
	t.Setenv("SMOOTH_BASE_URL", "")
	t.Setenv("SMOOTH_API_VERSION", "")

	cfg, err := cliconfig.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIKey != "from-env" {
		t.Fatalf("expected env key to win, got %q", cfg.APIKey)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SMOOTH_HOME", dir)
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("api_key = [unclosed"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := cliconfig.Load(); err == nil {
		t.Fatal("expected parse error")
	}
}
