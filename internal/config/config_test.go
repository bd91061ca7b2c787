package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"HOST", "PORT", "DATABASE_URL", "TEMPLATES_PATH",
		"MAX_CONCURRENT_COMPOSITES", "COMPOSITOR_QUEUE_SIZE",
		"FETCH_TIMEOUT_MS", "FETCH_MAX_BYTES", "LOG_LEVEL", "RATE_LIMIT_BACKEND",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoadUsesDefaultsWithNoOverrides(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := defaults()
	if cfg != want {
		t.Fatalf("expected defaults %+v, got %+v", want, cfg)
	}
}

func TestLoadAppliesTOMLOverlay(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := "host = \"127.0.0.1\"\nport = 9090\nlog_level = \"DEBUG\"\n"
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 9090 || cfg.LogLevel != "DEBUG" {
		t.Fatalf("overlay not applied: %+v", cfg)
	}
	if cfg.DatabasePath != defaults().DatabasePath {
		t.Fatalf("expected untouched field to keep its default, got %q", cfg.DatabasePath)
	}
}

func TestLoadEnvOverridesTOMLOverlay(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("host = \"127.0.0.1\"\nport = 9090\n"), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	os.Setenv("HOST", "10.0.0.1")
	defer os.Unsetenv("HOST")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Host != "10.0.0.1" {
		t.Fatalf("expected env to win over TOML overlay, got %q", cfg.Host)
	}
	if cfg.Port != 9090 {
		t.Fatalf("expected overlay port to survive when env doesn't override it, got %d", cfg.Port)
	}
}

func TestLoadIgnoresMissingConfigFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != defaults() {
		t.Fatalf("expected defaults when config file is absent, got %+v", cfg)
	}
}
