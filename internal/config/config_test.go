package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	for _, key := range []string{
		"DATABASE_URL", "REDIS_URL", "RESOLVE_TIMEOUT", "FEED_BUFFER", "FEED_HEARTBEAT",
		"SCAN_PUSH_RATE", "SCAN_PUSH_BURST", "API_RATE_LIMIT", "DEFAULT_FOREGROUND",
		"DEFAULT_BACKGROUND", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.ServerAddr != ":3000" {
		t.Errorf("ServerAddr = %q", cfg.ServerAddr)
	}
	if cfg.DatabaseURL != "file:qryptic.db" || cfg.IsPostgres() {
		t.Errorf("DatabaseURL = %q, want sqlite default", cfg.DatabaseURL)
	}
	if cfg.Resolver.Timeout != 2*time.Second {
		t.Errorf("Resolver.Timeout = %v", cfg.Resolver.Timeout)
	}
	if cfg.Feed.Buffer != 64 || cfg.Feed.Heartbeat != 5*time.Second {
		t.Errorf("Feed = %+v", cfg.Feed)
	}
	if cfg.API.RateLimit != 120 {
		t.Errorf("API.RateLimit = %d", cfg.API.RateLimit)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/qryptic")
	t.Setenv("RESOLVE_TIMEOUT", "750ms")
	t.Setenv("FEED_BUFFER", "8")
	t.Setenv("SCAN_PUSH_RATE", "0.5")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("API_RATE_LIMIT", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !cfg.IsPostgres() {
		t.Error("IsPostgres() = false for postgres:// URL")
	}
	if cfg.Resolver.Timeout != 750*time.Millisecond {
		t.Errorf("Resolver.Timeout = %v", cfg.Resolver.Timeout)
	}
	if cfg.Feed.Buffer != 8 || cfg.Feed.ScanPushRate != 0.5 {
		t.Errorf("Feed = %+v", cfg.Feed)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
	if cfg.API.RateLimit != 120 {
		t.Errorf("API.RateLimit = %d, want default for invalid value", cfg.API.RateLimit)
	}
}

func TestLoad_YAMLOverlay(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
resolver:
  timeout: 3s
feed:
  buffer: 16
  heartbeat: 10s
defaults:
  foreground: "#222222"
  background: "#eeeeee"
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("FEED_BUFFER", "32")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Resolver.Timeout != 3*time.Second {
		t.Errorf("Resolver.Timeout = %v, want value from file", cfg.Resolver.Timeout)
	}
	if cfg.Feed.Heartbeat != 10*time.Second {
		t.Errorf("Feed.Heartbeat = %v, want value from file", cfg.Feed.Heartbeat)
	}
	if cfg.Feed.Buffer != 32 {
		t.Errorf("Feed.Buffer = %d, want env to win over file", cfg.Feed.Buffer)
	}
	if cfg.Defaults.Foreground != "#222222" || cfg.Defaults.Background != "#eeeeee" {
		t.Errorf("Defaults = %+v", cfg.Defaults)
	}
}

func TestLoad_YAMLScanPushRate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want float64
	}{
		{"explicit zero disables", "feed:\n  scan_push_rate: 0\n", 0},
		{"explicit rate", "feed:\n  scan_push_rate: 2.5\n", 2.5},
		{"absent keeps default", "feed:\n  buffer: 16\n", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o600); err != nil {
				t.Fatal(err)
			}
			t.Setenv("CONFIG_FILE", path)

			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.Feed.ScanPushRate != tt.want {
				t.Errorf("Feed.ScanPushRate = %v, want %v", cfg.Feed.ScanPushRate, tt.want)
			}
		})
	}
}

func TestLoadYAMLConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("feed: [not, a, map"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)

	if _, err := LoadYAMLConfig(); err == nil {
		t.Error("LoadYAMLConfig() error = nil, want parse error")
	}
}
