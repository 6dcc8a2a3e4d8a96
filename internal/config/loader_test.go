package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Server.Port != "8081" {
		t.Errorf("default port = %q, want 8081", cfg.Server.Port)
	}
	if cfg.Terminal.MaxSessions != 100 {
		t.Errorf("default max_sessions = %d, want 100", cfg.Terminal.MaxSessions)
	}
	if cfg.Agent.Runner != "claude" {
		t.Errorf("default agent runner = %q, want claude", cfg.Agent.Runner)
	}
	if cfg.Snapshot.TTL != 2*time.Second {
		t.Errorf("default snapshot ttl = %v, want 2s", cfg.Snapshot.TTL)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sandboxer.yaml")
	yaml := `
server:
  port: "9090"
terminal:
  max_sessions: 5
  git_root: /srv/git
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("port = %q, want 9090", cfg.Server.Port)
	}
	if cfg.Terminal.MaxSessions != 5 {
		t.Errorf("max_sessions = %d, want 5", cfg.Terminal.MaxSessions)
	}
	if cfg.Terminal.GitRoot != "/srv/git" {
		t.Errorf("git_root = %q, want /srv/git", cfg.Terminal.GitRoot)
	}
	// Untouched sections keep defaults.
	if cfg.Terminal.DefaultWorkdir != "/home/sandboxer" {
		t.Errorf("default_workdir = %q, want default", cfg.Terminal.DefaultWorkdir)
	}
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sandboxer.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: \"9090\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SANDBOXER_PORT", "7070")
	t.Setenv("SANDBOXER_MAX_SESSIONS", "42")
	t.Setenv("SANDBOXER_LOG_ASYNC", "true")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Server.Port != "7070" {
		t.Errorf("port = %q, want env override 7070", cfg.Server.Port)
	}
	if cfg.Terminal.MaxSessions != 42 {
		t.Errorf("max_sessions = %d, want 42", cfg.Terminal.MaxSessions)
	}
	if !cfg.Logging.Async {
		t.Error("logging.async = false, want true")
	}
}

func TestLoadFromInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sandboxer.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFrom(path); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }},
		{"empty dsn", func(c *Config) { c.Postgres.DSN = "" }},
		{"zero max sessions", func(c *Config) { c.Terminal.MaxSessions = 0 }},
		{"empty runner", func(c *Config) { c.Agent.Runner = "" }},
		{"zero snapshot ttl", func(c *Config) { c.Snapshot.TTL = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			if err := validate(&cfg); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
