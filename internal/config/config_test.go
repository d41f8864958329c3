package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Database.MaxOpenConns != 50 || cfg.Database.MaxIdleConns != 25 {
		t.Fatalf("pool = %d/%d", cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	}
	if cfg.Auth.AccessTTL() != 15*time.Minute {
		t.Fatalf("ttl = %v", cfg.Auth.AccessTTL())
	}
	if cfg.RateLimit.PerSecond != 20 || cfg.RateLimit.Burst != 40 {
		t.Fatalf("rate = %d/%d", cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)
	}
	if cfg.Database.DSN != "" || cfg.Auth.TokenSecret != "" {
		t.Fatalf("secrets have no defaults: %+v", cfg)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
server:
  addr: ":9191"
database:
  dsn: "postgres://localhost/opsdesk_test"
  max_open_conns: 5
auth:
  token_secret: "file-secret"
  access_ttl_minutes: 5
`)
	if err := os.WriteFile(filepath.Join(dir, "opsdesk.yaml"), yaml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9191" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Database.DSN != "postgres://localhost/opsdesk_test" || cfg.Database.MaxOpenConns != 5 {
		t.Fatalf("database = %+v", cfg.Database)
	}
	// Unset file keys keep the defaults.
	if cfg.Database.MaxIdleConns != 25 {
		t.Fatalf("idle conns = %d", cfg.Database.MaxIdleConns)
	}
	if cfg.Auth.TokenSecret != "file-secret" || cfg.Auth.AccessTTL() != 5*time.Minute {
		t.Fatalf("auth = %+v", cfg.Auth)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("OPSDESK_DATABASE_DSN", "postgres://env/opsdesk")
	t.Setenv("OPSDESK_AUTH_TOKEN_SECRET", "env-secret")
	t.Setenv("OPSDESK_SERVER_ADDR", ":7070")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.DSN != "postgres://env/opsdesk" {
		t.Fatalf("dsn = %q", cfg.Database.DSN)
	}
	if cfg.Auth.TokenSecret != "env-secret" {
		t.Fatalf("secret = %q", cfg.Auth.TokenSecret)
	}
	if cfg.Server.Addr != ":7070" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoadBadFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "opsdesk.yaml"), []byte("server: [not: valid"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatalf("expected error for malformed config")
	}
}
