package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if len(cfg.Instruments) == 0 {
		t.Error("defaults must seed instruments")
	}
	if cfg.Clock.Snapshot() != 250*time.Millisecond {
		t.Errorf("snapshot interval = %v, want 250ms", cfg.Clock.Snapshot())
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
server:
  port: 9100
storage:
  sqlite_path: /tmp/test-exchange.db
clock:
  settle_ms: 100
instruments:
  - symbol: TEST
    price: 10
    base_volatility: 0.01
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Storage.SQLitePath != "/tmp/test-exchange.db" {
		t.Errorf("sqlite path = %q", cfg.Storage.SQLitePath)
	}
	if cfg.Clock.Settle() != 100*time.Millisecond {
		t.Errorf("settle interval = %v, want 100ms", cfg.Clock.Settle())
	}
	if len(cfg.Instruments) != 1 || cfg.Instruments[0].Symbol != "TEST" {
		t.Errorf("instruments = %+v", cfg.Instruments)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9200")
	t.Setenv("JWT_SECRET", "env-secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != 9200 {
		t.Errorf("port = %d, want 9200", cfg.Server.Port)
	}
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Errorf("jwt secret = %q", cfg.Auth.JWTSecret)
	}
}
