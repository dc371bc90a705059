package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, engine, err := loadServerConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.Storage != "sqlite" || cfg.Sender != "console" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if engine.Hub.SendBuffer <= 0 {
		t.Fatalf("engine defaults not applied: %+v", engine.Hub)
	}
}

func TestLoadServerConfigFileSurvivesUnsetEnv(t *testing.T) {
	path := writeConfigFile(t, `
addr: ":9090"
storage: memory
sender: none
log_level: debug
engine:
  log:
    replay_page: 25
`)

	cfg, engine, err := loadServerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("file addr lost, got %q", cfg.Addr)
	}
	if cfg.Storage != "memory" {
		t.Fatalf("file storage lost, got %q", cfg.Storage)
	}
	if cfg.Sender != "none" {
		t.Fatalf("file sender lost, got %q", cfg.Sender)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("file log level lost, got %q", cfg.LogLevel)
	}
	if engine.Log.ReplayPage != 25 {
		t.Fatalf("engine knob lost, got %d", engine.Log.ReplayPage)
	}
	// Values the file does not mention keep their defaults.
	if cfg.DSN != "file:realtime.db?cache=shared" {
		t.Fatalf("unexpected dsn %q", cfg.DSN)
	}
}

func TestLoadServerConfigEnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "addr: \":9090\"\nstorage: memory\n")
	t.Setenv("REALTIME_ADDR", ":7070")

	cfg, _, err := loadServerConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" {
		t.Fatalf("env must win over file, got %q", cfg.Addr)
	}
	if cfg.Storage != "memory" {
		t.Fatalf("unset env must not touch file value, got %q", cfg.Storage)
	}
}
