package config

import (
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadNilUsesDefaults(t *testing.T) {
	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("load nil: %v", err)
	}
	if cfg.Hub.SendBuffer != Defaults().Hub.SendBuffer {
		t.Fatalf("expected default send buffer, got %d", cfg.Hub.SendBuffer)
	}
	if cfg.Dispatcher.Disabled {
		t.Fatalf("dispatcher should default to enabled")
	}
}

func TestLoadPartialStructKeepsOverrides(t *testing.T) {
	in := Config{}
	in.Dispatcher.MaxAttempts = 2
	in.Presence.GraceWindow = time.Second
	in.Presence.StaleAfter = 2 * time.Minute

	cfg, err := Load(in)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Dispatcher.MaxAttempts != 2 {
		t.Fatalf("expected max attempts 2, got %d", cfg.Dispatcher.MaxAttempts)
	}
	if cfg.Presence.GraceWindow != time.Second {
		t.Fatalf("expected grace window 1s, got %v", cfg.Presence.GraceWindow)
	}
	if cfg.Hub.SendBuffer != Defaults().Hub.SendBuffer {
		t.Fatalf("expected defaulted send buffer, got %d", cfg.Hub.SendBuffer)
	}
}

func TestLoadCanDisableDispatcher(t *testing.T) {
	cfg, err := Load(map[string]any{
		"dispatcher": map[string]any{"disabled": true},
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Dispatcher.Disabled {
		t.Fatal("disabled flag must survive defaulting")
	}
	if cfg.Dispatcher.MaxWorkers != Defaults().Dispatcher.MaxWorkers {
		t.Fatalf("other dispatcher knobs still default, got %d", cfg.Dispatcher.MaxWorkers)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Hub.SendBuffer = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero send buffer")
	}

	cfg = Defaults()
	cfg.Presence.StaleAfter = cfg.Presence.GraceWindow
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for stale_after <= grace_window")
	}

	cfg = Defaults()
	cfg.Dispatcher.Coalesce = true
	cfg.Dispatcher.CoalesceWindow = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for coalesce without window")
	}
}
