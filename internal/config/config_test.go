package config

import (
	"testing"
	"time"
)

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("APP_SERVICE", "contentgate-test")
	t.Setenv("DATABASE_TYPE", "sqlite")
	t.Setenv("GATE_CALL_TIMEOUT_MS", "1500")
	t.Setenv("RATE_LIMIT_ENABLED", "yes")
	t.Setenv("RATE_LIMIT_BURST", "7")
	t.Setenv("CAPABILITY_TTL_SECONDS", "60")
	t.Setenv("AUTH_JWT_SECRET", "  secret  ")
	t.Setenv("CAPABILITY_SECRET", "")

	cfg := Load()

	if cfg.AppName != "contentgate-test" {
		t.Fatalf("expected app name from env, got %q", cfg.AppName)
	}
	if cfg.DBType != "sqlite" {
		t.Fatalf("expected sqlite, got %q", cfg.DBType)
	}
	if cfg.GateCallTimeout != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s gate timeout, got %s", cfg.GateCallTimeout)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.Burst != 7 {
		t.Fatalf("unexpected rate limit config %+v", cfg.RateLimit)
	}
	if cfg.Capability.TTL != time.Minute {
		t.Fatalf("expected 1m capability ttl, got %s", cfg.Capability.TTL)
	}
	if cfg.AuthJWTSecret != "secret" || cfg.Capability.Secret != "secret" {
		t.Fatalf("expected trimmed secrets, got %q / %q", cfg.AuthJWTSecret, cfg.Capability.Secret)
	}
}

func TestLoadFallsBackOnGarbage(t *testing.T) {
	t.Setenv("GATE_CALL_TIMEOUT_MS", "soon")
	t.Setenv("RECONCILE_ENABLED", "maybe")

	cfg := Load()

	if cfg.GateCallTimeout != 5*time.Second {
		t.Fatalf("expected default gate timeout, got %s", cfg.GateCallTimeout)
	}
	if !cfg.Reconcile.Enabled {
		t.Fatalf("expected default reconcile enabled")
	}
}
