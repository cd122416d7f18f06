package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Fatalf("port = %q, want 8080", cfg.Port)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("address = %q", cfg.Address())
	}
	if cfg.AccessTokenTTL != 480*time.Minute {
		t.Fatalf("token ttl = %v", cfg.AccessTokenTTL)
	}
	if cfg.DescribeTTL != 24*time.Hour {
		t.Fatalf("describe ttl = %v", cfg.DescribeTTL)
	}
	if cfg.DefaultBranchID != "branch-1" {
		t.Fatalf("default branch = %q", cfg.DefaultBranchID)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9191")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "30")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg := Load()

	if cfg.Port != "9191" {
		t.Fatalf("port = %q, want 9191", cfg.Port)
	}
	if cfg.AccessTokenTTL != 30*time.Minute {
		t.Fatalf("token ttl = %v, want 30m", cfg.AccessTokenTTL)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Fatalf("redis addr = %q", cfg.RedisAddr)
	}
}
