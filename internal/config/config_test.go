package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ServerPort == "" {
		t.Fatalf("expected default server port")
	}
	if cfg.PostgresURL == "" {
		t.Fatalf("expected default postgres url")
	}
	if cfg.BatchSize != 10 {
		t.Fatalf("expected default batch size, got %d", cfg.BatchSize)
	}
	if cfg.MaxBatchAge != time.Minute {
		t.Fatalf("expected default batch age, got %v", cfg.MaxBatchAge)
	}
	if cfg.PauseWindow != 5*time.Minute {
		t.Fatalf("expected default pause window, got %v", cfg.PauseWindow)
	}
	if cfg.CommitAttempts != 3 {
		t.Fatalf("expected default commit attempts, got %d", cfg.CommitAttempts)
	}
	if cfg.OutboxKey == "" {
		t.Fatalf("expected default outbox key")
	}
}

func TestLoadTrackingOverrides(t *testing.T) {
	t.Setenv("BATCH_SIZE", "25")
	t.Setenv("MAX_BATCH_AGE", "90s")
	t.Setenv("LOW_BATTERY_LEVEL", "0.15")

	cfg := Load()
	if cfg.BatchSize != 25 {
		t.Fatalf("expected batch size override, got %d", cfg.BatchSize)
	}
	if cfg.MaxBatchAge != 90*time.Second {
		t.Fatalf("expected batch age override, got %v", cfg.MaxBatchAge)
	}
	if cfg.LowBatteryLevel != 0.15 {
		t.Fatalf("expected low battery override, got %v", cfg.LowBatteryLevel)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9000")
	t.Setenv("POSTGRES_URL", "postgres://example")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("JWT_SECRET", "secret")

	cfg := Load()
	if cfg.ServerPort != ":9000" {
		t.Fatalf("expected override port")
	}
	if cfg.PostgresURL != "postgres://example" {
		t.Fatalf("expected override postgres")
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("expected override redis")
	}
	if cfg.JWTSecret != "secret" {
		t.Fatalf("expected override secret")
	}
}
