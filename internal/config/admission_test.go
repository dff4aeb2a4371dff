package config

import (
	"testing"
	"time"
)

func TestLoadAdmissionConfigDefaults(t *testing.T) {
	t.Setenv("QUEUE_TOKEN_SECRET", "s3cret")

	cfg := LoadAdmissionConfig()
	if cfg.ConcurrencyBudget != 100 {
		t.Fatalf("budget = %d, want 100", cfg.ConcurrencyBudget)
	}
	if cfg.TokenTTL != 2*time.Minute {
		t.Fatalf("token ttl = %s, want 2m", cfg.TokenTTL)
	}
	if cfg.HeartbeatTTL != 30*time.Second {
		t.Fatalf("heartbeat ttl = %s, want 30s", cfg.HeartbeatTTL)
	}
	if cfg.PromoteInterval != time.Second {
		t.Fatalf("promote interval = %s, want 1s", cfg.PromoteInterval)
	}
	if cfg.TokenSecret != "s3cret" {
		t.Fatalf("secret = %q", cfg.TokenSecret)
	}
}

func TestLoadAdmissionConfigFloors(t *testing.T) {
	t.Setenv("QUEUE_TOKEN_SECRET", "s3cret")
	t.Setenv("QUEUE_CONCURRENCY_BUDGET", "0")
	t.Setenv("QUEUE_TOKEN_TTL", "5ms")
	t.Setenv("QUEUE_HEARTBEAT_TTL", "0s")

	cfg := LoadAdmissionConfig()
	if cfg.ConcurrencyBudget != 1 {
		t.Fatalf("budget = %d, want floor 1", cfg.ConcurrencyBudget)
	}
	if cfg.TokenTTL != time.Second {
		t.Fatalf("token ttl = %s, want floor 1s", cfg.TokenTTL)
	}
	if cfg.HeartbeatTTL != time.Second {
		t.Fatalf("heartbeat ttl = %s, want floor 1s", cfg.HeartbeatTTL)
	}
}

func TestLoadAdmissionConfigOverrides(t *testing.T) {
	t.Setenv("QUEUE_TOKEN_SECRET", "s3cret")
	t.Setenv("QUEUE_CONCURRENCY_BUDGET", "250")
	t.Setenv("QUEUE_TOKEN_TTL", "90s")

	cfg := LoadAdmissionConfig()
	if cfg.ConcurrencyBudget != 250 {
		t.Fatalf("budget = %d, want 250", cfg.ConcurrencyBudget)
	}
	if cfg.TokenTTL != 90*time.Second {
		t.Fatalf("token ttl = %s, want 90s", cfg.TokenTTL)
	}
}
