package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("AMQP_URL", "")
	t.Setenv("OTP_TTL", "")

	cfg := Load()
	if cfg.Port != "8081" {
		t.Errorf("port: got %s, want 8081", cfg.Port)
	}
	if cfg.AMQPURL != "" {
		t.Errorf("amqp url: got %q, want empty", cfg.AMQPURL)
	}
	if cfg.OTPTTL != 5*time.Minute {
		t.Errorf("otp ttl: got %s, want 5m", cfg.OTPTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("ACCESS_TOKEN_TTL", "30m")
	t.Setenv("PERSISTENCE_RETRIES", "5")

	cfg := Load()
	if cfg.Port != "9000" {
		t.Errorf("port: got %s, want 9000", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("allowed origins: got %v", cfg.AllowedOrigins)
	}
	if cfg.AccessTokenTTL != 30*time.Minute {
		t.Errorf("access ttl: got %s, want 30m", cfg.AccessTokenTTL)
	}
	if cfg.PersistenceRetries != 5 {
		t.Errorf("retries: got %d, want 5", cfg.PersistenceRetries)
	}
}

func TestLoadInvalidDurationFallsBack(t *testing.T) {
	t.Setenv("OTP_TTL", "soon")

	cfg := Load()
	if cfg.OTPTTL != 5*time.Minute {
		t.Errorf("otp ttl: got %s, want fallback 5m", cfg.OTPTTL)
	}
}
