package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("DEV_MODE", "true")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.MaxBodyBytes != 1024*1024 {
		t.Errorf("max body = %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Server.RequestTimeout != 30*time.Second {
		t.Errorf("request timeout = %v", cfg.Server.RequestTimeout)
	}
	if cfg.RateLimit.RequestsPerSecond != 100 || cfg.RateLimit.Burst != 200 {
		t.Errorf("rate limit = %v/%d", cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	if cfg.Session.MaxAgentsPerUser != 10 {
		t.Errorf("max agents = %d", cfg.Session.MaxAgentsPerUser)
	}
	if cfg.Session.WebSocketTimeout != 300*time.Second {
		t.Errorf("ws timeout = %v", cfg.Session.WebSocketTimeout)
	}
	if len(cfg.Server.AllowedOrigins) != 1 || cfg.Server.AllowedOrigins[0] != "*" {
		t.Errorf("origins = %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", "127.0.0.1:9090")
	t.Setenv("DATABASE_URL", "postgres://swarm@localhost/swarm")
	t.Setenv("AUTH_BASE_URL", "https://auth.example.com")
	t.Setenv("AUTH_AUDIENCE", "swarm-api")
	t.Setenv("SCHEDULER_URL", "http://scheduler:8081")
	t.Setenv("RATE_LIMIT_RPS", "25")
	t.Setenv("MAX_AGENTS_PER_USER", "3")
	t.Setenv("WEBSOCKET_TIMEOUT_SECONDS", "60")
	t.Setenv("CORS_ORIGINS", "https://app.example.com, https://staging.example.com")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9090" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Storage.DatabaseURL != "postgres://swarm@localhost/swarm" {
		t.Errorf("database url = %q", cfg.Storage.DatabaseURL)
	}
	if cfg.Scheduler.URL != "http://scheduler:8081" {
		t.Errorf("scheduler url = %q", cfg.Scheduler.URL)
	}
	if cfg.RateLimit.RequestsPerSecond != 25 || cfg.RateLimit.Burst != 50 {
		t.Errorf("rate limit = %v/%d", cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	if cfg.Session.MaxAgentsPerUser != 3 {
		t.Errorf("max agents = %d", cfg.Session.MaxAgentsPerUser)
	}
	if cfg.Session.WebSocketTimeout != time.Minute {
		t.Errorf("ws timeout = %v", cfg.Session.WebSocketTimeout)
	}
	want := []string{"https://app.example.com", "https://staging.example.com"}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[0] != want[0] || cfg.Server.AllowedOrigins[1] != want[1] {
		t.Errorf("origins = %v", cfg.Server.AllowedOrigins)
	}
}

func TestFromEnvRequiresAuthOutsideDevMode(t *testing.T) {
	t.Setenv("AUTH_BASE_URL", "")
	t.Setenv("AUTH_AUDIENCE", "")
	t.Setenv("DEV_MODE", "")

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error without auth settings")
	}

	t.Setenv("AUTH_BASE_URL", "https://auth.example.com")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error without AUTH_AUDIENCE")
	}

	t.Setenv("AUTH_AUDIENCE", "swarm-api")
	if _, err := FromEnv(); err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
}

func TestFromEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("DEV_MODE", "true")

	t.Setenv("RATE_LIMIT_RPS", "fast")
	if _, err := FromEnv(); err == nil {
		t.Error("expected error for non-numeric RATE_LIMIT_RPS")
	}
	t.Setenv("RATE_LIMIT_RPS", "0")
	if _, err := FromEnv(); err == nil {
		t.Error("expected error for zero RATE_LIMIT_RPS")
	}
	t.Setenv("RATE_LIMIT_RPS", "")
	t.Setenv("MAX_AGENTS_PER_USER", "-1")
	if _, err := FromEnv(); err == nil {
		t.Error("expected error for negative MAX_AGENTS_PER_USER")
	}
}
