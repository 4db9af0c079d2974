// Package config handles gateway configuration loading and validation.
//
// The gateway is configured from the environment; every knob has a default
// except the auth settings, which are required unless DEV_MODE is on.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Auth      AuthConfig
	Scheduler SchedulerConfig
	RateLimit RateLimitConfig
	Session   SessionConfig
	Logging   LoggingConfig
}

// ServerConfig defines the gateway's listener settings.
type ServerConfig struct {
	Addr           string        // LISTEN_ADDR, default "0.0.0.0:8080"
	AllowedOrigins []string      // CORS_ORIGINS, comma separated; default ["*"]
	MaxBodyBytes   int64         // MAX_BODY_BYTES, default 1MB
	RequestTimeout time.Duration // REQUEST_TIMEOUT_SECONDS, default 30s
}

// StorageConfig selects the state store backend. DATABASE_URL wins over
// DATA_DIR when both are set.
type StorageConfig struct {
	DataDir     string // DATA_DIR, default "./data"
	DatabaseURL string // DATABASE_URL, empty selects the embedded store
}

// AuthConfig defines token validation settings.
type AuthConfig struct {
	BaseURL  string // AUTH_BASE_URL, identity provider root
	Audience string // AUTH_AUDIENCE, expected aud claim
	DevMode  bool   // DEV_MODE, accepts mock tokens; never in production
}

// SchedulerConfig points at the pod scheduler service. An empty URL selects
// the no-cluster scheduler.
type SchedulerConfig struct {
	URL string // SCHEDULER_URL
}

// RateLimitConfig defines per-user rate limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 // RATE_LIMIT_RPS, default 100
	Burst             int     // derived: 2x rate
}

// SessionConfig defines session and streaming behavior.
type SessionConfig struct {
	MaxAgentsPerUser int           // MAX_AGENTS_PER_USER, default 10
	WebSocketTimeout time.Duration // WEBSOCKET_TIMEOUT_SECONDS, default 300s
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level string // LOG_LEVEL, default "info"
}

// FromEnv reads the configuration from the environment, applies defaults and
// validates it.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:           envStr("LISTEN_ADDR", "0.0.0.0:8080"),
			AllowedOrigins: splitOrigins(os.Getenv("CORS_ORIGINS")),
		},
		Storage: StorageConfig{
			DataDir:     envStr("DATA_DIR", "./data"),
			DatabaseURL: os.Getenv("DATABASE_URL"),
		},
		Auth: AuthConfig{
			BaseURL:  os.Getenv("AUTH_BASE_URL"),
			Audience: os.Getenv("AUTH_AUDIENCE"),
			DevMode:  envBool("DEV_MODE"),
		},
		Scheduler: SchedulerConfig{
			URL: os.Getenv("SCHEDULER_URL"),
		},
		Logging: LoggingConfig{
			Level: envStr("LOG_LEVEL", "info"),
		},
	}

	var err error
	if cfg.Server.MaxBodyBytes, err = envInt64("MAX_BODY_BYTES", 1024*1024); err != nil {
		return nil, err
	}
	if cfg.Server.RequestTimeout, err = envSeconds("REQUEST_TIMEOUT_SECONDS", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.RateLimit.RequestsPerSecond, err = envFloat("RATE_LIMIT_RPS", 100); err != nil {
		return nil, err
	}
	if cfg.Session.MaxAgentsPerUser, err = envInt("MAX_AGENTS_PER_USER", 10); err != nil {
		return nil, err
	}
	if cfg.Session.WebSocketTimeout, err = envSeconds("WEBSOCKET_TIMEOUT_SECONDS", 300*time.Second); err != nil {
		return nil, err
	}
	cfg.RateLimit.Burst = int(cfg.RateLimit.RequestsPerSecond * 2)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("LISTEN_ADDR is required")
	}
	if !c.Auth.DevMode {
		if c.Auth.BaseURL == "" {
			return fmt.Errorf("AUTH_BASE_URL is required unless DEV_MODE is set")
		}
		if c.Auth.Audience == "" {
			return fmt.Errorf("AUTH_AUDIENCE is required unless DEV_MODE is set")
		}
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be positive")
	}
	if c.Session.MaxAgentsPerUser <= 0 {
		return fmt.Errorf("MAX_AGENTS_PER_USER must be positive")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return fmt.Errorf("MAX_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envSeconds(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return time.Duration(n) * time.Second, nil
}

func splitOrigins(s string) []string {
	if s == "" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
