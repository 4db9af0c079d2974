// Package config handles scheduler configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config is the top-level scheduler configuration, read from the
// environment.
type Config struct {
	Server  ServerConfig
	Cluster ClusterConfig
	Gateway GatewayConfig
	Logging LoggingConfig
}

// ServerConfig defines the scheduler's listener settings.
type ServerConfig struct {
	Addr string // LISTEN_ADDR, default "0.0.0.0:8081"
}

// ClusterConfig defines how agent pods are created.
type ClusterConfig struct {
	Namespace        string // NAMESPACE, default "swarm-agents"
	AgentImage       string // AGENT_IMAGE, image for agent pods
	MaxCPUMillicores uint32 // MAX_CPU_MILLICORES, default 4000
	MaxMemoryMB      uint32 // MAX_MEMORY_MB, default 8192
}

// GatewayConfig points the reconciler at the gateway's internal surface.
type GatewayConfig struct {
	URL string // GATEWAY_URL, default "http://gateway:8080"
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
			Addr: envStr("LISTEN_ADDR", "0.0.0.0:8081"),
		},
		Cluster: ClusterConfig{
			Namespace:  envStr("NAMESPACE", "swarm-agents"),
			AgentImage: envStr("AGENT_IMAGE", "swarm/agent-runtime:latest"),
		},
		Gateway: GatewayConfig{
			URL: envStr("GATEWAY_URL", "http://gateway:8080"),
		},
		Logging: LoggingConfig{
			Level: envStr("LOG_LEVEL", "info"),
		},
	}

	var err error
	if cfg.Cluster.MaxCPUMillicores, err = envUint32("MAX_CPU_MILLICORES", 4000); err != nil {
		return nil, err
	}
	if cfg.Cluster.MaxMemoryMB, err = envUint32("MAX_MEMORY_MB", 8192); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("LISTEN_ADDR is required")
	}
	if c.Cluster.Namespace == "" {
		return fmt.Errorf("NAMESPACE is required")
	}
	if c.Cluster.AgentImage == "" {
		return fmt.Errorf("AGENT_IMAGE is required")
	}
	if c.Cluster.MaxCPUMillicores == 0 || c.Cluster.MaxMemoryMB == 0 {
		return fmt.Errorf("resource limits must be positive")
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envUint32(key string, def uint32) (uint32, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return uint32(n), nil
}
