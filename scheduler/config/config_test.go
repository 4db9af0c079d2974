package config

import "testing"

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:8081" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Cluster.Namespace != "swarm-agents" {
		t.Errorf("Namespace = %q", cfg.Cluster.Namespace)
	}
	if cfg.Cluster.AgentImage != "swarm/agent-runtime:latest" {
		t.Errorf("AgentImage = %q", cfg.Cluster.AgentImage)
	}
	if cfg.Cluster.MaxCPUMillicores != 4000 || cfg.Cluster.MaxMemoryMB != 8192 {
		t.Errorf("limits = %d/%d", cfg.Cluster.MaxCPUMillicores, cfg.Cluster.MaxMemoryMB)
	}
	if cfg.Gateway.URL != "http://gateway:8080" {
		t.Errorf("Gateway URL = %q", cfg.Gateway.URL)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", "127.0.0.1:9091")
	t.Setenv("NAMESPACE", "staging-agents")
	t.Setenv("AGENT_IMAGE", "registry.local/agent:v7")
	t.Setenv("GATEWAY_URL", "http://gw.staging:8080")
	t.Setenv("MAX_CPU_MILLICORES", "2000")
	t.Setenv("MAX_MEMORY_MB", "4096")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9091" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Cluster.Namespace != "staging-agents" || cfg.Cluster.AgentImage != "registry.local/agent:v7" {
		t.Errorf("cluster = %+v", cfg.Cluster)
	}
	if cfg.Cluster.MaxCPUMillicores != 2000 || cfg.Cluster.MaxMemoryMB != 4096 {
		t.Errorf("limits = %d/%d", cfg.Cluster.MaxCPUMillicores, cfg.Cluster.MaxMemoryMB)
	}
	if cfg.Gateway.URL != "http://gw.staging:8080" {
		t.Errorf("Gateway URL = %q", cfg.Gateway.URL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q", cfg.Logging.Level)
	}
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("MAX_CPU_MILLICORES", "lots")
	if _, err := FromEnv(); err == nil {
		t.Error("expected error for non-numeric MAX_CPU_MILLICORES")
	}

	t.Setenv("MAX_CPU_MILLICORES", "0")
	if _, err := FromEnv(); err == nil {
		t.Error("expected error for zero cpu limit")
	}
}
