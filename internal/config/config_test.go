package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.Store.Backend != BackendScylla {
		t.Errorf("default backend = %q, want %q", cfg.Store.Backend, BackendScylla)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Reaper.Interval != 5*time.Minute {
		t.Errorf("default reaper interval = %v, want 5m", cfg.Reaper.Interval)
	}
	if cfg.GetServerAddress() != ":8080" {
		t.Errorf("address = %q", cfg.GetServerAddress())
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", BackendDynamo)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SCYLLA_NODES", "10.0.0.1:9042, 10.0.0.2:9042")
	t.Setenv("REAPER_ENABLED", "false")
	t.Setenv("REAPER_INTERVAL", "90s")

	cfg := LoadConfig()

	if cfg.Store.Backend != BackendDynamo {
		t.Errorf("backend = %q, want dynamo", cfg.Store.Backend)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if len(cfg.Scylla.Nodes) != 2 || cfg.Scylla.Nodes[1] != "10.0.0.2:9042" {
		t.Errorf("nodes = %v; whitespace around entries must be trimmed", cfg.Scylla.Nodes)
	}
	if cfg.Reaper.Enabled {
		t.Error("reaper enabled despite override")
	}
	if cfg.Reaper.Interval != 90*time.Second {
		t.Errorf("interval = %v, want 90s", cfg.Reaper.Interval)
	}
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("REAPER_ENABLED", "maybe")
	t.Setenv("SERVER_READ_TIMEOUT", "soon")

	cfg := LoadConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want fallback 8080", cfg.Server.Port)
	}
	if !cfg.Reaper.Enabled {
		t.Error("reaper disabled by malformed value; want fallback true")
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("read timeout = %v, want fallback 10s", cfg.Server.ReadTimeout)
	}
}

func TestEnvironmentPredicates(t *testing.T) {
	prod := &Config{Environment: "production"}
	if !prod.IsProduction() || prod.IsDevelopment() {
		t.Error("production predicates wrong")
	}

	dev := &Config{Environment: "development"}
	if dev.IsProduction() || !dev.IsDevelopment() {
		t.Error("development predicates wrong")
	}
}
