// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Ingest.FuzzTolerance != 10*time.Second {
		t.Errorf("Ingest.FuzzTolerance = %v, want 10s", cfg.Ingest.FuzzTolerance)
	}
	if cfg.Ingest.ToleranceSeconds() != 10 {
		t.Errorf("ToleranceSeconds() = %d, want 10", cfg.Ingest.ToleranceSeconds())
	}
	if cfg.Store.Backend != StoreBackendDuckDB {
		t.Errorf("Store.Backend = %q, want duckdb", cfg.Store.Backend)
	}
	if cfg.Cache.Backend != CacheBackendMemory {
		t.Errorf("Cache.Backend = %q, want memory", cfg.Cache.Backend)
	}
	if cfg.Ingest.Mode != IngestModeDirect {
		t.Errorf("Ingest.Mode = %q, want direct", cfg.Ingest.Mode)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"HTTP_PORT", "server.port"},
		{"FUZZ_TOLERANCE", "ingest.fuzz_tolerance"},
		{"STORE_BACKEND", "store.backend"},
		{"DATABASE_URL", "store.postgres.url"},
		{"REDIS_ADDR", "cache.redis.addr"},
		{"NATS_EMBEDDED", "queue.embedded_server"},
		{"AUTH_TOKENS", "security.tokens"},
		{"log_level", "logging.level"},
		{"PATH", ""},
		{"HOME", ""},
	}
	for _, tt := range tests {
		if got := envTransformFunc(tt.input); got != tt.expected {
			t.Errorf("envTransformFunc(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("FUZZ_TOLERANCE", "15s")
	t.Setenv("STORE_BACKEND", "badger")
	t.Setenv("BADGER_PATH", t.TempDir())
	t.Setenv("AUTH_TOKENS", "tok1:alice, tok2:bob:with:colons")
	t.Setenv("CACHE_BACKEND", "disabled")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Ingest.FuzzTolerance != 15*time.Second {
		t.Errorf("FuzzTolerance = %v, want 15s", cfg.Ingest.FuzzTolerance)
	}
	if cfg.Store.Backend != StoreBackendBadger {
		t.Errorf("Store.Backend = %q, want badger", cfg.Store.Backend)
	}
	if cfg.Cache.Backend != CacheBackendDisabled {
		t.Errorf("Cache.Backend = %q, want disabled", cfg.Cache.Backend)
	}

	users := cfg.Security.TokenUsers()
	if users["tok1"] != "alice" {
		t.Errorf("tok1 user = %q, want alice", users["tok1"])
	}
	if users["tok2"] != "bob:with:colons" {
		t.Errorf("tok2 user = %q, want bob:with:colons", users["tok2"])
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
ingest:
  fuzz_tolerance: 12s
  max_listens_per_request: 50
store:
  backend: memory
cache:
  backend: memory
  ttl: 2m
security:
  tokens:
    - "secret:user with spaces"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Ingest.FuzzTolerance != 12*time.Second {
		t.Errorf("FuzzTolerance = %v, want 12s", cfg.Ingest.FuzzTolerance)
	}
	if cfg.Ingest.MaxListensPerRequest != 50 {
		t.Errorf("MaxListensPerRequest = %d, want 50", cfg.Ingest.MaxListensPerRequest)
	}
	if cfg.Cache.TTL != 2*time.Minute {
		t.Errorf("Cache.TTL = %v, want 2m", cfg.Cache.TTL)
	}
	if got := cfg.Security.TokenUsers()["secret"]; got != "user with spaces" {
		t.Errorf("token user = %q", got)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"tolerance too small", func(c *Config) { c.Ingest.FuzzTolerance = 5 * time.Second }, "FUZZ_TOLERANCE"},
		{"tolerance fractional", func(c *Config) { c.Ingest.FuzzTolerance = 9500 * time.Millisecond }, "whole number"},
		{"unknown store", func(c *Config) { c.Store.Backend = "cassandra" }, "STORE_BACKEND"},
		{"postgres without url", func(c *Config) { c.Store.Backend = StoreBackendPostgres }, "DATABASE_URL"},
		{"unknown cache", func(c *Config) { c.Cache.Backend = "memcached" }, "CACHE_BACKEND"},
		{"bad token pair", func(c *Config) { c.Security.Tokens = []string{"nocolon"} }, "AUTH_TOKENS"},
		{"bad mode", func(c *Config) { c.Ingest.Mode = "kafka" }, "INGEST_MODE"},
		{"nats without topic", func(c *Config) {
			c.Ingest.Mode = IngestModeNATS
			c.Queue.Topic = ""
		}, "NATS_TOPIC"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "LOG_LEVEL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
