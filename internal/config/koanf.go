// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists config file locations in priority order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tracklog/config.yaml",
	"/etc/tracklog/config.yml",
}

// ConfigPathEnvVar overrides the config file location.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8100,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    10 << 20, // 10MB
		},
		Security: SecurityConfig{
			Tokens:            []string{},
			RateLimitReqs:     100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
			CORSOrigins:       []string{"*"},
		},
		Ingest: IngestConfig{
			FuzzTolerance:        10 * time.Second, // observed import drift is up to 9s
			MaxListensPerRequest: 1000,
			DefaultQueryCount:    25,
			MaxQueryCount:        100,
			Mode:                 IngestModeDirect,
		},
		Store: StoreConfig{
			Backend:   StoreBackendDuckDB,
			OpTimeout: 30 * time.Second,
			DuckDB: DuckDBConfig{
				Path:      "/data/tracklog.duckdb",
				MaxMemory: "1GB",
				Threads:   0, // 0 = DuckDB default
			},
			Badger: BadgerConfig{
				Path:       "/data/listens",
				InMemory:   false,
				SyncWrites: true,
			},
			Postgres: PostgresConfig{
				URL:      "",
				MaxConns: 10,
			},
		},
		Cache: CacheConfig{
			Backend:         CacheBackendMemory,
			TTL:             10 * time.Minute,
			Capacity:        100000,
			BloomExpected:   1000000,
			BloomFPRate:     0.01,
			CleanupInterval: time.Minute,
			Redis: RedisConfig{
				Addr:      "127.0.0.1:6379",
				DB:        0,
				KeyPrefix: "tracklog:recent:",
			},
		},
		Queue: QueueConfig{
			URL:              "nats://127.0.0.1:4222",
			EmbeddedServer:   true,
			StoreDir:         "/data/nats/jetstream",
			Topic:            "listens",
			DurableName:      "listen-writer",
			QueueGroup:       "writers",
			SubscribersCount: 4,
			AckWaitTimeout:   30 * time.Second,
			CloseTimeout:     30 * time.Second,
		},
		Breaker: BreakerConfig{
			Enabled:          true,
			MaxRequests:      3,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from three layers:
//  1. built-in defaults
//  2. optional YAML file (CONFIG_PATH or DefaultConfigPaths)
//  3. environment variables (see envTransformFunc)
//
// and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated env values.
var sliceConfigPaths = []string{
	"security.tokens",
	"security.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps lower-cased environment variable names to koanf paths.
var envMappings = map[string]string{
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"http_max_body_bytes":   "server.max_body_bytes",

	"auth_tokens":         "security.tokens",
	"rate_limit_reqs":     "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"cors_origins":        "security.cors_origins",

	"fuzz_tolerance":          "ingest.fuzz_tolerance",
	"max_listens_per_request": "ingest.max_listens_per_request",
	"default_query_count":     "ingest.default_query_count",
	"max_query_count":         "ingest.max_query_count",
	"ingest_mode":             "ingest.mode",

	"store_backend":      "store.backend",
	"store_op_timeout":   "store.op_timeout",
	"duckdb_path":        "store.duckdb.path",
	"duckdb_max_memory":  "store.duckdb.max_memory",
	"duckdb_threads":     "store.duckdb.threads",
	"badger_path":        "store.badger.path",
	"badger_in_memory":   "store.badger.in_memory",
	"badger_sync_writes": "store.badger.sync_writes",
	"database_url":       "store.postgres.url",
	"postgres_max_conns": "store.postgres.max_conns",

	"cache_backend":          "cache.backend",
	"cache_ttl":              "cache.ttl",
	"cache_capacity":         "cache.capacity",
	"cache_bloom_expected":   "cache.bloom_expected",
	"cache_bloom_fp_rate":    "cache.bloom_fp_rate",
	"cache_cleanup_interval": "cache.cleanup_interval",
	"redis_addr":             "cache.redis.addr",
	"redis_password":         "cache.redis.password",
	"redis_db":               "cache.redis.db",
	"redis_key_prefix":       "cache.redis.key_prefix",

	"nats_url":               "queue.url",
	"nats_embedded":          "queue.embedded_server",
	"nats_store_dir":         "queue.store_dir",
	"nats_topic":             "queue.topic",
	"nats_durable_name":      "queue.durable_name",
	"nats_queue_group":       "queue.queue_group",
	"nats_subscribers":       "queue.subscribers_count",
	"nats_ack_wait_timeout":  "queue.ack_wait_timeout",
	"nats_close_timeout":     "queue.close_timeout",

	"breaker_enabled":           "breaker.enabled",
	"breaker_max_requests":      "breaker.max_requests",
	"breaker_interval":          "breaker.interval",
	"breaker_timeout":           "breaker.timeout",
	"breaker_failure_threshold": "breaker.failure_threshold",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps an environment variable name to a koanf path.
// Unknown variables map to "" and are ignored.
//
//   - HTTP_PORT -> server.port
//   - FUZZ_TOLERANCE -> ingest.fuzz_tolerance
//   - DATABASE_URL -> store.postgres.url
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
