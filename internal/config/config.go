// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

// Package config loads Tracklog configuration from built-in defaults, an
// optional YAML file and environment variables, in that order of precedence.
package config

import (
	"strings"
	"time"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Security SecurityConfig `koanf:"security"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Store    StoreConfig    `koanf:"store"`
	Cache    CacheConfig    `koanf:"cache"`
	Queue    QueueConfig    `koanf:"queue"`
	Breaker  BreakerConfig  `koanf:"breaker"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// MaxBodyBytes caps the size of a submit-listens request body.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
}

// SecurityConfig holds the static token table and request throttling.
type SecurityConfig struct {
	// Tokens is a list of "token:user" pairs. The user part may contain any
	// characters, including further colons.
	Tokens            []string      `koanf:"tokens"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
}

// TokenUsers parses Tokens into a token -> user identity map.
// Malformed entries are skipped; Validate rejects them at load time.
func (s SecurityConfig) TokenUsers() map[string]string {
	users := make(map[string]string, len(s.Tokens))
	for _, pair := range s.Tokens {
		token, user, ok := strings.Cut(pair, ":")
		if !ok || token == "" {
			continue
		}
		users[token] = user
	}
	return users
}

// Ingestion modes.
const (
	IngestModeDirect = "direct"
	IngestModeNATS   = "nats"
)

// IngestConfig controls the deduplicating write path.
type IngestConfig struct {
	// FuzzTolerance is the maximum timestamp distance at which two listens of
	// the same track by the same user are one event.
	FuzzTolerance time.Duration `koanf:"fuzz_tolerance"`

	// MaxListensPerRequest bounds a single submission.
	MaxListensPerRequest int `koanf:"max_listens_per_request"`

	// DefaultQueryCount and MaxQueryCount bound the fetch endpoint.
	DefaultQueryCount int `koanf:"default_query_count"`
	MaxQueryCount     int `koanf:"max_query_count"`

	// Mode is "direct" (write inline) or "nats" (publish, then write from the queue).
	Mode string `koanf:"mode"`
}

// ToleranceSeconds returns FuzzTolerance in whole seconds.
func (i IngestConfig) ToleranceSeconds() int64 {
	return int64(i.FuzzTolerance / time.Second)
}

// Store backends.
const (
	StoreBackendMemory   = "memory"
	StoreBackendDuckDB   = "duckdb"
	StoreBackendBadger   = "badger"
	StoreBackendPostgres = "postgres"
)

// StoreConfig selects and configures the durable listen store.
type StoreConfig struct {
	Backend string `koanf:"backend"`
	// OpTimeout is applied to store calls whose context carries no deadline.
	OpTimeout time.Duration  `koanf:"op_timeout"`
	DuckDB    DuckDBConfig   `koanf:"duckdb"`
	Badger    BadgerConfig   `koanf:"badger"`
	Postgres  PostgresConfig `koanf:"postgres"`
}

// DuckDBConfig configures the DuckDB backend.
type DuckDBConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// BadgerConfig configures the Badger backend.
type BadgerConfig struct {
	Path       string `koanf:"path"`
	InMemory   bool   `koanf:"in_memory"`
	SyncWrites bool   `koanf:"sync_writes"`
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	URL      string `koanf:"url"`
	MaxConns int32  `koanf:"max_conns"`
}

// Cache backends.
const (
	CacheBackendMemory   = "memory"
	CacheBackendRedis    = "redis"
	CacheBackendDisabled = "disabled"
)

// CacheConfig configures the recent-write cache.
type CacheConfig struct {
	Backend string `koanf:"backend"`
	// TTL bounds how long a written listen stays in the cache. It should
	// cover the longest realistic client retry window.
	TTL             time.Duration `koanf:"ttl"`
	Capacity        int           `koanf:"capacity"`
	BloomExpected   int           `koanf:"bloom_expected"`
	BloomFPRate     float64       `koanf:"bloom_fp_rate"`
	CleanupInterval time.Duration `koanf:"cleanup_interval"`
	Redis           RedisConfig   `koanf:"redis"`
}

// RedisConfig configures the Redis cache backend.
type RedisConfig struct {
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

// QueueConfig configures NATS JetStream for queue ingestion mode.
type QueueConfig struct {
	URL              string        `koanf:"url"`
	EmbeddedServer   bool          `koanf:"embedded_server"`
	StoreDir         string        `koanf:"store_dir"`
	Topic            string        `koanf:"topic"`
	DurableName      string        `koanf:"durable_name"`
	QueueGroup       string        `koanf:"queue_group"`
	SubscribersCount int           `koanf:"subscribers_count"`
	AckWaitTimeout   time.Duration `koanf:"ack_wait_timeout"`
	CloseTimeout     time.Duration `koanf:"close_timeout"`
}

// BreakerConfig configures the circuit breaker around the durable store.
type BreakerConfig struct {
	Enabled bool `koanf:"enabled"`
	// MaxRequests is the number of probe requests allowed while half-open.
	MaxRequests uint32 `koanf:"max_requests"`
	// Interval resets the closed-state failure counters.
	Interval time.Duration `koanf:"interval"`
	// Timeout is how long the breaker stays open.
	Timeout time.Duration `koanf:"timeout"`
	// FailureThreshold consecutive failures trip the breaker.
	FailureThreshold uint32 `koanf:"failure_threshold"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
