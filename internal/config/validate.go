// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/tracklog/internal/logging"
)

// Tolerance bounds. The lower bound covers the clock drift seen when clients
// re-derive timestamps during history imports.
const (
	MinFuzzTolerance = 9 * time.Second
	MaxFuzzTolerance = 5 * time.Minute
)

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error
	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateSecurity()...)
	errs = append(errs, c.validateIngest()...)
	errs = append(errs, c.validateStore()...)
	errs = append(errs, c.validateCache()...)
	errs = append(errs, c.validateQueue()...)
	errs = append(errs, c.validateLogging()...)
	return errors.Join(errs...)
}

func (c *Config) validateServer() []error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("HTTP_MAX_BODY_BYTES must be positive"))
	}
	return errs
}

func (c *Config) validateSecurity() []error {
	var errs []error
	for i, pair := range c.Security.Tokens {
		token, _, ok := strings.Cut(pair, ":")
		if !ok || token == "" {
			errs = append(errs, fmt.Errorf("AUTH_TOKENS entry %d must have the form token:user", i))
		}
	}
	if !c.Security.RateLimitDisabled {
		if c.Security.RateLimitReqs <= 0 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_REQS must be positive"))
		}
		if c.Security.RateLimitWindow <= 0 {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_WINDOW must be positive"))
		}
	}
	return errs
}

func (c *Config) validateIngest() []error {
	var errs []error
	tol := c.Ingest.FuzzTolerance
	if tol < MinFuzzTolerance || tol > MaxFuzzTolerance {
		errs = append(errs, fmt.Errorf("FUZZ_TOLERANCE must be between %s and %s, got %s",
			MinFuzzTolerance, MaxFuzzTolerance, tol))
	}
	if tol%time.Second != 0 {
		errs = append(errs, fmt.Errorf("FUZZ_TOLERANCE must be a whole number of seconds, got %s", tol))
	}
	if c.Ingest.MaxListensPerRequest <= 0 {
		errs = append(errs, fmt.Errorf("MAX_LISTENS_PER_REQUEST must be positive"))
	}
	if c.Ingest.DefaultQueryCount <= 0 || c.Ingest.DefaultQueryCount > c.Ingest.MaxQueryCount {
		errs = append(errs, fmt.Errorf("DEFAULT_QUERY_COUNT must be between 1 and MAX_QUERY_COUNT"))
	}
	switch c.Ingest.Mode {
	case IngestModeDirect, IngestModeNATS:
	default:
		errs = append(errs, fmt.Errorf("INGEST_MODE must be %q or %q, got %q", IngestModeDirect, IngestModeNATS, c.Ingest.Mode))
	}
	return errs
}

func (c *Config) validateStore() []error {
	var errs []error
	switch c.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendDuckDB:
		if c.Store.DuckDB.Path == "" {
			errs = append(errs, fmt.Errorf("DUCKDB_PATH is required when STORE_BACKEND=duckdb"))
		}
	case StoreBackendBadger:
		if c.Store.Badger.Path == "" && !c.Store.Badger.InMemory {
			errs = append(errs, fmt.Errorf("BADGER_PATH is required when STORE_BACKEND=badger"))
		}
	case StoreBackendPostgres:
		if c.Store.Postgres.URL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required when STORE_BACKEND=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q is not supported", c.Store.Backend))
	}
	if c.Store.OpTimeout <= 0 {
		errs = append(errs, fmt.Errorf("STORE_OP_TIMEOUT must be positive"))
	}
	if c.Breaker.Enabled && c.Breaker.FailureThreshold == 0 {
		errs = append(errs, fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be positive when the breaker is enabled"))
	}
	return errs
}

func (c *Config) validateCache() []error {
	var errs []error
	switch c.Cache.Backend {
	case CacheBackendDisabled:
		return nil
	case CacheBackendMemory:
		if c.Cache.Capacity <= 0 {
			errs = append(errs, fmt.Errorf("CACHE_CAPACITY must be positive"))
		}
		if c.Cache.BloomFPRate <= 0 || c.Cache.BloomFPRate >= 1 {
			errs = append(errs, fmt.Errorf("CACHE_BLOOM_FP_RATE must be in (0, 1)"))
		}
	case CacheBackendRedis:
		if c.Cache.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("REDIS_ADDR is required when CACHE_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("CACHE_BACKEND %q is not supported", c.Cache.Backend))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, fmt.Errorf("CACHE_TTL must be positive"))
	}
	return errs
}

func (c *Config) validateQueue() []error {
	if c.Ingest.Mode != IngestModeNATS {
		return nil
	}
	var errs []error
	if c.Queue.Topic == "" {
		errs = append(errs, fmt.Errorf("NATS_TOPIC is required when INGEST_MODE=nats"))
	}
	if !c.Queue.EmbeddedServer && c.Queue.URL == "" {
		errs = append(errs, fmt.Errorf("NATS_URL is required when the embedded server is disabled"))
	}
	if c.Queue.SubscribersCount <= 0 {
		errs = append(errs, fmt.Errorf("NATS_SUBSCRIBERS must be positive"))
	}
	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error
	if !logging.ValidLevel(c.Logging.Level) {
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is not a valid level", c.Logging.Level))
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format))
	}
	return errs
}
