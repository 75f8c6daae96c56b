// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package cache

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/tomtom215/tracklog/internal/config"
	"github.com/tomtom215/tracklog/internal/fingerprint"
	"github.com/tomtom215/tracklog/internal/logging"
)

// New builds the configured cache backend. A Redis backend is pinged once;
// an unreachable Redis is an error at startup.
func New(ctx context.Context, cfg config.CacheConfig, matcher fingerprint.Matcher) (RecentWrites, error) {
	switch cfg.Backend {
	case config.CacheBackendDisabled:
		logging.Warn().Msg("Recent-write cache disabled; every listen is checked against the durable store")
		return Disabled{}, nil

	case config.CacheBackendMemory, "":
		logging.Info().
			Int("capacity", cfg.Capacity).
			Dur("ttl", cfg.TTL).
			Msg("Using in-memory recent-write cache")
		return NewMemory(MemoryConfig{
			Capacity:      cfg.Capacity,
			TTL:           cfg.TTL,
			BloomExpected: cfg.BloomExpected,
			BloomFPRate:   cfg.BloomFPRate,
		}, matcher), nil

	case config.CacheBackendRedis:
		client := NewGoRedisEvaler(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		logging.Info().Str("addr", cfg.Redis.Addr).Dur("ttl", cfg.TTL).Msg("Using Redis recent-write cache")
		return NewRedis(client, matcher, cfg.TTL, cfg.Redis.KeyPrefix, client.Close), nil

	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}
