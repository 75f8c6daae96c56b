// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/tomtom215/tracklog/internal/fingerprint"
)

// RedisEvaler is the part of a Redis client the cache needs.
type RedisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// GoRedisEvaler adapts a go-redis client to RedisEvaler.
type GoRedisEvaler struct {
	c *redis.Client
}

// NewGoRedisEvaler connects to addr.
func NewGoRedisEvaler(opts *redis.Options) *GoRedisEvaler {
	return &GoRedisEvaler{c: redis.NewClient(opts)}
}

// Eval implements RedisEvaler.
func (g *GoRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return g.c.Eval(ctx, script, keys, args...).Result()
}

// Ping checks connectivity.
func (g *GoRedisEvaler) Ping(ctx context.Context) error {
	return g.c.Ping(ctx).Err()
}

// Close closes the client.
func (g *GoRedisEvaler) Close() error {
	return g.c.Close()
}

// Each (user, track) pair is one sorted set scored by listen timestamp.
//
// probeScript returns 1 when any member lies in [ARGV[1], ARGV[2]].
const probeScript = `
local n = redis.call('ZCOUNT', KEYS[1], ARGV[1], ARGV[2])
if n > 0 then
  return 1
end
return 0
`

// registerScript adds ARGV[1], keeps the newest ARGV[3] members and resets
// the key TTL to ARGV[2] milliseconds.
const registerScript = `
redis.call('ZADD', KEYS[1], ARGV[1], ARGV[1])
local keep = tonumber(ARGV[3])
if keep and keep > 0 then
  redis.call('ZREMRANGEBYRANK', KEYS[1], 0, -(keep + 1))
end
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return 1
`

// maxMembersPerPair bounds one sorted set. Older timestamps of a very
// active pair fall out of the cache and are found by the durable store.
const maxMembersPerPair = 512

// Redis is the recent-write cache shared by several Tracklog instances.
type Redis struct {
	client  RedisEvaler
	matcher fingerprint.Matcher
	ttl     time.Duration
	prefix  string
	closer  func() error
}

var _ RecentWrites = (*Redis)(nil)

// NewRedis builds a Redis cache on client. closer may be nil.
func NewRedis(client RedisEvaler, matcher fingerprint.Matcher, ttl time.Duration, prefix string, closer func() error) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Redis{client: client, matcher: matcher, ttl: ttl, prefix: prefix, closer: closer}
}

// RedisKey returns the sorted-set key of a fingerprint's pair. User keys
// never contain ':', so the first ':' after the prefix ends the user part.
func (r *Redis) RedisKey(fp fingerprint.Fingerprint) string {
	return r.prefix + fp.UserKey + ":" + fp.TrackIdentity
}

// Probe implements RecentWrites.
func (r *Redis) Probe(ctx context.Context, fp fingerprint.Fingerprint) (bool, error) {
	from, to := r.matcher.Window(fp.Timestamp)
	res, err := r.client.Eval(ctx, probeScript, []string{r.RedisKey(fp)},
		strconv.FormatInt(from, 10), strconv.FormatInt(to, 10))
	if err != nil {
		return false, fmt.Errorf("redis probe: %w", err)
	}
	n, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("redis probe: unexpected reply %T", res)
	}
	return n == 1, nil
}

// Register implements RecentWrites.
func (r *Redis) Register(ctx context.Context, fp fingerprint.Fingerprint) error {
	_, err := r.client.Eval(ctx, registerScript, []string{r.RedisKey(fp)},
		strconv.FormatInt(fp.Timestamp, 10), r.ttl.Milliseconds(), maxMembersPerPair)
	if err != nil {
		return fmt.Errorf("redis register: %w", err)
	}
	return nil
}

// Name implements RecentWrites.
func (r *Redis) Name() string { return "redis" }

// Close implements RecentWrites.
func (r *Redis) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
