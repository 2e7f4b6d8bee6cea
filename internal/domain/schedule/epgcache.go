// Copyright (c) 2026 playoutd contributors
// Licensed under the PolyForm Noncommercial License 1.0.0

package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// EPGCache is a read-through cache over GetEPG results, keyed by
// (channel, t0, t1). EPG windows are horizon-ahead and read far more
// often than they change, which is exactly the case a short-TTL
// read-through cache exists for.
type EPGCache interface {
	Get(ctx context.Context, channel string, t0, t1 time.Time) ([]EPGEvent, bool)
	Set(ctx context.Context, channel string, t0, t1 time.Time, events []EPGEvent)
}

func epgCacheKey(channel string, t0, t1 time.Time) string {
	return fmt.Sprintf("epg:%s:%d:%d", channel, t0.UnixMicro(), t1.UnixMicro())
}

// RedisEPGCache implements EPGCache against github.com/redis/go-redis/v9.
// Cache misses and errors are non-fatal: GetEPG always falls through to
// the resolved-day store, so a cold or unreachable cache only costs
// latency, never correctness.
type RedisEPGCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisEPGCache(client *redis.Client, ttl time.Duration) *RedisEPGCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisEPGCache{client: client, ttl: ttl}
}

func (c *RedisEPGCache) Get(ctx context.Context, channel string, t0, t1 time.Time) ([]EPGEvent, bool) {
	raw, err := c.client.Get(ctx, epgCacheKey(channel, t0, t1)).Bytes()
	if err != nil {
		return nil, false
	}
	var events []EPGEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, false
	}
	return events, true
}

func (c *RedisEPGCache) Set(ctx context.Context, channel string, t0, t1 time.Time, events []EPGEvent) {
	raw, err := json.Marshal(events)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, epgCacheKey(channel, t0, t1), raw, c.ttl).Err()
}

// NoopEPGCache is used when no cache backend is configured.
type NoopEPGCache struct{}

func (NoopEPGCache) Get(context.Context, string, time.Time, time.Time) ([]EPGEvent, bool) {
	return nil, false
}
func (NoopEPGCache) Set(context.Context, string, time.Time, time.Time, []EPGEvent) {}

var (
	_ EPGCache = (*RedisEPGCache)(nil)
	_ EPGCache = NoopEPGCache{}
)
