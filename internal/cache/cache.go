// Package cache wraps the Redis client used to memoize group analysis
// results. A nil *Cache is valid and bypasses caching entirely, so the engine
// runs without Redis in development and tests.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(redisURL string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Cache{client: client, ttl: ttl}, nil
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}

func analysisKey(groupID string) string {
	return "analysis:" + groupID
}

// GetAnalysis loads a cached analysis into dest. Returns false on miss or when
// caching is disabled. Cache errors are logged and treated as misses.
func (c *Cache) GetAnalysis(ctx context.Context, groupID string, dest any) bool {
	if c == nil {
		return false
	}

	data, err := c.client.Get(ctx, analysisKey(groupID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("groupId", groupID).Msg("analysis cache read failed")
		}
		return false
	}

	if err := json.Unmarshal(data, dest); err != nil {
		log.Warn().Err(err).Str("groupId", groupID).Msg("analysis cache entry corrupt, ignoring")
		return false
	}
	return true
}

// SetAnalysis stores an analysis result under the configured TTL. Failures are
// logged, never surfaced; the cache is best-effort.
func (c *Cache) SetAnalysis(ctx context.Context, groupID string, value any) {
	if c == nil {
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		log.Warn().Err(err).Str("groupId", groupID).Msg("analysis cache marshal failed")
		return
	}
	if err := c.client.Set(ctx, analysisKey(groupID), data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("groupId", groupID).Msg("analysis cache write failed")
	}
}

// InvalidateAnalysis drops the cached analysis for a group. Called after any
// membership or override mutation touching the group.
func (c *Cache) InvalidateAnalysis(ctx context.Context, groupID string) {
	if c == nil {
		return
	}
	if err := c.client.Del(ctx, analysisKey(groupID)).Err(); err != nil {
		log.Warn().Err(err).Str("groupId", groupID).Msg("analysis cache invalidation failed")
	}
}
