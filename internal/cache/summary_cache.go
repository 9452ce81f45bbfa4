package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dontwaste/surplus_api/internal/models"
)

// SummaryCache keeps recently computed metric summaries in Redis so dashboard
// polling does not hammer the aggregate queries. Misses and Redis errors both
// read as a cache miss; the caller recomputes either way.
type SummaryCache struct {
	redis *RedisClient
	ttl   time.Duration
}

// NewSummaryCache creates a SummaryCache with the given entry lifetime.
func NewSummaryCache(redis *RedisClient, ttl time.Duration) *SummaryCache {
	return &SummaryCache{redis: redis, ttl: ttl}
}

func (c *SummaryCache) redisKey(key string) string {
	return "surplus:summary:" + key
}

// Get returns the cached summary for the key, or false on a miss.
func (c *SummaryCache) Get(ctx context.Context, key string) (*models.MetricSummary, bool) {
	raw, err := c.redis.Get(ctx, c.redisKey(key))
	if err != nil {
		return nil, false
	}

	var sum models.MetricSummary
	if err := json.Unmarshal([]byte(raw), &sum); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Dropping unreadable summary cache entry")
		_ = c.redis.Delete(ctx, c.redisKey(key))
		return nil, false
	}
	return &sum, true
}

// Set stores the summary under the key for the cache lifetime.
func (c *SummaryCache) Set(ctx context.Context, key string, sum *models.MetricSummary) {
	raw, err := json.Marshal(sum)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.redisKey(key), string(raw), c.ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to cache metric summary")
	}
}
