package cache

import (
	"context"
	"fmt"
	"time"
)

// NotifyThrottle rate-limits watch notifications to one per watch per window
// using SET NX with a TTL. Redis errors fail open so the database
// last_notified_at check remains the backstop.
type NotifyThrottle struct {
	redis  *RedisClient
	window time.Duration
}

// NewNotifyThrottle creates a throttle with the given window.
func NewNotifyThrottle(redis *RedisClient, window time.Duration) *NotifyThrottle {
	return &NotifyThrottle{redis: redis, window: window}
}

// Allow reports whether the watch may fire now, and claims the slot if so.
func (t *NotifyThrottle) Allow(ctx context.Context, watchID int64) (bool, error) {
	key := fmt.Sprintf("surplus:watch_notified:%d", watchID)
	return t.redis.client.SetNX(ctx, key, "1", t.window).Result()
}
