package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// FeatureSurplus gates every operation of the surplus engine at the HTTP
// boundary.
const FeatureSurplus = "surplus"

const (
	flagEnabledSetKey  = "feature_flags:enabled"
	flagDisabledSetKey = "feature_flags:disabled"
)

// FeatureFlags answers feature gate checks from two Redis sets (explicit
// enables and explicit disables), falling back to a static default when Redis
// has no opinion or cannot be reached, so a cache outage does not take the
// whole API down.
type FeatureFlags struct {
	redis     *RedisClient
	defaultOn bool
}

// NewFeatureFlags creates a FeatureFlags store.
func NewFeatureFlags(redis *RedisClient, defaultOn bool) *FeatureFlags {
	return &FeatureFlags{redis: redis, defaultOn: defaultOn}
}

// Enabled reports whether the named feature is switched on.
func (f *FeatureFlags) Enabled(ctx context.Context, flag string) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if on, err := f.redis.client.SIsMember(ctx, flagEnabledSetKey, flag).Result(); err == nil && on {
		return true
	} else if err != nil {
		log.Warn().Err(err).Str("flag", flag).Msg("feature flag lookup failed, using default")
		return f.defaultOn
	}

	if off, err := f.redis.client.SIsMember(ctx, flagDisabledSetKey, flag).Result(); err == nil && off {
		return false
	}

	return f.defaultOn
}
