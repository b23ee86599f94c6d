package voicetools

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/calendar-ai-platform/pkg/logging"
)

// cacheTTL absorbs the voice agent re-asking about the same range within
// one call without another provider round trip.
const cacheTTL = 60 * time.Second

// AvailabilityCache is a Redis-backed cache of formatted availability
// answers. A nil cache disables caching.
type AvailabilityCache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

func NewAvailabilityCache(redisClient *redis.Client, logger *logging.Logger) *AvailabilityCache {
	if redisClient == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AvailabilityCache{redis: redisClient, ttl: cacheTTL, logger: logger}
}

func availabilityKey(userID uuid.UUID, start, end time.Time) string {
	return fmt.Sprintf("voice:availability:%s:%d:%d", userID, start.Unix(), end.Unix())
}

func (c *AvailabilityCache) Get(ctx context.Context, userID uuid.UUID, start, end time.Time) (string, bool) {
	if c == nil {
		return "", false
	}
	val, err := c.redis.Get(ctx, availabilityKey(userID, start, end)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("availability cache read failed", "error", err)
		}
		return "", false
	}
	return val, true
}

func (c *AvailabilityCache) Set(ctx context.Context, userID uuid.UUID, start, end time.Time, result string) {
	if c == nil {
		return
	}
	if err := c.redis.Set(ctx, availabilityKey(userID, start, end), result, c.ttl).Err(); err != nil {
		c.logger.Warn("availability cache write failed", "error", err)
	}
}
