package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

const processedKeyPrefix = "stripe_event:"

// ProcessedCache records notification ids whose settlement reached a terminal
// outcome, so exact replays can be acknowledged without touching Postgres.
// It is written only after completion; a crash mid-settlement leaves no entry
// and the retry runs the full (idempotent) path again.
type ProcessedCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewProcessedCache(client *redis.Client, ttl time.Duration) *ProcessedCache {
	return &ProcessedCache{Client: client, TTL: ttl}
}

func (c *ProcessedCache) WasProcessed(ctx context.Context, eventID string) (bool, error) {
	_, err := c.Client.Get(ctx, processedKeyPrefix+eventID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *ProcessedCache) MarkProcessed(ctx context.Context, eventID string) error {
	return c.Client.SetNX(ctx, processedKeyPrefix+eventID, time.Now().Unix(), c.TTL).Err()
}
