package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const seenTTL = 6 * time.Hour

// RedisSeenCache is a best-effort probe of recently ingested event ids,
// saving a database round trip when relays redeliver the same event. Errors
// degrade to "not seen"; the database remains authoritative.
type RedisSeenCache struct {
	rdb *redis.Client
}

func NewRedisSeenCache(rdb *redis.Client) *RedisSeenCache {
	return &RedisSeenCache{rdb: rdb}
}

func (c *RedisSeenCache) key(eventID string) string {
	return "oer:seen:" + eventID
}

func (c *RedisSeenCache) Seen(ctx context.Context, eventID string) bool {
	n, err := c.rdb.Exists(ctx, c.key(eventID)).Result()
	if err != nil {
		return false
	}
	return n > 0
}

func (c *RedisSeenCache) MarkSeen(ctx context.Context, eventID string) {
	if err := c.rdb.Set(ctx, c.key(eventID), "1", seenTTL).Err(); err != nil {
		slog.Debug("failed to mark event as seen",
			slog.String("id", eventID),
			slog.String("error", err.Error()),
			slog.String("module", "ingest"),
		)
	}
}
