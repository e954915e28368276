package dialer

import (
	"context"
	"time"

	"dialer-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisRunGuard caps the number of simultaneously running campaign loops per
// user, across processes. The TTL releases slots leaked by a crashed process.
type RedisRunGuard struct {
	rdb   *redis.Client
	limit int
	ttl   time.Duration
}

func NewRedisRunGuard(rdb *redis.Client, limit int, ttl time.Duration) *RedisRunGuard {
	if limit <= 0 {
		limit = 5
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisRunGuard{rdb: rdb, limit: limit, ttl: ttl}
}

func (g *RedisRunGuard) key(userID string) string { return "dialer:runs:" + userID }

func (g *RedisRunGuard) Acquire(ctx context.Context, userID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, g.rdb, g.key(userID), g.limit, g.ttl)
}

func (g *RedisRunGuard) Release(ctx context.Context, userID string) error {
	return utils.ReleaseConcurrencyCap(ctx, g.rdb, g.key(userID))
}
