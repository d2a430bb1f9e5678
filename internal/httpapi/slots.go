package httpapi

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"whatsapp-calling/pkg/utils"
)

// SlotLimiter caps simultaneously active calls on the line.
type SlotLimiter interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// RedisSlotLimiter counts active calls in Redis so the cap holds across API
// instances. The TTL reclaims slots leaked by a crashed process.
type RedisSlotLimiter struct {
	rdb   *redis.Client
	key   string
	limit int
	ttl   time.Duration
}

func NewRedisSlotLimiter(rdb *redis.Client, lineNumber string, limit int) *RedisSlotLimiter {
	return &RedisSlotLimiter{
		rdb:   rdb,
		key:   "calls:active:" + lineNumber,
		limit: limit,
		ttl:   4 * time.Hour,
	}
}

func (l *RedisSlotLimiter) Acquire(ctx context.Context) (bool, error) {
	return utils.AcquireCallSlot(ctx, l.rdb, l.key, l.limit, l.ttl)
}

func (l *RedisSlotLimiter) Release(ctx context.Context) error {
	return utils.ReleaseCallSlot(ctx, l.rdb, l.key)
}
