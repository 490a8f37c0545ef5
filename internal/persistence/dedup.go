package persistence

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const dedupKeyPrefix = "callbridge:webhook:"

// Deduper suppresses retried webhook deliveries with a Redis SETNX window.
// The engine's ledger insertion is idempotent on its own; dedup just avoids
// the redundant backend round trips. Redis being down fails open.
type Deduper struct {
	redis  *Redis
	ttl    time.Duration
	logger *zap.Logger
}

// NewDeduper creates a deduper. A zero ttl disables deduplication.
func NewDeduper(r *Redis, ttl time.Duration, logger *zap.Logger) *Deduper {
	return &Deduper{redis: r, ttl: ttl, logger: logger}
}

// Seen records the delivery key and reports whether it was already delivered
// inside the TTL window.
func (d *Deduper) Seen(ctx context.Context, key string) bool {
	if d == nil || d.redis == nil || d.redis.Client == nil || d.ttl <= 0 {
		return false
	}
	fresh, err := d.redis.Client.SetNX(ctx, dedupKeyPrefix+key, 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("webhook dedup unavailable", zap.Error(err))
		return false
	}
	return !fresh
}
