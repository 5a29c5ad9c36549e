// Package ratelimit implements the per-tenant sliding-window event limiter.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLimitPerSecond is the per-tenant event budget.
const DefaultLimitPerSecond = 100

const keyPrefix = "tenant:events:rate:"

// Limiter counts events per tenant in a one-second sliding window backed by a
// redis sorted set. Timestamps are scores; expired members are trimmed on
// every check. Trim, add and count run in one MULTI/EXEC transaction, so
// concurrent consumers can over-reject during a racing burst but never admit
// past the limit.
type Limiter struct {
	client redis.Cmdable
	limit  int64
	window time.Duration
	now    func() time.Time
}

// New creates a limiter. limitPerSecond <= 0 selects the default.
func New(client redis.Cmdable, limitPerSecond int) *Limiter {
	if limitPerSecond <= 0 {
		limitPerSecond = DefaultLimitPerSecond
	}
	return &Limiter{
		client: client,
		limit:  int64(limitPerSecond),
		window: time.Second,
		now:    time.Now,
	}
}

// Allow reports whether the tenant may consume one more event. The event at
// exactly the limit is still allowed; the first one past it is not. Counter
// store errors are returned as-is so the caller can decide on degradation.
func (l *Limiter) Allow(ctx context.Context, tenantID string) (bool, error) {
	key := keyPrefix + tenantID
	now := l.now()
	cutoff := strconv.FormatInt(now.Add(-l.window).UnixNano(), 10)
	member := uuid.NewString()

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", cutoff)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: member,
	})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("ratelimit: window check for tenant %s: %w", tenantID, err)
	}
	if card.Val() > l.limit {
		// Rejected events do not consume budget. Best effort: an entry left
		// behind by a failed removal ages out of the window regardless.
		l.client.ZRem(ctx, key, member)
		return false, nil
	}
	return true, nil
}
