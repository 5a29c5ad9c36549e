package auth

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// RevocationSet is the eventually-consistent set of revoked token ids.
// IsRevoked must return an error whenever the answer cannot be verified;
// the validator treats any error as a denial (fail closed).
type RevocationSet interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	Reinstate(ctx context.Context, jti string) error
}

const revocationKeyPrefix = "auth:revoked:"

// RedisRevocationSet stores revoked jti values in redis with per-entry TTL.
// Lookups run behind a circuit breaker: when redis is flapping the breaker
// opens and every lookup errors immediately, which the validator turns into
// RevocationCheckFailed. Confirmed revocations are additionally cached
// in-process so a revoked token stays rejected even while redis is down.
// A "not revoked" answer is never cached: that would stretch the revocation
// latency past what the emergency-revocation path can tolerate.
type RedisRevocationSet struct {
	rdb     redis.Cmdable
	breaker *gobreaker.CircuitBreaker
	local   *gocache.Cache
	logger  *zap.Logger
}

// NewRedisRevocationSet creates a revocation set backed by the given redis
// client.
func NewRedisRevocationSet(rdb redis.Cmdable, logger *zap.Logger) *RedisRevocationSet {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "revocation-set",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("revocation breaker state change",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return &RedisRevocationSet{
		rdb:     rdb,
		breaker: breaker,
		local:   gocache.New(5*time.Minute, 10*time.Minute),
		logger:  logger,
	}
}

// IsRevoked reports whether jti is revoked. Errors mean "could not verify".
func (s *RedisRevocationSet) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if _, hit := s.local.Get(jti); hit {
		return true, nil
	}

	res, err := s.breaker.Execute(func() (interface{}, error) {
		return s.rdb.Exists(ctx, revocationKeyPrefix+jti).Result()
	})
	if err != nil {
		return false, fmt.Errorf("revocation lookup for jti failed: %w", err)
	}

	revoked := res.(int64) > 0
	if revoked {
		s.local.SetDefault(jti, struct{}{})
	}
	return revoked, nil
}

// Revoke marks jti revoked until ttl elapses. The TTL should cover the
// token's remaining lifetime; after exp the entry is dead weight anyway.
func (s *RedisRevocationSet) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := s.rdb.Set(ctx, revocationKeyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke jti: %w", err)
	}
	s.local.Set(jti, struct{}{}, ttl)
	return nil
}

// Reinstate removes jti from the set.
func (s *RedisRevocationSet) Reinstate(ctx context.Context, jti string) error {
	if err := s.rdb.Del(ctx, revocationKeyPrefix+jti).Err(); err != nil {
		return fmt.Errorf("reinstate jti: %w", err)
	}
	s.local.Delete(jti)
	return nil
}
