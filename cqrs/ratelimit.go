package cqrs

import (
	"context"

	"go.uber.org/zap"

	"github.com/acita-gmbh/eaf-sub013/eventstore"
	"github.com/acita-gmbh/eaf-sub013/telemetry"
	"github.com/acita-gmbh/eaf-sub013/tenant"
)

// EventRateLimiter decides whether the current tenant may consume one more
// event in the sliding window.
type EventRateLimiter interface {
	Allow(ctx context.Context, tenantID string) (bool, error)
}

// RateLimitEvent enforces the per-tenant event rate. It runs after tenant
// restore, so the limit is keyed by the authoritative tenant. A breach is
// denied generically. An unreachable counter store degrades gracefully: the
// event proceeds and the failure is metered, because the limiter is a DoS
// control, not a correctness control.
func RateLimitEvent(limiter EventRateLimiter, logger *zap.Logger) EventMiddleware {
	return func(next EventHandlerFunc) EventHandlerFunc {
		return func(ctx context.Context, evt eventstore.Event) error {
			t, err := tenant.Require(ctx)
			if err != nil {
				return err
			}
			allowed, err := limiter.Allow(ctx, t)
			if err != nil {
				telemetry.RateLimitErrors.Inc()
				logger.Warn("rate limit counter unavailable, proceeding",
					zap.String("event_type", evt.EventType),
					zap.Error(err))
				return next(ctx, evt)
			}
			if !allowed {
				telemetry.RateLimitRejections.Inc()
				logger.Warn("event rate limit exceeded",
					zap.String("event_type", evt.EventType))
				return &RateLimitExceededError{TenantID: t}
			}
			return next(ctx, evt)
		}
	}
}
