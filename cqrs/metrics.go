package cqrs

import (
	"context"
	"errors"
	"time"

	"github.com/acita-gmbh/eaf-sub013/eventstore"
	"github.com/acita-gmbh/eaf-sub013/telemetry"
	"github.com/acita-gmbh/eaf-sub013/tenant"
)

// MetricsCommand records dispatch duration and outcome per command type.
func MetricsCommand() CommandMiddleware {
	return func(next CommandHandlerFunc) CommandHandlerFunc {
		return func(ctx context.Context, cmd Command) (int64, error) {
			start := time.Now()
			v, err := next(ctx, cmd)
			telemetry.CommandDuration.WithLabelValues(cmd.CommandType()).
				Observe(time.Since(start).Seconds())
			telemetry.CommandOutcomes.WithLabelValues(cmd.CommandType(), outcome(err)).Inc()
			return v, err
		}
	}
}

// MetricsQuery records dispatch duration per query type and classifies
// failures.
func MetricsQuery() QueryMiddleware {
	return func(next QueryHandlerFunc) QueryHandlerFunc {
		return func(ctx context.Context, q Query) (any, error) {
			start := time.Now()
			res, err := next(ctx, q)
			telemetry.QueryDuration.WithLabelValues(q.QueryType()).
				Observe(time.Since(start).Seconds())
			if err != nil {
				telemetry.QueryFailures.WithLabelValues(q.QueryType(), errorType(err)).Inc()
			}
			return res, err
		}
	}
}

// MetricsEvent records delivery duration and outcome per event type.
func MetricsEvent() EventMiddleware {
	return func(next EventHandlerFunc) EventHandlerFunc {
		return func(ctx context.Context, evt eventstore.Event) error {
			start := time.Now()
			err := next(ctx, evt)
			telemetry.EventDuration.WithLabelValues(evt.EventType).
				Observe(time.Since(start).Seconds())
			telemetry.EventOutcomes.WithLabelValues(evt.EventType, outcome(err)).Inc()
			return err
		}
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return errorType(err)
}

// errorType maps an error to a bounded label value.
func errorType(err error) string {
	switch {
	case errors.Is(err, ErrDenied):
		return "denied"
	case errors.Is(err, tenant.ErrMissingTenantContext):
		return "missing_tenant_context"
	case eventstore.IsConcurrencyConflict(err):
		return "concurrency_conflict"
	case IsDomainError(err):
		return "domain"
	default:
		return "internal"
	}
}
