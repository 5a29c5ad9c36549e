package cqrs

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/acita-gmbh/eaf-sub013/eventstore"
	"github.com/acita-gmbh/eaf-sub013/tenant"
)

// TenantEnrichCommand reads the tenant from the command payload and pushes it
// for the duration of the handler. A blank payload tenant, or a payload tenant
// that contradicts an already bound context tenant, is denied generically.
// The push lives on a child context that is dropped when the handler returns,
// so the caller's context is untouched on unwind.
func TenantEnrichCommand(logger *zap.Logger) CommandMiddleware {
	return func(next CommandHandlerFunc) CommandHandlerFunc {
		return func(ctx context.Context, cmd Command) (int64, error) {
			t := strings.TrimSpace(cmd.TenantID())
			if t == "" {
				logger.Warn("command carries no tenant",
					zap.String("command_type", cmd.CommandType()))
				return 0, ErrDenied
			}
			if bound := tenant.Current(ctx); bound != "" && bound != t {
				logger.Error("command tenant contradicts context tenant",
					zap.String("command_type", cmd.CommandType()),
					zap.String("context_tenant", bound))
				return 0, ErrDenied
			}
			pushed, err := tenant.Push(ctx, t)
			if err != nil {
				return 0, ErrDenied
			}
			return next(pushed, cmd)
		}
	}
}

// TenantEnrichQuery is the query counterpart of TenantEnrichCommand.
func TenantEnrichQuery(logger *zap.Logger) QueryMiddleware {
	return func(next QueryHandlerFunc) QueryHandlerFunc {
		return func(ctx context.Context, q Query) (any, error) {
			t := strings.TrimSpace(q.TenantID())
			if t == "" {
				logger.Warn("query carries no tenant",
					zap.String("query_type", q.QueryType()))
				return nil, ErrDenied
			}
			if bound := tenant.Current(ctx); bound != "" && bound != t {
				logger.Error("query tenant contradicts context tenant",
					zap.String("query_type", q.QueryType()),
					zap.String("context_tenant", bound))
				return nil, ErrDenied
			}
			pushed, err := tenant.Push(ctx, t)
			if err != nil {
				return nil, ErrDenied
			}
			return next(pushed, q)
		}
	}
}

// TenantRestoreEvent re-establishes the tenant from event metadata before an
// asynchronous updater runs. Events without a tenant are denied generically
// and the updater is never invoked. The restore happens on a child context,
// so the consumer's base context holds no tenant once delivery returns, even
// when the updater fails.
func TenantRestoreEvent(logger *zap.Logger) EventMiddleware {
	return func(next EventHandlerFunc) EventHandlerFunc {
		return func(ctx context.Context, evt eventstore.Event) error {
			t := strings.TrimSpace(evt.Metadata.TenantID)
			if t == "" {
				logger.Warn("event metadata carries no tenant",
					zap.String("event_type", evt.EventType),
					zap.String("event_id", evt.ID.String()))
				return ErrDenied
			}
			pushed, err := tenant.Push(ctx, t)
			if err != nil {
				return ErrDenied
			}
			return next(pushed, evt)
		}
	}
}
