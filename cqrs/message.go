// Package cqrs contains the command, query and event dispatch pipelines.
//
// Each message kind has one middleware chain. Middleware composition is plain
// data: a slice applied in order at registration, unwinding in reverse order
// around the handler. Tenant identity travels with the message payload on the
// way in (commands, queries) and with the event metadata on the way out, and
// every chain re-establishes it on the context before the handler runs.
package cqrs

import (
	"context"

	"github.com/acita-gmbh/eaf-sub013/eventstore"
)

// HasTenant is the capability every command and query payload carries.
// Commands may be dispatched from background contexts where no tenant is
// bound, so the payload is the common ground; the chain cross-checks it
// against any context tenant that is present.
type HasTenant interface {
	TenantID() string
}

// Command mutates exactly one aggregate.
type Command interface {
	HasTenant
	CommandType() string
	AggregateID() string
}

// Query reads from a read model. Queries never mutate.
type Query interface {
	HasTenant
	QueryType() string
}

// CommandHandlerFunc executes a command and returns the resulting aggregate
// version.
type CommandHandlerFunc func(ctx context.Context, cmd Command) (int64, error)

// QueryHandlerFunc executes a query and returns its result.
type QueryHandlerFunc func(ctx context.Context, q Query) (any, error)

// EventHandlerFunc delivers one persisted event to a subscriber.
type EventHandlerFunc func(ctx context.Context, evt eventstore.Event) error

// CommandMiddleware wraps a command handler.
type CommandMiddleware func(next CommandHandlerFunc) CommandHandlerFunc

// QueryMiddleware wraps a query handler.
type QueryMiddleware func(next QueryHandlerFunc) QueryHandlerFunc

// EventMiddleware wraps an event handler.
type EventMiddleware func(next EventHandlerFunc) EventHandlerFunc

// chain applies middleware so that mw[0] is outermost.
func chain[H any, M ~func(H) H](h H, mw []M) H {
	for i := len(mw) - 1; i >= 0; i-- {
		h = mw[i](h)
	}
	return h
}
