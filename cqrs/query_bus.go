package cqrs

import (
	"context"
	"fmt"
	"sync"
)

// QueryBus routes queries to registered handlers through the query middleware
// chain.
type QueryBus struct {
	mu       sync.RWMutex
	handlers map[string]QueryHandlerFunc
	mw       []QueryMiddleware
}

// NewQueryBus creates a bus with the given chain, outermost first.
func NewQueryBus(mw ...QueryMiddleware) *QueryBus {
	return &QueryBus{
		handlers: make(map[string]QueryHandlerFunc),
		mw:       mw,
	}
}

// Register binds a handler to a query type. Double registration fails.
func (b *QueryBus) Register(queryType string, h QueryHandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.handlers[queryType]; dup {
		return fmt.Errorf("cqrs: handler already registered for query %q", queryType)
	}
	b.handlers[queryType] = chain(h, b.mw)
	return nil
}

// Dispatch runs the query through the chain and returns the handler result.
func (b *QueryBus) Dispatch(ctx context.Context, q Query) (any, error) {
	b.mu.RLock()
	h, ok := b.handlers[q.QueryType()]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("cqrs: no handler registered for query %q", q.QueryType())
	}
	return h(ctx, q)
}
