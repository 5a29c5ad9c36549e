package cqrs

import (
	"context"
	"sync"

	"github.com/acita-gmbh/eaf-sub013/eventstore"
)

// EventBus delivers persisted events to registered updaters through the event
// middleware chain. Events with no registered updater are skipped without
// entering the chain; there is nothing to protect when nothing runs.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandlerFunc
	mw       []EventMiddleware
}

// NewEventBus creates a bus with the given chain, outermost first.
func NewEventBus(mw ...EventMiddleware) *EventBus {
	return &EventBus{
		handlers: make(map[string][]EventHandlerFunc),
		mw:       mw,
	}
}

// Register adds an updater for an event type. Multiple updaters per type run
// in registration order.
func (b *EventBus) Register(eventType string, h EventHandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Subscribed reports whether any updater is registered for the event type.
func (b *EventBus) Subscribed(eventType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType]) > 0
}

// Dispatch runs the event through the chain and all updaters for its type.
// The first updater error stops delivery and is returned.
func (b *EventBus) Dispatch(ctx context.Context, evt eventstore.Event) error {
	b.mu.RLock()
	updaters := b.handlers[evt.EventType]
	b.mu.RUnlock()
	if len(updaters) == 0 {
		return nil
	}

	h := func(ctx context.Context, evt eventstore.Event) error {
		for _, u := range updaters {
			if err := u(ctx, evt); err != nil {
				return err
			}
		}
		return nil
	}
	return chain(h, b.mw)(ctx, evt)
}
