package cqrs

import (
	"context"
	"fmt"
	"sync"
)

// CommandBus routes commands to registered handlers through the command
// middleware chain. The chain is fixed at construction; handlers are wrapped
// once at registration.
type CommandBus struct {
	mu       sync.RWMutex
	handlers map[string]CommandHandlerFunc
	mw       []CommandMiddleware
}

// NewCommandBus creates a bus with the given chain, outermost first.
func NewCommandBus(mw ...CommandMiddleware) *CommandBus {
	return &CommandBus{
		handlers: make(map[string]CommandHandlerFunc),
		mw:       mw,
	}
}

// Register binds a handler to a command type. Double registration is a wiring
// bug and fails.
func (b *CommandBus) Register(commandType string, h CommandHandlerFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.handlers[commandType]; dup {
		return fmt.Errorf("cqrs: handler already registered for command %q", commandType)
	}
	b.handlers[commandType] = chain(h, b.mw)
	return nil
}

// Dispatch runs the command through the chain and returns the resulting
// aggregate version.
func (b *CommandBus) Dispatch(ctx context.Context, cmd Command) (int64, error) {
	b.mu.RLock()
	h, ok := b.handlers[cmd.CommandType()]
	b.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("cqrs: no handler registered for command %q", cmd.CommandType())
	}
	return h(ctx, cmd)
}
