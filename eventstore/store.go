package eventstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrTenantMismatch is returned when an event carries a tenant id that
// differs from the one bound to the context.
var ErrTenantMismatch = errors.New("eventstore: event tenant does not match context tenant")

// ConcurrencyConflictError reports an optimistic locking failure on append.
// The store guarantees no side effect when this is returned; the framework
// never retries; callers choose policy.
type ConcurrencyConflictError struct {
	Expected int64
	Actual   int64
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("eventstore: version conflict: expected %d, actual %d", e.Expected, e.Actual)
}

// IsConcurrencyConflict reports whether err is a version conflict.
func IsConcurrencyConflict(err error) bool {
	var cc *ConcurrencyConflictError
	return errors.As(err, &cc)
}

// Store is the append-only event log. All operations resolve the tenant from
// the context (tenant.Require) and fail closed without one.
type Store interface {
	// Append durably persists events atomically under optimistic locking.
	// events must share the context tenant and receive consecutive versions
	// starting at expectedVersion+1. An empty events slice is a no-op that
	// returns expectedVersion. On a version mismatch it returns a
	// *ConcurrencyConflictError and writes nothing.
	Append(ctx context.Context, aggregateID string, events []Event, expectedVersion int64) (int64, error)

	// Load returns all events of the aggregate within the current tenant in
	// ascending version order. Empty slice if none, including when the same
	// aggregate id exists under a different tenant.
	Load(ctx context.Context, aggregateID string) ([]Event, error)

	// LoadFrom is Load restricted to version >= fromVersion.
	LoadFrom(ctx context.Context, aggregateID string, fromVersion int64) ([]Event, error)
}

// SnapshotStore caches aggregate state per (tenant, aggregate). Replaceable
// at will; loss is never data loss.
type SnapshotStore interface {
	Save(ctx context.Context, snapshot Snapshot) error
	// Load returns the snapshot for the aggregate in the current tenant, or
	// (nil, nil) when none exists.
	Load(ctx context.Context, aggregateID string) (*Snapshot, error)
}
