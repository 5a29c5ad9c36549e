package eventstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acita-gmbh/eaf-sub013/tenant"
)

// MemoryStore is an in-process Store with the same tenancy and concurrency
// semantics as the Postgres store. Test builds and local wiring use it in
// place of a database.
type MemoryStore struct {
	mu sync.RWMutex
	// streams[tenantID][aggregateID] → events in version order.
	streams map[string]map[string][]Event
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory event store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		streams: make(map[string]map[string][]Event),
		now:     time.Now,
	}
}

func (s *MemoryStore) Append(ctx context.Context, aggregateID string, events []Event, expectedVersion int64) (int64, error) {
	t, err := tenant.Require(ctx)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return expectedVersion, nil
	}
	for _, e := range events {
		if e.TenantID != "" && e.TenantID != t {
			return 0, ErrTenantMismatch
		}
		if e.Metadata.TenantID != "" && e.Metadata.TenantID != t {
			return 0, ErrTenantMismatch
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byAggregate, ok := s.streams[t]
	if !ok {
		byAggregate = make(map[string][]Event)
		s.streams[t] = byAggregate
	}
	stream := byAggregate[aggregateID]
	actual := int64(len(stream))
	if actual != expectedVersion {
		return 0, &ConcurrencyConflictError{Expected: expectedVersion, Actual: actual}
	}

	now := s.now().UTC()
	for i := range events {
		e := events[i]
		if e.ID == uuid.Nil {
			id, _ := uuid.NewV7()
			e.ID = id
		}
		e.AggregateID = aggregateID
		e.TenantID = t
		e.Metadata.TenantID = t
		e.Version = expectedVersion + int64(i) + 1
		e.CreatedAt = now
		stream = append(stream, e)
	}
	byAggregate[aggregateID] = stream
	return int64(len(stream)), nil
}

func (s *MemoryStore) Load(ctx context.Context, aggregateID string) ([]Event, error) {
	return s.LoadFrom(ctx, aggregateID, 1)
}

func (s *MemoryStore) LoadFrom(ctx context.Context, aggregateID string, fromVersion int64) ([]Event, error) {
	t, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[t][aggregateID]
	out := make([]Event, 0, len(stream))
	for _, e := range stream {
		if e.Version >= fromVersion {
			out = append(out, e)
		}
	}
	return out, nil
}

// MemorySnapshotStore is the in-process SnapshotStore counterpart.
type MemorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]map[string]Snapshot
}

// NewMemorySnapshotStore creates an empty in-memory snapshot store.
func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snapshots: make(map[string]map[string]Snapshot)}
}

func (s *MemorySnapshotStore) Save(ctx context.Context, snapshot Snapshot) error {
	t, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	if snapshot.TenantID != "" && snapshot.TenantID != t {
		return ErrTenantMismatch
	}
	snapshot.TenantID = t
	if snapshot.CreatedAt.IsZero() {
		snapshot.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	byAggregate, ok := s.snapshots[t]
	if !ok {
		byAggregate = make(map[string]Snapshot)
		s.snapshots[t] = byAggregate
	}
	byAggregate[snapshot.AggregateID] = snapshot
	return nil
}

func (s *MemorySnapshotStore) Load(ctx context.Context, aggregateID string) (*Snapshot, error) {
	t, err := tenant.Require(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[t][aggregateID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}
