package cqrs

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/acita-gmbh/eaf-sub013/eventstore"
)

// AggregateType describes one aggregate to the runtime as a fold: a zero
// state constructor and a pure apply function. Aggregates are deterministic
// over their event history; Apply must accept every event type the aggregate
// can produce and return an InvalidStateError for anything else.
type AggregateType[S any] struct {
	Name  string
	New   func() S
	Apply func(state S, evt eventstore.Event) (S, error)
}

// HandleFunc is a domain command handler. It inspects the reconstituted
// state, rejects with a DomainError, or returns the events to record. Event
// type and payload come from the handler; everything else is stamped by the
// runtime and the store.
type HandleFunc[S any] func(ctx context.Context, state S, cmd Command) ([]eventstore.Event, error)

// EventPublisher fans a persisted event out to asynchronous consumers.
type EventPublisher interface {
	Publish(ctx context.Context, evt eventstore.Event) error
}

// Runtime is the load-apply-append loop shared by every aggregate: load the
// stream, fold it into state, run the domain handler, append the new events
// under the expected version and hand them to the publisher. Conflicts
// surface to the dispatcher untouched; the runtime never retries.
type Runtime[S any] struct {
	typ         AggregateType[S]
	store       eventstore.Store
	snapshots   eventstore.SnapshotStore
	correlation *CorrelationProvider
	publisher   EventPublisher
	logger      *zap.Logger

	// snapshotEvery saves a snapshot each time the stream grows past a
	// multiple of this many events. Zero disables snapshotting.
	snapshotEvery int64
}

// RuntimeOption configures a Runtime.
type RuntimeOption[S any] func(*Runtime[S])

// WithSnapshots enables snapshot reads and periodic snapshot writes.
func WithSnapshots[S any](snapshots eventstore.SnapshotStore, every int64) RuntimeOption[S] {
	return func(r *Runtime[S]) {
		r.snapshots = snapshots
		r.snapshotEvery = every
	}
}

// WithPublisher sets the asynchronous fan-out target for persisted events.
func WithPublisher[S any](p EventPublisher) RuntimeOption[S] {
	return func(r *Runtime[S]) { r.publisher = p }
}

// NewRuntime creates a runtime for one aggregate type.
func NewRuntime[S any](typ AggregateType[S], store eventstore.Store, correlation *CorrelationProvider, logger *zap.Logger, opts ...RuntimeOption[S]) *Runtime[S] {
	r := &Runtime[S]{
		typ:         typ,
		store:       store,
		correlation: correlation,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handler adapts a domain handler into a CommandHandlerFunc for bus
// registration.
func (r *Runtime[S]) Handler(handle HandleFunc[S]) CommandHandlerFunc {
	return func(ctx context.Context, cmd Command) (int64, error) {
		return r.Execute(ctx, cmd, handle)
	}
}

// Execute runs one command against its aggregate and returns the resulting
// stream version.
func (r *Runtime[S]) Execute(ctx context.Context, cmd Command, handle HandleFunc[S]) (int64, error) {
	state, version, err := r.reconstitute(ctx, cmd.AggregateID())
	if err != nil {
		return 0, err
	}

	newEvents, err := handle(ctx, state, cmd)
	if err != nil {
		return 0, err
	}
	if len(newEvents) == 0 {
		return version, nil
	}

	for i := range newEvents {
		newEvents[i].AggregateID = cmd.AggregateID()
		newEvents[i].AggregateType = r.typ.Name
		newEvents[i].Metadata = r.correlation.Enrich(ctx, newEvents[i].Metadata)
	}

	newVersion, err := r.store.Append(ctx, cmd.AggregateID(), newEvents, version)
	if err != nil {
		return 0, err
	}

	// Re-read what was written: the store stamped ids, versions and tenant,
	// and the log is the authoritative record of what to fan out.
	stored, err := r.store.LoadFrom(ctx, cmd.AggregateID(), version+1)
	if err != nil {
		return 0, fmt.Errorf("cqrs: load appended events: %w", err)
	}

	if r.snapshots != nil && r.snapshotEvery > 0 && crossedSnapshotBoundary(version, newVersion, r.snapshotEvery) {
		if err := r.saveSnapshot(ctx, cmd.AggregateID(), state, stored, newVersion); err != nil {
			// Snapshots are a cache; losing one is never data loss.
			r.logger.Warn("snapshot save failed",
				zap.String("aggregate_id", cmd.AggregateID()),
				zap.Error(err))
		}
	}

	if r.publisher != nil {
		for _, evt := range stored {
			if err := r.publisher.Publish(ctx, evt); err != nil {
				return 0, fmt.Errorf("cqrs: publish event %s: %w", evt.ID, err)
			}
		}
	}
	return newVersion, nil
}

// reconstitute folds the aggregate's history into state, starting from a
// snapshot when one exists.
func (r *Runtime[S]) reconstitute(ctx context.Context, aggregateID string) (S, int64, error) {
	state := r.typ.New()
	var version int64

	if r.snapshots != nil {
		snap, err := r.snapshots.Load(ctx, aggregateID)
		if err != nil {
			return state, 0, err
		}
		if snap != nil {
			if err := json.Unmarshal(snap.State, &state); err != nil {
				return state, 0, fmt.Errorf("cqrs: decode snapshot of %s: %w", aggregateID, err)
			}
			version = snap.Version
		}
	}

	events, err := r.store.LoadFrom(ctx, aggregateID, version+1)
	if err != nil {
		return state, 0, err
	}
	for _, evt := range events {
		state, err = r.typ.Apply(state, evt)
		if err != nil {
			return state, 0, err
		}
		version = evt.Version
	}
	return state, version, nil
}

func (r *Runtime[S]) saveSnapshot(ctx context.Context, aggregateID string, state S, newEvents []eventstore.Event, version int64) error {
	var err error
	for _, evt := range newEvents {
		state, err = r.typ.Apply(state, evt)
		if err != nil {
			return err
		}
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.snapshots.Save(ctx, eventstore.Snapshot{
		AggregateID:   aggregateID,
		AggregateType: r.typ.Name,
		Version:       version,
		State:         data,
	})
}

func crossedSnapshotBoundary(oldVersion, newVersion, every int64) bool {
	return newVersion/every > oldVersion/every
}
