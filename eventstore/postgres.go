package eventstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/acita-gmbh/eaf-sub013/telemetry"
	"github.com/acita-gmbh/eaf-sub013/tenant"
)

const uniqueViolation = "23505"

// PostgresStore persists events in the eaf_events schema. Every transaction
// is tenant-bound through the SessionBinder before the first statement, so
// the forced row-level-security predicate scopes all reads and writes.
// Immutability is enforced independently by a database trigger, so even this
// store's own role cannot update or delete an event row.
type PostgresStore struct {
	pool   *pgxpool.Pool
	binder *SessionBinder
	logger *zap.Logger
	now    func() time.Time
}

// NewPostgresStore creates a store on the given pool.
func NewPostgresStore(pool *pgxpool.Pool, binder *SessionBinder, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, binder: binder, logger: logger, now: time.Now}
}

const insertEventSQL = `
	INSERT INTO eaf_events.events
		(id, aggregate_id, aggregate_type, event_type, payload, metadata, tenant_id, version, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

func (s *PostgresStore) Append(ctx context.Context, aggregateID string, events []Event, expectedVersion int64) (int64, error) {
	start := time.Now()
	defer func() { telemetry.AppendDuration.Observe(time.Since(start).Seconds()) }()

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

	tenantUUID, err := parseUUID(t)
	if err != nil {
		return 0, fmt.Errorf("tenant id is not a UUID: %w", err)
	}

	newVersion := expectedVersion + int64(len(events))
	appendErr := s.binder.RunInTx(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		// Stale-expectation check: without it, an expectedVersion above the
		// stream head would silently create a version gap. The unique key on
		// (tenant_id, aggregate_id, version) remains the backstop for two
		// writers that both pass this check.
		var actual int64
		err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM eaf_events.events WHERE aggregate_id = $1`,
			aggregateID,
		).Scan(&actual)
		if err != nil {
			return fmt.Errorf("read current version: %w", err)
		}
		if actual != expectedVersion {
			return &ConcurrencyConflictError{Expected: expectedVersion, Actual: actual}
		}

		now := s.now().UTC()
		batch := &pgx.Batch{}
		for i, e := range events {
			id := e.ID
			if id == uuid.Nil {
				id, _ = uuid.NewV7()
			}
			e.Metadata.TenantID = t
			metadata, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("marshal event metadata: %w", err)
			}
			payload := e.Payload
			if payload == nil {
				payload = json.RawMessage("{}")
			}
			eventUUID, err := parseUUID(id.String())
			if err != nil {
				return fmt.Errorf("event id is not a UUID: %w", err)
			}
			batch.Queue(insertEventSQL,
				eventUUID,
				aggregateID,
				e.AggregateType,
				e.EventType,
				payload,
				metadata,
				tenantUUID,
				expectedVersion+int64(i)+1,
				now,
			)
		}
		results := tx.SendBatch(ctx, batch)
		defer results.Close()
		for range events {
			if _, err := results.Exec(); err != nil {
				return err
			}
		}
		return results.Close()
	})

	if appendErr != nil {
		var cc *ConcurrencyConflictError
		if errors.As(appendErr, &cc) {
			telemetry.AppendConflicts.Inc()
			return 0, cc
		}
		var pgErr *pgconn.PgError
		if errors.As(appendErr, &pgErr) && pgErr.Code == uniqueViolation {
			telemetry.AppendConflicts.Inc()
			actual, verr := s.currentVersion(ctx, aggregateID)
			if verr != nil {
				actual = -1 // conflict is certain; the actual version is best-effort
			}
			return 0, &ConcurrencyConflictError{Expected: expectedVersion, Actual: actual}
		}
		return 0, fmt.Errorf("append events: %w", appendErr)
	}
	return newVersion, nil
}

// currentVersion reads the stream head in its own tenant-bound transaction.
func (s *PostgresStore) currentVersion(ctx context.Context, aggregateID string) (int64, error) {
	var actual int64
	err := s.binder.RunInTx(ctx, s.pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(version), 0) FROM eaf_events.events WHERE aggregate_id = $1`,
			aggregateID,
		).Scan(&actual)
	})
	return actual, err
}

func (s *PostgresStore) Load(ctx context.Context, aggregateID string) ([]Event, error) {
	return s.LoadFrom(ctx, aggregateID, 1)
}

func (s *PostgresStore) LoadFrom(ctx context.Context, aggregateID string, fromVersion int64) ([]Event, error) {
	var out []Event
	err := s.binder.RunInTx(ctx, s.pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, aggregate_id, aggregate_type, event_type, payload, metadata, tenant_id, version, created_at
			FROM eaf_events.events
			WHERE aggregate_id = $1 AND version >= $2
			ORDER BY version ASC`,
			aggregateID, fromVersion,
		)
		if err != nil {
			return fmt.Errorf("query events: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanEvent(rows)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []Event{}
	}
	return out, nil
}

func scanEvent(rows pgx.Rows) (Event, error) {
	var (
		e          Event
		id, tid    pgtype.UUID
		metadata   []byte
		payload    []byte
	)
	if err := rows.Scan(&id, &e.AggregateID, &e.AggregateType, &e.EventType,
		&payload, &metadata, &tid, &e.Version, &e.CreatedAt); err != nil {
		return Event{}, fmt.Errorf("scan event row: %w", err)
	}
	parsed, err := uuid.Parse(uuidString(id))
	if err != nil {
		return Event{}, fmt.Errorf("event id: %w", err)
	}
	e.ID = parsed
	e.TenantID = uuidString(tid)
	e.Payload = json.RawMessage(payload)
	if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
		return Event{}, fmt.Errorf("unmarshal event metadata: %w", err)
	}
	return e, nil
}

// parseUUID converts a hex UUID string into a pgtype.UUID for pgx.
func parseUUID(s string) (pgtype.UUID, error) {
	var u pgtype.UUID
	if err := u.Scan(s); err != nil {
		return pgtype.UUID{}, fmt.Errorf("parse UUID %q: %w", s, err)
	}
	return u, nil
}

func uuidString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	id, err := uuid.FromBytes(u.Bytes[:])
	if err != nil {
		return ""
	}
	return id.String()
}

// PostgresSnapshotStore persists snapshots in eaf_events.snapshots under the
// same tenancy rules as events. Saves are UPSERTs by (tenant, aggregate).
type PostgresSnapshotStore struct {
	pool   *pgxpool.Pool
	binder *SessionBinder
}

// NewPostgresSnapshotStore creates a snapshot store on the given pool.
func NewPostgresSnapshotStore(pool *pgxpool.Pool, binder *SessionBinder) *PostgresSnapshotStore {
	return &PostgresSnapshotStore{pool: pool, binder: binder}
}

func (s *PostgresSnapshotStore) Save(ctx context.Context, snapshot Snapshot) error {
	t, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	if snapshot.TenantID != "" && snapshot.TenantID != t {
		return ErrTenantMismatch
	}
	tenantUUID, err := parseUUID(t)
	if err != nil {
		return fmt.Errorf("tenant id is not a UUID: %w", err)
	}
	state := snapshot.State
	if state == nil {
		state = json.RawMessage("{}")
	}
	return s.binder.RunInTx(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO eaf_events.snapshots (aggregate_id, aggregate_type, version, state, tenant_id, created_at)
			VALUES ($1, $2, $3, $4, $5, now())
			ON CONFLICT (tenant_id, aggregate_id) DO UPDATE
			SET aggregate_type = EXCLUDED.aggregate_type,
			    version        = EXCLUDED.version,
			    state          = EXCLUDED.state,
			    created_at     = EXCLUDED.created_at`,
			snapshot.AggregateID, snapshot.AggregateType, snapshot.Version, state, tenantUUID,
		)
		if err != nil {
			return fmt.Errorf("upsert snapshot: %w", err)
		}
		return nil
	})
}

func (s *PostgresSnapshotStore) Load(ctx context.Context, aggregateID string) (*Snapshot, error) {
	var snap Snapshot
	found := false
	err := s.binder.RunInTx(ctx, s.pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var tid pgtype.UUID
		var state []byte
		err := tx.QueryRow(ctx, `
			SELECT aggregate_id, aggregate_type, version, state, tenant_id, created_at
			FROM eaf_events.snapshots
			WHERE aggregate_id = $1`,
			aggregateID,
		).Scan(&snap.AggregateID, &snap.AggregateType, &snap.Version, &state, &tid, &snap.CreatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("query snapshot: %w", err)
		}
		snap.TenantID = uuidString(tid)
		snap.State = json.RawMessage(state)
		found = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &snap, nil
}
