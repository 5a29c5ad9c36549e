package eventstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acita-gmbh/eaf-sub013/tenant"
)

// DefaultSessionVariable is the Postgres setting the row-level-security
// predicate reads.
const DefaultSessionVariable = "app.current_tenant"

// SessionBinder binds the context tenant to a database transaction so the
// forced row-level-security predicate applies to every statement in it.
// The binding is transaction-local (set_config with is_local=true): commit or
// rollback clears it, so a pooled connection can never carry a stale tenant
// into the next unit of work. A transaction without a binding reads zero rows
// and cannot insert.
type SessionBinder struct {
	sessionVar string
}

// NewSessionBinder creates a binder for the given session variable,
// defaulting to DefaultSessionVariable.
func NewSessionBinder(sessionVar string) *SessionBinder {
	if sessionVar == "" {
		sessionVar = DefaultSessionVariable
	}
	return &SessionBinder{sessionVar: sessionVar}
}

// Bind sets the tenant on the transaction. Fails closed when the context
// carries no tenant. The setting value is always parameterised.
func (b *SessionBinder) Bind(ctx context.Context, tx pgx.Tx) error {
	t, err := tenant.Require(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "SELECT set_config($1, $2, true)", b.sessionVar, t); err != nil {
		return fmt.Errorf("bind tenant session: %w", err)
	}
	return nil
}

// RunInTx opens a transaction on pool, binds the context tenant, runs fn and
// commits. Any error rolls back, which also drops the binding.
func (b *SessionBinder) RunInTx(ctx context.Context, pool *pgxpool.Pool, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := b.Bind(ctx, tx); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
