package cqrs

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/acita-gmbh/eaf-sub013/eventstore"
)

type txKey struct{}

// TxFromContext returns the tenant-bound read transaction opened by
// SessionBindQuery. Read-model repositories run every statement on it.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(pgx.Tx)
	return tx, ok
}

// SessionBindQuery opens a read-only transaction, binds the context tenant to
// it and hands it to the handler via the context. Commit and rollback both
// drop the binding with the transaction, so cancellation unwinds cleanly.
func SessionBindQuery(pool *pgxpool.Pool, binder *eventstore.SessionBinder) QueryMiddleware {
	return func(next QueryHandlerFunc) QueryHandlerFunc {
		return func(ctx context.Context, q Query) (any, error) {
			var res any
			err := binder.RunInTx(ctx, pool, pgx.TxOptions{AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
				var handlerErr error
				res, handlerErr = next(context.WithValue(ctx, txKey{}, tx), q)
				return handlerErr
			})
			if err != nil {
				return nil, err
			}
			return res, nil
		}
	}
}
