package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

// TransactionManager executes a function within a database transaction, passing
// the underlying transaction handle via `tx`.
//
// Keeping the handle opaque keeps use-case interfaces clean: repository methods
// accept `tx Tx`, detect a live transaction implementation-side, and fall back
// to the pool when given nil. The concrete type is infra-defined (pgx.Tx for
// Postgres). The transaction's isolation is the only concurrency control for
// credit movements, so anything that touches a balance goes through WithTx.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
