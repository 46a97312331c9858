package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

// TransactionManager executes a function within a database transaction,
// passing the underlying handle via the repositories' `qx any` argument.
// Keeps use-case interfaces free of storage types; repositories detect a tx
// handle implementation-side and MUST gracefully accept nil qx (the
// non-transactional path). The concrete type of qx is infra-defined
// (pgx.Tx for Postgres; ignored by the in-memory store).
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
