package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists shops, subscriptions, invoices and promo activations.
// It satisfies invoice.Store, invoice.SubscriptionSource and ledger.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps a connection pool. The pool is required.
func New(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("storage: pgxpool.Pool is required")
	}
	return &Store{pool: pool}
}

// withTx runs fn inside a transaction, rolling back on any error.
func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
