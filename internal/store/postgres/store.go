// Package postgres binds the storage ports to a pgx pool. Every unit of work
// is one RepeatableRead transaction.
package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/debtbook/internal/catalog"
	"github.com/odyssey-erp/debtbook/internal/customers"
	"github.com/odyssey-erp/debtbook/internal/ledger"
	"github.com/odyssey-erp/debtbook/internal/orders"
	"github.com/odyssey-erp/debtbook/internal/platform/db"
	"github.com/odyssey-erp/debtbook/internal/settlement"
	"github.com/odyssey-erp/debtbook/internal/shared"
)

// Store implements settlement.Store on Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

var _ settlement.Store = (*Store)(nil)

// WithTx runs fn inside a RepeatableRead transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx settlement.Tx) error) error {
	return db.WithTx(ctx, s.pool, func(pgtx pgx.Tx) error {
		return fn(ctx, &tx{
			orders:    orders.NewRepository(pgtx),
			customers: customers.NewRepository(pgtx),
			audit:     shared.NewAuditLogger(pgtx),
			keys:      shared.NewIdempotencyStore(pgtx),
		})
	})
}

// ReadSnapshot runs fn against customers and orders as of one snapshot.
func (s *Store) ReadSnapshot(ctx context.Context, fn func(context.Context, customers.Repository, orders.Repository) error) error {
	return db.WithReadTx(ctx, s.pool, func(pgtx pgx.Tx) error {
		return fn(ctx, customers.NewRepository(pgtx), orders.NewRepository(pgtx))
	})
}

// Orders reads committed orders.
func (s *Store) Orders() orders.Repository { return orders.NewRepository(s.pool) }

// Accounts reads committed balances.
func (s *Store) Accounts() ledger.Accounts { return customers.NewRepository(s.pool) }

// Customers returns the customer directory.
func (s *Store) Customers() customers.Repository { return customers.NewRepository(s.pool) }

// Catalog returns the product repository.
func (s *Store) Catalog() *catalog.Repository { return catalog.NewRepository(s.pool) }

// Audit returns the audit log reader.
func (s *Store) Audit() shared.AuditReader { return shared.NewAuditLogger(s.pool) }

// CleanupKeys forgets idempotency keys older than olderThan.
func (s *Store) CleanupKeys(ctx context.Context, olderThan time.Duration) (int64, error) {
	return shared.NewIdempotencyStore(s.pool).Cleanup(ctx, olderThan)
}

type tx struct {
	orders    orders.Repository
	customers customers.Repository
	audit     *shared.AuditLogger
	keys      *shared.IdempotencyStore
}

func (t *tx) Orders() orders.Repository { return t.orders }

func (t *tx) Accounts() ledger.Accounts { return t.customers }

func (t *tx) Audit(ctx context.Context, entry shared.AuditLog) error {
	return t.audit.Record(ctx, entry)
}

func (t *tx) ClaimKey(ctx context.Context, key, module string) error {
	return t.keys.CheckAndInsert(ctx, key, module)
}
