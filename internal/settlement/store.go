package settlement

import (
	"context"

	"github.com/odyssey-erp/debtbook/internal/ledger"
	"github.com/odyssey-erp/debtbook/internal/orders"
	"github.com/odyssey-erp/debtbook/internal/shared"
)

// Store opens units of work that span an order and its customer's account.
// Outside WithTx the repositories read committed state.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Orders() orders.Repository
	Accounts() ledger.Accounts
}

// Tx is the set of ports valid inside one unit of work. Nothing written
// through it is visible to others until WithTx returns nil.
type Tx interface {
	Orders() orders.Repository
	Accounts() ledger.Accounts
	Audit(ctx context.Context, entry shared.AuditLog) error
	// ClaimKey records an idempotency key, returning
	// shared.ErrIdempotencyConflict when it was already used.
	ClaimKey(ctx context.Context, key, module string) error
}
