package ledger

import (
	"fmt"

	"github.com/odyssey-erp/debtbook/internal/shared"
)

var (
	// ErrNotFound is returned when the customer has no account.
	ErrNotFound = fmt.Errorf("ledger: customer %w", shared.ErrNotFound)
	// ErrInvalidSettlement is returned under the reject policy when a
	// settlement exceeds what the customer owes.
	ErrInvalidSettlement = fmt.Errorf("ledger: settlement exceeds outstanding debt: %w", shared.ErrConflict)
	// ErrUnknownPolicy is returned by ParsePolicy.
	ErrUnknownPolicy = fmt.Errorf("ledger: unknown over-settlement policy: %w", shared.ErrValidation)
)
