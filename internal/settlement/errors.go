package settlement

import (
	"fmt"

	"github.com/odyssey-erp/debtbook/internal/shared"
)

var (
	// ErrOverpayment is returned under the reject policy when a payment or
	// bottle return exceeds what is outstanding on the order.
	ErrOverpayment = fmt.Errorf("settlement: amount exceeds outstanding balance: %w", shared.ErrConflict)
	// ErrPaidOrderLocked is returned when deleting a fully paid order while
	// paid deletion is disabled.
	ErrPaidOrderLocked = fmt.Errorf("settlement: paid orders cannot be deleted, archive instead: %w", shared.ErrConflict)
	// ErrInvalidStatus is returned when the order is in the wrong state for the operation.
	ErrInvalidStatus = fmt.Errorf("settlement: operation not allowed in current status: %w", shared.ErrConflict)
	// ErrTransient is returned when retries are exhausted or the operation timed out.
	ErrTransient = fmt.Errorf("settlement: %w", shared.ErrTransient)
	// ErrConsistencyViolation aborts a unit of work that would break an invariant.
	ErrConsistencyViolation = fmt.Errorf("settlement: %w", shared.ErrConsistency)
	// ErrUnknownOverpayPolicy is returned by ParseOverpayPolicy.
	ErrUnknownOverpayPolicy = fmt.Errorf("settlement: unknown overpayment policy: %w", shared.ErrValidation)
)
