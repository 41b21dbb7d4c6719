// Package ledger keeps each customer's running monetary and bottle debt.
package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/odyssey-erp/debtbook/internal/money"
	"github.com/odyssey-erp/debtbook/internal/shared"
)

// Balance is what a customer owes.
type Balance struct {
	MonetaryDebt    money.Money `json:"monetaryDebt"`
	SmallBottleDebt int64       `json:"smallBottleDebt"`
	LargeBottleDebt int64       `json:"largeBottleDebt"`
}

// HasDebt reports whether any counter is positive.
func (b Balance) HasDebt() bool {
	return b.MonetaryDebt.IsPositive() || b.SmallBottleDebt > 0 || b.LargeBottleDebt > 0
}

// Account is the stored balance of one customer.
type Account struct {
	CustomerID int64
	Balance
}

// Delta is a non-negative change applied to an account.
type Delta struct {
	Amount       money.Money `json:"amount"`
	SmallBottles int64       `json:"smallBottles"`
	LargeBottles int64       `json:"largeBottles"`
}

// IsZero reports whether the delta changes nothing.
func (d Delta) IsZero() bool {
	return d.Amount.IsZero() && d.SmallBottles == 0 && d.LargeBottles == 0
}

// Validate rejects negative components.
func (d Delta) Validate() error {
	switch {
	case d.Amount.IsNegative():
		return shared.NewValidationError("amount", "must not be negative")
	case d.SmallBottles < 0:
		return shared.NewValidationError("smallBottles", "must not be negative")
	case d.LargeBottles < 0:
		return shared.NewValidationError("largeBottles", "must not be negative")
	}
	return nil
}

// Accounts is the storage port for customer balances. Inside a transaction
// LoadAccount must lock the row until commit. ReadAccount returns committed
// state without taking locks.
type Accounts interface {
	LoadAccount(ctx context.Context, customerID int64) (Account, error)
	ReadAccount(ctx context.Context, customerID int64) (Account, error)
	StoreAccount(ctx context.Context, account Account) error
}

// Policy decides what happens when a settlement exceeds the outstanding debt.
type Policy string

const (
	// PolicyReject refuses the settlement and leaves the account untouched.
	PolicyReject Policy = "reject"
	// PolicyClamp floors every counter at zero and reports a warning.
	PolicyClamp Policy = "clamp"
	// PolicyCredit lets monetary debt go negative (store credit). Bottle
	// counters are still floored at zero with a warning.
	PolicyCredit Policy = "credit"
)

// ParsePolicy maps configuration text to a Policy. Empty means reject.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyReject:
		return PolicyReject, nil
	case PolicyClamp:
		return PolicyClamp, nil
	case PolicyCredit:
		return PolicyCredit, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// OverSettlementWarning describes a settlement that was larger than the debt
// and got clamped.
type OverSettlementWarning struct {
	CustomerID int64 `json:"customerId"`
	Requested  Delta `json:"requested"`
	Applied    Delta `json:"applied"`
}

func (w *OverSettlementWarning) String() string {
	return fmt.Sprintf("customer %d: settlement of %s/%d/%d clamped to %s/%d/%d",
		w.CustomerID,
		w.Requested.Amount, w.Requested.SmallBottles, w.Requested.LargeBottles,
		w.Applied.Amount, w.Applied.SmallBottles, w.Applied.LargeBottles)
}

// Result is the outcome of a ledger mutation.
type Result struct {
	Balance Balance                `json:"balance"`
	Applied Delta                  `json:"applied"`
	Warning *OverSettlementWarning `json:"warning,omitempty"`
}
