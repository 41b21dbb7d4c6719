package ledger

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/debtbook/internal/shared"
)

// Ledger applies deposits and settlements to customer accounts.
type Ledger struct {
	accounts Accounts
	policy   Policy
	locks    *shared.KeyedMutex
}

// New constructs a Ledger. When locks is nil, mutations are not serialized
// in-process and the caller is expected to hold the customer lock.
func New(accounts Accounts, policy Policy, locks *shared.KeyedMutex) *Ledger {
	if policy == "" {
		policy = PolicyReject
	}
	return &Ledger{accounts: accounts, policy: policy, locks: locks}
}

// Policy returns the configured over-settlement policy.
func (l *Ledger) Policy() Policy { return l.policy }

// Bind returns a ledger working on accounts, typically a transaction scoped
// port. The bound ledger takes no locks of its own.
func (l *Ledger) Bind(accounts Accounts) *Ledger {
	return &Ledger{accounts: accounts, policy: l.policy}
}

// Deposit increases the customer's debt counters.
func (l *Ledger) Deposit(ctx context.Context, customerID int64, d Delta) (Result, error) {
	if err := d.Validate(); err != nil {
		return Result{}, err
	}
	return l.mutate(ctx, customerID, func(b Balance) (Result, error) {
		debt, err := b.MonetaryDebt.CheckedAdd(d.Amount)
		if err != nil {
			return Result{}, shared.NewValidationError("amount", "customer debt out of range")
		}
		small, okSmall := addCount(b.SmallBottleDebt, d.SmallBottles)
		large, okLarge := addCount(b.LargeBottleDebt, d.LargeBottles)
		if !okSmall || !okLarge {
			return Result{}, shared.NewValidationError("bottles", "customer bottle debt out of range")
		}
		b.MonetaryDebt, b.SmallBottleDebt, b.LargeBottleDebt = debt, small, large
		return Result{Balance: b, Applied: d}, nil
	})
}

// addCount adds two non-negative counters, reporting false on overflow.
func addCount(a, b int64) (int64, bool) {
	sum := a + b
	return sum, sum >= a
}

// Settle decreases the customer's debt counters according to the policy.
func (l *Ledger) Settle(ctx context.Context, customerID int64, d Delta) (Result, error) {
	if err := d.Validate(); err != nil {
		return Result{}, err
	}
	return l.mutate(ctx, customerID, func(b Balance) (Result, error) {
		res, err := ApplySettlement(b, d, l.policy)
		if err != nil {
			return Result{}, err
		}
		if res.Warning != nil {
			res.Warning.CustomerID = customerID
		}
		return res, nil
	})
}

// GetBalance reads the customer's counters without waiting on in-flight
// settlements.
func (l *Ledger) GetBalance(ctx context.Context, customerID int64) (Balance, error) {
	acct, err := l.accounts.ReadAccount(ctx, customerID)
	if err != nil {
		return Balance{}, err
	}
	return acct.Balance, nil
}

func (l *Ledger) mutate(ctx context.Context, customerID int64, apply func(Balance) (Result, error)) (Result, error) {
	if l.locks != nil {
		unlock, err := l.locks.Lock(ctx, shared.CustomerLockKey(customerID))
		if err != nil {
			return Result{}, fmt.Errorf("ledger: lock customer %d: %w", customerID, err)
		}
		defer unlock()
	}
	acct, err := l.accounts.LoadAccount(ctx, customerID)
	if err != nil {
		return Result{}, err
	}
	res, err := apply(acct.Balance)
	if err != nil {
		return Result{}, err
	}
	acct.Balance = res.Balance
	if err := l.accounts.StoreAccount(ctx, acct); err != nil {
		return Result{}, fmt.Errorf("ledger: store account %d: %w", customerID, err)
	}
	return res, nil
}

// ApplySettlement computes the balance after settling d under policy p.
func ApplySettlement(b Balance, d Delta, p Policy) (Result, error) {
	over := d.Amount.Cmp(b.MonetaryDebt.ClampZero()) > 0 ||
		d.SmallBottles > max(b.SmallBottleDebt, 0) ||
		d.LargeBottles > max(b.LargeBottleDebt, 0)
	if !over {
		b.MonetaryDebt = b.MonetaryDebt.Sub(d.Amount)
		b.SmallBottleDebt -= d.SmallBottles
		b.LargeBottleDebt -= d.LargeBottles
		return Result{Balance: b, Applied: d}, nil
	}

	switch p {
	case PolicyClamp, PolicyCredit:
	default:
		return Result{}, ErrInvalidSettlement
	}

	applied := Delta{
		Amount:       d.Amount.Min(b.MonetaryDebt.ClampZero()),
		SmallBottles: min(d.SmallBottles, max(b.SmallBottleDebt, 0)),
		LargeBottles: min(d.LargeBottles, max(b.LargeBottleDebt, 0)),
	}
	if p == PolicyCredit {
		applied.Amount = d.Amount
	}
	b.MonetaryDebt = b.MonetaryDebt.Sub(applied.Amount)
	b.SmallBottleDebt -= applied.SmallBottles
	b.LargeBottleDebt -= applied.LargeBottles

	res := Result{Balance: b, Applied: applied}
	if applied != d {
		res.Warning = &OverSettlementWarning{Requested: d, Applied: applied}
	}
	return res, nil
}
