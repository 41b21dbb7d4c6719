// Package customers is the customer directory: lookup, listing and the
// stored debt counters the ledger maintains.
package customers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/odyssey-erp/debtbook/internal/ledger"
	"github.com/odyssey-erp/debtbook/internal/money"
	"github.com/odyssey-erp/debtbook/internal/shared"
)

// Customer is a directory entry with its current balance.
type Customer struct {
	ID          int64     `json:"id"`
	FullName    string    `json:"fullName"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	ledger.Balance
}

// DebtFilter selects customers by whether they owe anything.
type DebtFilter string

const (
	DebtFilterAny     DebtFilter = ""
	DebtFilterHasDebt DebtFilter = "hasDebt"
	DebtFilterNoDebt  DebtFilter = "noDebt"
)

// ParseDebtFilter validates a client supplied filter.
func ParseDebtFilter(s string) (DebtFilter, error) {
	switch DebtFilter(s) {
	case DebtFilterAny, DebtFilterHasDebt, DebtFilterNoDebt:
		return DebtFilter(s), nil
	}
	return "", shared.NewValidationError("debtFilter", fmt.Sprintf("unknown filter %q", s))
}

// Matches applies the filter to a balance. Any positive counter counts as debt.
func (f DebtFilter) Matches(b ledger.Balance) bool {
	switch f {
	case DebtFilterHasDebt:
		return b.HasDebt()
	case DebtFilterNoDebt:
		return !b.HasDebt()
	}
	return true
}

// ListFilter narrows customer listings.
type ListFilter struct {
	Search     string
	DebtFilter DebtFilter
	Page       int
	PerPage    int
	// ByID pages in ascending id order, which new rows cannot shift.
	ByID bool
}

// MatchesName reports a case-insensitive substring match on the full name.
func (f ListFilter) MatchesName(name string) bool {
	if f.Search == "" {
		return true
	}
	return strings.Contains(strings.ToLower(name), strings.ToLower(f.Search))
}

// DebtSummary aggregates outstanding debt across all customers.
type DebtSummary struct {
	MonetaryDebt      money.Money `json:"totalDebt"`
	SmallBottleDebt   int64       `json:"totalSmallBottles"`
	LargeBottleDebt   int64       `json:"totalLargeBottles"`
	CustomersWithDebt int64       `json:"customersWithDebt"`
}

// Directory answers whether a customer exists.
type Directory interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// Repository is the storage port for customers.
type Repository interface {
	ledger.Accounts
	Directory
	Get(ctx context.Context, id int64) (Customer, error)
	List(ctx context.Context, filter ListFilter) ([]Customer, int, error)
	DebtSummary(ctx context.Context) (DebtSummary, error)
	Create(ctx context.Context, c *Customer) error
}

// ErrNotFound is returned when the customer does not exist.
var ErrNotFound = ledger.ErrNotFound
