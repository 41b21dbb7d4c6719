// Package orders models customer orders and their payment state.
package orders

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/debtbook/internal/money"
	"github.com/odyssey-erp/debtbook/internal/shared"
)

// Status enumerates order payment states. It is always derived from the
// amount paid against the total.
type Status string

const (
	StatusPending       Status = "pending"
	StatusPartiallyPaid Status = "partiallyPaid"
	StatusPaid          Status = "paid"
)

// ParseStatus validates a status coming from a client.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusPartiallyPaid, StatusPaid:
		return Status(s), nil
	}
	return "", shared.NewValidationError("status", fmt.Sprintf("unknown status %q", s))
}

// StatusFor derives the status. A fully covered total is paid, which makes a
// zero-total order paid from creation.
func StatusFor(total, paid money.Money) Status {
	switch {
	case paid.Cmp(total) >= 0:
		return StatusPaid
	case paid.IsZero():
		return StatusPending
	default:
		return StatusPartiallyPaid
	}
}

// Line is one product row. Prices are snapshotted at creation.
type Line struct {
	ProductID int64       `json:"productId"`
	Quantity  int64       `json:"quantity"`
	UnitPrice money.Money `json:"unitPrice"`
	CostPrice money.Money `json:"costPrice"`
}

// Subtotal is quantity times unit price.
func (l Line) Subtotal() money.Money { return l.UnitPrice.Mul(l.Quantity) }

// Cost is quantity times the cost snapshot.
func (l Line) Cost() money.Money { return l.CostPrice.Mul(l.Quantity) }

// Total sums line subtotals. Lines that have not been through CheckedTotal
// may wrap.
func Total(lines []Line) money.Money {
	var total money.Money
	for _, l := range lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// CheckedTotal sums line subtotals and the matching costs, failing with
// money.ErrOverflow when either does not fit.
func CheckedTotal(lines []Line) (total, cost money.Money, err error) {
	for i, l := range lines {
		sub, err := l.UnitPrice.CheckedMul(l.Quantity)
		if err == nil {
			total, err = total.CheckedAdd(sub)
		}
		if err != nil {
			return 0, 0, fmt.Errorf("line %d total: %w", i+1, err)
		}
		c, err := l.CostPrice.CheckedMul(l.Quantity)
		if err == nil {
			cost, err = cost.CheckedAdd(c)
		}
		if err != nil {
			return 0, 0, fmt.Errorf("line %d cost: %w", i+1, err)
		}
	}
	return total, cost, nil
}

// PaymentKind tags entries of the payment history.
type PaymentKind string

const (
	PaymentKindPayment      PaymentKind = "payment"
	PaymentKindMarkPaid     PaymentKind = "markPaid"
	PaymentKindBottleReturn PaymentKind = "bottleReturn"
)

// Payment is one entry in an order's settlement history.
type Payment struct {
	ID             uuid.UUID   `json:"id"`
	OrderID        int64       `json:"orderId"`
	Kind           PaymentKind `json:"kind"`
	Amount         money.Money `json:"amount"`
	SmallBottles   int64       `json:"smallBottles,omitempty"`
	LargeBottles   int64       `json:"largeBottles,omitempty"`
	IdempotencyKey string      `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// Order is a customer order.
type Order struct {
	ID                   int64       `json:"id"`
	CustomerID           int64       `json:"customerId"`
	CustomerName         string      `json:"customerName,omitempty"`
	CreatedAt            time.Time   `json:"createdAt"`
	Lines                []Line      `json:"lines"`
	Total                money.Money `json:"total"`
	AmountPaid           money.Money `json:"amountPaid"`
	SmallBottles         int64       `json:"smallBottles"`
	LargeBottles         int64       `json:"largeBottles"`
	SmallBottlesReturned int64       `json:"smallBottlesReturned"`
	LargeBottlesReturned int64       `json:"largeBottlesReturned"`
	ArchivedAt           *time.Time  `json:"archivedAt,omitempty"`
	Payments             []Payment   `json:"payments,omitempty"`
}

// Status derives the payment state.
func (o Order) Status() Status { return StatusFor(o.Total, o.AmountPaid) }

// Remaining is the unpaid part of the total.
func (o Order) Remaining() money.Money { return o.Total.Sub(o.AmountPaid) }

// MarshalJSON adds the derived status and remaining balance.
func (o Order) MarshalJSON() ([]byte, error) {
	type plain Order
	return json.Marshal(struct {
		plain
		Status           Status      `json:"status"`
		RemainingBalance money.Money `json:"remainingBalance"`
	}{plain(o), o.Status(), o.Remaining()})
}

// OutstandingBottles returns bottles handed out and not yet returned.
func (o Order) OutstandingBottles() (small, large int64) {
	return o.SmallBottles - o.SmallBottlesReturned, o.LargeBottles - o.LargeBottlesReturned
}

// Cost sums the cost snapshot of all lines.
func (o Order) Cost() money.Money {
	var cost money.Money
	for _, l := range o.Lines {
		cost = cost.Add(l.Cost())
	}
	return cost
}

// Archived reports whether the order was archived.
func (o Order) Archived() bool { return o.ArchivedAt != nil }

// Validate checks the structural invariants of an order.
func (o Order) Validate() error {
	if len(o.Lines) == 0 {
		return fmt.Errorf("order %d: no lines: %w", o.ID, shared.ErrConsistency)
	}
	for i, l := range o.Lines {
		if l.Quantity <= 0 || l.UnitPrice.IsNegative() || l.CostPrice.IsNegative() {
			return fmt.Errorf("order %d: line %d out of range: %w", o.ID, i, shared.ErrConsistency)
		}
	}
	got, _, err := CheckedTotal(o.Lines)
	if err != nil {
		return fmt.Errorf("order %d: %v: %w", o.ID, err, shared.ErrConsistency)
	}
	if got != o.Total {
		return fmt.Errorf("order %d: total %s does not match lines %s: %w", o.ID, o.Total, got, shared.ErrConsistency)
	}
	if o.AmountPaid.IsNegative() || o.AmountPaid.Cmp(o.Total) > 0 {
		return fmt.Errorf("order %d: amount paid %s outside [0, %s]: %w", o.ID, o.AmountPaid, o.Total, shared.ErrConsistency)
	}
	small, large := o.OutstandingBottles()
	if o.SmallBottlesReturned < 0 || o.LargeBottlesReturned < 0 || small < 0 || large < 0 {
		return fmt.Errorf("order %d: bottle returns out of range: %w", o.ID, shared.ErrConsistency)
	}
	return nil
}

// Filter narrows order listings. Zero values mean no constraint; To is exclusive.
type Filter struct {
	Status          *Status
	CustomerID      *int64
	From            *time.Time
	To              *time.Time
	IncludeArchived bool
	Limit           int
	Offset          int
}

// Matches applies the filter to one order.
func (f Filter) Matches(o Order) bool {
	if !f.IncludeArchived && o.Archived() {
		return false
	}
	if f.Status != nil && o.Status() != *f.Status {
		return false
	}
	if f.CustomerID != nil && o.CustomerID != *f.CustomerID {
		return false
	}
	if f.From != nil && o.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !o.CreatedAt.Before(*f.To) {
		return false
	}
	return true
}

// DayBounds returns [local midnight, next local midnight) for t in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
