package settlement

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/odyssey-erp/debtbook/internal/ledger"
	"github.com/odyssey-erp/debtbook/internal/orders"
	"github.com/odyssey-erp/debtbook/internal/shared"
)

// GetOrder loads one order with its lines and payment history.
func (e *Engine) GetOrder(ctx context.Context, orderID int64) (orders.Order, error) {
	return e.store.Orders().Get(ctx, orderID)
}

// GetOrdersByStatus lists non-archived orders in the given state.
func (e *Engine) GetOrdersByStatus(ctx context.Context, status orders.Status) ([]orders.Order, error) {
	if _, err := orders.ParseStatus(string(status)); err != nil {
		return nil, err
	}
	return e.store.Orders().List(ctx, orders.Filter{Status: &status})
}

// GetOrdersInRange lists orders created in [from, to), archived ones included.
func (e *Engine) GetOrdersInRange(ctx context.Context, from, to time.Time) ([]orders.Order, error) {
	if !from.Before(to) {
		return nil, shared.NewValidationError("to", "must be after from")
	}
	return e.store.Orders().List(ctx, orders.Filter{From: &from, To: &to, IncludeArchived: true})
}

// ListOrders lists orders matching an arbitrary filter.
func (e *Engine) ListOrders(ctx context.Context, filter orders.Filter) ([]orders.Order, error) {
	return e.store.Orders().List(ctx, filter)
}

// GetCustomerBalance reads the customer's ledger counters.
func (e *Engine) GetCustomerBalance(ctx context.Context, customerID int64) (ledger.Balance, error) {
	return e.ledger.GetBalance(ctx, customerID)
}

// OrderHistory returns the audit trail of an order, newest first. The trail
// outlives the order, so deleted orders still have a history.
func (e *Engine) OrderHistory(ctx context.Context, orderID int64, limit int) ([]shared.AuditLog, error) {
	if e.history == nil {
		return nil, errors.New("settlement: order history not configured")
	}
	entries, err := e.history.List(ctx, "order", strconv.FormatInt(orderID, 10), limit)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		if _, err := e.GetOrder(ctx, orderID); err != nil {
			return nil, err
		}
		return []shared.AuditLog{}, nil
	}
	return entries, nil
}
