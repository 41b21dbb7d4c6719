package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/debtbook/internal/customers"
	"github.com/odyssey-erp/debtbook/internal/ledger"
	"github.com/odyssey-erp/debtbook/internal/money"
	"github.com/odyssey-erp/debtbook/internal/orders"
	"github.com/odyssey-erp/debtbook/internal/shared"
)

// CreateOrder prices the lines, stores the order as pending and deposits its
// total and bottles into the customer's ledger.
func (e *Engine) CreateOrder(ctx context.Context, in CreateOrderInput) (orders.Order, error) {
	const op = "create_order"
	if err := shared.FromValidator(e.validate.Struct(in)); err != nil {
		return orders.Order{}, e.reject(op, err)
	}
	exists, err := e.directory.Exists(ctx, in.CustomerID)
	if err != nil {
		return orders.Order{}, fmt.Errorf("settlement: lookup customer %d: %w", in.CustomerID, err)
	}
	if !exists {
		return orders.Order{}, e.reject(op, customers.ErrNotFound)
	}
	lines, err := e.priceLines(ctx, in.Lines)
	if err != nil {
		return orders.Order{}, e.reject(op, err)
	}
	total, _, err := orders.CheckedTotal(lines)
	if err != nil {
		return orders.Order{}, e.reject(op, shared.NewValidationError("lines", err.Error()))
	}

	draft := orders.Order{
		CustomerID:   in.CustomerID,
		CreatedAt:    e.now(),
		Lines:        lines,
		Total:        total,
		SmallBottles: in.SmallBottles,
		LargeBottles: in.LargeBottles,
	}

	var created orders.Order
	err = e.run(ctx, op, in.CustomerID, func(ctx context.Context, tx Tx) error {
		o := draft
		o.Lines = append([]orders.Line(nil), draft.Lines...)
		if err := o.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrConsistencyViolation, err)
		}
		if err := tx.Orders().Create(ctx, &o); err != nil {
			return err
		}
		res, err := e.ledger.Bind(tx.Accounts()).Deposit(ctx, o.CustomerID, ledger.Delta{
			Amount:       o.Total,
			SmallBottles: o.SmallBottles,
			LargeBottles: o.LargeBottles,
		})
		if err != nil {
			return err
		}
		if err := e.checkBalance(o, res.Balance); err != nil {
			return err
		}
		if err := tx.Audit(ctx, e.auditEntry("order.created", o, map[string]any{
			"total":         o.Total.String(),
			"lines":         len(o.Lines),
			"small_bottles": o.SmallBottles,
			"large_bottles": o.LargeBottles,
		})); err != nil {
			return err
		}
		created = o
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	e.logger.Info("order created", slog.Int64("order_id", created.ID), slog.Int64("customer_id", created.CustomerID), slog.String("total", created.Total.String()))
	return created, nil
}

func (e *Engine) priceLines(ctx context.Context, in []LineInput) ([]orders.Line, error) {
	lines := make([]orders.Line, 0, len(in))
	for i, li := range in {
		cost, err := e.catalog.GetCostPrice(ctx, li.ProductID)
		if err != nil {
			return nil, fmt.Errorf("settlement: line %d: %w", i+1, err)
		}
		var unit money.Money
		if li.UnitPrice != nil {
			unit = *li.UnitPrice
			if unit.IsNegative() {
				return nil, shared.NewValidationError(fmt.Sprintf("lines[%d].unitPrice", i), "must not be negative")
			}
		} else {
			unit, err = e.catalog.GetUnitPrice(ctx, li.ProductID)
			if err != nil {
				return nil, fmt.Errorf("settlement: line %d: %w", i+1, err)
			}
		}
		lines = append(lines, orders.Line{
			ProductID: li.ProductID,
			Quantity:  li.Quantity,
			UnitPrice: unit,
			CostPrice: cost,
		})
	}
	return lines, nil
}

// ApplyPayment records a payment against an order. A non-empty
// idempotencyKey makes retries of the same request harmless.
func (e *Engine) ApplyPayment(ctx context.Context, orderID int64, amount money.Money, idempotencyKey string) (Result, error) {
	const op = "apply_payment"
	if !amount.IsPositive() {
		return Result{}, e.reject(op, shared.NewValidationError("amount", "must be positive"))
	}
	return e.pay(ctx, op, orderID, &amount, orders.PaymentKindPayment, idempotencyKey)
}

// MarkPaid settles the whole remaining balance. Calling it on a paid order is a no-op.
func (e *Engine) MarkPaid(ctx context.Context, orderID int64) (Result, error) {
	return e.pay(ctx, "mark_paid", orderID, nil, orders.PaymentKindMarkPaid, "")
}

// pay applies amount, or the full remaining balance when amount is nil.
func (e *Engine) pay(ctx context.Context, op string, orderID int64, amount *money.Money, kind orders.PaymentKind, key string) (Result, error) {
	customerID, err := e.customerOf(ctx, orderID)
	if err != nil {
		return Result{}, e.reject(op, err)
	}

	var result Result
	err = e.run(ctx, op, customerID, func(ctx context.Context, tx Tx) error {
		result = Result{}
		o, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if key != "" {
			if err := tx.ClaimKey(ctx, orderScopedKey(o.ID, key), idempotencyModule); err != nil {
				if errors.Is(err, shared.ErrIdempotencyConflict) {
					result = Result{Order: o, NoOp: true}
					return nil
				}
				return err
			}
		}
		if o.Status() == orders.StatusPaid {
			result = Result{Order: o, NoOp: true}
			if amount != nil {
				result.Excess.Amount = *amount
			}
			return nil
		}

		remaining := o.Remaining()
		requested := remaining
		if amount != nil {
			requested = *amount
		}
		applied := requested
		if requested.Cmp(remaining) > 0 {
			if e.cfg.OverpayPolicy == OverpayReject {
				return fmt.Errorf("%w: order %d owes %s, got %s", ErrOverpayment, o.ID, remaining, requested)
			}
			applied = remaining
			result.Excess.Amount = requested.Sub(remaining)
		}

		o.AmountPaid = o.AmountPaid.Add(applied)
		if err := o.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrConsistencyViolation, err)
		}
		if err := tx.Orders().Save(ctx, o); err != nil {
			return err
		}
		payment := orders.Payment{
			ID:             uuid.New(),
			OrderID:        o.ID,
			Kind:           kind,
			Amount:         applied,
			IdempotencyKey: key,
			CreatedAt:      e.now(),
		}
		if err := tx.Orders().AddPayment(ctx, payment); err != nil {
			return err
		}
		o.Payments = append(o.Payments, payment)

		res, err := e.ledger.Bind(tx.Accounts()).Settle(ctx, o.CustomerID, ledger.Delta{Amount: applied})
		if err != nil {
			return err
		}
		if err := e.checkBalance(o, res.Balance); err != nil {
			return err
		}
		action := "order.payment_applied"
		if kind == orders.PaymentKindMarkPaid {
			action = "order.marked_paid"
		}
		if err := tx.Audit(ctx, e.auditEntry(action, o, map[string]any{
			"applied":     applied.String(),
			"excess":      result.Excess.Amount.String(),
			"amount_paid": o.AmountPaid.String(),
			"status":      string(o.Status()),
			"payment_id":  payment.ID.String(),
		})); err != nil {
			return err
		}

		result.Order = o
		result.Applied = res.Applied
		result.Warning = res.Warning
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if result.Overpaid() && !result.NoOp {
		e.logger.Warn("overpayment clamped", slog.Int64("order_id", orderID), slog.String("excess", result.Excess.Amount.String()))
	}
	if result.Warning != nil {
		e.logger.Warn("over-settlement", slog.Int64("order_id", orderID), slog.String("detail", result.Warning.String()))
	}
	return result, nil
}

// ReturnBottles records bottles handed back for an order and clears them from
// the customer's bottle debt.
func (e *Engine) ReturnBottles(ctx context.Context, orderID int64, in BottleReturnInput) (Result, error) {
	const op = "return_bottles"
	if err := shared.FromValidator(e.validate.Struct(in)); err != nil {
		return Result{}, e.reject(op, err)
	}
	if in.SmallBottles == 0 && in.LargeBottles == 0 {
		return Result{}, e.reject(op, shared.NewValidationError("bottles", "at least one bottle must be returned"))
	}
	customerID, err := e.customerOf(ctx, orderID)
	if err != nil {
		return Result{}, e.reject(op, err)
	}

	var result Result
	err = e.run(ctx, op, customerID, func(ctx context.Context, tx Tx) error {
		result = Result{}
		o, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		small, large := o.OutstandingBottles()
		applied := ledger.Delta{SmallBottles: min(in.SmallBottles, small), LargeBottles: min(in.LargeBottles, large)}
		if applied.SmallBottles != in.SmallBottles || applied.LargeBottles != in.LargeBottles {
			if e.cfg.OverpayPolicy == OverpayReject {
				return fmt.Errorf("%w: order %d has %d small and %d large bottles outstanding", ErrOverpayment, o.ID, small, large)
			}
			result.Excess = ledger.Delta{
				SmallBottles: in.SmallBottles - applied.SmallBottles,
				LargeBottles: in.LargeBottles - applied.LargeBottles,
			}
		}
		if applied.IsZero() {
			result.Order = o
			result.NoOp = true
			return nil
		}

		o.SmallBottlesReturned += applied.SmallBottles
		o.LargeBottlesReturned += applied.LargeBottles
		if err := o.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrConsistencyViolation, err)
		}
		if err := tx.Orders().Save(ctx, o); err != nil {
			return err
		}
		payment := orders.Payment{
			ID:           uuid.New(),
			OrderID:      o.ID,
			Kind:         orders.PaymentKindBottleReturn,
			SmallBottles: applied.SmallBottles,
			LargeBottles: applied.LargeBottles,
			CreatedAt:    e.now(),
		}
		if err := tx.Orders().AddPayment(ctx, payment); err != nil {
			return err
		}
		o.Payments = append(o.Payments, payment)

		res, err := e.ledger.Bind(tx.Accounts()).Settle(ctx, o.CustomerID, applied)
		if err != nil {
			return err
		}
		if err := e.checkBalance(o, res.Balance); err != nil {
			return err
		}
		if err := tx.Audit(ctx, e.auditEntry("order.bottles_returned", o, map[string]any{
			"small_bottles": applied.SmallBottles,
			"large_bottles": applied.LargeBottles,
		})); err != nil {
			return err
		}
		result.Order = o
		result.Applied = res.Applied
		result.Warning = res.Warning
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// DeleteOrder removes an order and reverses what it still contributes to the
// customer's debt: the remaining balance and unreturned bottles.
func (e *Engine) DeleteOrder(ctx context.Context, orderID int64) (Result, error) {
	const op = "delete_order"
	customerID, err := e.customerOf(ctx, orderID)
	if err != nil {
		return Result{}, e.reject(op, err)
	}

	var result Result
	err = e.run(ctx, op, customerID, func(ctx context.Context, tx Tx) error {
		result = Result{}
		o, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status() == orders.StatusPaid && !e.cfg.AllowPaidDelete {
			return fmt.Errorf("%w: order %d", ErrPaidOrderLocked, o.ID)
		}
		small, large := o.OutstandingBottles()
		reversal := ledger.Delta{Amount: o.Remaining(), SmallBottles: small, LargeBottles: large}

		if err := tx.Orders().Delete(ctx, o.ID); err != nil {
			return err
		}
		res, err := e.ledger.Bind(tx.Accounts()).Settle(ctx, o.CustomerID, reversal)
		if err != nil {
			return err
		}
		if err := e.checkBalance(orders.Order{ID: o.ID, CustomerID: o.CustomerID}, res.Balance); err != nil {
			return err
		}
		if err := tx.Audit(ctx, e.auditEntry("order.deleted", o, map[string]any{
			"reversed_amount": reversal.Amount.String(),
			"small_bottles":   reversal.SmallBottles,
			"large_bottles":   reversal.LargeBottles,
			"status":          string(o.Status()),
		})); err != nil {
			return err
		}
		result.Order = o
		result.Applied = res.Applied
		result.Warning = res.Warning
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	e.logger.Info("order deleted", slog.Int64("order_id", orderID), slog.String("reversed", result.Applied.Amount.String()))
	return result, nil
}

// ArchiveOrder hides a fully paid order from status listings while keeping it
// in reports and history.
func (e *Engine) ArchiveOrder(ctx context.Context, orderID int64) (orders.Order, error) {
	const op = "archive_order"
	customerID, err := e.customerOf(ctx, orderID)
	if err != nil {
		return orders.Order{}, e.reject(op, err)
	}

	var archived orders.Order
	err = e.run(ctx, op, customerID, func(ctx context.Context, tx Tx) error {
		o, err := tx.Orders().GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Archived() {
			archived = o
			return nil
		}
		if o.Status() != orders.StatusPaid {
			return fmt.Errorf("%w: order %d is %s", ErrInvalidStatus, o.ID, o.Status())
		}
		at := e.now()
		o.ArchivedAt = &at
		if err := tx.Orders().Save(ctx, o); err != nil {
			return err
		}
		if err := tx.Audit(ctx, e.auditEntry("order.archived", o, nil)); err != nil {
			return err
		}
		archived = o
		return nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	return archived, nil
}

// orderScopedKey ties a client key to one order, so reusing it elsewhere
// is a new request rather than a replay.
func orderScopedKey(orderID int64, key string) string {
	return strconv.FormatInt(orderID, 10) + ":" + key
}

func (e *Engine) customerOf(ctx context.Context, orderID int64) (int64, error) {
	if orderID <= 0 {
		return 0, shared.NewValidationError("orderId", "must be positive")
	}
	o, err := e.store.Orders().Get(ctx, orderID)
	if err != nil {
		return 0, err
	}
	return o.CustomerID, nil
}

// checkBalance guards the ledger side of a unit of work. Under the reject
// policy a customer can never end up owing less than this order's remainder.
func (e *Engine) checkBalance(o orders.Order, b ledger.Balance) error {
	if b.SmallBottleDebt < 0 || b.LargeBottleDebt < 0 {
		return fmt.Errorf("%w: customer %d bottle debt negative", ErrConsistencyViolation, o.CustomerID)
	}
	if e.ledger.Policy() != ledger.PolicyReject {
		return nil
	}
	small, large := o.OutstandingBottles()
	if b.MonetaryDebt.Cmp(o.Remaining()) < 0 || b.SmallBottleDebt < small || b.LargeBottleDebt < large {
		return fmt.Errorf("%w: customer %d owes %s but order %d has %s remaining",
			ErrConsistencyViolation, o.CustomerID, b.MonetaryDebt, o.ID, o.Remaining())
	}
	return nil
}

func (e *Engine) auditEntry(action string, o orders.Order, meta map[string]any) shared.AuditLog {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["customer_id"] = o.CustomerID
	return shared.AuditLog{
		Action:   action,
		Entity:   "order",
		EntityID: strconv.FormatInt(o.ID, 10),
		Meta:     meta,
		At:       e.now(),
	}
}

// reject meters a request refused before any unit of work started.
func (e *Engine) reject(op string, err error) error {
	e.observe(op, time.Now(), err)
	return err
}
