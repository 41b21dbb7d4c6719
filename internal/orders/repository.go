package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/debtbook/internal/money"
	"github.com/odyssey-erp/debtbook/internal/platform/db"
)

// ProductOrderCount is how many orders contain a product.
type ProductOrderCount struct {
	ProductID   int64  `json:"productId"`
	ProductName string `json:"name"`
	Orders      int64  `json:"nbOfOrders"`
	Quantity    int64  `json:"quantity"`
}

// Repository is the storage port for orders.
type Repository interface {
	Get(ctx context.Context, id int64) (Order, error)
	// GetForUpdate loads the order and locks it until the transaction ends.
	GetForUpdate(ctx context.Context, id int64) (Order, error)
	Create(ctx context.Context, order *Order) error
	// Save persists the mutable fields: amount paid, bottle returns, archive stamp.
	Save(ctx context.Context, order Order) error
	Delete(ctx context.Context, id int64) error
	AddPayment(ctx context.Context, payment Payment) error
	List(ctx context.Context, filter Filter) ([]Order, error)
	ProductOrderCounts(ctx context.Context, limit int) ([]ProductOrderCount, error)
}

type repository struct {
	db db.DBTX
}

// NewRepository returns a Postgres backed Repository on a pool or transaction.
func NewRepository(conn db.DBTX) Repository {
	return &repository{db: conn}
}

const orderColumns = `o.id, o.customer_id, COALESCE(c.full_name, ''), o.created_at, o.total_cents, o.amount_paid_cents,
	o.small_bottles, o.large_bottles, o.small_bottles_returned, o.large_bottles_returned, o.archived_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var total, paid int64
	var archivedAt pgtype.Timestamptz
	err := row.Scan(&o.ID, &o.CustomerID, &o.CustomerName, &o.CreatedAt, &total, &paid,
		&o.SmallBottles, &o.LargeBottles, &o.SmallBottlesReturned, &o.LargeBottlesReturned, &archivedAt)
	if err != nil {
		return Order{}, err
	}
	o.Total = money.FromMinor(total)
	o.AmountPaid = money.FromMinor(paid)
	if archivedAt.Valid {
		at := archivedAt.Time
		o.ArchivedAt = &at
	}
	return o, nil
}

func (r *repository) Get(ctx context.Context, id int64) (Order, error) {
	return r.get(ctx, id, "")
}

func (r *repository) GetForUpdate(ctx context.Context, id int64) (Order, error) {
	return r.get(ctx, id, " FOR UPDATE OF o")
}

func (r *repository) get(ctx context.Context, id int64, lock string) (Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders o LEFT JOIN customers c ON c.id = o.customer_id WHERE o.id = $1` + lock
	o, err := scanOrder(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, fmt.Errorf("orders: get %d: %w", id, err)
	}
	lines, err := r.lines(ctx, []int64{id})
	if err != nil {
		return Order{}, err
	}
	o.Lines = lines[id]
	payments, err := r.payments(ctx, id)
	if err != nil {
		return Order{}, err
	}
	o.Payments = payments
	return o, nil
}

func (r *repository) lines(ctx context.Context, ids []int64) (map[int64][]Line, error) {
	rows, err := r.db.Query(ctx, `SELECT order_id, product_id, quantity, unit_price_cents, cost_price_cents
		FROM order_lines WHERE order_id = ANY($1) ORDER BY order_id, line_no`, ids)
	if err != nil {
		return nil, fmt.Errorf("orders: load lines: %w", err)
	}
	defer rows.Close()
	out := make(map[int64][]Line, len(ids))
	for rows.Next() {
		var orderID, unit, cost int64
		var l Line
		if err := rows.Scan(&orderID, &l.ProductID, &l.Quantity, &unit, &cost); err != nil {
			return nil, err
		}
		l.UnitPrice = money.FromMinor(unit)
		l.CostPrice = money.FromMinor(cost)
		out[orderID] = append(out[orderID], l)
	}
	return out, rows.Err()
}

func (r *repository) payments(ctx context.Context, orderID int64) ([]Payment, error) {
	rows, err := r.db.Query(ctx, `SELECT id, order_id, kind, amount_cents, small_bottles, large_bottles, COALESCE(idempotency_key, ''), created_at
		FROM order_payments WHERE order_id = $1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("orders: load payments: %w", err)
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		var p Payment
		var amount int64
		if err := rows.Scan(&p.ID, &p.OrderID, &p.Kind, &amount, &p.SmallBottles, &p.LargeBottles, &p.IdempotencyKey, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Amount = money.FromMinor(amount)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) Create(ctx context.Context, o *Order) error {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	err := r.db.QueryRow(ctx, `INSERT INTO orders (customer_id, status, total_cents, amount_paid_cents, small_bottles, large_bottles, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id`,
		o.CustomerID, string(o.Status()), o.Total.Minor(), o.AmountPaid.Minor(), o.SmallBottles, o.LargeBottles, o.CreatedAt,
	).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("orders: insert: %w", err)
	}
	for i, l := range o.Lines {
		_, err := r.db.Exec(ctx, `INSERT INTO order_lines (order_id, line_no, product_id, quantity, unit_price_cents, cost_price_cents)
			VALUES ($1, $2, $3, $4, $5, $6)`, o.ID, i+1, l.ProductID, l.Quantity, l.UnitPrice.Minor(), l.CostPrice.Minor())
		if err != nil {
			return fmt.Errorf("orders: insert line %d: %w", i+1, err)
		}
	}
	return nil
}

func (r *repository) Save(ctx context.Context, o Order) error {
	var archivedAt pgtype.Timestamptz
	if o.ArchivedAt != nil {
		archivedAt = pgtype.Timestamptz{Time: *o.ArchivedAt, Valid: true}
	}
	tag, err := r.db.Exec(ctx, `UPDATE orders SET status = $2, amount_paid_cents = $3, small_bottles_returned = $4,
		large_bottles_returned = $5, archived_at = $6, updated_at = NOW() WHERE id = $1`,
		o.ID, string(o.Status()), o.AmountPaid.Minor(), o.SmallBottlesReturned, o.LargeBottlesReturned, archivedAt)
	if err != nil {
		return fmt.Errorf("orders: save %d: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("orders: delete %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) AddPayment(ctx context.Context, p Payment) error {
	key := pgtype.Text{String: p.IdempotencyKey, Valid: p.IdempotencyKey != ""}
	_, err := r.db.Exec(ctx, `INSERT INTO order_payments (id, order_id, kind, amount_cents, small_bottles, large_bottles, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.OrderID, string(p.Kind), p.Amount.Minor(), p.SmallBottles, p.LargeBottles, key, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("orders: add payment: %w", err)
	}
	return nil
}

func (r *repository) List(ctx context.Context, f Filter) ([]Order, error) {
	var conditions []string
	var args []any
	argPos := 1

	if !f.IncludeArchived {
		conditions = append(conditions, "o.archived_at IS NULL")
	}
	if f.Status != nil {
		conditions = append(conditions, fmt.Sprintf("o.status = $%d", argPos))
		args = append(args, string(*f.Status))
		argPos++
	}
	if f.CustomerID != nil {
		conditions = append(conditions, fmt.Sprintf("o.customer_id = $%d", argPos))
		args = append(args, *f.CustomerID)
		argPos++
	}
	if f.From != nil {
		conditions = append(conditions, fmt.Sprintf("o.created_at >= $%d", argPos))
		args = append(args, *f.From)
		argPos++
	}
	if f.To != nil {
		conditions = append(conditions, fmt.Sprintf("o.created_at < $%d", argPos))
		args = append(args, *f.To)
		argPos++
	}

	query := `SELECT ` + orderColumns + ` FROM orders o LEFT JOIN customers c ON c.id = o.customer_id`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY o.created_at DESC, o.id DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argPos, argPos+1)
		args = append(args, f.Limit, f.Offset)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("orders: list: %w", err)
	}
	defer rows.Close()

	var out []Order
	var ids []int64
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}
	lines, err := r.lines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Lines = lines[out[i].ID]
	}
	return out, nil
}

func (r *repository) ProductOrderCounts(ctx context.Context, limit int) ([]ProductOrderCount, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := r.db.Query(ctx, `SELECT l.product_id, COALESCE(p.name, ''), COUNT(DISTINCT l.order_id), SUM(l.quantity)
		FROM order_lines l LEFT JOIN products p ON p.id = l.product_id
		GROUP BY l.product_id, p.name
		ORDER BY COUNT(DISTINCT l.order_id) DESC, l.product_id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("orders: product counts: %w", err)
	}
	defer rows.Close()
	var out []ProductOrderCount
	for rows.Next() {
		var c ProductOrderCount
		if err := rows.Scan(&c.ProductID, &c.ProductName, &c.Orders, &c.Quantity); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
