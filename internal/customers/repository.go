package customers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/debtbook/internal/ledger"
	"github.com/odyssey-erp/debtbook/internal/money"
	"github.com/odyssey-erp/debtbook/internal/platform/db"
	"github.com/odyssey-erp/debtbook/internal/shared"
)

type repository struct {
	db db.DBTX
}

// NewRepository returns a Postgres backed Repository on a pool or transaction.
func NewRepository(conn db.DBTX) Repository {
	return &repository{db: conn}
}

const customerColumns = `id, full_name, phone_number, created_at, debt_cents, small_bottles_debt, large_bottles_debt`

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	var debt int64
	if err := row.Scan(&c.ID, &c.FullName, &c.PhoneNumber, &c.CreatedAt, &debt, &c.SmallBottleDebt, &c.LargeBottleDebt); err != nil {
		return Customer{}, err
	}
	c.MonetaryDebt = money.FromMinor(debt)
	return c, nil
}

func (r *repository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM customers WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("customers: exists %d: %w", id, err)
	}
	return exists, nil
}

func (r *repository) Get(ctx context.Context, id int64) (Customer, error) {
	c, err := scanCustomer(r.db.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, ErrNotFound
		}
		return Customer{}, fmt.Errorf("customers: get %d: %w", id, err)
	}
	return c, nil
}

// LoadAccount locks the customer row until the enclosing transaction ends.
func (r *repository) LoadAccount(ctx context.Context, id int64) (ledger.Account, error) {
	return r.account(ctx, id, " FOR UPDATE")
}

// ReadAccount reads committed counters without locking.
func (r *repository) ReadAccount(ctx context.Context, id int64) (ledger.Account, error) {
	return r.account(ctx, id, "")
}

func (r *repository) account(ctx context.Context, id int64, lock string) (ledger.Account, error) {
	var acct ledger.Account
	var debt int64
	err := r.db.QueryRow(ctx, `SELECT id, debt_cents, small_bottles_debt, large_bottles_debt FROM customers WHERE id = $1`+lock, id).
		Scan(&acct.CustomerID, &debt, &acct.SmallBottleDebt, &acct.LargeBottleDebt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Account{}, ErrNotFound
		}
		return ledger.Account{}, fmt.Errorf("customers: load account %d: %w", id, err)
	}
	acct.MonetaryDebt = money.FromMinor(debt)
	return acct, nil
}

func (r *repository) StoreAccount(ctx context.Context, acct ledger.Account) error {
	tag, err := r.db.Exec(ctx, `UPDATE customers SET debt_cents = $2, small_bottles_debt = $3, large_bottles_debt = $4 WHERE id = $1`,
		acct.CustomerID, acct.MonetaryDebt.Minor(), acct.SmallBottleDebt, acct.LargeBottleDebt)
	if err != nil {
		return fmt.Errorf("customers: store account %d: %w", acct.CustomerID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repository) List(ctx context.Context, f ListFilter) ([]Customer, int, error) {
	var conditions []string
	var args []any
	argPos := 1

	if f.Search != "" {
		conditions = append(conditions, fmt.Sprintf("full_name ILIKE $%d", argPos))
		args = append(args, "%"+escapeLike(f.Search)+"%")
		argPos++
	}
	switch f.DebtFilter {
	case DebtFilterHasDebt:
		conditions = append(conditions, "(debt_cents > 0 OR small_bottles_debt > 0 OR large_bottles_debt > 0)")
	case DebtFilterNoDebt:
		conditions = append(conditions, "(debt_cents <= 0 AND small_bottles_debt <= 0 AND large_bottles_debt <= 0)")
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM customers`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("customers: count: %w", err)
	}

	page := shared.NewPagination(f.Page, f.PerPage, total)
	order := "created_at DESC, id DESC"
	if f.ByID {
		order = "id ASC"
	}
	query := fmt.Sprintf(`SELECT %s FROM customers%s ORDER BY %s LIMIT $%d OFFSET $%d`,
		customerColumns, where, order, argPos, argPos+1)
	args = append(args, page.PerPage, page.Offset())

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("customers: list: %w", err)
	}
	defer rows.Close()
	var out []Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

func (r *repository) DebtSummary(ctx context.Context) (DebtSummary, error) {
	var s DebtSummary
	var debt int64
	err := r.db.QueryRow(ctx, `SELECT COALESCE(SUM(debt_cents), 0), COALESCE(SUM(small_bottles_debt), 0), COALESCE(SUM(large_bottles_debt), 0),
		COUNT(*) FILTER (WHERE debt_cents > 0 OR small_bottles_debt > 0 OR large_bottles_debt > 0)
		FROM customers`).Scan(&debt, &s.SmallBottleDebt, &s.LargeBottleDebt, &s.CustomersWithDebt)
	if err != nil {
		return DebtSummary{}, fmt.Errorf("customers: debt summary: %w", err)
	}
	s.MonetaryDebt = money.FromMinor(debt)
	return s, nil
}

func (r *repository) Create(ctx context.Context, c *Customer) error {
	err := r.db.QueryRow(ctx, `INSERT INTO customers (full_name, phone_number, debt_cents, small_bottles_debt, large_bottles_debt)
		VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		c.FullName, c.PhoneNumber, c.MonetaryDebt.Minor(), c.SmallBottleDebt, c.LargeBottleDebt).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("customers: create: %w", err)
	}
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
