// Package catalog resolves product prices for order creation.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/odyssey-erp/debtbook/internal/money"
	"github.com/odyssey-erp/debtbook/internal/platform/db"
	"github.com/odyssey-erp/debtbook/internal/shared"
)

// ErrNotFound is returned for unknown products.
var ErrNotFound = fmt.Errorf("product %w", shared.ErrNotFound)

// Product is a catalog entry. CostPrice is what the shop paid per unit.
type Product struct {
	ID        int64       `json:"id"`
	Name      string      `json:"name"`
	Price     money.Money `json:"price"`
	CostPrice money.Money `json:"costPrice"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Profit is the per-unit margin.
func (p Product) Profit() money.Money { return p.Price.Sub(p.CostPrice) }

// Catalog is the price lookup consumed by the settlement engine.
type Catalog interface {
	GetUnitPrice(ctx context.Context, productID int64) (money.Money, error)
	GetCostPrice(ctx context.Context, productID int64) (money.Money, error)
}

// Repository reads and seeds products in Postgres.
type Repository struct {
	db db.DBTX
}

// NewRepository constructs a Postgres catalog.
func NewRepository(conn db.DBTX) *Repository {
	return &Repository{db: conn}
}

// Get loads one product.
func (r *Repository) Get(ctx context.Context, id int64) (Product, error) {
	var p Product
	var price, cost int64
	err := r.db.QueryRow(ctx, `SELECT id, name, price_cents, cost_price_cents, created_at FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &price, &cost, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("catalog: get %d: %w", id, err)
	}
	p.Price = money.FromMinor(price)
	p.CostPrice = money.FromMinor(cost)
	return p, nil
}

func (r *Repository) GetUnitPrice(ctx context.Context, id int64) (money.Money, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return p.Price, nil
}

func (r *Repository) GetCostPrice(ctx context.Context, id int64) (money.Money, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return p.CostPrice, nil
}

// Create inserts a product and fills its ID.
func (r *Repository) Create(ctx context.Context, p *Product) error {
	err := r.db.QueryRow(ctx, `INSERT INTO products (name, price_cents, cost_price_cents) VALUES ($1, $2, $3) RETURNING id, created_at`,
		p.Name, p.Price.Minor(), p.CostPrice.Minor()).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return fmt.Errorf("catalog: create: %w", err)
	}
	return nil
}
