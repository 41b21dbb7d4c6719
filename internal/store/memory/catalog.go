package memory

import (
	"context"

	"github.com/odyssey-erp/debtbook/internal/catalog"
	"github.com/odyssey-erp/debtbook/internal/money"
	"github.com/odyssey-erp/debtbook/internal/shared"
)

// Catalog serves product prices from the store.
type Catalog struct {
	s *Store
}

var _ catalog.Catalog = (*Catalog)(nil)

// Create adds a product and assigns its ID.
func (c *Catalog) Create(_ context.Context, p *catalog.Product) error {
	if p.Name == "" {
		return shared.NewValidationError("name", "required")
	}
	if p.Price.IsNegative() || p.CostPrice.IsNegative() {
		return shared.NewValidationError("price", "must not be negative")
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	c.s.nextProduct++
	p.ID = c.s.nextProduct
	if p.CreatedAt.IsZero() {
		p.CreatedAt = c.s.clock()
	}
	c.s.products[p.ID] = *p
	return nil
}

// Get loads one product.
func (c *Catalog) Get(_ context.Context, id int64) (catalog.Product, error) {
	c.s.mu.RLock()
	defer c.s.mu.RUnlock()
	p, ok := c.s.products[id]
	if !ok {
		return catalog.Product{}, catalog.ErrNotFound
	}
	return p, nil
}

func (c *Catalog) GetUnitPrice(ctx context.Context, id int64) (money.Money, error) {
	p, err := c.Get(ctx, id)
	return p.Price, err
}

func (c *Catalog) GetCostPrice(ctx context.Context, id int64) (money.Money, error) {
	p, err := c.Get(ctx, id)
	return p.CostPrice, err
}
