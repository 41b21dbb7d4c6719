package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/odyssey-erp/debtbook/internal/customers"
	"github.com/odyssey-erp/debtbook/internal/ledger"
	"github.com/odyssey-erp/debtbook/internal/orders"
	"github.com/odyssey-erp/debtbook/internal/shared"
)

type tx struct {
	s        *Store
	orders   map[int64]*orders.Order // nil marks a deletion
	accounts map[int64]ledger.Account
	audit    []shared.AuditLog
	keys     []string
}

func newTx(s *Store) *tx {
	return &tx{
		s:        s,
		orders:   make(map[int64]*orders.Order),
		accounts: make(map[int64]ledger.Account),
	}
}

func (t *tx) Orders() orders.Repository { return &orderView{s: t.s, tx: t} }

func (t *tx) Accounts() ledger.Accounts { return &customerView{s: t.s, tx: t} }

func (t *tx) Audit(_ context.Context, entry shared.AuditLog) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	if entry.At.IsZero() {
		entry.At = t.s.clock()
	}
	t.audit = append(t.audit, entry)
	return nil
}

// ClaimKey reserves the key immediately so concurrent units of work see it;
// rollback releases it again.
func (t *tx) ClaimKey(_ context.Context, key, module string) error {
	k := keyOf(key, module)
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if _, ok := t.s.keys[k]; ok {
		return shared.ErrIdempotencyConflict
	}
	t.s.keys[k] = t.s.clock()
	t.keys = append(t.keys, k)
	return nil
}

func (t *tx) commit() {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, o := range t.orders {
		if o == nil {
			delete(s.orders, id)
			continue
		}
		s.orders[id] = *o
	}
	for id, acct := range t.accounts {
		c := s.customers[id]
		c.Balance = acct.Balance
		s.customers[id] = c
	}
	s.audit = append(s.audit, t.audit...)
}

func (t *tx) rollback() {
	if len(t.keys) == 0 {
		return
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for _, k := range t.keys {
		delete(t.s.keys, k)
	}
}

// orderView reads through the overlay of tx when set, otherwise committed state.
type orderView struct {
	s  *Store
	tx *tx
}

func (v *orderView) write(ctx context.Context, fn func(*tx) error) error {
	if v.tx != nil {
		return fn(v.tx)
	}
	return v.s.atomically(ctx, fn)
}

func (v *orderView) lookup(id int64) (orders.Order, bool) {
	if v.tx != nil {
		if staged, ok := v.tx.orders[id]; ok {
			if staged == nil {
				return orders.Order{}, false
			}
			return cloneOrder(*staged), true
		}
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	o, ok := v.s.orders[id]
	if !ok {
		return orders.Order{}, false
	}
	o = cloneOrder(o)
	o.CustomerName = v.s.customerName(o.CustomerID)
	return o, true
}

func (v *orderView) Get(_ context.Context, id int64) (orders.Order, error) {
	o, ok := v.lookup(id)
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func (v *orderView) GetForUpdate(ctx context.Context, id int64) (orders.Order, error) {
	return v.Get(ctx, id)
}

func (v *orderView) Create(ctx context.Context, o *orders.Order) error {
	return v.write(ctx, func(t *tx) error {
		t.s.mu.Lock()
		t.s.nextOrder++
		o.ID = t.s.nextOrder
		if o.CreatedAt.IsZero() {
			o.CreatedAt = t.s.clock()
		}
		o.CustomerName = t.s.customerName(o.CustomerID)
		t.s.mu.Unlock()
		staged := cloneOrder(*o)
		t.orders[o.ID] = &staged
		return nil
	})
}

func (v *orderView) Save(ctx context.Context, o orders.Order) error {
	return v.write(ctx, func(t *tx) error {
		current, ok := (&orderView{s: t.s, tx: t}).lookup(o.ID)
		if !ok {
			return orders.ErrNotFound
		}
		current.AmountPaid = o.AmountPaid
		current.SmallBottlesReturned = o.SmallBottlesReturned
		current.LargeBottlesReturned = o.LargeBottlesReturned
		current.ArchivedAt = nil
		if o.ArchivedAt != nil {
			at := *o.ArchivedAt
			current.ArchivedAt = &at
		}
		t.orders[o.ID] = &current
		return nil
	})
}

func (v *orderView) Delete(ctx context.Context, id int64) error {
	return v.write(ctx, func(t *tx) error {
		if _, ok := (&orderView{s: t.s, tx: t}).lookup(id); !ok {
			return orders.ErrNotFound
		}
		t.orders[id] = nil
		return nil
	})
}

func (v *orderView) AddPayment(ctx context.Context, p orders.Payment) error {
	return v.write(ctx, func(t *tx) error {
		current, ok := (&orderView{s: t.s, tx: t}).lookup(p.OrderID)
		if !ok {
			return orders.ErrNotFound
		}
		current.Payments = append(current.Payments, p)
		t.orders[p.OrderID] = &current
		return nil
	})
}

func (v *orderView) snapshot() []orders.Order {
	v.s.mu.RLock()
	out := make([]orders.Order, 0, len(v.s.orders))
	for id, o := range v.s.orders {
		if v.tx != nil {
			if _, staged := v.tx.orders[id]; staged {
				continue
			}
		}
		o = cloneOrder(o)
		o.CustomerName = v.s.customerName(o.CustomerID)
		out = append(out, o)
	}
	v.s.mu.RUnlock()
	if v.tx != nil {
		for _, o := range v.tx.orders {
			if o != nil {
				out = append(out, cloneOrder(*o))
			}
		}
	}
	return out
}

func (v *orderView) List(_ context.Context, f orders.Filter) ([]orders.Order, error) {
	var out []orders.Order
	for _, o := range v.snapshot() {
		if f.Matches(o) {
			o.Payments = nil
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (v *orderView) ProductOrderCounts(_ context.Context, limit int) ([]orders.ProductOrderCount, error) {
	if limit <= 0 {
		limit = 5
	}
	counts := make(map[int64]*orders.ProductOrderCount)
	for _, o := range v.snapshot() {
		seen := make(map[int64]bool)
		for _, l := range o.Lines {
			c, ok := counts[l.ProductID]
			if !ok {
				c = &orders.ProductOrderCount{ProductID: l.ProductID}
				counts[l.ProductID] = c
			}
			c.Quantity += l.Quantity
			if !seen[l.ProductID] {
				seen[l.ProductID] = true
				c.Orders++
			}
		}
	}
	v.s.mu.RLock()
	out := make([]orders.ProductOrderCount, 0, len(counts))
	for _, c := range counts {
		c.ProductName = v.s.products[c.ProductID].Name
		out = append(out, *c)
	}
	v.s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Orders != out[j].Orders {
			return out[i].Orders > out[j].Orders
		}
		return out[i].ProductID < out[j].ProductID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// customerView implements both the customer directory and the ledger port.
type customerView struct {
	s  *Store
	tx *tx
}

func (v *customerView) LoadAccount(ctx context.Context, id int64) (ledger.Account, error) {
	if v.tx != nil {
		if acct, ok := v.tx.accounts[id]; ok {
			return acct, nil
		}
	}
	return v.ReadAccount(ctx, id)
}

// ReadAccount ignores the transaction overlay and returns committed counters.
func (v *customerView) ReadAccount(_ context.Context, id int64) (ledger.Account, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	c, ok := v.s.customers[id]
	if !ok {
		return ledger.Account{}, customers.ErrNotFound
	}
	return ledger.Account{CustomerID: id, Balance: c.Balance}, nil
}

func (v *customerView) StoreAccount(ctx context.Context, acct ledger.Account) error {
	v.s.mu.RLock()
	_, ok := v.s.customers[acct.CustomerID]
	v.s.mu.RUnlock()
	if !ok {
		return customers.ErrNotFound
	}
	if v.tx != nil {
		v.tx.accounts[acct.CustomerID] = acct
		return nil
	}
	return v.s.atomically(ctx, func(t *tx) error {
		t.accounts[acct.CustomerID] = acct
		return nil
	})
}

func (v *customerView) Exists(_ context.Context, id int64) (bool, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	_, ok := v.s.customers[id]
	return ok, nil
}

func (v *customerView) Get(_ context.Context, id int64) (customers.Customer, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	c, ok := v.s.customers[id]
	if !ok {
		return customers.Customer{}, customers.ErrNotFound
	}
	return c, nil
}

func (v *customerView) List(_ context.Context, f customers.ListFilter) ([]customers.Customer, int, error) {
	v.s.mu.RLock()
	var matched []customers.Customer
	for _, c := range v.s.customers {
		if f.MatchesName(c.FullName) && f.DebtFilter.Matches(c.Balance) {
			matched = append(matched, c)
		}
	}
	v.s.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool {
		if f.ByID {
			return matched[i].ID < matched[j].ID
		}
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	page := shared.NewPagination(f.Page, f.PerPage, len(matched))
	start := page.Offset()
	if start >= len(matched) {
		return nil, len(matched), nil
	}
	end := min(start+page.PerPage, len(matched))
	return matched[start:end], len(matched), nil
}

func (v *customerView) DebtSummary(_ context.Context) (customers.DebtSummary, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var sum customers.DebtSummary
	for _, c := range v.s.customers {
		sum.MonetaryDebt = sum.MonetaryDebt.Add(c.MonetaryDebt)
		sum.SmallBottleDebt += c.SmallBottleDebt
		sum.LargeBottleDebt += c.LargeBottleDebt
		if c.HasDebt() {
			sum.CustomersWithDebt++
		}
	}
	return sum, nil
}

func (v *customerView) Create(_ context.Context, c *customers.Customer) error {
	if strings.TrimSpace(c.FullName) == "" {
		return shared.NewValidationError("fullName", "required")
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.nextCustomer++
	c.ID = v.s.nextCustomer
	if c.CreatedAt.IsZero() {
		c.CreatedAt = v.s.clock()
	}
	v.s.customers[c.ID] = *c
	return nil
}
