// Package memory is an in-process implementation of every storage port. It
// backs STORE_DRIVER=memory and the package tests.
//
// Units of work stage their writes in an overlay that is applied atomically
// on commit. The store does not detect write conflicts between concurrent
// units of work; the settlement engine serializes them per customer.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/odyssey-erp/debtbook/internal/catalog"
	"github.com/odyssey-erp/debtbook/internal/customers"
	"github.com/odyssey-erp/debtbook/internal/ledger"
	"github.com/odyssey-erp/debtbook/internal/orders"
	"github.com/odyssey-erp/debtbook/internal/settlement"
	"github.com/odyssey-erp/debtbook/internal/shared"
)

// Store holds committed state.
type Store struct {
	mu        sync.RWMutex
	customers map[int64]customers.Customer
	products  map[int64]catalog.Product
	orders    map[int64]orders.Order
	keys      map[string]time.Time
	audit     []shared.AuditLog

	nextCustomer int64
	nextProduct  int64
	nextOrder    int64

	faults []error
	clock  func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		customers: make(map[int64]customers.Customer),
		products:  make(map[int64]catalog.Product),
		orders:    make(map[int64]orders.Order),
		keys:      make(map[string]time.Time),
		clock:     time.Now,
	}
}

var _ settlement.Store = (*Store)(nil)

// WithTx runs fn in a unit of work. Writes become visible only when fn
// returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx settlement.Tx) error) error {
	return s.atomically(ctx, func(t *tx) error { return fn(ctx, t) })
}

func (s *Store) atomically(ctx context.Context, fn func(*tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := newTx(s)
	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	if err := s.takeFault(); err != nil {
		t.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		t.rollback()
		return err
	}
	t.commit()
	return nil
}

// FailNext makes the next n units of work fail with err at commit time,
// after their body ran. Used to exercise retry handling.
func (s *Store) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.faults = append(s.faults, err)
	}
}

func (s *Store) takeFault() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.faults) == 0 {
		return nil
	}
	err := s.faults[0]
	s.faults = s.faults[1:]
	return err
}

// Orders returns a repository over committed state. Its writes run in their
// own unit of work.
func (s *Store) Orders() orders.Repository { return &orderView{s: s} }

// Accounts returns the ledger port over committed state.
func (s *Store) Accounts() ledger.Accounts { return &customerView{s: s} }

// Customers returns the customer directory.
func (s *Store) Customers() customers.Repository { return &customerView{s: s} }

// Catalog returns the product price lookup.
func (s *Store) Catalog() *Catalog { return &Catalog{s: s} }

// SetClock replaces the time source used for generated timestamps.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// AuditLogs returns a copy of every committed audit entry.
func (s *Store) AuditLogs() []shared.AuditLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.audit)
}

// Audit returns a reader over committed audit entries.
func (s *Store) Audit() shared.AuditReader { return auditView{s: s} }

type auditView struct{ s *Store }

func (v auditView) List(_ context.Context, entity, entityID string, limit int) ([]shared.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	var out []shared.AuditLog
	for i := len(v.s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if e := v.s.audit[i]; e.Entity == entity && e.EntityID == entityID {
			out = append(out, e)
		}
	}
	return out, nil
}

// CleanupKeys forgets idempotency keys older than olderThan.
func (s *Store) CleanupKeys(_ context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	cutoff := s.clock().Add(-olderThan)
	defer s.mu.Unlock()
	var n int64
	for k, at := range s.keys {
		if at.Before(cutoff) {
			delete(s.keys, k)
			n++
		}
	}
	return n, nil
}

func (s *Store) customerName(id int64) string {
	return s.customers[id].FullName
}

// cloneOrder copies the slices so callers cannot alias stored state.
func cloneOrder(o orders.Order) orders.Order {
	o.Lines = slices.Clone(o.Lines)
	o.Payments = slices.Clone(o.Payments)
	if o.ArchivedAt != nil {
		at := *o.ArchivedAt
		o.ArchivedAt = &at
	}
	return o
}

func keyOf(key, module string) string {
	return fmt.Sprintf("%s:%s", module, key)
}
