package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/debtbook/internal/catalog"
	"github.com/odyssey-erp/debtbook/internal/customers"
	"github.com/odyssey-erp/debtbook/internal/ledger"
	"github.com/odyssey-erp/debtbook/internal/money"
	"github.com/odyssey-erp/debtbook/internal/orders"
	"github.com/odyssey-erp/debtbook/internal/settlement"
	"github.com/odyssey-erp/debtbook/internal/shared"
)

func seed(t *testing.T) (*Store, customers.Customer) {
	t.Helper()
	s := New()
	c := customers.Customer{FullName: "Ana"}
	require.NoError(t, s.Customers().Create(context.Background(), &c))
	return s, c
}

func newOrder(customerID int64) *orders.Order {
	lines := []orders.Line{{ProductID: 1, Quantity: 2, UnitPrice: money.FromMajor(5)}}
	return &orders.Order{CustomerID: customerID, Lines: lines, Total: orders.Total(lines)}
}

func TestCommitPublishesOverlay(t *testing.T) {
	ctx := context.Background()
	s, c := seed(t)

	var id int64
	err := s.WithTx(ctx, func(ctx context.Context, tx settlement.Tx) error {
		o := newOrder(c.ID)
		require.NoError(t, tx.Orders().Create(ctx, o))
		id = o.ID

		_, err := s.Orders().Get(ctx, id)
		assert.ErrorIs(t, err, orders.ErrNotFound, "uncommitted order must not leak")

		got, err := tx.Orders().Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "Ana", got.CustomerName)

		require.NoError(t, tx.Accounts().StoreAccount(ctx, ledger.Account{CustomerID: c.ID, Balance: ledger.Balance{MonetaryDebt: o.Total}}))
		locked, err := tx.Accounts().LoadAccount(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, o.Total, locked.MonetaryDebt)
		committed, err := tx.Accounts().ReadAccount(ctx, c.ID)
		require.NoError(t, err)
		assert.True(t, committed.MonetaryDebt.IsZero(), "read must see committed state only")
		return nil
	})
	require.NoError(t, err)

	o, err := s.Orders().Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, money.FromMajor(10), o.Total)
	acct, err := s.Accounts().LoadAccount(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, money.FromMajor(10), acct.MonetaryDebt)
}

func TestRollbackDiscardsEverything(t *testing.T) {
	ctx := context.Background()
	s, c := seed(t)
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(ctx context.Context, tx settlement.Tx) error {
		require.NoError(t, tx.Orders().Create(ctx, newOrder(c.ID)))
		require.NoError(t, tx.ClaimKey(ctx, "k1", "test"))
		require.NoError(t, tx.Audit(ctx, shared.AuditLog{Action: "a", Entity: "order", EntityID: "1"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	list, err := s.Orders().List(ctx, orders.Filter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, s.AuditLogs())

	err = s.WithTx(ctx, func(ctx context.Context, tx settlement.Tx) error {
		return tx.ClaimKey(ctx, "k1", "test")
	})
	assert.NoError(t, err, "rolled back key must be claimable again")
}

func TestClaimKeyConflicts(t *testing.T) {
	ctx := context.Background()
	s, _ := seed(t)
	claim := func() error {
		return s.WithTx(ctx, func(ctx context.Context, tx settlement.Tx) error {
			return tx.ClaimKey(ctx, "pay-1", "orders.payment")
		})
	}
	require.NoError(t, claim())
	assert.ErrorIs(t, claim(), shared.ErrIdempotencyConflict)

	s.SetClock(func() time.Time { return time.Now().Add(48 * time.Hour) })
	n, err := s.CleanupKeys(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.NoError(t, claim())
}

func TestFailNextRollsBack(t *testing.T) {
	ctx := context.Background()
	s, c := seed(t)
	injected := errors.New("serialization failure")
	s.FailNext(1, injected)

	err := s.WithTx(ctx, func(ctx context.Context, tx settlement.Tx) error {
		return tx.Orders().Create(ctx, newOrder(c.ID))
	})
	require.ErrorIs(t, err, injected)

	err = s.WithTx(ctx, func(ctx context.Context, tx settlement.Tx) error {
		return tx.Orders().Create(ctx, newOrder(c.ID))
	})
	require.NoError(t, err)
	list, err := s.Orders().List(ctx, orders.Filter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestDeleteAndSaveInsideTx(t *testing.T) {
	ctx := context.Background()
	s, c := seed(t)
	o := newOrder(c.ID)
	require.NoError(t, s.Orders().Create(ctx, o))

	err := s.WithTx(ctx, func(ctx context.Context, tx settlement.Tx) error {
		staged := *o
		staged.AmountPaid = money.FromMajor(4)
		staged.Total = money.FromMajor(999)
		require.NoError(t, tx.Orders().Save(ctx, staged))
		got, err := tx.Orders().Get(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, money.FromMajor(10), got.Total, "save only touches mutable fields")
		assert.Equal(t, orders.StatusPartiallyPaid, got.Status())

		require.NoError(t, tx.Orders().Delete(ctx, o.ID))
		_, err = tx.Orders().Get(ctx, o.ID)
		assert.ErrorIs(t, err, orders.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
	_, err = s.Orders().Get(ctx, o.ID)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestListOrderingAndProductCounts(t *testing.T) {
	ctx := context.Background()
	s, c := seed(t)
	require.NoError(t, s.Catalog().Create(ctx, &catalog.Product{Name: "Water 5L", Price: money.FromMajor(5)}))
	require.NoError(t, s.Catalog().Create(ctx, &catalog.Product{Name: "Soda", Price: money.FromMajor(2)}))

	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, products := range [][]int64{{1}, {1, 2}, {2, 1, 1}} {
		o := &orders.Order{CustomerID: c.ID, CreatedAt: base.Add(time.Duration(i) * time.Hour)}
		for _, p := range products {
			o.Lines = append(o.Lines, orders.Line{ProductID: p, Quantity: 1, UnitPrice: money.FromMajor(1)})
		}
		o.Total = orders.Total(o.Lines)
		require.NoError(t, s.Orders().Create(ctx, o))
	}

	list, err := s.Orders().List(ctx, orders.Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.EqualValues(t, 3, list[0].ID, "newest first")

	counts, err := s.Orders().ProductOrderCounts(ctx, 5)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, orders.ProductOrderCount{ProductID: 1, ProductName: "Water 5L", Orders: 3, Quantity: 4}, counts[0])
	assert.EqualValues(t, 2, counts[1].Orders)
}

func TestCustomerListing(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, name := range []string{"Ana Silva", "Bruno", "Anabela"} {
		c := customers.Customer{FullName: name}
		require.NoError(t, s.Customers().Create(ctx, &c))
	}
	require.NoError(t, s.Accounts().StoreAccount(ctx, ledger.Account{CustomerID: 2, Balance: ledger.Balance{SmallBottleDebt: 1}}))

	got, total, err := s.Customers().List(ctx, customers.ListFilter{Search: "ana"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, got, 2)

	got, total, err = s.Customers().List(ctx, customers.ListFilter{DebtFilter: customers.DebtFilterHasDebt})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Bruno", got[0].FullName)

	got, total, err = s.Customers().List(ctx, customers.ListFilter{Page: 2, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, got, 1)

	got, _, err = s.Customers().List(ctx, customers.ListFilter{Page: 1, PerPage: 2, ByID: true})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []int64{1, 2}, []int64{got[0].ID, got[1].ID})

	sum, err := s.Customers().DebtSummary(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, sum.CustomersWithDebt)
	assert.EqualValues(t, 1, sum.SmallBottleDebt)

	_, err = s.Accounts().LoadAccount(ctx, 99)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestAuditReaderNewestFirst(t *testing.T) {
	ctx := context.Background()
	s, _ := seed(t)
	for _, action := range []string{"order.created", "order.payment_applied"} {
		err := s.WithTx(ctx, func(ctx context.Context, tx settlement.Tx) error {
			return tx.Audit(ctx, shared.AuditLog{Action: action, Entity: "order", EntityID: "7"})
		})
		require.NoError(t, err)
	}
	require.NoError(t, s.WithTx(ctx, func(ctx context.Context, tx settlement.Tx) error {
		return tx.Audit(ctx, shared.AuditLog{Action: "order.created", Entity: "order", EntityID: "8"})
	}))

	entries, err := s.Audit().List(ctx, "order", "7", 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "order.payment_applied", entries[0].Action)
	assert.False(t, entries[0].At.IsZero())

	entries, err = s.Audit().List(ctx, "order", "7", 1)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
