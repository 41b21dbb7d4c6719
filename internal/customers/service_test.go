package customers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/debtbook/internal/customers"
	"github.com/odyssey-erp/debtbook/internal/ledger"
	"github.com/odyssey-erp/debtbook/internal/money"
	"github.com/odyssey-erp/debtbook/internal/orders"
	"github.com/odyssey-erp/debtbook/internal/shared"
	"github.com/odyssey-erp/debtbook/internal/store/memory"
)

type orderLister struct{ repo orders.Repository }

func (l orderLister) ListOrders(ctx context.Context, f orders.Filter) ([]orders.Order, error) {
	return l.repo.List(ctx, f)
}

func newService(t *testing.T) (*customers.Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	return customers.NewService(store.Customers(), orderLister{store.Orders()}), store
}

func TestCreateAndBalance(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	c, err := svc.Create(ctx, customers.CreateInput{FullName: "  Joana Reis ", PhoneNumber: "555-0101"})
	require.NoError(t, err)
	assert.Equal(t, "Joana Reis", c.FullName)

	_, err = svc.Create(ctx, customers.CreateInput{FullName: "   "})
	assert.ErrorIs(t, err, shared.ErrValidation)

	require.NoError(t, store.Accounts().StoreAccount(ctx, ledger.Account{
		CustomerID: c.ID,
		Balance:    ledger.Balance{MonetaryDebt: money.MustParse("12.40"), LargeBottleDebt: 2},
	}))
	b, err := svc.Balance(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, money.MustParse("12.40"), b.MonetaryDebt)
	assert.EqualValues(t, 2, b.LargeBottleDebt)

	_, err = svc.Balance(ctx, 42)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCustomerOrders(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	c, err := svc.Create(ctx, customers.CreateInput{FullName: "Paulo"})
	require.NoError(t, err)
	other, err := svc.Create(ctx, customers.CreateInput{FullName: "Rui"})
	require.NoError(t, err)

	for _, id := range []int64{c.ID, c.ID, other.ID} {
		lines := []orders.Line{{ProductID: 1, Quantity: 1, UnitPrice: money.FromMajor(3)}}
		require.NoError(t, store.Orders().Create(ctx, &orders.Order{CustomerID: id, Lines: lines, Total: orders.Total(lines)}))
	}

	got, err := svc.Orders(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = svc.Orders(ctx, 99)
	assert.ErrorIs(t, err, customers.ErrNotFound)
}

func TestHandlerListing(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	for _, name := range []string{"Ana", "Beatriz", "Carla"} {
		_, err := svc.Create(ctx, customers.CreateInput{FullName: name})
		require.NoError(t, err)
	}
	require.NoError(t, store.Accounts().StoreAccount(ctx, ledger.Account{
		CustomerID: 3,
		Balance:    ledger.Balance{MonetaryDebt: money.FromMajor(1)},
	}))

	r := chi.NewRouter()
	r.Route("/api/customers", customers.NewHandler(nil, svc).MountRoutes)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/api/customers?limit=2&page=1")
	require.Equal(t, http.StatusOK, rec.Code)
	var page customers.Page
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Customers, 2)
	assert.Equal(t, 3, page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.TotalPages)

	rec = get("/api/customers?debtFilter=hasDebt")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Customers, 1)
	assert.Equal(t, "Carla", page.Customers[0].FullName)

	assert.Equal(t, http.StatusBadRequest, get("/api/customers?debtFilter=rich").Code)
	assert.Equal(t, http.StatusNotFound, get("/api/customers/9/balance").Code)

	rec = get("/api/customers/3/balance")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"monetaryDebt":"1.00","smallBottleDebt":0,"largeBottleDebt":0}`, rec.Body.String())

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/customers", strings.NewReader(`{"fullName":"Duarte"}`)))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestDebtFilter(t *testing.T) {
	f, err := customers.ParseDebtFilter("noDebt")
	require.NoError(t, err)
	assert.True(t, f.Matches(ledger.Balance{MonetaryDebt: money.FromMajor(-2)}), "credit is not debt")
	assert.False(t, f.Matches(ledger.Balance{SmallBottleDebt: 1}))

	_, err = customers.ParseDebtFilter("all")
	assert.ErrorIs(t, err, shared.ErrValidation)

	assert.True(t, customers.ListFilter{Search: "ANA"}.MatchesName("Mariana"))
}
