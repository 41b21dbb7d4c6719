package settlement_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/debtbook/internal/catalog"
	"github.com/odyssey-erp/debtbook/internal/customers"
	"github.com/odyssey-erp/debtbook/internal/money"
	"github.com/odyssey-erp/debtbook/internal/orders"
	"github.com/odyssey-erp/debtbook/internal/settlement"
	"github.com/odyssey-erp/debtbook/internal/store/memory"
)

func newTestRouter(t *testing.T) (http.Handler, *settlement.Engine) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	c := customers.Customer{FullName: "Rita"}
	require.NoError(t, store.Customers().Create(ctx, &c))
	p := catalog.Product{Name: "Water", Price: money.MustParse("2.50"), CostPrice: money.MustParse("1.00")}
	require.NoError(t, store.Catalog().Create(ctx, &p))

	engine, err := settlement.NewEngine(settlement.Deps{
		Store:     store,
		Catalog:   store.Catalog(),
		Directory: store.Customers(),
		History:   store.Audit(),
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Route("/api/orders", settlement.NewHandler(nil, engine, time.UTC).MountRoutes)
	return r, engine
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerOrderLifecycle(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/orders", `{"customerId":1,"lines":[{"productId":1,"quantity":4}],"smallBottles":2}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, money.MustParse("10.00"), created.Total)
	assert.Contains(t, rec.Body.String(), `"status":"pending"`)

	rec = do(t, h, http.MethodPost, "/api/orders/1/payments", `{"amount":"4.00"}`, settlement.IdempotencyHeader, "abc")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"partiallyPaid"`)

	rec = do(t, h, http.MethodPost, "/api/orders/1/payments", `{"amount":"4.00"}`, settlement.IdempotencyHeader, "abc")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"noop":true`)

	rec = do(t, h, http.MethodGet, "/api/orders/partiallyPaid", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var partial []orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &partial))
	assert.Len(t, partial, 1)

	rec = do(t, h, http.MethodPut, "/api/orders/1/markpaid", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"paid"`)

	rec = do(t, h, http.MethodDelete, "/api/orders/1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = do(t, h, http.MethodPost, "/api/orders/1/bottles/return", `{"smallBottles":2}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/orders/1/archive", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"archivedAt"`)

	rec = do(t, h, http.MethodGet, "/api/orders/today", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":1`)
}

func TestHandlerErrors(t *testing.T) {
	h, _ := newTestRouter(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"unknown field", http.MethodPost, "/api/orders", `{"customerId":1,"bogus":true}`, http.StatusBadRequest},
		{"no lines", http.MethodPost, "/api/orders", `{"customerId":1,"lines":[]}`, http.StatusBadRequest},
		{"unknown customer", http.MethodPost, "/api/orders", `{"customerId":9,"lines":[{"productId":1,"quantity":1}]}`, http.StatusNotFound},
		{"sub cent amount", http.MethodPost, "/api/orders/1/payments", `{"amount":"1.001"}`, http.StatusBadRequest},
		{"missing order", http.MethodPut, "/api/orders/77/markpaid", "", http.StatusNotFound},
		{"bad id", http.MethodGet, "/api/orders/abc", "", http.StatusBadRequest},
		{"bad status", http.MethodGet, "/api/orders?status=void", "", http.StatusBadRequest},
		{"inverted range", http.MethodGet, "/api/orders?from=2024-02-01&to=2024-01-01", "", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}
}

func TestHandlerListsByRange(t *testing.T) {
	h, engine := newTestRouter(t)
	_, err := engine.CreateOrder(context.Background(), settlement.CreateOrderInput{
		CustomerID: 1,
		Lines:      []settlement.LineInput{{ProductID: 1, Quantity: 1}},
	})
	require.NoError(t, err)

	from := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	to := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	rec := do(t, h, http.MethodGet, "/api/orders?from="+from+"&to="+to, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got []orders.Order
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 1)

	rec = do(t, h, http.MethodGet, "/api/orders?status=paid", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHandlerOrderHistory(t *testing.T) {
	h, _ := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/orders", `{"customerId":1,"lines":[{"productId":1,"quantity":2}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = do(t, h, http.MethodPost, "/api/orders/1/payments", `{"amount":"1.00"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodDelete, "/api/orders/1", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/orders/1/history", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var entries []struct {
		Action string `json:"action"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 3)
	assert.Equal(t, "order.deleted", entries[0].Action)
	assert.Equal(t, "order.payment_applied", entries[1].Action)
	assert.Equal(t, "order.created", entries[2].Action)

	rec = do(t, h, http.MethodGet, "/api/orders/1/history?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/orders/42/history", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/orders/1/history?limit=0", "").Code)
}
