package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/debtbook/internal/customers"
	jobmetrics "github.com/odyssey-erp/debtbook/internal/jobs"
	"github.com/odyssey-erp/debtbook/internal/ledger"
	"github.com/odyssey-erp/debtbook/internal/money"
	"github.com/odyssey-erp/debtbook/internal/orders"
	"github.com/odyssey-erp/debtbook/internal/shared"
)

type fakeCustomers struct {
	list  []customers.Customer
	pages []int
	byID  bool
}

func (f *fakeCustomers) Get(_ context.Context, id int64) (customers.Customer, error) {
	for _, c := range f.list {
		if c.ID == id {
			return c, nil
		}
	}
	return customers.Customer{}, shared.ErrNotFound
}

func (f *fakeCustomers) List(_ context.Context, filter customers.ListFilter) ([]customers.Customer, int, error) {
	f.pages = append(f.pages, filter.Page)
	f.byID = filter.ByID
	start := (filter.Page - 1) * filter.PerPage
	if start >= len(f.list) {
		return nil, len(f.list), nil
	}
	end := start + filter.PerPage
	if end > len(f.list) {
		end = len(f.list)
	}
	return f.list[start:end], len(f.list), nil
}

type fakeOrders struct {
	list   []orders.Order
	filter orders.Filter
	err    error
}

func (f *fakeOrders) List(_ context.Context, filter orders.Filter) ([]orders.Order, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	var out []orders.Order
	for _, o := range f.list {
		if filter.Matches(o) {
			out = append(out, o)
		}
	}
	return out, nil
}

func order(id, customerID int64, total, paid string, small, smallReturned int64) orders.Order {
	return orders.Order{
		ID:                   id,
		CustomerID:           customerID,
		Total:                money.MustParse(total),
		AmountPaid:           money.MustParse(paid),
		SmallBottles:         small,
		SmallBottlesReturned: smallReturned,
	}
}

func customer(id int64, debt string, small int64) customers.Customer {
	return customers.Customer{ID: id, FullName: "c", Balance: ledger.Balance{MonetaryDebt: money.MustParse(debt), SmallBottleDebt: small}}
}

func newMetrics(t *testing.T) (*jobmetrics.Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return jobmetrics.NewMetrics(reg), reg
}

func TestReconcileReportsDrift(t *testing.T) {
	metrics, reg := newMetrics(t)
	archivedAt := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	archived := order(3, 2, "4.00", "4.00", 1, 1)
	archived.ArchivedAt = &archivedAt

	job := NewLedgerReconcileJob(
		&fakeCustomers{list: []customers.Customer{
			customer(1, "12.50", 2),
			customer(2, "9.00", 0),
			customer(3, "0.00", 0),
		}},
		&fakeOrders{list: []orders.Order{
			order(1, 1, "20.00", "7.50", 3, 1),
			order(2, 2, "10.00", "0.00", 0, 0),
			archived,
		}},
		nil, metrics,
	)

	report, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Customers)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, int64(2), report.Drifts[0].CustomerID)
	assert.Equal(t, money.MustParse("10.00"), report.Drifts[0].Expected.MonetaryDebt)
	assert.Equal(t, money.MustParse("9.00"), report.Drifts[0].Stored.MonetaryDebt)

	count, err := testutil.GatherAndCount(reg, "debtbook_ledger_drift_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReconcileIncludesArchivedOrdersAndPages(t *testing.T) {
	var list []customers.Customer
	for i := int64(1); i <= shared.MaxPerPage+5; i++ {
		list = append(list, customer(i, "0.00", 0))
	}
	src := &fakeCustomers{list: list}
	ords := &fakeOrders{}
	metrics, _ := newMetrics(t)

	report, err := NewLedgerReconcileJob(src, ords, nil, metrics).Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, shared.MaxPerPage+5, report.Customers)
	assert.Empty(t, report.Drifts)
	assert.Equal(t, []int{1, 2}, src.pages)
	assert.True(t, src.byID, "pages must not shift when customers are added mid-scan")
	assert.True(t, ords.filter.IncludeArchived)
}

func TestReconcileReadsOneSnapshot(t *testing.T) {
	metrics, _ := newMetrics(t)
	// The live order source already sees an order the live customer row
	// does not reflect yet.
	live := &fakeCustomers{list: []customers.Customer{customer(1, "0.00", 0)}}
	liveOrders := &fakeOrders{list: []orders.Order{order(1, 1, "5.00", "0.00", 0, 0)}}
	snapCustomers := &fakeCustomers{list: []customers.Customer{customer(1, "0.00", 0)}}
	snapOrders := &fakeOrders{}

	job := NewLedgerReconcileJob(live, liveOrders, nil, metrics)
	calls := 0
	job.Snapshot = func(ctx context.Context, fn func(context.Context, CustomerSource, OrderSource) error) error {
		calls++
		return fn(ctx, snapCustomers, snapOrders)
	}

	report, err := job.Run(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, report.Customers)
	assert.Empty(t, report.Drifts)
	assert.Empty(t, live.pages)
	assert.Equal(t, []int{1}, snapCustomers.pages)

	boom := errors.New("snapshot unavailable")
	job.Snapshot = func(context.Context, func(context.Context, CustomerSource, OrderSource) error) error { return boom }
	_, err = job.Run(context.Background(), 0)
	assert.ErrorIs(t, err, boom)
}

func TestReconcileSingleCustomer(t *testing.T) {
	metrics, _ := newMetrics(t)
	ords := &fakeOrders{list: []orders.Order{order(1, 1, "5.00", "0.00", 0, 0)}}
	job := NewLedgerReconcileJob(&fakeCustomers{list: []customers.Customer{customer(1, "0.00", 0)}}, ords, nil, metrics)

	task, err := NewLedgerReconcileTask(1)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.NotNil(t, ords.filter.CustomerID)
	assert.Equal(t, int64(1), *ords.filter.CustomerID)

	_, err = job.Run(context.Background(), 99)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestReconcileRejectsBadPayload(t *testing.T) {
	job := NewLedgerReconcileJob(&fakeCustomers{}, &fakeOrders{}, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerReconcile, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestReconcileCountsFailures(t *testing.T) {
	metrics, reg := newMetrics(t)
	job := NewLedgerReconcileJob(&fakeCustomers{}, &fakeOrders{err: errors.New("boom")}, nil, metrics)
	_, err := job.Run(context.Background(), 0)
	require.Error(t, err)

	count, err := testutil.GatherAndCount(reg, "debtbook_jobs_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

type fakeWarmer struct {
	calls int
	err   error
}

func (f *fakeWarmer) Warm(context.Context) error {
	f.calls++
	return f.err
}

func TestReportsWarmup(t *testing.T) {
	metrics, _ := newMetrics(t)
	w := &fakeWarmer{}
	task, err := NewReportsWarmupTask()
	require.NoError(t, err)
	require.NoError(t, NewReportsWarmupJob(w, nil, metrics).Handle(context.Background(), task))
	assert.Equal(t, 1, w.calls)

	w.err = errors.New("redis down")
	assert.Error(t, NewReportsWarmupJob(w, nil, metrics).Handle(context.Background(), task))
	assert.Error(t, NewReportsWarmupJob(nil, nil, metrics).Handle(context.Background(), task))
}

type fakeJanitor struct {
	retention time.Duration
	purged    int64
}

func (f *fakeJanitor) CleanupKeys(_ context.Context, olderThan time.Duration) (int64, error) {
	f.retention = olderThan
	return f.purged, nil
}

func TestIdempotencyCleanup(t *testing.T) {
	metrics, reg := newMetrics(t)
	keys := &fakeJanitor{purged: 4}
	job := NewIdempotencyCleanupJob(keys, nil, metrics)

	task, err := NewIdempotencyCleanupTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 48*time.Hour, keys.retention)
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP debtbook_idempotency_keys_purged_total Idempotency keys removed by the cleanup job.
# TYPE debtbook_idempotency_keys_purged_total counter
debtbook_idempotency_keys_purged_total 4
`), "debtbook_idempotency_keys_purged_total"))

	task, err = TaskByName(TaskIdempotencyCleanup)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	assert.Equal(t, 7*24*time.Hour, keys.retention)
}

func TestTaskByName(t *testing.T) {
	for _, name := range TaskNames {
		task, err := TaskByName(name)
		require.NoError(t, err)
		assert.Equal(t, name, task.Type())
	}
	_, err := TaskByName("nope")
	assert.Error(t, err)
}

type fakeInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (f fakeInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return f.info, f.err }

func TestHealthEndpoint(t *testing.T) {
	cases := []struct {
		name      string
		inspector QueueInspector
		status    int
		body      string
	}{
		{"no inspector", nil, http.StatusOK, `"pending":0`},
		{"queue info", fakeInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3}}, http.StatusOK, `"pending":3`},
		{"redis down", fakeInspector{err: errors.New("dial")}, http.StatusServiceUnavailable, "queue unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			NewHandler(tc.inspector, nil).MountRoutes(r)
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tc.status, rr.Code)
			assert.Contains(t, rr.Body.String(), tc.body)
		})
	}
}
