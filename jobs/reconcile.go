package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/debtbook/internal/customers"
	jobmetrics "github.com/odyssey-erp/debtbook/internal/jobs"
	"github.com/odyssey-erp/debtbook/internal/ledger"
	"github.com/odyssey-erp/debtbook/internal/orders"
	"github.com/odyssey-erp/debtbook/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// CustomerSource pages through the customer directory.
type CustomerSource interface {
	Get(ctx context.Context, id int64) (customers.Customer, error)
	List(ctx context.Context, filter customers.ListFilter) ([]customers.Customer, int, error)
}

// OrderSource lists orders.
type OrderSource interface {
	List(ctx context.Context, filter orders.Filter) ([]orders.Order, error)
}

// Snapshot runs fn with sources that all read the same committed state.
type Snapshot func(ctx context.Context, fn func(context.Context, CustomerSource, OrderSource) error) error

// Drift is a customer whose stored balance differs from what their orders imply.
type Drift struct {
	CustomerID int64          `json:"customerId"`
	Stored     ledger.Balance `json:"stored"`
	Expected   ledger.Balance `json:"expected"`
}

// ReconcileReport summarises one reconciliation run.
type ReconcileReport struct {
	Customers int     `json:"customers"`
	Drifts    []Drift `json:"drifts"`
}

// LedgerReconcileJob checks that every customer's debt equals the remaining
// balance and unreturned bottles of their orders. It only reports; fixing a
// drift is an operator decision. When Snapshot is set both sides are read from
// it instead of Customers and Orders.
type LedgerReconcileJob struct {
	Customers CustomerSource
	Orders    OrderSource
	Snapshot  Snapshot
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
	clock     func() time.Time
}

// NewLedgerReconcileJob wires dependencies for the reconcile handler.
func NewLedgerReconcileJob(customerSource CustomerSource, orderSource OrderSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerReconcileJob {
	return &LedgerReconcileJob{
		Customers: customerSource,
		Orders:    orderSource,
		Logger:    logger,
		Metrics:   metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes reconcile tasks.
func (j *LedgerReconcileJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("ledger reconcile: handler not configured")
	}
	var payload LedgerReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := j.Run(ctx, payload.CustomerID)
	return err
}

// Run performs one reconciliation pass. customerID 0 scans everyone.
func (j *LedgerReconcileJob) Run(ctx context.Context, customerID int64) (report ReconcileReport, resultErr error) {
	start := j.now()
	tracker := j.metrics().Track(TaskLedgerReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int64("customer_id", customerID))
	logger.Info("starting ledger reconcile")

	scan := func(ctx context.Context, customerSrc CustomerSource, orderSrc OrderSource) error {
		report = ReconcileReport{}
		return j.scan(ctx, logger, customerSrc, orderSrc, customerID, &report)
	}
	var err error
	if j.Snapshot != nil {
		err = j.Snapshot(ctx, scan)
	} else {
		err = scan(ctx, j.Customers, j.Orders)
	}
	if err != nil {
		return ReconcileReport{}, err
	}

	logger.Info("completed ledger reconcile",
		slog.Int("customers", report.Customers),
		slog.Int("drifts", len(report.Drifts)),
		slog.Duration("duration", time.Since(start)),
	)
	return report, nil
}

func (j *LedgerReconcileJob) scan(ctx context.Context, logger *slog.Logger, customerSrc CustomerSource, orderSrc OrderSource, customerID int64, report *ReconcileReport) error {
	expected, err := expectedBalances(ctx, orderSrc, customerID)
	if err != nil {
		logger.Error("load orders", slog.Any("error", err))
		return err
	}

	err = eachCustomer(ctx, customerSrc, customerID, func(c customers.Customer) {
		report.Customers++
		want := expected[c.ID]
		if want == c.Balance {
			return
		}
		report.Drifts = append(report.Drifts, Drift{CustomerID: c.ID, Stored: c.Balance, Expected: want})
		if want.MonetaryDebt != c.MonetaryDebt {
			j.metrics().AddDrift("money", 1)
		}
		if want.SmallBottleDebt != c.SmallBottleDebt {
			j.metrics().AddDrift("small_bottles", 1)
		}
		if want.LargeBottleDebt != c.LargeBottleDebt {
			j.metrics().AddDrift("large_bottles", 1)
		}
		logger.Warn("ledger drift detected",
			slog.Int64("drift_customer_id", c.ID),
			slog.String("stored_debt", c.MonetaryDebt.String()),
			slog.String("expected_debt", want.MonetaryDebt.String()),
			slog.Int64("stored_small", c.SmallBottleDebt),
			slog.Int64("expected_small", want.SmallBottleDebt),
			slog.Int64("stored_large", c.LargeBottleDebt),
			slog.Int64("expected_large", want.LargeBottleDebt),
		)
	})
	if err != nil {
		logger.Error("scan customers", slog.Any("error", err))
		return err
	}
	return nil
}

func expectedBalances(ctx context.Context, src OrderSource, customerID int64) (map[int64]ledger.Balance, error) {
	if src == nil {
		return nil, errors.New("ledger reconcile: order source not configured")
	}
	filter := orders.Filter{IncludeArchived: true}
	if customerID > 0 {
		filter.CustomerID = &customerID
	}
	list, err := src.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("ledger reconcile: list orders: %w", err)
	}
	out := make(map[int64]ledger.Balance)
	for _, o := range list {
		b := out[o.CustomerID]
		small, large := o.OutstandingBottles()
		b.MonetaryDebt = b.MonetaryDebt.Add(o.Remaining())
		b.SmallBottleDebt += small
		b.LargeBottleDebt += large
		out[o.CustomerID] = b
	}
	return out, nil
}

func eachCustomer(ctx context.Context, src CustomerSource, customerID int64, fn func(customers.Customer)) error {
	if src == nil {
		return errors.New("ledger reconcile: customer source not configured")
	}
	if customerID > 0 {
		c, err := src.Get(ctx, customerID)
		if err != nil {
			return err
		}
		fn(c)
		return nil
	}
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, total, err := src.List(ctx, customers.ListFilter{Page: page, PerPage: shared.MaxPerPage, ByID: true})
		if err != nil {
			return fmt.Errorf("ledger reconcile: list customers: %w", err)
		}
		for _, c := range batch {
			fn(c)
		}
		if len(batch) == 0 || page*shared.MaxPerPage >= total {
			return nil
		}
	}
}

func (j *LedgerReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerReconcile))
	}
	return slog.Default().With(slog.String("job", TaskLedgerReconcile))
}

func (j *LedgerReconcileJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LedgerReconcileJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
