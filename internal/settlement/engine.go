// Package settlement owns every mutation of orders and customer debt. Each
// operation runs as one unit of work under the customer's lock so the order
// and the ledger never disagree.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/debtbook/internal/catalog"
	"github.com/odyssey-erp/debtbook/internal/customers"
	"github.com/odyssey-erp/debtbook/internal/ledger"
	"github.com/odyssey-erp/debtbook/internal/platform/db"
	"github.com/odyssey-erp/debtbook/internal/shared"
)

const idempotencyModule = "orders.payment"

// Config tunes engine behaviour.
type Config struct {
	OverpayPolicy    OverpayPolicy
	SettlementPolicy ledger.Policy
	AllowPaidDelete  bool
	Timeout          time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.OverpayPolicy == "" {
		c.OverpayPolicy = OverpayClamp
	}
	if c.SettlementPolicy == "" {
		c.SettlementPolicy = ledger.PolicyReject
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 25 * time.Millisecond
	}
	return c
}

// Invalidator is notified after each committed mutation so derived reports
// can be recomputed.
type Invalidator interface {
	Bump(ctx context.Context) error
}

// Recorder receives per-operation outcomes for metrics.
type Recorder interface {
	ObserveSettlement(operation, outcome string, duration time.Duration)
}

// Deps collects the collaborators of an Engine.
type Deps struct {
	Store     Store
	Catalog   catalog.Catalog
	Directory customers.Directory
	Cache     Invalidator
	Metrics   Recorder
	History   shared.AuditReader
	Logger    *slog.Logger
	Config    Config
	Clock     func() time.Time
}

// Engine applies order lifecycle operations.
type Engine struct {
	store     Store
	catalog   catalog.Catalog
	directory customers.Directory
	ledger    *ledger.Ledger
	locks     *shared.KeyedMutex
	cache     Invalidator
	metrics   Recorder
	history   shared.AuditReader
	logger    *slog.Logger
	validate  *validator.Validate
	cfg       Config
	clock     func() time.Time
}

// NewEngine wires an Engine.
func NewEngine(deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, errors.New("settlement: store required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("settlement: catalog required")
	}
	if deps.Directory == nil {
		return nil, errors.New("settlement: customer directory required")
	}
	cfg := deps.Config.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		store:     deps.Store,
		catalog:   deps.Catalog,
		directory: deps.Directory,
		ledger:    ledger.New(deps.Store.Accounts(), cfg.SettlementPolicy, nil),
		locks:     shared.NewKeyedMutex(),
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		history:   deps.History,
		logger:    logger.With(slog.String("component", "settlement")),
		validate:  validator.New(),
		cfg:       cfg,
		clock:     clock,
	}, nil
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) now() time.Time { return e.clock() }

// run executes fn as one unit of work while holding the customer's lock.
// Transient failures are retried; fn must rebuild its results on every call.
func (e *Engine) run(ctx context.Context, op string, customerID int64, fn func(ctx context.Context, tx Tx) error) (err error) {
	start := time.Now()
	defer func() { e.observe(op, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	unlock, err := e.locks.Lock(ctx, shared.CustomerLockKey(customerID))
	if err != nil {
		return fmt.Errorf("%w: %s: waiting for customer %d: %v", ErrTransient, op, customerID, err)
	}
	defer unlock()

	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %s: %v", ErrTransient, op, lastErr)
			case <-time.After(time.Duration(attempt) * e.cfg.RetryBackoff):
			}
		}
		lastErr = e.store.WithTx(ctx, fn)
		if lastErr == nil {
			e.invalidate(ctx)
			return nil
		}
		if errors.Is(lastErr, shared.ErrConsistency) {
			e.logger.Error("consistency violation, unit of work aborted",
				slog.String("operation", op), slog.Int64("customer_id", customerID), slog.Any("error", lastErr))
			return lastErr
		}
		if !db.IsTransient(lastErr) {
			return lastErr
		}
		e.logger.Warn("transient settlement failure",
			slog.String("operation", op), slog.Int("attempt", attempt+1), slog.Any("error", lastErr))
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrTransient, op, lastErr)
}

func (e *Engine) invalidate(ctx context.Context) {
	if e.cache == nil {
		return
	}
	bumpCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := e.cache.Bump(bumpCtx); err != nil {
		e.logger.Warn("report cache bump", slog.Any("error", err))
	}
}

func (e *Engine) observe(op string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, shared.ErrValidation):
		outcome = "invalid"
	case errors.Is(err, shared.ErrNotFound):
		outcome = "not_found"
	case errors.Is(err, shared.ErrConflict):
		outcome = "conflict"
	case errors.Is(err, shared.ErrTransient):
		outcome = "transient"
	case errors.Is(err, shared.ErrConsistency):
		outcome = "consistency"
	default:
		outcome = "error"
	}
	e.metrics.ObserveSettlement(op, outcome, time.Since(start))
}
