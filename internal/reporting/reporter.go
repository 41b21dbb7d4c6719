// Package reporting derives dashboard rollups from the order collection.
// Nothing here mutates state.
package reporting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/debtbook/internal/customers"
	"github.com/odyssey-erp/debtbook/internal/orders"
)

// OrderSource is the read side of the order store.
type OrderSource interface {
	List(ctx context.Context, filter orders.Filter) ([]orders.Order, error)
	ProductOrderCounts(ctx context.Context, limit int) ([]orders.ProductOrderCount, error)
}

// DebtSource aggregates customer balances.
type DebtSource interface {
	DebtSummary(ctx context.Context) (customers.DebtSummary, error)
}

// Config tunes a Reporter.
type Config struct {
	Location *time.Location
	Clock    func() time.Time
	Logger   *slog.Logger
}

// Reporter computes reports, caching them when a Cache is configured.
type Reporter struct {
	orders   OrderSource
	debts    DebtSource
	cache    *Cache
	group    singleflight.Group
	location *time.Location
	clock    func() time.Time
	logger   *slog.Logger
}

// NewReporter wires a Reporter. cache may be nil.
func NewReporter(orderSource OrderSource, debts DebtSource, cache *Cache, cfg Config) *Reporter {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Reporter{
		orders:   orderSource,
		debts:    debts,
		cache:    cache,
		location: cfg.Location,
		clock:    cfg.Clock,
		logger:   cfg.Logger.With(slog.String("component", "reporting")),
	}
}

// Report rolls up every order created within w, archived orders included.
func (r *Reporter) Report(ctx context.Context, w Window) (Report, error) {
	now := r.clock()
	day := now.In(r.location).Format(time.DateOnly)
	var out Report
	err := r.cached(ctx, &out, func(ctx context.Context) (any, error) {
		return r.compute(ctx, w, now)
	}, "debtbook", "report", string(w), day)
	return out, err
}

// AllWindows computes every window concurrently.
func (r *Reporter) AllWindows(ctx context.Context) (map[Window]Report, error) {
	results := make([]Report, len(Windows))
	g, gctx := errgroup.WithContext(ctx)
	for i, w := range Windows {
		g.Go(func() error {
			rep, err := r.Report(gctx, w)
			if err != nil {
				return fmt.Errorf("reporting: %s: %w", w, err)
			}
			results[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[Window]Report, len(Windows))
	for i, w := range Windows {
		out[w] = results[i]
	}
	return out, nil
}

// DebtSummary totals what customers owe.
func (r *Reporter) DebtSummary(ctx context.Context) (customers.DebtSummary, error) {
	var out customers.DebtSummary
	err := r.cached(ctx, &out, func(ctx context.Context) (any, error) {
		return r.debts.DebtSummary(ctx)
	}, "debtbook", "debts")
	return out, err
}

// TopProducts ranks products by the number of orders containing them.
func (r *Reporter) TopProducts(ctx context.Context, limit int) ([]orders.ProductOrderCount, error) {
	if limit <= 0 {
		limit = 5
	}
	var out []orders.ProductOrderCount
	err := r.cached(ctx, &out, func(ctx context.Context) (any, error) {
		counts, err := r.orders.ProductOrderCounts(ctx, limit)
		if counts == nil {
			counts = []orders.ProductOrderCount{}
		}
		return counts, err
	}, "debtbook", "top-products", strconv.Itoa(limit))
	return out, err
}

// Warm precomputes every cached view.
func (r *Reporter) Warm(ctx context.Context) error {
	if _, err := r.AllWindows(ctx); err != nil {
		return err
	}
	if _, err := r.DebtSummary(ctx); err != nil {
		return err
	}
	_, err := r.TopProducts(ctx, 5)
	return err
}

func (r *Reporter) compute(ctx context.Context, w Window, now time.Time) (Report, error) {
	from, to := w.Range(now, r.location)
	list, err := r.orders.List(ctx, orders.Filter{From: from, To: to, IncludeArchived: true})
	if err != nil {
		return Report{}, fmt.Errorf("reporting: list orders: %w", err)
	}
	return Summarize(w, list)
}

// cached serves dest from the cache, collapsing concurrent misses for the
// same key. An unreachable cache degrades to direct computation.
func (r *Reporter) cached(ctx context.Context, dest any, loader func(context.Context) (any, error), parts ...string) error {
	key, err := r.cache.BuildKey(ctx, parts...)
	if err != nil {
		r.logger.Warn("report cache unavailable", slog.Any("error", err))
		var direct *Cache
		return direct.FetchJSON(ctx, "", dest, loader)
	}
	v, err, _ := r.group.Do(key, func() (any, error) {
		var raw json.RawMessage
		err := r.cache.FetchJSON(ctx, key, &raw, loader)
		return raw, err
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(v.(json.RawMessage), dest)
}
