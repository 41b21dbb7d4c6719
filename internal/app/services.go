package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/debtbook/internal/catalog"
	"github.com/odyssey-erp/debtbook/internal/customers"
	"github.com/odyssey-erp/debtbook/internal/observability"
	"github.com/odyssey-erp/debtbook/internal/orders"
	"github.com/odyssey-erp/debtbook/internal/reporting"
	"github.com/odyssey-erp/debtbook/internal/settlement"
	"github.com/odyssey-erp/debtbook/internal/shared"
	"github.com/odyssey-erp/debtbook/internal/store/memory"
	"github.com/odyssey-erp/debtbook/internal/store/postgres"
	"github.com/odyssey-erp/debtbook/jobs"
)

// Backend bundles the storage ports of one store driver.
type Backend struct {
	Store     settlement.Store
	Catalog   catalog.Catalog
	Customers customers.Repository
	Keys      jobs.KeyJanitor
	Audit     shared.AuditReader
	// Snapshot gives reconciliation one consistent read. Nil on the memory driver.
	Snapshot jobs.Snapshot
}

// MemoryBackend exposes an in-process store.
func MemoryBackend(store *memory.Store) Backend {
	return Backend{Store: store, Catalog: store.Catalog(), Customers: store.Customers(), Keys: store, Audit: store.Audit()}
}

// PostgresBackend exposes the Postgres store.
func PostgresBackend(pool *pgxpool.Pool) Backend {
	store := postgres.New(pool)
	return Backend{
		Store:     store,
		Catalog:   store.Catalog(),
		Customers: store.Customers(),
		Keys:      store,
		Audit:     store.Audit(),
		Snapshot: func(ctx context.Context, fn func(context.Context, jobs.CustomerSource, jobs.OrderSource) error) error {
			return store.ReadSnapshot(ctx, func(ctx context.Context, c customers.Repository, o orders.Repository) error {
				return fn(ctx, c, o)
			})
		},
	}
}

// Services is the composed application shared by the server and the worker.
type Services struct {
	Engine    *settlement.Engine
	Customers *customers.Service
	Reporter  *reporting.Reporter
	Cache     *reporting.Cache
	Backend   Backend
	Location  *time.Location
	logger    *slog.Logger
}

// NewServices wires the engine, customer directory and reporter. A nil redis
// client disables report caching.
func NewServices(cfg *Config, backend Backend, redisClient *redis.Client, metrics *observability.Metrics, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loc := cfg.Location()

	var reportCache *reporting.Cache
	if redisClient != nil {
		reportCache = reporting.NewCache(redisClient, cfg.ReportCacheTTL)
	}

	deps := settlement.Deps{
		Store:     backend.Store,
		Catalog:   backend.Catalog,
		Directory: backend.Customers,
		History:   backend.Audit,
		Logger:    logger,
		Config:    cfg.Settlement(),
	}
	if reportCache != nil {
		deps.Cache = reportCache
	}
	if metrics != nil {
		deps.Metrics = metrics
	}
	engine, err := settlement.NewEngine(deps)
	if err != nil {
		return nil, fmt.Errorf("init settlement engine: %w", err)
	}

	return &Services{
		Engine:    engine,
		Customers: customers.NewService(backend.Customers, engine),
		Reporter: reporting.NewReporter(backend.Store.Orders(), backend.Customers, reportCache, reporting.Config{
			Location: loc,
			Logger:   logger,
		}),
		Cache:    reportCache,
		Backend:  backend,
		Location: loc,
		logger:   logger,
	}, nil
}

// Router builds the HTTP API over the services.
func (s *Services) Router(cfg *Config, jobHandler *jobs.Handler, metrics *observability.Metrics) http.Handler {
	return NewRouter(RouterParams{
		Logger:           s.logger,
		Config:           cfg,
		OrdersHandler:    settlement.NewHandler(s.logger, s.Engine, s.Location),
		CustomersHandler: customers.NewHandler(s.logger, s.Customers),
		DashboardHandler: reporting.NewHandler(s.logger, s.Reporter),
		JobHandler:       jobHandler,
		Metrics:          metrics,
	})
}

// WatchInvalidations follows report cache bumps published by any instance
// until ctx is cancelled, keeping the in-process version current.
func (s *Services) WatchInvalidations(ctx context.Context) error {
	if s.Cache == nil {
		return nil
	}
	return s.Cache.ListenForInvalidation(ctx, func(version int64) {
		s.logger.Debug("report cache invalidated", slog.Int64("version", version))
	})
}
