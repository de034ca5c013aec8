package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/semantrix/semaroute-router/internal/billing"
	"github.com/semantrix/semaroute-router/internal/budget"
	"github.com/semantrix/semaroute-router/internal/config"
	"github.com/semantrix/semaroute-router/internal/observability"
	"github.com/semantrix/semaroute-router/internal/providers"
	"github.com/semantrix/semaroute-router/internal/router"
)

// Runtime holds the components built from configuration. It is shared by
// the HTTP server and the one-shot CLI commands.
type Runtime struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Tracing *observability.Tracing
	Manager *router.Manager

	closers []func(context.Context) error
}

// Bootstrap builds the logger, telemetry, optional spend ledger and usage
// store, and a manager with every enabled provider registered.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Runtime, error) {
	logger, err := observability.NewLogger(cfg.Observability.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return BootstrapWithLogger(ctx, cfg, logger)
}

// BootstrapWithLogger is Bootstrap with a caller supplied logger.
func BootstrapWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	rt := &Runtime{Logger: logger}

	metrics, err := observability.NewMetrics(cfg.Observability.Metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	rt.Metrics = metrics
	rt.closers = append(rt.closers, metrics.Shutdown)

	tracing, err := observability.NewTracing(cfg.Observability.Tracing, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracing: %w", err)
	}
	rt.Tracing = tracing
	rt.closers = append(rt.closers, tracing.Shutdown)

	opts := []router.Option{
		router.WithLogger(logger),
		router.WithMetrics(metrics),
		router.WithTracer(tracing.GetTracer()),
	}

	governor, err := rt.newGovernor(ctx, cfg)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	opts = append(opts, router.WithGovernor(governor))

	store, err := rt.newUsageStore(ctx, cfg)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, err
	}
	if store != nil {
		opts = append(opts, router.WithUsageStore(store))
	}

	manager, err := router.NewManager(cfg.Router, opts...)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("failed to create router: %w", err)
	}
	rt.Manager = manager
	rt.closers = append(rt.closers, func(context.Context) error { return manager.Close() })

	for _, pc := range cfg.EnabledProviders() {
		p, err := providers.New(pc)
		if err != nil {
			_ = rt.Close(ctx)
			return nil, fmt.Errorf("failed to initialize provider %s: %w", pc.Name, err)
		}
		if err := manager.RegisterProvider(p); err != nil {
			_ = rt.Close(ctx)
			return nil, err
		}
		if !p.IsAvailable() {
			logger.Warn("Provider registered without usable credentials", zap.String("provider", p.Name()))
		}
	}
	metrics.RecordSpend(governor.Total())
	return rt, nil
}

// newGovernor builds the cost governor, sharing spend through Redis when
// an address is configured.
func (rt *Runtime) newGovernor(ctx context.Context, cfg *config.Config) (*budget.Governor, error) {
	opts := []budget.Option{budget.WithLogger(rt.Logger)}

	rc := cfg.Budget.Redis
	if rc.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		rt.closers = append(rt.closers, func(context.Context) error { return client.Close() })

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", rc.Addr, err)
		}
		opts = append(opts, budget.WithLedger(budget.NewRedisLedger(client, rc.Key)))
		rt.Logger.Info("Spend ledger enabled", zap.String("addr", rc.Addr), zap.String("key", rc.Key))
	}

	governor := budget.NewGovernor(cfg.Router.CostLimit, opts...)
	if err := governor.Restore(ctx); err != nil {
		return nil, err
	}
	return governor, nil
}

// newUsageStore connects the Postgres usage log when a database URL is
// configured. It returns nil otherwise.
func (rt *Runtime) newUsageStore(ctx context.Context, cfg *config.Config) (billing.Store, error) {
	if cfg.Billing.DatabaseURL == "" {
		return nil, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Billing.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create usage database pool: %w", err)
	}
	rt.closers = append(rt.closers, func(context.Context) error {
		pool.Close()
		return nil
	})

	store := billing.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	rt.Logger.Info("Usage log enabled")
	return store, nil
}

// Close releases everything Bootstrap created, newest first.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
