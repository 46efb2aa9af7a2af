// Package app wires the promotion engine from configuration.
package app

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-promotions/internal/domain/bundle"
	"github.com/xenking/kart-promotions/internal/domain/order"
	"github.com/xenking/kart-promotions/internal/domain/pricing"
	"github.com/xenking/kart-promotions/internal/domain/usage"
	"github.com/xenking/kart-promotions/internal/events"
	"github.com/xenking/kart-promotions/internal/flashsale"
	"github.com/xenking/kart-promotions/internal/repository"
)

const instrumentationName = "github.com/xenking/kart-promotions"

// Engine holds every wired service of the promotion engine.
type Engine struct {
	Promotions *repository.PromotionRepository
	Products   *repository.ProductRepository
	Bundles    *repository.BundleRepository
	Orders     *repository.OrderRepository

	Pricing  *pricing.Service
	Bundle   *bundle.Service
	Tracker  *usage.Tracker
	Sweeper  *usage.Sweeper
	Checkout *order.Service
	Reserver flashsale.Reserver

	closers []func() error
}

// Close releases every connection the engine opened and returns the first
// error.
func (e *Engine) Close() error {
	var first error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// New creates all dependencies. It is the single wiring point for the
// application.
func New(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) (_ *Engine, rerr error) {
	e := &Engine{}
	defer func() {
		if rerr != nil {
			_ = e.Close()
		}
	}()

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	e.closers = append(e.closers, func() error { pool.Close(); return nil })

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	// Repositories.
	e.Promotions = repository.NewPromotionRepository(pool)
	e.Products = repository.NewProductRepository(pool)
	e.Bundles = repository.NewBundleRepository(pool)
	e.Orders = repository.NewOrderRepository(pool)

	// Event publishing.
	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		w := events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		kp := events.NewKafkaPublisher(w)
		e.closers = append(e.closers, kp.Close)
		publisher = kp
		lg.Info("Publishing events to Kafka",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	// Flash-sale stock.
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		e.closers = append(e.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, errors.Wrap(err, "ping redis")
		}
		e.Reserver = flashsale.NewRedisReserver(client)
	} else {
		lg.Warn("Redis is not configured, flash-sale stock is tracked in memory")
		e.Reserver = flashsale.NewMemoryReserver()
	}

	// Domain services.
	tracker, err := usage.NewTracker(e.Promotions, publisher, m.MeterProvider().Meter(instrumentationName))
	if err != nil {
		return nil, errors.Wrap(err, "create usage tracker")
	}
	e.Tracker = tracker
	e.Bundle = bundle.NewService(e.Bundles, e.Products, publisher)
	e.Sweeper = usage.NewSweeper(e.Promotions, e.Products, e.Bundle, publisher)
	e.Pricing = pricing.NewService(e.Promotions, e.Products, e.Bundles,
		m.TracerProvider().Tracer(instrumentationName),
		pricing.Options{
			PointsPerUnit: cfg.Pricing.PointsPerUnit,
			CodeIndexTTL:  cfg.Pricing.CodeIndexTTL,
		},
	)
	if err := e.Pricing.RefreshCodeIndex(ctx); err != nil {
		return nil, errors.Wrap(err, "build promo code index")
	}
	e.Checkout = order.NewService(e.Pricing, e.Bundles, e.Reserver, e.Tracker, e.Orders)

	return e, nil
}

// RunSweep wires the engine and runs one expiry sweep bounded by the
// configured timeout.
func RunSweep(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	e, err := New(ctx, lg, m, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			lg.Warn("Close engine", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, cfg.Sweep.Timeout)
	defer cancel()

	started := time.Now()
	res, err := e.Sweeper.Sweep(ctx, started)
	if err != nil {
		return errors.Wrap(err, "sweep")
	}
	lg.Info("Sweep finished",
		zap.Strings("expired_promotions", res.ExpiredPromotions),
		zap.Strings("cleared_sales", res.ClearedSales),
		zap.Strings("repriced_bundles", res.RepricedBundles),
		zap.Strings("deactivated_bundles", res.DeactivatedBundles),
		zap.Duration("took", time.Since(started)),
	)
	return nil
}
