package usage

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-promotions/internal/domain/bundle"
	"github.com/xenking/kart-promotions/internal/domain/product"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
	"github.com/xenking/kart-promotions/internal/events"
)

// BundleRepricer refreshes the derived pricing of bundles after the current
// price of some of their constituents changed.
type BundleRepricer interface {
	RepriceContaining(ctx context.Context, productIDs []string) (bundle.RepriceReport, error)
}

// Sweeper retires ended promotions and lapsed product sales. Every step is
// idempotent, so overlapping or repeated runs are harmless.
type Sweeper struct {
	promotions promotion.Repository
	products   product.Repository
	bundles    BundleRepricer
	publisher  events.Publisher
}

// NewSweeper creates a Sweeper.
func NewSweeper(
	promotions promotion.Repository,
	products product.Repository,
	bundles BundleRepricer,
	publisher events.Publisher,
) *Sweeper {
	return &Sweeper{promotions: promotions, products: products, bundles: bundles, publisher: publisher}
}

// SweepResult reports what a sweep changed.
type SweepResult struct {
	ExpiredPromotions  []string
	ClearedSales       []string
	RepricedBundles    []string
	DeactivatedBundles []string
}

// ExpirePromotions moves active promotions whose end date is at or before now
// to expired and returns their IDs.
func (s *Sweeper) ExpirePromotions(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := s.promotions.ExpireEnded(ctx, now)
	if err != nil {
		return nil, errors.Wrap(err, "expire promotions")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	evs := make([]events.Event, 0, len(ids))
	for _, id := range ids {
		evs = append(evs, events.Event{
			ID:         uuid.NewString(),
			Type:       events.TypePromotionExpired,
			Subject:    id,
			OccurredAt: now,
		})
	}
	s.publish(ctx, evs)
	return ids, nil
}

// ExpireProductSales clears sale state whose window ended at or before now
// and reprices the bundles holding the affected products. It returns the
// cleared product IDs.
func (s *Sweeper) ExpireProductSales(ctx context.Context, now time.Time) ([]string, bundle.RepriceReport, error) {
	ids, err := s.products.ClearLapsedSales(ctx, now)
	if err != nil {
		return nil, bundle.RepriceReport{}, errors.Wrap(err, "clear lapsed sales")
	}
	if len(ids) == 0 {
		return nil, bundle.RepriceReport{}, nil
	}

	evs := make([]events.Event, 0, len(ids))
	for _, id := range ids {
		evs = append(evs, events.Event{
			ID:         uuid.NewString(),
			Type:       events.TypeProductSaleExpired,
			Subject:    id,
			OccurredAt: now,
		})
	}
	s.publish(ctx, evs)

	// The sale is gone from the catalog at this point, so a failed reprice
	// is not retried by the next sweep.
	rep, err := s.bundles.RepriceContaining(ctx, ids)
	if err != nil {
		zctx.From(ctx).Error("Reprice bundles after sale expiry failed",
			zap.Strings("product_ids", ids),
			zap.Error(err),
		)
		return ids, rep, errors.Wrap(err, "reprice bundles")
	}
	return ids, rep, nil
}

// Sweep runs both expiry steps concurrently.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ids, err := s.ExpirePromotions(gctx, now)
		if err != nil {
			return err
		}
		res.ExpiredPromotions = ids
		return nil
	})
	g.Go(func() error {
		ids, rep, err := s.ExpireProductSales(gctx, now)
		if err != nil {
			return err
		}
		res.ClearedSales = ids
		res.RepricedBundles = rep.Repriced
		res.DeactivatedBundles = rep.Deactivated
		return nil
	})
	if err := g.Wait(); err != nil {
		return SweepResult{}, err
	}

	zctx.From(ctx).Info("Sweep completed",
		zap.Int("expired_promotions", len(res.ExpiredPromotions)),
		zap.Int("cleared_sales", len(res.ClearedSales)),
		zap.Int("repriced_bundles", len(res.RepricedBundles)),
		zap.Int("deactivated_bundles", len(res.DeactivatedBundles)),
	)
	return res, nil
}

func (s *Sweeper) publish(ctx context.Context, evs []events.Event) {
	if err := s.publisher.Publish(ctx, evs...); err != nil {
		zctx.From(ctx).Warn("Failed to publish expiry events",
			zap.String("type", string(evs[0].Type)),
			zap.Int("count", len(evs)),
			zap.Error(err),
		)
	}
}
