package usage

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/kart-promotions/internal/domain/bundle"
	"github.com/xenking/kart-promotions/internal/domain/product"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
	"github.com/xenking/kart-promotions/internal/events"
	"github.com/xenking/kart-promotions/internal/storage/memory"
)

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T {
	return &v
}

type fixture struct {
	promos    *memory.PromotionRepository
	products  *memory.ProductRepository
	bundles   *memory.BundleRepository
	publisher *events.Recorder
	tracker   *Tracker
	sweeper   *Sweeper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		promos:    memory.NewPromotionRepository(),
		products:  memory.NewProductRepository(),
		bundles:   memory.NewBundleRepository(),
		publisher: &events.Recorder{},
	}
	tracker, err := NewTracker(f.promos, f.publisher, noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	tracker.now = func() time.Time { return testNow }
	f.tracker = tracker
	f.sweeper = NewSweeper(f.promos, f.products, bundle.NewService(f.bundles, f.products, f.publisher), f.publisher)
	return f
}

func (f *fixture) save(t *testing.T, id string, mutate func(*promotion.Promotion)) {
	t.Helper()
	p := promotion.New(id, "promo "+id, promotion.PercentageOff{Percentage: decimal.NewFromInt(10)}, testNow.Add(-time.Hour))
	if mutate != nil {
		mutate(p)
	}
	require.NoError(t, f.promos.Save(context.Background(), p))
}

func TestTracker_RecordRedemption(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.save(t, "p1", func(p *promotion.Promotion) { p.MaxUsage = ptr(1) })

	require.NoError(t, f.tracker.RecordRedemption(ctx, promotion.Redemption{
		PromotionID: "p1", OrderID: "o1", UserID: "u1", Discount: decimal.RequireFromString("4.50"),
	}))

	err := f.tracker.RecordRedemption(ctx, promotion.Redemption{PromotionID: "p1", OrderID: "o2", UserID: "u2"})
	require.ErrorIs(t, err, promotion.ErrUnavailable)
	var unavailable *promotion.UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, promotion.ReasonUsageLimit, unavailable.Reason)

	redeemed := f.publisher.OfType(events.TypePromotionRedeemed)
	require.Len(t, redeemed, 1)
	assert.Equal(t, "p1", redeemed[0].Subject)
	assert.Equal(t, "o1", redeemed[0].OrderID)
	assert.NotEmpty(t, redeemed[0].ID)
	assert.Equal(t, testNow, redeemed[0].OccurredAt)
	assert.Equal(t, "4.50", redeemed[0].Amount.StringFixed(2))

	err = f.tracker.RecordRedemption(ctx, promotion.Redemption{PromotionID: "missing", OrderID: "o3"})
	require.ErrorIs(t, err, promotion.ErrNotFound)
}

func TestTracker_ConcurrentRedemptionsRespectCap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.save(t, "p1", func(p *promotion.Promotion) { p.MaxUsage = ptr(7) })

	var (
		wg       sync.WaitGroup
		accepted atomic.Int64
		rejected atomic.Int64
	)
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.tracker.RecordRedemption(ctx, promotion.Redemption{
				PromotionID: "p1",
				OrderID:     "order-" + strconv.Itoa(i),
			})
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, promotion.ErrUnavailable):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := f.promos.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 7, got.CurrentUsage)
	assert.Equal(t, int64(7), accepted.Load())
	assert.Equal(t, int64(33), rejected.Load())
}

func TestTracker_ReleaseRedemption(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.save(t, "p1", func(p *promotion.Promotion) { p.MaxUsage = ptr(1) })

	require.NoError(t, f.tracker.RecordRedemption(ctx, promotion.Redemption{PromotionID: "p1", OrderID: "o1"}))
	require.NoError(t, f.tracker.ReleaseRedemption(ctx, "p1", "o1"))

	// the released slot can be used again
	require.NoError(t, f.tracker.RecordRedemption(ctx, promotion.Redemption{PromotionID: "p1", OrderID: "o2"}))
	assert.Len(t, f.publisher.OfType(events.TypePromotionReleased), 1)
}

func TestTracker_PublishFailureDoesNotFailRedemption(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.save(t, "p1", nil)
	f.publisher.FailWith(errors.New("broker down"))

	require.NoError(t, f.tracker.RecordRedemption(ctx, promotion.Redemption{PromotionID: "p1", OrderID: "o1"}))

	got, err := f.promos.GetByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.CurrentUsage)
}

func TestSweeper_Sweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ended := testNow.Add(-time.Hour)
	future := testNow.Add(time.Hour)
	f.save(t, "ended", func(p *promotion.Promotion) { p.EndDate = &ended })
	f.save(t, "running", func(p *promotion.Promotion) { p.EndDate = &future })
	require.NoError(t, f.products.Save(ctx, &product.Product{
		ID:    "x",
		Price: decimal.NewFromInt(10),
		Sale:  &product.Sale{SalePrice: decimal.NewFromInt(7), EndsAt: &ended},
	}))

	res, err := f.sweeper.Sweep(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"ended"}, res.ExpiredPromotions)
	assert.Equal(t, []string{"x"}, res.ClearedSales)

	expired := f.publisher.OfType(events.TypePromotionExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, "ended", expired[0].Subject)
	sales := f.publisher.OfType(events.TypeProductSaleExpired)
	require.Len(t, sales, 1)
	assert.Equal(t, "x", sales[0].Subject)

	again, err := f.sweeper.Sweep(ctx, testNow)
	require.NoError(t, err)
	assert.Empty(t, again.ExpiredPromotions)
	assert.Empty(t, again.ClearedSales)
	assert.Len(t, f.publisher.Events(), 2, "a repeated sweep publishes nothing")
}

type failingPromotions struct {
	promotion.Repository
}

func (failingPromotions) ExpireEnded(context.Context, time.Time) ([]string, error) {
	return nil, errors.New("db down")
}

func TestSweeper_SweepRepricesBundlesOfLapsedSales(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ended := testNow.Add(-time.Hour)
	a := &product.Product{ID: "a", Price: decimal.NewFromInt(50), CountInStock: 5}
	require.NoError(t, a.SetSale(decimal.NewFromInt(40), nil, &ended))
	require.NoError(t, f.products.Save(ctx, a))
	require.NoError(t, f.products.Save(ctx, &product.Product{ID: "b", Price: decimal.NewFromInt(70), CountInStock: 5}))
	require.NoError(t, f.products.Save(ctx, &product.Product{ID: "c", Price: decimal.NewFromInt(30), CountInStock: 5}))

	// Priced while a was still on sale.
	bundles := []bundle.Bundle{
		{ID: "ab", Items: []bundle.Item{{ProductID: "a", Quantity: 1}, {ProductID: "b", Quantity: 1}},
			OriginalPrice: decimal.NewFromInt(110), BundlePrice: decimal.NewFromInt(90), DiscountPercentage: 18, IsActive: true},
		{ID: "retired", Items: []bundle.Item{{ProductID: "a", Quantity: 1}},
			OriginalPrice: decimal.NewFromInt(40), BundlePrice: decimal.NewFromInt(35), DiscountPercentage: 13},
		{ID: "unrelated", Items: []bundle.Item{{ProductID: "c", Quantity: 2}},
			OriginalPrice: decimal.NewFromInt(60), BundlePrice: decimal.NewFromInt(50), DiscountPercentage: 17, IsActive: true},
	}
	for i := range bundles {
		require.NoError(t, f.bundles.Save(ctx, &bundles[i]))
	}

	res, err := f.sweeper.Sweep(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, res.ClearedSales)
	assert.Equal(t, []string{"ab"}, res.RepricedBundles)
	assert.Empty(t, res.DeactivatedBundles)

	tests := []struct {
		id       string
		original int64
		pct      int
	}{
		{id: "ab", original: 120, pct: 25},
		{id: "retired", original: 40, pct: 13},
		{id: "unrelated", original: 60, pct: 17},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got, err := f.bundles.GetByID(ctx, tt.id)
			require.NoError(t, err)
			assert.True(t, decimal.NewFromInt(tt.original).Equal(got.OriginalPrice), "original price %s", got.OriginalPrice)
			assert.Equal(t, tt.pct, got.DiscountPercentage)
		})
	}

	repriced := f.publisher.OfType(events.TypeBundleRepriced)
	require.Len(t, repriced, 1)
	assert.Equal(t, "ab", repriced[0].Subject)
}

type failingRepricer struct{}

func (failingRepricer) RepriceContaining(context.Context, []string) (bundle.RepriceReport, error) {
	return bundle.RepriceReport{}, errors.New("db down")
}

func TestSweeper_SweepPropagatesErrors(t *testing.T) {
	t.Run("promotions", func(t *testing.T) {
		s := NewSweeper(failingPromotions{}, memory.NewProductRepository(), failingRepricer{}, events.Nop{})
		_, err := s.Sweep(context.Background(), testNow)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expire promotions")
	})

	t.Run("bundle repricing", func(t *testing.T) {
		ended := testNow.Add(-time.Hour)
		products := memory.NewProductRepository(product.Product{
			ID:    "a",
			Price: decimal.NewFromInt(10),
			Sale:  &product.Sale{SalePrice: decimal.NewFromInt(8), EndsAt: &ended},
		})
		s := NewSweeper(memory.NewPromotionRepository(), products, failingRepricer{}, events.Nop{})
		_, err := s.Sweep(context.Background(), testNow)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reprice bundles")
	})
}
