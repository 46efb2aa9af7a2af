package bundle

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/kart-promotions/internal/domain/product"
	"github.com/xenking/kart-promotions/internal/events"
)

// Service keeps bundle pricing consistent with its constituents.
type Service struct {
	bundles  Repository
	products product.Repository
	events   events.Publisher
	now      func() time.Time
}

// NewService creates a bundle Service.
func NewService(bundles Repository, products product.Repository, publisher events.Publisher) *Service {
	return &Service{
		bundles:  bundles,
		products: products,
		events:   publisher,
		now:      time.Now,
	}
}

// Save validates b, recomputes its derived pricing and persists it. A new
// bundle gets an ID and starts active.
func (s *Service) Save(ctx context.Context, b *Bundle) error {
	if err := Validate(b); err != nil {
		return err
	}
	if b.ID == "" {
		b.ID = uuid.New().String()
		b.IsActive = true
	}
	return s.reprice(ctx, b)
}

// RecomputeBundlePricing reloads the bundle and its constituents and stores
// the freshly derived original price and discount percentage.
func (s *Service) RecomputeBundlePricing(ctx context.Context, id string) (*Bundle, error) {
	b, err := s.bundles.GetByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(err, "get bundle")
	}
	if err := s.reprice(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// RepriceReport lists the bundles touched by RepriceContaining.
type RepriceReport struct {
	Repriced    []string
	Deactivated []string
}

// RepriceContaining recomputes every active bundle that holds one of
// productIDs. A bundle whose constituents no longer price above its bundle
// price is deactivated and keeps its last derived fields.
func (s *Service) RepriceContaining(ctx context.Context, productIDs []string) (RepriceReport, error) {
	var rep RepriceReport
	if len(productIDs) == 0 {
		return rep, nil
	}
	bundles, err := s.bundles.FindContaining(ctx, productIDs)
	if err != nil {
		return rep, errors.Wrap(err, "find bundles")
	}

	for i := range bundles {
		b := &bundles[i]
		if !b.IsActive {
			continue
		}
		err := s.reprice(ctx, b)
		switch {
		case err == nil:
			rep.Repriced = append(rep.Repriced, b.ID)
		case errors.Is(err, ErrNoSavings), errors.Is(err, ErrInconsistentPricing):
			if err := s.deactivate(ctx, b, err); err != nil {
				return rep, err
			}
			rep.Deactivated = append(rep.Deactivated, b.ID)
		default:
			return rep, errors.Wrapf(err, "reprice bundle %s", b.ID)
		}
	}
	return rep, nil
}

// Availability reports how many bundles can be sold right now and which
// constituents are short for a single one.
func (s *Service) Availability(ctx context.Context, id string) (int, []Shortage, error) {
	b, err := s.bundles.GetByID(ctx, id)
	if err != nil {
		return 0, nil, errors.Wrap(err, "get bundle")
	}
	products, err := s.products.GetByIDs(ctx, b.ProductIDs())
	if err != nil {
		return 0, nil, errors.Wrap(err, "get products")
	}
	return AvailableQuantity(b, products), CheckStock(b, products), nil
}

func (s *Service) reprice(ctx context.Context, b *Bundle) error {
	lg := zctx.From(ctx).With(zap.String("bundle_id", b.ID))

	products, err := s.products.GetByIDs(ctx, b.ProductIDs())
	if err != nil {
		return errors.Wrap(err, "get products")
	}

	now := s.now()
	if err := Recompute(b, products, now); err != nil {
		if errors.Is(err, ErrInconsistentPricing) {
			lg.Error("Bundle constituents priced to zero", zap.Strings("product_ids", b.ProductIDs()))
		}
		return err
	}
	b.UpdatedAt = now

	if err := s.bundles.Save(ctx, b); err != nil {
		return errors.Wrap(err, "save bundle")
	}

	lg.Debug("Bundle repriced",
		zap.Stringer("original_price", b.OriginalPrice),
		zap.Stringer("bundle_price", b.BundlePrice),
		zap.Int("discount_percentage", b.DiscountPercentage),
	)

	price := b.BundlePrice
	if err := s.events.Publish(ctx, events.Event{
		ID:         uuid.New().String(),
		Type:       events.TypeBundleRepriced,
		Subject:    b.ID,
		Amount:     &price,
		OccurredAt: now,
	}); err != nil {
		lg.Warn("Publish bundle repriced failed", zap.Error(err))
	}
	return nil
}

func (s *Service) deactivate(ctx context.Context, b *Bundle, reason error) error {
	now := s.now()
	b.IsActive = false
	b.UpdatedAt = now
	if err := s.bundles.Save(ctx, b); err != nil {
		return errors.Wrapf(err, "deactivate bundle %s", b.ID)
	}

	lg := zctx.From(ctx).With(zap.String("bundle_id", b.ID))
	lg.Warn("Bundle deactivated", zap.NamedError("reason", reason))
	if err := s.events.Publish(ctx, events.Event{
		ID:         uuid.New().String(),
		Type:       events.TypeBundleDeactivated,
		Subject:    b.ID,
		OccurredAt: now,
	}); err != nil {
		lg.Warn("Publish bundle deactivated failed", zap.Error(err))
	}
	return nil
}
