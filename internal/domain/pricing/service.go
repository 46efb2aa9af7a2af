package pricing

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/kart-promotions/internal/domain/bundle"
	"github.com/xenking/kart-promotions/internal/domain/product"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

const (
	codeIndexMinCapacity = 1024
	codeIndexFPR         = 0.001
	defaultCodeIndexTTL  = time.Minute
)

// ItemPrice is the best offer for a single product.
type ItemPrice struct {
	ProductID string
	Offer
}

// CouponValidation is the outcome of checking a promo code against a cart.
type CouponValidation struct {
	Code       string
	Valid      bool
	Promotion  *promotion.Promotion
	Violations []string
}

// Service is the entry point for pricing carts and items. It loads
// promotions and catalog data, then hands them to the pure evaluation
// functions.
type Service struct {
	promotions promotion.Repository
	products   product.Repository
	bundles    bundle.Repository
	tracer     trace.Tracer
	opts       Options
	now        func() time.Time

	mu         sync.RWMutex
	codes      *bloom.BloomFilter
	codesBuilt time.Time
	refresh    singleflight.Group
}

// NewService creates a pricing Service.
func NewService(
	promotions promotion.Repository,
	products product.Repository,
	bundles bundle.Repository,
	tracer trace.Tracer,
	opts Options,
) *Service {
	if opts.CodeIndexTTL <= 0 {
		opts.CodeIndexTTL = defaultCodeIndexTTL
	}
	return &Service{
		promotions: promotions,
		products:   products,
		bundles:    bundles,
		tracer:     tracer,
		opts:       opts,
		now:        time.Now,
	}
}

// RefreshCodeIndex rebuilds the in-memory filter of known promo codes used
// to reject unknown codes without a database round trip. Until it is called
// every code is looked up. A miss is trusted for Options.CodeIndexTTL after
// a rebuild; later misses rebuild the index before rejecting.
func (s *Service) RefreshCodeIndex(ctx context.Context) error {
	built := s.now()
	list, err := s.promotions.ListCodes(ctx)
	if err != nil {
		return errors.Wrap(err, "list promo codes")
	}
	f := bloom.NewWithEstimates(uint(max(len(list), codeIndexMinCapacity)), codeIndexFPR)
	for _, c := range list {
		f.AddString(normalizeCode(c))
	}

	s.mu.Lock()
	s.codes = f
	s.codesBuilt = built
	s.mu.Unlock()

	zctx.From(ctx).Debug("Promo code index refreshed", zap.Int("codes", len(list)))
	return nil
}

// SavePromotion validates and stores p and makes its promo code known to the
// index at once.
func (s *Service) SavePromotion(ctx context.Context, p *promotion.Promotion) error {
	if err := promotion.Validate(p); err != nil {
		return err
	}
	if err := s.promotions.Save(ctx, p); err != nil {
		return errors.Wrap(err, "save promotion")
	}
	if code := normalizeCode(p.Conditions.RequiredPromoCode); code != "" {
		s.mu.Lock()
		if s.codes != nil {
			s.codes.AddString(code)
		}
		s.mu.Unlock()
	}
	return nil
}

// mayExist reports whether code could belong to a promotion. Codes saved by
// other processes reach the index on the next rebuild, which a miss against
// an index older than the TTL triggers.
func (s *Service) mayExist(ctx context.Context, code string) bool {
	s.mu.RLock()
	f, built := s.codes, s.codesBuilt
	hit := f == nil || f.TestString(code)
	s.mu.RUnlock()
	if hit {
		return true
	}
	if s.now().Sub(built) < s.opts.CodeIndexTTL {
		return false
	}

	_, err, _ := s.refresh.Do("codes", func() (any, error) {
		return nil, s.RefreshCodeIndex(ctx)
	})
	if err != nil {
		zctx.From(ctx).Warn("Promo code index refresh failed", zap.Error(err))
		return true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.codes.TestString(code)
}

// GetEligiblePromotions returns the active promotions whose conditions hold
// for the cart, in repository order.
func (s *Service) GetEligiblePromotions(ctx context.Context, cart Cart, user *promotion.User) (_ []promotion.Promotion, rerr error) {
	ctx, span := s.tracer.Start(ctx, "pricing.GetEligiblePromotions",
		trace.WithAttributes(attribute.Int("cart.lines", len(cart.Lines))))
	defer func() { endSpan(span, rerr) }()

	st, err := s.load(ctx, cart)
	if err != nil {
		return nil, err
	}
	user, err = s.withRedemptions(ctx, user, st.promos)
	if err != nil {
		return nil, err
	}

	ectx := s.evalContext(cart, user)
	ectx.Subtotal, ectx.Quantity = totals(st.lines)
	eligible := promotion.FilterEligible(st.promos, ectx)

	span.SetAttributes(attribute.Int("promotions.eligible", len(eligible)))
	return eligible, nil
}

// PriceItem finds the best offer for one product. When cart is nil the
// product is evaluated as a single-unit cart; otherwise the product is priced
// in the context of cart, added to it if missing.
func (s *Service) PriceItem(ctx context.Context, productID string, cart *Cart, user *promotion.User) (_ *ItemPrice, rerr error) {
	ctx, span := s.tracer.Start(ctx, "pricing.PriceItem",
		trace.WithAttributes(attribute.String("product.id", productID)))
	defer func() { endSpan(span, rerr) }()

	c := Cart{}
	if cart != nil {
		c = *cart
		c.Lines = slices.Clone(cart.Lines)
	}
	if !slices.ContainsFunc(c.Lines, func(l Line) bool { return l.ProductID == productID }) {
		c.Lines = append(c.Lines, Line{ProductID: productID, Quantity: 1})
	}

	st, err := s.load(ctx, c)
	if err != nil {
		return nil, err
	}
	user, err = s.withRedemptions(ctx, user, st.promos)
	if err != nil {
		return nil, err
	}

	ectx := s.evalContext(c, user)
	ectx.Subtotal, ectx.Quantity = totals(st.lines)
	eligible := promotion.FilterEligible(st.promos, ectx)

	for _, in := range st.lines {
		if in.Product != nil && in.Product.ID == productID {
			offer := BestOffer(in.Product, eligible, in.Quantity, ectx.Now)
			span.SetAttributes(attribute.String("offer.source", string(offer.Source)))
			return &ItemPrice{ProductID: productID, Offer: offer}, nil
		}
	}
	return nil, errors.Wrapf(product.ErrNotFound, "product %s", productID)
}

// PriceCart prices every line and applies cart-level promotions.
func (s *Service) PriceCart(ctx context.Context, cart Cart, user *promotion.User) (_ *PricedCart, rerr error) {
	ctx, span := s.tracer.Start(ctx, "pricing.PriceCart",
		trace.WithAttributes(attribute.Int("cart.lines", len(cart.Lines))))
	defer func() { endSpan(span, rerr) }()

	st, err := s.load(ctx, cart)
	if err != nil {
		return nil, err
	}
	user, err = s.withRedemptions(ctx, user, st.promos)
	if err != nil {
		return nil, err
	}

	priced := Aggregate(st.lines, st.promos, s.evalContext(cart, user), s.opts)

	span.SetAttributes(
		attribute.String("cart.total", priced.Total.String()),
		attribute.Int("promotions.applied", len(priced.Applied)),
	)
	zctx.From(ctx).Debug("Cart priced",
		zap.Stringer("subtotal", priced.Subtotal),
		zap.Stringer("discount", priced.TotalDiscount),
		zap.Stringer("total", priced.Total),
		zap.Int("applied", len(priced.Applied)),
	)
	return priced, nil
}

// ValidateCouponCode checks code against the promotions that require it.
// The highest-priority eligible promotion wins; when none is eligible the
// violations of the highest-priority match are reported. An empty cart is
// evaluated with a zero subtotal.
func (s *Service) ValidateCouponCode(ctx context.Context, code string, cart Cart, user *promotion.User) (_ *CouponValidation, rerr error) {
	ctx, span := s.tracer.Start(ctx, "pricing.ValidateCouponCode")
	defer func() { endSpan(span, rerr) }()

	code = normalizeCode(code)
	invalid := &CouponValidation{Code: code, Violations: []string{promotion.MsgInvalidPromoCode}}
	if code == "" || !s.mayExist(ctx, code) {
		return invalid, nil
	}

	matches, err := s.promotions.FindByCode(ctx, code)
	if err != nil {
		return nil, errors.Wrap(err, "find promotions by code")
	}
	if len(matches) == 0 {
		return invalid, nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Priority > matches[j].Priority
	})

	ectx := s.evalContext(cart, nil)
	if len(cart.Lines) > 0 {
		st, err := s.load(ctx, cart)
		if err != nil {
			return nil, err
		}
		ectx.Subtotal, ectx.Quantity = totals(st.lines)
	}
	if ectx.User, err = s.withRedemptions(ctx, user, matches); err != nil {
		return nil, err
	}
	ectx.PromoCode = code

	var first []string
	for i := range matches {
		e := promotion.Evaluate(&matches[i], ectx)
		if e.Eligible {
			span.SetAttributes(attribute.String("promotion.id", matches[i].ID))
			return &CouponValidation{Code: code, Valid: true, Promotion: &matches[i]}, nil
		}
		if i == 0 {
			first = e.Violations
		}
	}
	return &CouponValidation{Code: code, Promotion: &matches[0], Violations: first}, nil
}

type cartState struct {
	lines  []LineInput
	promos []promotion.Promotion
}

// load fetches active promotions and every referenced product and bundle
// concurrently and resolves cart lines against them.
func (s *Service) load(ctx context.Context, cart Cart) (*cartState, error) {
	if err := ValidateLines(cart.Lines); err != nil {
		return nil, err
	}
	var productIDs, bundleIDs []string
	for _, l := range cart.Lines {
		if l.BundleID != "" {
			bundleIDs = append(bundleIDs, l.BundleID)
		} else {
			productIDs = append(productIDs, l.ProductID)
		}
	}

	var (
		promos   []promotion.Promotion
		products []product.Product
		bundles  []bundle.Bundle
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if promos, err = s.promotions.FindActive(gctx); err != nil {
			return errors.Wrap(err, "find active promotions")
		}
		return nil
	})
	if len(productIDs) > 0 {
		g.Go(func() error {
			var err error
			if products, err = s.products.GetByIDs(gctx, productIDs); err != nil {
				return errors.Wrap(err, "get products")
			}
			return nil
		})
	}
	if len(bundleIDs) > 0 {
		g.Go(func() error {
			var err error
			if bundles, err = s.bundles.GetByIDs(gctx, bundleIDs); err != nil {
				return errors.Wrap(err, "get bundles")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	products, err := s.expandCategories(ctx, products)
	if err != nil {
		return nil, err
	}

	productMap := make(map[string]*product.Product, len(products))
	for i := range products {
		productMap[products[i].ID] = &products[i]
	}
	bundleMap := make(map[string]*bundle.Bundle, len(bundles))
	for i := range bundles {
		bundleMap[bundles[i].ID] = &bundles[i]
	}

	lines := make([]LineInput, 0, len(cart.Lines))
	for _, l := range cart.Lines {
		if l.BundleID != "" {
			b, ok := bundleMap[l.BundleID]
			if !ok {
				return nil, errors.Wrapf(bundle.ErrNotFound, "bundle %s", l.BundleID)
			}
			if !b.IsActive {
				return nil, errors.Wrapf(bundle.ErrInactive, "bundle %s", l.BundleID)
			}
			lines = append(lines, LineInput{Quantity: l.Quantity, Bundle: b})
			continue
		}
		p, ok := productMap[l.ProductID]
		if !ok {
			return nil, errors.Wrapf(product.ErrNotFound, "product %s", l.ProductID)
		}
		lines = append(lines, LineInput{Quantity: l.Quantity, Product: p})
	}

	return &cartState{lines: lines, promos: promos}, nil
}

// expandCategories replaces each product's categories with the categories
// plus all their ancestors, so scoping by a parent category matches.
func (s *Service) expandCategories(ctx context.Context, products []product.Product) ([]product.Product, error) {
	var ids []string
	for _, p := range products {
		ids = append(ids, p.Categories...)
	}
	if len(ids) == 0 {
		return products, nil
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	tree, err := product.LoadCategoryTree(ctx, s.products, ids)
	if err != nil {
		return nil, errors.Wrap(err, "load categories")
	}
	for i := range products {
		products[i].Categories = tree.Expand(products[i].Categories)
	}
	return products, nil
}

// withRedemptions fills in the user's past redemptions of promotions that
// carry a per-user cap, unless the caller already supplied them.
func (s *Service) withRedemptions(ctx context.Context, user *promotion.User, promos []promotion.Promotion) (*promotion.User, error) {
	if user == nil || user.ID == "" || user.Redemptions != nil {
		return user, nil
	}
	var ids []string
	for _, p := range promos {
		if p.Conditions.UsageLimitPerUser != nil {
			ids = append(ids, p.ID)
		}
	}
	if len(ids) == 0 {
		return user, nil
	}
	counts, err := s.promotions.CountUserRedemptions(ctx, user.ID, ids)
	if err != nil {
		return nil, errors.Wrap(err, "count user redemptions")
	}
	u := *user
	u.Redemptions = counts
	return &u, nil
}

func (s *Service) evalContext(cart Cart, user *promotion.User) promotion.Context {
	return promotion.Context{
		User:          user,
		PromoCode:     cart.PromoCode,
		Channel:       cart.Channel,
		PaymentMethod: cart.PaymentMethod,
		Now:           s.now(),
	}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
