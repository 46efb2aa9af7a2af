package order

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/kart-promotions/internal/domain/bundle"
	"github.com/xenking/kart-promotions/internal/domain/pricing"
	"github.com/xenking/kart-promotions/internal/domain/product"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
	"github.com/xenking/kart-promotions/internal/flashsale"
)

// Pricer prices a cart.
type Pricer interface {
	PriceCart(ctx context.Context, cart pricing.Cart, user *promotion.User) (*pricing.PricedCart, error)
}

// Redeemer records and reverses promotion usage.
type Redeemer interface {
	RecordRedemption(ctx context.Context, r promotion.Redemption) error
	ReleaseRedemption(ctx context.Context, promotionID, orderID string) error
}

// PlaceOrderRequest holds the input for placing an order. User may be nil for
// anonymous checkout.
type PlaceOrderRequest struct {
	Cart pricing.Cart
	User *promotion.User
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order  *Order
	Priced *pricing.PricedCart
}

// Service encapsulates order placement business logic.
type Service struct {
	pricer   Pricer
	bundles  bundle.Repository
	reserver flashsale.Reserver
	redeemer Redeemer
	orders   Repository
	now      func() time.Time
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	pricer Pricer,
	bundles bundle.Repository,
	reserver flashsale.Reserver,
	redeemer Redeemer,
	orders Repository,
) *Service {
	return &Service{
		pricer:   pricer,
		bundles:  bundles,
		reserver: reserver,
		redeemer: redeemer,
		orders:   orders,
		now:      time.Now,
	}
}

// PlaceOrder prices the cart, reserves flash-sale units, records a redemption
// for every applied promotion and persists the order together with the stock
// decrement. When a step fails, every step already taken is undone in
// reverse order.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *PlaceOrderResult, rerr error) {
	priced, err := s.pricer.PriceCart(ctx, req.Cart, req.User)
	if err != nil {
		return nil, fmt.Errorf("price cart: %w", err)
	}

	stock, err := s.stockLines(ctx, priced.Lines)
	if err != nil {
		return nil, err
	}

	userID := req.Cart.UserID
	if req.User != nil {
		userID = req.User.ID
	}
	orderID := uuid.New().String()
	lg := zctx.From(ctx).With(zap.String("order_id", orderID))

	var undo []func(context.Context) error
	defer func() {
		if rerr == nil {
			return
		}
		cctx := context.WithoutCancel(ctx)
		for _, fn := range slices.Backward(undo) {
			if err := fn(cctx); err != nil {
				lg.Error("Failed to compensate order step", zap.Error(err))
			}
		}
	}()

	for _, fl := range flashLines(priced.Lines) {
		res := flashsale.Reservation{
			ProductID: fl.ProductID,
			UserID:    userID,
			OrderID:   orderID,
			Quantity:  fl.Quantity,
		}
		if err := s.reserver.Reserve(ctx, res, fl.PerUserLimit); err != nil {
			return nil, fmt.Errorf("reserve flash sale: %w", err)
		}
		undo = append(undo, func(ctx context.Context) error {
			return s.reserver.Release(ctx, res)
		})
	}

	for _, a := range priced.Applied {
		err := s.redeemer.RecordRedemption(ctx, promotion.Redemption{
			PromotionID: a.PromotionID,
			OrderID:     orderID,
			UserID:      userID,
			Discount:    a.Discount,
		})
		if err != nil {
			return nil, fmt.Errorf("redeem promotion %s: %w", a.PromotionID, err)
		}
		undo = append(undo, func(ctx context.Context) error {
			return s.redeemer.ReleaseRedemption(ctx, a.PromotionID, orderID)
		})
	}

	o := newOrder(orderID, userID, req.Cart.PromoCode, priced, s.now())
	if err := s.orders.Create(ctx, o, stock); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	lg.Info("Order placed",
		zap.Stringer("total", o.Total),
		zap.Stringer("discounts", o.Discounts),
		zap.Int("promotions", len(o.PromotionIDs)),
	)
	return &PlaceOrderResult{Order: o, Priced: priced}, nil
}

// flashLine is the merged flash-sale demand for one product.
type flashLine struct {
	ProductID    string
	Quantity     int
	PerUserLimit int
}

// flashLines merges the flash-priced lines per product, sorted by product ID.
// A reservation is keyed by product and order, so each product is reserved
// once with its full quantity.
func flashLines(lines []pricing.PricedLine) []flashLine {
	byID := make(map[string]*flashLine)
	for _, l := range lines {
		if l.Flash == nil || l.ProductID == "" {
			continue
		}
		if fl, ok := byID[l.ProductID]; ok {
			fl.Quantity += l.Quantity
			continue
		}
		byID[l.ProductID] = &flashLine{ProductID: l.ProductID, Quantity: l.Quantity, PerUserLimit: l.Flash.PerUserLimit}
	}

	out := make([]flashLine, 0, len(byID))
	for _, fl := range byID {
		out = append(out, *fl)
	}
	slices.SortFunc(out, func(a, b flashLine) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return out
}

// stockLines expands bundle lines into their constituents and merges
// quantities per product, sorted by product ID.
func (s *Service) stockLines(ctx context.Context, lines []pricing.PricedLine) ([]product.StockLine, error) {
	var bundleIDs []string
	for _, l := range lines {
		if l.BundleID != "" {
			bundleIDs = append(bundleIDs, l.BundleID)
		}
	}
	bundles := make(map[string]bundle.Bundle, len(bundleIDs))
	if len(bundleIDs) > 0 {
		fetched, err := s.bundles.GetByIDs(ctx, bundleIDs)
		if err != nil {
			return nil, fmt.Errorf("get bundles: %w", err)
		}
		for _, b := range fetched {
			bundles[b.ID] = b
		}
	}

	qty := make(map[string]int)
	for _, l := range lines {
		if l.BundleID == "" {
			qty[l.ProductID] += l.Quantity
			continue
		}
		b, ok := bundles[l.BundleID]
		if !ok {
			return nil, fmt.Errorf("bundle %s: %w", l.BundleID, bundle.ErrNotFound)
		}
		for _, item := range b.Items {
			qty[item.ProductID] += item.Quantity * l.Quantity
		}
	}

	out := make([]product.StockLine, 0, len(qty))
	for id, n := range qty {
		out = append(out, product.StockLine{ProductID: id, Quantity: n})
	}
	slices.SortFunc(out, func(a, b product.StockLine) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return out, nil
}

func newOrder(id, userID, code string, priced *pricing.PricedCart, now time.Time) *Order {
	o := &Order{
		ID:           id,
		UserID:       userID,
		Items:        make([]OrderItem, 0, len(priced.Lines)),
		Subtotal:     priced.Subtotal,
		Discounts:    priced.TotalDiscount,
		Total:        priced.Total,
		FreeShipping: priced.Benefits.FreeShipping,
		BonusPoints:  priced.Benefits.BonusPoints,
		PromoCode:    code,
		CreatedAt:    now,
	}
	for _, l := range priced.Lines {
		item := OrderItem{
			ProductID:  l.ProductID,
			BundleID:   l.BundleID,
			Quantity:   l.Quantity,
			UnitPrice:  l.BasePrice,
			FinalPrice: l.FinalPrice,
		}
		if l.Promotion != nil {
			item.PromotionID = l.Promotion.ID
		}
		o.Items = append(o.Items, item)
	}
	for _, a := range priced.Applied {
		o.PromotionIDs = append(o.PromotionIDs, a.PromotionID)
	}
	return o
}
