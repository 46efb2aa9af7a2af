package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-promotions/internal/domain/bundle"
	"github.com/xenking/kart-promotions/internal/domain/product"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

// Line is a cart entry. Exactly one of ProductID and BundleID is set.
type Line struct {
	ProductID string
	BundleID  string
	Quantity  int
}

// Cart is what a shopper is about to buy.
type Cart struct {
	UserID        string
	Lines         []Line
	PromoCode     string
	Channel       promotion.Channel
	PaymentMethod string
}

// LineInput is a cart line resolved against the catalog.
type LineInput struct {
	Quantity int
	Product  *product.Product
	Bundle   *bundle.Bundle
}

// PricedLine is one line with its winning offer applied.
type PricedLine struct {
	Line
	Offer
	// LineTotal is BasePrice times quantity less Discount, the line's
	// LineAmount.
	LineTotal decimal.Decimal
	Discount  decimal.Decimal
}

// CartBenefits folds the effects of cart-level promotions and free samples.
type CartBenefits struct {
	FreeShipping       bool
	BonusPoints        int64
	Gifts              []promotion.Gift
	FreeSamples        []promotion.Gift
	AdditionalDiscount decimal.Decimal
}

// AppliedPromotion records a promotion that contributed to the cart and the
// discount it granted. Non-monetary promotions carry a zero discount.
type AppliedPromotion struct {
	PromotionID string
	Type        promotion.Type
	Discount    decimal.Decimal
}

// PricedCart is the final priced cart.
type PricedCart struct {
	Lines []PricedLine
	// Subtotal is the undiscounted merchandise total.
	Subtotal      decimal.Decimal
	ItemDiscount  decimal.Decimal
	TotalDiscount decimal.Decimal
	Total         decimal.Decimal
	BasePoints    int64
	Benefits      CartBenefits
	Applied       []AppliedPromotion
}

// Options tunes aggregation.
type Options struct {
	// PointsPerUnit is the loyalty points earned per whole currency unit of
	// discounted merchandise.
	PointsPerUnit int64
	// CodeIndexTTL bounds how long a promo code missing from the index is
	// rejected without rebuilding it. Defaults to one minute.
	CodeIndexTTL time.Duration
}

// Aggregate prices every line with its best offer, then applies the
// cart-level promotions that survive eligibility and stacking resolution.
// promos is the full candidate set; ctx.Subtotal and ctx.Quantity are
// derived from lines and need not be set.
func Aggregate(lines []LineInput, promos []promotion.Promotion, ctx promotion.Context, opts Options) *PricedCart {
	if opts.PointsPerUnit <= 0 {
		opts.PointsPerUnit = 1
	}

	gross, quantity := totals(lines)
	ctx.Subtotal = gross
	ctx.Quantity = quantity

	var itemLevel, cartLevel []promotion.Promotion
	for _, p := range promos {
		if p.Type.CartLevel() {
			cartLevel = append(cartLevel, p)
		} else {
			itemLevel = append(itemLevel, p)
		}
	}
	itemLevel = promotion.FilterEligible(itemLevel, ctx)

	out := &PricedCart{
		Lines:        make([]PricedLine, 0, len(lines)),
		Subtotal:     gross.Round(2),
		ItemDiscount: decimal.Zero,
		Benefits:     CartBenefits{AdditionalDiscount: decimal.Zero},
	}
	applied := newAppliedSet()

	for _, in := range lines {
		offer := lineOffer(in, itemLevel, ctx.Now)
		qty := decimal.NewFromInt(int64(in.Quantity))
		pl := PricedLine{
			Line:      lineOf(in),
			Offer:     offer,
			LineTotal: floorAtZero(offer.BasePrice.Mul(qty).Sub(offer.LineAmount)).Round(2),
			Discount:  offer.LineAmount,
		}
		out.Lines = append(out.Lines, pl)
		out.ItemDiscount = out.ItemDiscount.Add(pl.Discount)
		if offer.Promotion != nil {
			applied.add(offer.Promotion, pl.Discount)
		}
	}

	out.Benefits.FreeSamples = collectSamples(lines, itemLevel, applied)

	merch := floorAtZero(out.Subtotal.Sub(out.ItemDiscount))
	out.BasePoints = merch.Floor().IntPart() * opts.PointsPerUnit

	cartCtx := ctx
	cartCtx.Subtotal = merch
	selected := promotion.Resolve(promotion.FilterEligible(cartLevel, cartCtx))

	remaining := merch
	for i := range selected {
		p := &selected[i]
		b := promotion.Calculate(p, promotion.PriceContext{
			Price:      remaining,
			Quantity:   quantity,
			Subtotal:   merch,
			BasePoints: out.BasePoints,
		})
		remaining = remaining.Sub(b.Discount)
		out.Benefits.AdditionalDiscount = out.Benefits.AdditionalDiscount.Add(b.Discount)
		out.Benefits.FreeShipping = out.Benefits.FreeShipping || b.FreeShipping
		out.Benefits.BonusPoints += b.BonusPoints
		out.Benefits.Gifts = append(out.Benefits.Gifts, b.Gifts...)
		applied.add(p, b.Discount)
	}

	out.TotalDiscount = out.ItemDiscount.Add(out.Benefits.AdditionalDiscount).Round(2)
	out.Total = floorAtZero(out.Subtotal.Sub(out.TotalDiscount)).Round(2)
	out.Applied = applied.list
	return out
}

// collectSamples gathers the samples of every eligible free_sample promotion
// that reaches at least one line, once per promotion.
func collectSamples(lines []LineInput, promos []promotion.Promotion, applied *appliedSet) []promotion.Gift {
	var samples []promotion.Gift
	for i := range promos {
		p := &promos[i]
		if p.Type != promotion.TypeFreeSample || !reachesAnyLine(p, lines) {
			continue
		}
		b := promotion.Calculate(p, promotion.PriceContext{})
		if len(b.FreeSamples) == 0 {
			continue
		}
		samples = append(samples, b.FreeSamples...)
		applied.add(p, decimal.Zero)
	}
	return samples
}

func reachesAnyLine(p *promotion.Promotion, lines []LineInput) bool {
	for _, in := range lines {
		switch {
		case in.Product != nil && promotion.IsItemEligible(p, in.Product):
			return true
		case in.Bundle != nil && promotion.IsBundleEligible(p, in.Bundle.ID):
			return true
		}
	}
	return false
}

func lineOffer(in LineInput, promos []promotion.Promotion, now time.Time) Offer {
	if in.Bundle != nil {
		return BundleOffer(in.Bundle, promos, in.Quantity)
	}
	return BestOffer(in.Product, promos, in.Quantity, now)
}

func basePrice(in LineInput) decimal.Decimal {
	if in.Bundle != nil {
		return in.Bundle.OriginalPrice
	}
	return in.Product.Price
}

func lineOf(in LineInput) Line {
	if in.Bundle != nil {
		return Line{BundleID: in.Bundle.ID, Quantity: in.Quantity}
	}
	return Line{ProductID: in.Product.ID, Quantity: in.Quantity}
}

// appliedSet accumulates per-promotion discounts in first-applied order.
type appliedSet struct {
	list []AppliedPromotion
	pos  map[string]int
}

func newAppliedSet() *appliedSet {
	return &appliedSet{pos: make(map[string]int)}
}

func (s *appliedSet) add(p *promotion.Promotion, discount decimal.Decimal) {
	if i, ok := s.pos[p.ID]; ok {
		s.list[i].Discount = s.list[i].Discount.Add(discount)
		return
	}
	s.pos[p.ID] = len(s.list)
	s.list = append(s.list, AppliedPromotion{PromotionID: p.ID, Type: p.Type, Discount: discount})
}
