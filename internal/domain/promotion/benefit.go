package promotion

import (
	"slices"

	"github.com/shopspring/decimal"
)

// PriceContext carries the amounts a benefit is computed against.
type PriceContext struct {
	// Price is the unit price for item-level types and the remaining cart
	// total for cart-level types. Monetary benefits never exceed it.
	Price     decimal.Decimal
	Quantity  int
	ProductID string
	// Subtotal is the cart merchandise total used by spend thresholds.
	Subtotal   decimal.Decimal
	BasePoints int64
}

// Benefit is the computed effect of one promotion.
type Benefit struct {
	Discount decimal.Decimal
	// LineDiscount is the exact discount for the whole line when the value
	// depends on the quantity. Zero means Discount times the quantity.
	LineDiscount decimal.Decimal
	FreeSamples  []Gift
	BonusPoints  int64
	FreeShipping bool
	Gifts        []Gift
}

// Calculate computes the effect of p for pc. A promotion whose benefits are
// missing or do not match its type has no effect.
func Calculate(p *Promotion, pc PriceContext) Benefit {
	if p.Benefits == nil || p.Benefits.Type() != p.Type {
		return Benefit{Discount: zero}
	}

	switch b := p.Benefits.(type) {
	case PercentageOff:
		amount := percentOf(pc.Price, b.Percentage)
		if b.MaxDiscount != nil {
			amount = decimal.Min(amount, *b.MaxDiscount)
		}
		return Benefit{Discount: clampDiscount(amount, pc.Price)}
	case FixedAmountOff:
		return Benefit{Discount: clampDiscount(b.Amount, pc.Price)}
	case FlashSale:
		return Benefit{Discount: clampDiscount(percentOf(pc.Price, b.Percentage), pc.Price)}
	case BuyXGetY:
		return buyXGetYDiscount(b, pc)
	case SpendXGetY:
		threshold := p.Conditions.MinOrderValue
		if threshold == nil || pc.Subtotal.LessThan(*threshold) {
			return Benefit{Discount: zero}
		}
		return Benefit{Discount: clampDiscount(b.Discount, pc.Price)}
	case FreeShipping:
		return Benefit{Discount: zero, FreeShipping: b.Enabled}
	case GiftWithPurchase:
		return Benefit{Discount: zero, Gifts: slices.Clone(b.Gifts)}
	case PointsMultiplier:
		bonus := decimal.NewFromInt(pc.BasePoints).Mul(b.Multiplier.Sub(decimal.NewFromInt(1)))
		if bonus.IsNegative() {
			bonus = zero
		}
		return Benefit{Discount: zero, BonusPoints: bonus.IntPart()}
	case FreeSample:
		n := min(b.MaxSamplesPerOrder, len(b.Samples))
		if n < 0 {
			n = 0
		}
		return Benefit{Discount: zero, FreeSamples: slices.Clone(b.Samples[:n])}
	case BundleOffer:
		// Bundles are priced through their own entity, not per item.
		return Benefit{Discount: zero}
	}
	return Benefit{Discount: zero}
}

// ForLine returns the discount for quantity units.
func (b Benefit) ForLine(quantity int) decimal.Decimal {
	if !b.LineDiscount.IsZero() {
		return b.LineDiscount
	}
	return b.Discount.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
}

// buyXGetYDiscount prices the free units of the line. The line amount is
// rounded once; Discount is its per-unit share rounded to cents.
func buyXGetYDiscount(b BuyXGetY, pc PriceContext) Benefit {
	group := b.BuyQuantity + b.GetQuantity
	if pc.Quantity <= 0 || b.BuyQuantity <= 0 || b.GetQuantity <= 0 {
		return Benefit{Discount: zero}
	}
	if len(b.GetProductIDs) > 0 && !slices.Contains(b.GetProductIDs, pc.ProductID) {
		return Benefit{Discount: zero}
	}
	free := (pc.Quantity / group) * b.GetQuantity
	if free == 0 {
		return Benefit{Discount: zero}
	}
	qty := decimal.NewFromInt(int64(pc.Quantity))
	line := clampDiscount(pc.Price.Mul(decimal.NewFromInt(int64(free))), pc.Price.Mul(qty))
	return Benefit{
		Discount:     clampDiscount(line.Div(qty), pc.Price),
		LineDiscount: line,
	}
}

func percentOf(price, pct decimal.Decimal) decimal.Decimal {
	return price.Mul(pct).Div(hundred)
}

// clampDiscount rounds to cents and keeps the amount within [0, price].
func clampDiscount(amount, price decimal.Decimal) decimal.Decimal {
	amount = amount.Round(2)
	if amount.IsNegative() {
		return zero
	}
	if price.IsNegative() {
		return zero
	}
	return decimal.Min(amount, price)
}
