package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-promotions/internal/domain/bundle"
	"github.com/xenking/kart-promotions/internal/domain/product"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

// Source tells where the winning discount of a line came from.
type Source string

const (
	SourceNone        Source = "none"
	SourceProductSale Source = "product_sale"
	SourceSaleProgram Source = "sale_program"
	SourceBundle      Source = "bundle"
)

// Offer is the best per-unit price found for one catalog entry.
type Offer struct {
	BasePrice  decimal.Decimal
	FinalPrice decimal.Decimal
	// Amount is the per-unit discount against BasePrice.
	Amount decimal.Decimal
	// LineAmount is the discount for the whole quantity priced. It is exact
	// where Amount times the quantity would drift by a cent.
	LineAmount decimal.Decimal
	Source     Source
	Promotion  *promotion.Promotion
	// Flash is set when the winning discount draws on the product's limited
	// flash-sale stock, which checkout must reserve.
	Flash *product.FlashSale
}

// BestOffer picks the largest per-unit discount for item among its own
// active sale and the item-level promotions in promos. promos are expected to
// have passed Evaluate already; item scoping is checked here. Offers are
// compared by amount and a tie keeps the earlier one.
func BestOffer(item *product.Product, promos []promotion.Promotion, quantity int, now time.Time) Offer {
	base := item.Price
	best := Offer{BasePrice: base, Amount: decimal.Zero, LineAmount: decimal.Zero, Source: SourceNone}
	if item.IsOnSale(now) {
		best.Amount = base.Sub(item.Sale.SalePrice)
		best.LineAmount = lineAmount(best.Amount, quantity)
		best.Source = SourceProductSale
	}

	for i := range promos {
		p := &promos[i]
		if p.Type.CartLevel() || !promotion.IsItemEligible(p, item) {
			continue
		}
		b := promotion.Calculate(p, promotion.PriceContext{
			Price:     base,
			Quantity:  quantity,
			ProductID: item.ID,
		})
		if b.Discount.GreaterThan(best.Amount) {
			best.Amount = b.Discount
			best.LineAmount = b.ForLine(quantity)
			best.Source = SourceSaleProgram
			best.Promotion = p
		}
	}

	if s := item.Sale; s != nil && s.Flash != nil {
		if best.Source == SourceProductSale || (best.Promotion != nil && best.Promotion.Type == promotion.TypeFlashSale) {
			best.Flash = s.Flash
		}
	}

	best.FinalPrice = floorAtZero(base.Sub(best.Amount))
	return best
}

// BundleOffer prices one bundle. The baseline is the bundle's own saving;
// only promotions that list the bundle can beat it, and they are computed
// against the original price.
func BundleOffer(b *bundle.Bundle, promos []promotion.Promotion, quantity int) Offer {
	base := b.OriginalPrice
	best := Offer{
		BasePrice: base,
		Amount:    floorAtZero(b.Savings()),
		Source:    SourceBundle,
	}
	best.LineAmount = lineAmount(best.Amount, quantity)

	for i := range promos {
		p := &promos[i]
		if p.Type.CartLevel() || !promotion.IsBundleEligible(p, b.ID) {
			continue
		}
		r := promotion.Calculate(p, promotion.PriceContext{
			Price:     base,
			Quantity:  quantity,
			ProductID: b.ID,
		})
		if r.Discount.GreaterThan(best.Amount) {
			best.Amount = r.Discount
			best.LineAmount = r.ForLine(quantity)
			best.Source = SourceSaleProgram
			best.Promotion = p
		}
	}

	best.FinalPrice = floorAtZero(base.Sub(best.Amount))
	return best
}

func lineAmount(unit decimal.Decimal, quantity int) decimal.Decimal {
	return unit.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
