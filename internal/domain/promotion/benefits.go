package promotion

import "github.com/shopspring/decimal"

// Benefits is the type-specific payload of a promotion. The set of variants
// is closed; each variant carries only the fields its type uses.
type Benefits interface {
	Type() Type
	sealed()
}

// PercentageOff takes a percentage off the item price, optionally capped.
type PercentageOff struct {
	Percentage  decimal.Decimal
	MaxDiscount *decimal.Decimal
}

// FixedAmountOff takes a fixed amount off the item price.
type FixedAmountOff struct {
	Amount decimal.Decimal
}

// FlashSale prices like PercentageOff. Stock caps are enforced at checkout.
type FlashSale struct {
	Percentage decimal.Decimal
}

// BundleOffer describes a set of items sold together at BundlePrice.
type BundleOffer struct {
	Items       []BundleOfferItem
	BundlePrice decimal.Decimal
}

// BundleOfferItem is one member of a BundleOffer.
type BundleOfferItem struct {
	ProductID string
	Quantity  int
	Required  bool
}

// BuyXGetY gives GetQuantity units free for every BuyQuantity bought.
// An empty GetProductIDs means the free units are of the same item.
type BuyXGetY struct {
	BuyQuantity   int
	GetQuantity   int
	GetProductIDs []string
}

// SpendXGetY takes Discount off the cart once the subtotal clears the
// promotion's minimum order value.
type SpendXGetY struct {
	Discount decimal.Decimal
}

// FreeShipping waives shipping for the cart.
type FreeShipping struct {
	Enabled bool
}

// GiftWithPurchase adds gift items to the cart.
type GiftWithPurchase struct {
	Gifts []Gift
}

// PointsMultiplier multiplies the loyalty points earned by the cart.
type PointsMultiplier struct {
	Multiplier decimal.Decimal
}

// FreeSample adds up to MaxSamplesPerOrder samples to the order.
type FreeSample struct {
	Samples            []Gift
	MaxSamplesPerOrder int
}

// Gift is a catalog item handed out at no charge.
type Gift struct {
	ProductID string
	Quantity  int
}

func (PercentageOff) Type() Type    { return TypePercentageOff }
func (FixedAmountOff) Type() Type   { return TypeFixedAmountOff }
func (FlashSale) Type() Type        { return TypeFlashSale }
func (BundleOffer) Type() Type      { return TypeBundleOffer }
func (BuyXGetY) Type() Type         { return TypeBuyXGetY }
func (SpendXGetY) Type() Type       { return TypeSpendXGetY }
func (FreeShipping) Type() Type     { return TypeFreeShipping }
func (GiftWithPurchase) Type() Type { return TypeGiftWithPurchase }
func (PointsMultiplier) Type() Type { return TypePointsMultiplier }
func (FreeSample) Type() Type       { return TypeFreeSample }

func (PercentageOff) sealed()    {}
func (FixedAmountOff) sealed()   {}
func (FlashSale) sealed()        {}
func (BundleOffer) sealed()      {}
func (BuyXGetY) sealed()         {}
func (SpendXGetY) sealed()       {}
func (FreeShipping) sealed()     {}
func (GiftWithPurchase) sealed() {}
func (PointsMultiplier) sealed() {}
func (FreeSample) sealed()       {}
