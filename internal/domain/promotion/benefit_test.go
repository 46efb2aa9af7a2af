package promotion

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func ptr[T any](v T) *T {
	return &v
}

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newPromo(id string, b Benefits) *Promotion {
	return New(id, "promo "+id, b, testNow.Add(-24*time.Hour))
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name         string
		promo        *Promotion
		pc           PriceContext
		wantDiscount decimal.Decimal
	}{
		{
			name:         "percentage 20% off 100.00",
			promo:        newPromo("p1", PercentageOff{Percentage: d("20")}),
			pc:           PriceContext{Price: d("100.00"), Quantity: 1},
			wantDiscount: d("20.00"),
		},
		{
			name:         "percentage capped by max discount",
			promo:        newPromo("p2", PercentageOff{Percentage: d("50"), MaxDiscount: ptr(d("15"))}),
			pc:           PriceContext{Price: d("80"), Quantity: 1},
			wantDiscount: d("15"),
		},
		{
			name:         "percentage rounds to 2 dp",
			promo:        newPromo("p3", PercentageOff{Percentage: d("33.33")}),
			pc:           PriceContext{Price: d("10.01"), Quantity: 1},
			wantDiscount: d("3.34"),
		},
		{
			name:         "fixed 30.00 off 20.00 is capped at price",
			promo:        newPromo("f1", FixedAmountOff{Amount: d("30.00")}),
			pc:           PriceContext{Price: d("20.00"), Quantity: 1},
			wantDiscount: d("20.00"),
		},
		{
			name:         "fixed under price",
			promo:        newPromo("f2", FixedAmountOff{Amount: d("9")}),
			pc:           PriceContext{Price: d("100"), Quantity: 1},
			wantDiscount: d("9"),
		},
		{
			name:         "flash sale prices like percentage",
			promo:        newPromo("fs", FlashSale{Percentage: d("40")}),
			pc:           PriceContext{Price: d("50"), Quantity: 1},
			wantDiscount: d("20"),
		},
		{
			name:         "buy 2 get 1 on 3 units",
			promo:        newPromo("b1", BuyXGetY{BuyQuantity: 2, GetQuantity: 1}),
			pc:           PriceContext{Price: d("30"), Quantity: 3, ProductID: "x"},
			wantDiscount: d("10"),
		},
		{
			name:         "buy 2 get 1 below group size",
			promo:        newPromo("b2", BuyXGetY{BuyQuantity: 2, GetQuantity: 1}),
			pc:           PriceContext{Price: d("30"), Quantity: 2, ProductID: "x"},
			wantDiscount: d("0"),
		},
		{
			name:         "buy x get y for another item",
			promo:        newPromo("b3", BuyXGetY{BuyQuantity: 1, GetQuantity: 1, GetProductIDs: []string{"y"}}),
			pc:           PriceContext{Price: d("30"), Quantity: 2, ProductID: "x"},
			wantDiscount: d("0"),
		},
		{
			name:         "bundle offer has no per-item effect",
			promo:        newPromo("bo", BundleOffer{Items: []BundleOfferItem{{ProductID: "a", Quantity: 1}}, BundlePrice: d("10")}),
			pc:           PriceContext{Price: d("30"), Quantity: 1},
			wantDiscount: d("0"),
		},
		{
			name:         "missing benefits have no effect",
			promo:        &Promotion{ID: "nil", Type: TypePercentageOff, IsActive: true, Status: StatusActive},
			pc:           PriceContext{Price: d("30"), Quantity: 1},
			wantDiscount: d("0"),
		},
		{
			name: "mismatched benefits have no effect",
			promo: &Promotion{
				ID: "mm", Type: TypeFixedAmountOff, Benefits: PercentageOff{Percentage: d("10")},
			},
			pc:           PriceContext{Price: d("30"), Quantity: 1},
			wantDiscount: d("0"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(tt.promo, tt.pc)
			assert.True(t, tt.wantDiscount.Equal(got.Discount),
				"expected discount %s, got %s", tt.wantDiscount, got.Discount)
			assert.False(t, got.Discount.GreaterThan(tt.pc.Price), "discount must not exceed price")
		})
	}
}

func TestCalculate_BuyXGetYLineDiscount(t *testing.T) {
	tests := []struct {
		name     string
		benefits BuyXGetY
		price    string
		quantity int
		wantUnit string
		wantLine string
	}{
		{name: "share does not divide into cents", benefits: BuyXGetY{BuyQuantity: 2, GetQuantity: 1}, price: "10", quantity: 3, wantUnit: "3.33", wantLine: "10.00"},
		{name: "two groups", benefits: BuyXGetY{BuyQuantity: 2, GetQuantity: 1}, price: "9.99", quantity: 7, wantUnit: "2.85", wantLine: "19.98"},
		{name: "exact share", benefits: BuyXGetY{BuyQuantity: 1, GetQuantity: 1}, price: "30", quantity: 2, wantUnit: "15", wantLine: "30"},
		{name: "no free units", benefits: BuyXGetY{BuyQuantity: 2, GetQuantity: 1}, price: "10", quantity: 2, wantUnit: "0", wantLine: "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(newPromo("bx", tt.benefits), PriceContext{Price: d(tt.price), Quantity: tt.quantity, ProductID: "x"})
			assert.True(t, d(tt.wantUnit).Equal(got.Discount), "unit discount %s", got.Discount)
			assert.True(t, d(tt.wantLine).Equal(got.ForLine(tt.quantity)), "line discount %s", got.ForLine(tt.quantity))
		})
	}
}

func TestBenefit_ForLine(t *testing.T) {
	got := Calculate(newPromo("p", PercentageOff{Percentage: d("10")}), PriceContext{Price: d("12.34"), Quantity: 3})
	assert.True(t, d("1.23").Equal(got.Discount))
	assert.True(t, d("3.69").Equal(got.ForLine(3)))
}

func TestCalculate_SpendXGetY(t *testing.T) {
	p := newPromo("s1", SpendXGetY{Discount: d("10")})
	p.Conditions.MinOrderValue = ptr(d("50"))

	below := Calculate(p, PriceContext{Price: d("40"), Subtotal: d("40")})
	assert.True(t, below.Discount.IsZero())

	above := Calculate(p, PriceContext{Price: d("60"), Subtotal: d("60")})
	assert.True(t, d("10").Equal(above.Discount))

	capped := Calculate(p, PriceContext{Price: d("4"), Subtotal: d("60")})
	assert.True(t, d("4").Equal(capped.Discount))
}

func TestCalculate_NonMonetary(t *testing.T) {
	t.Run("free shipping", func(t *testing.T) {
		got := Calculate(newPromo("fsh", FreeShipping{Enabled: true}), PriceContext{})
		assert.True(t, got.FreeShipping)
		assert.True(t, got.Discount.IsZero())
	})

	t.Run("gifts", func(t *testing.T) {
		gifts := []Gift{{ProductID: "g1", Quantity: 1}, {ProductID: "g2", Quantity: 2}}
		got := Calculate(newPromo("gwp", GiftWithPurchase{Gifts: gifts}), PriceContext{})
		assert.Equal(t, gifts, got.Gifts)
	})

	t.Run("points multiplier", func(t *testing.T) {
		got := Calculate(newPromo("pm", PointsMultiplier{Multiplier: d("3")}), PriceContext{BasePoints: 120})
		assert.Equal(t, int64(240), got.BonusPoints)
	})

	t.Run("free samples limited per order", func(t *testing.T) {
		samples := []Gift{{ProductID: "s1", Quantity: 1}, {ProductID: "s2", Quantity: 1}, {ProductID: "s3", Quantity: 1}}
		got := Calculate(newPromo("fs", FreeSample{Samples: samples, MaxSamplesPerOrder: 2}), PriceContext{})
		assert.Equal(t, samples[:2], got.FreeSamples)
		assert.True(t, got.Discount.IsZero())
	})
}
