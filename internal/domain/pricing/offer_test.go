package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-promotions/internal/domain/bundle"
	"github.com/xenking/kart-promotions/internal/domain/product"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func ptr[T any](v T) *T {
	return &v
}

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newPromo(id string, b promotion.Benefits, opts ...func(*promotion.Promotion)) promotion.Promotion {
	p := promotion.New(id, "promo "+id, b, testNow.Add(-24*time.Hour))
	p.Stacking = true
	for _, o := range opts {
		o(p)
	}
	return *p
}

func withProducts(ids ...string) func(*promotion.Promotion) {
	return func(p *promotion.Promotion) { p.Conditions.ProductIDs = ids }
}

func withPriority(n int) func(*promotion.Promotion) {
	return func(p *promotion.Promotion) { p.Priority = n }
}

func withMinOrder(v string) func(*promotion.Promotion) {
	return func(p *promotion.Promotion) { p.Conditions.MinOrderValue = ptr(d(v)) }
}

func noStacking(p *promotion.Promotion) { p.Stacking = false }

func newProduct(id, price string) *product.Product {
	return &product.Product{ID: id, Name: id, Price: d(price), CountInStock: 100}
}

func onSale(p *product.Product, price string) *product.Product {
	if err := p.SetSale(d(price), nil, nil); err != nil {
		panic(err)
	}
	return p
}

func TestBestOffer(t *testing.T) {
	tests := []struct {
		name       string
		item       *product.Product
		promos     []promotion.Promotion
		wantFinal  string
		wantAmount string
		wantSource Source
		wantPromo  string
	}{
		{
			name:       "no offers",
			item:       newProduct("a", "100.00"),
			wantFinal:  "100.00",
			wantAmount: "0",
			wantSource: SourceNone,
		},
		{
			name:       "own sale is the baseline",
			item:       onSale(newProduct("a", "100.00"), "85.00"),
			wantFinal:  "85.00",
			wantAmount: "15.00",
			wantSource: SourceProductSale,
		},
		{
			name:       "20% off 100.00",
			item:       newProduct("a", "100.00"),
			promos:     []promotion.Promotion{newPromo("p20", promotion.PercentageOff{Percentage: d("20")})},
			wantFinal:  "80.00",
			wantAmount: "20.00",
			wantSource: SourceSaleProgram,
			wantPromo:  "p20",
		},
		{
			name:       "fixed 30.00 on a 20.00 item floors at zero",
			item:       newProduct("a", "20.00"),
			promos:     []promotion.Promotion{newPromo("f30", promotion.FixedAmountOff{Amount: d("30.00")})},
			wantFinal:  "0.00",
			wantAmount: "20.00",
			wantSource: SourceSaleProgram,
			wantPromo:  "f30",
		},
		{
			name:       "promotion beats smaller sale",
			item:       onSale(newProduct("a", "100.00"), "90.00"),
			promos:     []promotion.Promotion{newPromo("p20", promotion.PercentageOff{Percentage: d("20")})},
			wantFinal:  "80.00",
			wantAmount: "20.00",
			wantSource: SourceSaleProgram,
			wantPromo:  "p20",
		},
		{
			name:       "tie keeps the sale",
			item:       onSale(newProduct("a", "100.00"), "80.00"),
			promos:     []promotion.Promotion{newPromo("p20", promotion.PercentageOff{Percentage: d("20")})},
			wantFinal:  "80.00",
			wantAmount: "20.00",
			wantSource: SourceProductSale,
		},
		{
			name: "tie between promotions keeps the earlier",
			item: newProduct("a", "50.00"),
			promos: []promotion.Promotion{
				newPromo("fixed", promotion.FixedAmountOff{Amount: d("10")}),
				newPromo("pct", promotion.PercentageOff{Percentage: d("20")}),
			},
			wantFinal:  "40.00",
			wantAmount: "10.00",
			wantSource: SourceSaleProgram,
			wantPromo:  "fixed",
		},
		{
			name: "largest amount wins regardless of order",
			item: newProduct("a", "50.00"),
			promos: []promotion.Promotion{
				newPromo("small", promotion.FixedAmountOff{Amount: d("5")}),
				newPromo("big", promotion.PercentageOff{Percentage: d("30")}),
				newPromo("mid", promotion.FixedAmountOff{Amount: d("12")}),
			},
			wantFinal:  "35.00",
			wantAmount: "15.00",
			wantSource: SourceSaleProgram,
			wantPromo:  "big",
		},
		{
			name: "out of scope promotions are ignored",
			item: newProduct("a", "50.00"),
			promos: []promotion.Promotion{
				newPromo("other", promotion.PercentageOff{Percentage: d("50")}, withProducts("b")),
				newPromo("ship", promotion.FreeShipping{Enabled: true}),
			},
			wantFinal:  "50.00",
			wantAmount: "0",
			wantSource: SourceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BestOffer(tt.item, tt.promos, 1, testNow)

			assert.True(t, d(tt.wantFinal).Equal(got.FinalPrice), "final price %s", got.FinalPrice)
			assert.True(t, d(tt.wantAmount).Equal(got.Amount), "amount %s", got.Amount)
			assert.Equal(t, tt.wantSource, got.Source)
			if tt.wantPromo == "" {
				assert.Nil(t, got.Promotion)
			} else {
				require.NotNil(t, got.Promotion)
				assert.Equal(t, tt.wantPromo, got.Promotion.ID)
			}
			assert.False(t, got.Amount.GreaterThan(tt.item.Price))
			assert.False(t, got.FinalPrice.IsNegative())
		})
	}
}

func TestBundleOffer(t *testing.T) {
	b := &bundle.Bundle{
		ID:            "kit",
		OriginalPrice: d("120.00"),
		BundlePrice:   d("90.00"),
		IsActive:      true,
	}

	got := BundleOffer(b, nil, 1)
	assert.Equal(t, SourceBundle, got.Source)
	assert.True(t, d("90.00").Equal(got.FinalPrice))
	assert.True(t, d("30.00").Equal(got.Amount))

	unscoped := newPromo("all", promotion.PercentageOff{Percentage: d("50")})
	got = BundleOffer(b, []promotion.Promotion{unscoped}, 1)
	assert.Equal(t, SourceBundle, got.Source, "unscoped promotions do not reach bundles")

	listed := newPromo("kit30", promotion.PercentageOff{Percentage: d("30")}, func(p *promotion.Promotion) {
		p.Conditions.BundleIDs = []string{"kit"}
	})
	got = BundleOffer(b, []promotion.Promotion{unscoped, listed}, 1)
	assert.Equal(t, SourceSaleProgram, got.Source)
	assert.Equal(t, "kit30", got.Promotion.ID)
	assert.True(t, d("84.00").Equal(got.FinalPrice))
}

func TestBestOffer_Flash(t *testing.T) {
	flash := &product.FlashSale{Stock: 10, PerUserLimit: 2}

	item := onSale(newProduct("a", "100.00"), "60.00")
	item.Sale.Flash = flash
	got := BestOffer(item, nil, 1, testNow)
	assert.Same(t, flash, got.Flash)

	beaten := BestOffer(item, []promotion.Promotion{
		newPromo("half", promotion.PercentageOff{Percentage: d("50")}),
	}, 1, testNow)
	assert.Nil(t, beaten.Flash, "a regular promotion does not consume flash stock")

	viaPromo := BestOffer(item, []promotion.Promotion{
		newPromo("flash", promotion.FlashSale{Percentage: d("70")}),
	}, 1, testNow)
	assert.Equal(t, "flash", viaPromo.Promotion.ID)
	assert.Same(t, flash, viaPromo.Flash)

	plain := BestOffer(newProduct("b", "10.00"), []promotion.Promotion{
		newPromo("flash", promotion.FlashSale{Percentage: d("70")}),
	}, 1, testNow)
	assert.Nil(t, plain.Flash)
}
