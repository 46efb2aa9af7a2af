package bundle

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-promotions/internal/domain/product"
)

var (
	// ErrNotFound is returned when a bundle does not exist.
	ErrNotFound = errors.New("bundle not found")
	// ErrNoSavings is returned when the bundle price does not undercut the
	// summed price of its items.
	ErrNoSavings = errors.New("bundle price must be below the original price")
	// ErrInconsistentPricing is returned when the constituents price to zero
	// or less, which the catalog should never allow.
	ErrInconsistentPricing = errors.New("bundle original price is not positive")
	// ErrNoItems is returned for a bundle without constituents.
	ErrNoItems = errors.New("bundle requires at least one item")
	// ErrInactive is returned when an inactive bundle is put in a cart.
	ErrInactive = errors.New("bundle is not active")
)

var hundred = decimal.NewFromInt(100)

// Item is one constituent of a bundle.
type Item struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Bundle is a fixed set of products sold together at BundlePrice.
// OriginalPrice and DiscountPercentage are derived by Recompute.
type Bundle struct {
	ID                 string
	Name               string
	Items              []Item
	OriginalPrice      decimal.Decimal
	BundlePrice        decimal.Decimal
	DiscountPercentage int
	IsActive           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Savings is the amount a buyer saves against buying the items separately.
func (b *Bundle) Savings() decimal.Decimal {
	return b.OriginalPrice.Sub(b.BundlePrice)
}

// ProductIDs lists the constituent product IDs in item order.
func (b *Bundle) ProductIDs() []string {
	ids := make([]string, len(b.Items))
	for i, it := range b.Items {
		ids[i] = it.ProductID
	}
	return ids
}

// InvalidQuantityError reports a constituent with a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return "bundle item " + e.ProductID + " needs a positive quantity"
}

// Validate checks the authored fields of b.
func Validate(b *Bundle) error {
	if len(b.Items) == 0 {
		return ErrNoItems
	}
	for _, it := range b.Items {
		if it.Quantity <= 0 {
			return &InvalidQuantityError{ProductID: it.ProductID}
		}
	}
	if !b.BundlePrice.IsPositive() {
		return errors.New("bundle price must be positive")
	}
	return nil
}

// Recompute derives OriginalPrice and DiscountPercentage from the current
// price of every constituent at now. b is only modified on success, so a
// bundle that fails with ErrNoSavings keeps its previous derived fields.
func Recompute(b *Bundle, products []product.Product, now time.Time) error {
	if len(b.Items) == 0 {
		return ErrNoItems
	}
	byID := index(products)

	original := decimal.Zero
	for _, it := range b.Items {
		p, ok := byID[it.ProductID]
		if !ok {
			return errors.Wrapf(product.ErrNotFound, "bundle item %s", it.ProductID)
		}
		original = original.Add(p.CurrentPrice(now).Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	original = original.Round(2)

	if !original.IsPositive() {
		return ErrInconsistentPricing
	}
	if !b.BundlePrice.LessThan(original) {
		return ErrNoSavings
	}

	pct := original.Sub(b.BundlePrice).Div(original).Mul(hundred).Round(0)
	b.OriginalPrice = original
	b.DiscountPercentage = int(pct.IntPart())
	return nil
}

// Shortage reports a constituent whose stock cannot cover one bundle.
type Shortage struct {
	ProductID string
	Required  int
	Available int
}

// CheckStock lists every constituent with fewer units in stock than one
// bundle needs. Unknown products count as zero stock.
func CheckStock(b *Bundle, products []product.Product) []Shortage {
	byID := index(products)
	var out []Shortage
	for _, it := range b.Items {
		available := byID[it.ProductID].CountInStock
		if available < it.Quantity {
			out = append(out, Shortage{ProductID: it.ProductID, Required: it.Quantity, Available: available})
		}
	}
	return out
}

// AvailableQuantity is how many whole bundles current stock can fill.
func AvailableQuantity(b *Bundle, products []product.Product) int {
	if len(b.Items) == 0 {
		return 0
	}
	byID := index(products)
	n := -1
	for _, it := range b.Items {
		if it.Quantity <= 0 {
			continue
		}
		fit := max(byID[it.ProductID].CountInStock, 0) / it.Quantity
		if n < 0 || fit < n {
			n = fit
		}
	}
	return max(n, 0)
}

func index(products []product.Product) map[string]product.Product {
	m := make(map[string]product.Product, len(products))
	for _, p := range products {
		m[p.ID] = p
	}
	return m
}

// Repository provides bundle persistence.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Bundle, error)
	GetByIDs(ctx context.Context, ids []string) ([]Bundle, error)
	// FindContaining returns every bundle with at least one item among
	// productIDs, ordered by ID.
	FindContaining(ctx context.Context, productIDs []string) ([]Bundle, error)
	Save(ctx context.Context, b *Bundle) error
}
