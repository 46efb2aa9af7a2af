package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested product does not exist.
	ErrNotFound = errors.New("product not found")
	// ErrInvalidSalePrice is returned when a sale price is not strictly below
	// the product's base price.
	ErrInvalidSalePrice = errors.New("sale price must be below the base price")
)

var hundred = decimal.NewFromInt(100)

// Product represents a catalog item available for purchase.
type Product struct {
	ID           string
	Name         string
	Price        decimal.Decimal
	Categories   []string
	Brand        string
	CountInStock int
	Sale         *Sale
}

// Sale is the product's own discount state, independent of promotions.
type Sale struct {
	SalePrice          decimal.Decimal
	DiscountPercentage int
	StartsAt           *time.Time
	EndsAt             *time.Time
	Flash              *FlashSale
}

// FlashSale caps how many units may be sold at the sale price.
type FlashSale struct {
	Stock        int
	PerUserLimit int
}

// Category is a node in the catalog category tree.
type Category struct {
	ID       string
	Name     string
	ParentID string
}

// StockLine is a single guarded stock decrement.
type StockLine struct {
	ProductID string
	Quantity  int
}

// InsufficientStockError reports a product whose stock cannot cover a request.
type InsufficientStockError struct {
	ProductID string
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return "insufficient stock for product " + e.ProductID
}

// SetSale attaches a sale to the product. The discount percentage is derived
// from the prices; a sale price at or above the base price is rejected.
func (p *Product) SetSale(price decimal.Decimal, startsAt, endsAt *time.Time) error {
	if !price.IsPositive() || !price.LessThan(p.Price) {
		return ErrInvalidSalePrice
	}
	if startsAt != nil && endsAt != nil && !endsAt.After(*startsAt) {
		return errors.New("sale must end after it starts")
	}
	pct := p.Price.Sub(price).Div(p.Price).Mul(hundred).Round(0)
	p.Sale = &Sale{
		SalePrice:          price,
		DiscountPercentage: int(pct.IntPart()),
		StartsAt:           startsAt,
		EndsAt:             endsAt,
	}
	return nil
}

// ClearSale removes the sale sub-state.
func (p *Product) ClearSale() {
	p.Sale = nil
}

// IsOnSale reports whether the product's own sale is active at now.
func (p *Product) IsOnSale(now time.Time) bool {
	s := p.Sale
	if s == nil || !s.SalePrice.LessThan(p.Price) {
		return false
	}
	if s.StartsAt != nil && now.Before(*s.StartsAt) {
		return false
	}
	if s.EndsAt != nil && now.After(*s.EndsAt) {
		return false
	}
	if s.Flash != nil && s.Flash.Stock <= 0 {
		return false
	}
	return true
}

// SaleLapsed reports whether the product carries a sale whose window ended
// before now.
func (p *Product) SaleLapsed(now time.Time) bool {
	return p.Sale != nil && p.Sale.EndsAt != nil && !p.Sale.EndsAt.After(now)
}

// CurrentPrice returns the sale price while the sale is active, otherwise
// the base price.
func (p *Product) CurrentPrice(now time.Time) decimal.Decimal {
	if p.IsOnSale(now) {
		return p.Sale.SalePrice
	}
	return p.Price
}

// Repository defines catalog reads and the guarded mutations the engine needs.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	GetCategoriesByIDs(ctx context.Context, ids []string) ([]Category, error)
	// ClearLapsedSales removes sale state whose window ended at or before now
	// and returns the number of affected products.
	ClearLapsedSales(ctx context.Context, now time.Time) ([]string, error)
}
