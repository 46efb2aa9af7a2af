package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-promotions/internal/domain/product"
)

// ErrNotFound is returned when an order does not exist.
var ErrNotFound = errors.New("order not found")

// Order represents a completed customer order with pricing and discount details.
type Order struct {
	ID           string
	UserID       string
	Items        []OrderItem
	Subtotal     decimal.Decimal
	Discounts    decimal.Decimal
	Total        decimal.Decimal
	PromoCode    string
	FreeShipping bool
	BonusPoints  int64
	PromotionIDs []string
	CreatedAt    time.Time
}

// OrderItem is a priced line of an order. Exactly one of ProductID and
// BundleID is set.
type OrderItem struct {
	ProductID   string          `json:"product_id,omitempty"`
	BundleID    string          `json:"bundle_id,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	FinalPrice  decimal.Decimal `json:"final_price"`
	PromotionID string          `json:"promotion_id,omitempty"`
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create stores the order and decrements stock for every line in a single
	// all-or-nothing step. When any product cannot cover its quantity nothing
	// is changed and a *product.InsufficientStockError is returned.
	Create(ctx context.Context, order *Order, stock []product.StockLine) error
	GetByID(ctx context.Context, id string) (*Order, error)
}
