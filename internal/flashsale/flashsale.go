// Package flashsale guards the limited stock of flash-sale products. A
// reservation takes units from the flash allotment and counts them against
// the buyer's per-user limit in one atomic step.
package flashsale

import (
	"context"

	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

// Reservation takes Quantity flash units of ProductID for an order.
type Reservation struct {
	ProductID string
	UserID    string
	OrderID   string
	Quantity  int
}

// Reserver holds flash-sale stock for orders in progress.
type Reserver interface {
	// Prepare sets the flash allotment of a product and forgets earlier
	// reservations.
	Prepare(ctx context.Context, productID string, stock int) error
	// Reserve takes the units or returns a *promotion.UnavailableError with
	// reason flash_sale_sold_out or flash_sale_user_limit. perUserLimit <= 0
	// and an empty UserID disable the per-user cap. Reserving the same order
	// twice takes units once.
	Reserve(ctx context.Context, r Reservation, perUserLimit int) error
	// Release returns the units taken for the order. Unknown reservations are
	// ignored.
	Release(ctx context.Context, r Reservation) error
}

func soldOut(productID string) error {
	return &promotion.UnavailableError{ProductID: productID, Reason: promotion.ReasonFlashSaleSoldOut}
}

func userLimit(productID string) error {
	return &promotion.UnavailableError{ProductID: productID, Reason: promotion.ReasonFlashSaleUserLimit}
}
