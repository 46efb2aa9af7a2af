package pricing

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyCart is returned when a cart has no lines.
	ErrEmptyCart = errors.New("cart has no lines")
	// ErrAmbiguousLine is returned for a line naming both or neither of a
	// product and a bundle.
	ErrAmbiguousLine = errors.New("line must reference exactly one product or bundle")
)

// InvalidQuantityError indicates a line with a non-positive quantity.
type InvalidQuantityError struct {
	ItemID string
}

func (e *InvalidQuantityError) Error() string {
	return "quantity must be greater than 0 for item " + e.ItemID
}

// ValidateLines checks the shape of every line.
func ValidateLines(lines []Line) error {
	if len(lines) == 0 {
		return ErrEmptyCart
	}
	for _, l := range lines {
		if (l.ProductID == "") == (l.BundleID == "") {
			return ErrAmbiguousLine
		}
		if l.Quantity <= 0 {
			return &InvalidQuantityError{ItemID: l.ProductID + l.BundleID}
		}
	}
	return nil
}

// totals returns the undiscounted subtotal and unit count of resolved lines.
func totals(lines []LineInput) (decimal.Decimal, int) {
	sum := decimal.Zero
	n := 0
	for _, in := range lines {
		sum = sum.Add(basePrice(in).Mul(decimal.NewFromInt(int64(in.Quantity))))
		n += in.Quantity
	}
	return sum, n
}
