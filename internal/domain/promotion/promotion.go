package promotion

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Type selects the discount variant of a promotion.
type Type string

const (
	TypePercentageOff    Type = "percentage_off"
	TypeFixedAmountOff   Type = "fixed_amount_off"
	TypeFlashSale        Type = "flash_sale"
	TypeBundleOffer      Type = "bundle_offer"
	TypeBuyXGetY         Type = "buy_x_get_y"
	TypeSpendXGetY       Type = "spend_x_get_y"
	TypeFreeShipping     Type = "free_shipping"
	TypeGiftWithPurchase Type = "gift_with_purchase"
	TypePointsMultiplier Type = "points_multiplier"
	TypeFreeSample       Type = "free_sample"
)

// CartLevel reports whether promotions of this type apply to the cart as a
// whole rather than to individual line items.
func (t Type) CartLevel() bool {
	switch t {
	case TypeFreeShipping, TypeGiftWithPurchase, TypeSpendXGetY, TypePointsMultiplier:
		return true
	default:
		return false
	}
}

// Status is the administrative lifecycle state of a promotion.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusPaused    Status = "paused"
)

var (
	// ErrNotFound is returned when a promotion does not exist.
	ErrNotFound = errors.New("promotion not found")
	// ErrUnavailable matches every *UnavailableError.
	ErrUnavailable = errors.New("unavailable")
)

// Promotion is a time-bounded rule describing eligibility conditions and the
// benefit granted when they hold.
type Promotion struct {
	ID            string
	Title         string
	Slug          string
	Type          Type
	Conditions    Conditions
	Benefits      Benefits
	StartDate     time.Time
	EndDate       *time.Time
	MaxUsage      *int
	CurrentUsage  int
	TotalDiscount decimal.Decimal
	Status        Status
	IsActive      bool
	Stacking      bool
	ExclusiveWith []string
	Priority      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Conditions restricts when a promotion applies. A zero value on any axis
// means no restriction on that axis.
type Conditions struct {
	MinOrderValue      *decimal.Decimal `json:"min_order_value,omitempty"`
	MaxOrderValue      *decimal.Decimal `json:"max_order_value,omitempty"`
	MinQuantity        *int             `json:"min_quantity,omitempty"`
	MaxQuantity        *int             `json:"max_quantity,omitempty"`
	ProductIDs         []string         `json:"product_ids,omitempty"`
	ExcludedProductIDs []string         `json:"excluded_product_ids,omitempty"`
	Categories         []string         `json:"categories,omitempty"`
	Brands             []string         `json:"brands,omitempty"`
	BundleIDs          []string         `json:"bundle_ids,omitempty"`
	MembershipRequired bool             `json:"membership_required,omitempty"`
	MembershipTiers    []string         `json:"membership_tiers,omitempty"`
	NewCustomersOnly   bool             `json:"new_customers_only,omitempty"`
	FirstOrderOnly     bool             `json:"first_order_only,omitempty"`
	PaymentMethods     []string         `json:"payment_methods,omitempty"`
	RequiredPromoCode  string           `json:"required_promo_code,omitempty"`
	UsageLimitPerUser  *int             `json:"usage_limit_per_user,omitempty"`
	IsAppExclusive     bool             `json:"is_app_exclusive,omitempty"`
	// Expression is an optional CEL predicate evaluated against the context.
	Expression string `json:"expression,omitempty"`
}

// New returns a promotion with the creation defaults applied: active and
// enabled.
func New(id, title string, b Benefits, start time.Time) *Promotion {
	return &Promotion{
		ID:        id,
		Title:     title,
		Type:      b.Type(),
		Benefits:  b,
		StartDate: start,
		Status:    StatusActive,
		IsActive:  true,
	}
}

// IsEffective reports whether the promotion is enabled, active, inside its
// validity window and below its usage cap at now.
func (p *Promotion) IsEffective(now time.Time) bool {
	return p.IsActive &&
		p.Status == StatusActive &&
		!now.Before(p.StartDate) &&
		(p.EndDate == nil || !now.After(*p.EndDate)) &&
		!p.UsageExhausted()
}

// UsageExhausted reports whether the global usage cap has been reached.
func (p *Promotion) UsageExhausted() bool {
	return p.MaxUsage != nil && p.CurrentUsage >= *p.MaxUsage
}

// ItemScoped reports whether the promotion restricts which items it applies to.
func (c *Conditions) ItemScoped() bool {
	return len(c.ProductIDs) > 0 || len(c.Categories) > 0 || len(c.Brands) > 0
}

// UnavailableReason explains why a redemption or reservation was refused.
type UnavailableReason string

const (
	ReasonUsageLimit         UnavailableReason = "usage_limit"
	ReasonOutOfStock         UnavailableReason = "out_of_stock"
	ReasonFlashSaleSoldOut   UnavailableReason = "flash_sale_sold_out"
	ReasonFlashSaleUserLimit UnavailableReason = "flash_sale_user_limit"
)

// UnavailableError reports an exhausted promotion or stock. Callers decide
// how to present it.
type UnavailableError struct {
	PromotionID string
	ProductID   string
	Reason      UnavailableReason
}

func (e *UnavailableError) Error() string {
	if e.PromotionID != "" {
		return "promotion " + e.PromotionID + " unavailable: " + string(e.Reason)
	}
	return "product " + e.ProductID + " unavailable: " + string(e.Reason)
}

// Is makes errors.Is(err, ErrUnavailable) match.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// Redemption records one use of a promotion by an order.
type Redemption struct {
	ID          string
	PromotionID string
	OrderID     string
	UserID      string
	Discount    decimal.Decimal
	CreatedAt   time.Time
}

// Repository provides promotion lookups and the atomic mutations used by
// usage tracking and expiry.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Promotion, error)
	// FindActive returns promotions that are enabled with status active. The
	// caller still applies the full effectiveness check.
	FindActive(ctx context.Context) ([]Promotion, error)
	// FindByCode returns promotions whose required promo code equals code,
	// compared case-insensitively.
	FindByCode(ctx context.Context, code string) ([]Promotion, error)
	// ListCodes returns every promo code configured on an active promotion.
	ListCodes(ctx context.Context) ([]string, error)
	CountUserRedemptions(ctx context.Context, userID string, promotionIDs []string) (map[string]int, error)
	// IncrementUsage atomically bumps the usage counter guarded by the usage
	// cap and stores the redemption. It returns an *UnavailableError when the
	// cap is already reached.
	IncrementUsage(ctx context.Context, r Redemption) error
	// ReleaseUsage reverses a redemption recorded for an order that did not
	// complete.
	ReleaseUsage(ctx context.Context, promotionID, orderID string) error
	// ExpireEnded flips active promotions whose end date is at or before now
	// to expired and returns their IDs.
	ExpireEnded(ctx context.Context, now time.Time) ([]string, error)
	Save(ctx context.Context, p *Promotion) error
}
