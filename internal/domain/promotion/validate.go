package promotion

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	zero    = decimal.Zero
)

// ValidationError lists every problem found in a promotion definition.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid promotion: " + strings.Join(e.Problems, "; ")
}

// Validate checks a promotion before it is persisted. It returns a
// *ValidationError describing every problem, or nil.
func Validate(p *Promotion) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(p.Title) == "" {
		add("title is required")
	}
	if p.StartDate.IsZero() {
		add("start date is required")
	}
	if p.EndDate != nil && !p.EndDate.After(p.StartDate) {
		add("end date must be after start date")
	}
	if p.MaxUsage != nil && *p.MaxUsage < 0 {
		add("max usage must not be negative")
	}
	switch p.Status {
	case StatusDraft, StatusScheduled, StatusActive, StatusExpired, StatusPaused:
	default:
		add("unknown status %q", p.Status)
	}

	problems = append(problems, validateConditions(&p.Conditions)...)

	if p.Benefits == nil {
		add("benefits are required for type %q", p.Type)
	} else {
		if p.Benefits.Type() != p.Type {
			add("benefits of type %q do not match promotion type %q", p.Benefits.Type(), p.Type)
		}
		problems = append(problems, validateBenefits(p)...)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

func validateConditions(c *Conditions) []string {
	var problems []string
	if c.MinOrderValue != nil && c.MinOrderValue.IsNegative() {
		problems = append(problems, "minimum order value must not be negative")
	}
	if c.MinOrderValue != nil && c.MaxOrderValue != nil && c.MaxOrderValue.LessThan(*c.MinOrderValue) {
		problems = append(problems, "maximum order value must not be below the minimum")
	}
	if c.MinQuantity != nil && c.MaxQuantity != nil && *c.MaxQuantity < *c.MinQuantity {
		problems = append(problems, "maximum quantity must not be below the minimum")
	}
	if c.UsageLimitPerUser != nil && *c.UsageLimitPerUser <= 0 {
		problems = append(problems, "per-user usage limit must be positive")
	}
	if c.Expression != "" {
		if _, err := compileExpression(c.Expression); err != nil {
			problems = append(problems, "invalid expression: "+err.Error())
		}
	}
	return problems
}

func validateBenefits(p *Promotion) []string {
	var problems []string
	add := func(msg string) { problems = append(problems, msg) }

	switch b := p.Benefits.(type) {
	case PercentageOff:
		if !inPercentRange(b.Percentage) {
			add("discount percentage must be between 0 and 100")
		}
		if b.MaxDiscount != nil && !b.MaxDiscount.IsPositive() {
			add("maximum discount must be positive")
		}
	case FixedAmountOff:
		if !b.Amount.IsPositive() {
			add("discount amount must be positive")
		}
	case FlashSale:
		if !inPercentRange(b.Percentage) {
			add("discount percentage must be between 0 and 100")
		}
	case BundleOffer:
		if len(b.Items) == 0 {
			add("bundle offer requires items")
		}
		if !b.BundlePrice.IsPositive() {
			add("bundle price must be positive")
		}
		for _, it := range b.Items {
			if it.ProductID == "" || it.Quantity <= 0 {
				add("bundle offer items need a product and a positive quantity")
				break
			}
		}
	case BuyXGetY:
		if b.BuyQuantity <= 0 || b.GetQuantity <= 0 {
			add("buy and get quantities must be positive")
		}
	case SpendXGetY:
		if !b.Discount.IsPositive() {
			add("discount amount must be positive")
		}
		if p.Conditions.MinOrderValue == nil {
			add("spend-x-get-y requires a minimum order value")
		}
	case FreeShipping:
	case GiftWithPurchase:
		if len(b.Gifts) == 0 {
			add("gift with purchase requires gifts")
		}
	case PointsMultiplier:
		if b.Multiplier.LessThan(decimal.NewFromInt(1)) {
			add("points multiplier must be at least 1")
		}
	case FreeSample:
		if len(b.Samples) == 0 {
			add("free sample requires samples")
		}
		if b.MaxSamplesPerOrder <= 0 {
			add("max samples per order must be positive")
		}
	}
	return problems
}

func inPercentRange(v decimal.Decimal) bool {
	return !v.IsNegative() && !v.GreaterThan(hundred)
}
