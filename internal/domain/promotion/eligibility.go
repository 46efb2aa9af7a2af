package promotion

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Violation messages surfaced to customers.
const (
	MsgNotActive        = "This offer is not currently active"
	MsgNotStarted       = "This offer has not started yet"
	MsgExpired          = "This offer has expired"
	MsgUsageLimit       = "This offer has reached its usage limit"
	MsgMembership       = "This offer requires a membership"
	MsgMembershipTier   = "This offer is not available for your membership tier"
	MsgNewCustomers     = "This offer is for new customers only"
	MsgFirstOrder       = "This offer is valid on your first order only"
	MsgInvalidPromoCode = "Invalid promo code"
	MsgAppExclusive     = "This offer is only available in the app"
	MsgPaymentMethod    = "Payment method not accepted for this offer"
	MsgUserUsageLimit   = "You have reached the usage limit for this offer"
	MsgConditionsNotMet = "This offer's conditions are not met"
	msgMinOrderValueFmt = "Minimum order value of %s required"
	msgMaxOrderValueFmt = "Order value exceeds the maximum of %s"
	msgMinQuantityFmt   = "Minimum quantity of %d required"
	msgMaxQuantityFmt   = "Maximum quantity of %d exceeded"
)

// Channel identifies where a cart originates.
type Channel string

const (
	ChannelWeb Channel = "web"
	ChannelApp Channel = "app"
)

// Membership is a loyalty profile.
type Membership struct {
	Tier string
}

// User is the customer a promotion is evaluated for. A nil *User is an
// anonymous shopper.
type User struct {
	ID          string
	Membership  *Membership
	TotalOrders int
	// Redemptions counts past uses per promotion ID.
	Redemptions map[string]int
}

// Context is the read model a promotion is evaluated against.
type Context struct {
	User          *User
	Subtotal      decimal.Decimal
	Quantity      int
	PromoCode     string
	Channel       Channel
	PaymentMethod string
	Now           time.Time
}

// Eligibility is the outcome of evaluating a promotion.
type Eligibility struct {
	Eligible   bool
	Violations []string
}

// Evaluate checks every condition of p against ctx and reports each one that
// fails. It has no side effects.
func Evaluate(p *Promotion, ctx Context) Eligibility {
	var v []string
	v = append(v, temporalViolations(p, ctx.Now)...)

	c := &p.Conditions
	u := ctx.User

	if c.MembershipRequired && (u == nil || u.Membership == nil) {
		v = append(v, MsgMembership)
	}
	if len(c.MembershipTiers) > 0 {
		if u == nil || u.Membership == nil || !containsFold(c.MembershipTiers, u.Membership.Tier) {
			v = append(v, MsgMembershipTier)
		}
	}

	orders := 0
	if u != nil {
		orders = u.TotalOrders
	}
	if c.NewCustomersOnly && orders > 0 {
		v = append(v, MsgNewCustomers)
	}
	if c.FirstOrderOnly && orders > 0 {
		v = append(v, MsgFirstOrder)
	}

	if c.MinOrderValue != nil && ctx.Subtotal.LessThan(*c.MinOrderValue) {
		v = append(v, fmt.Sprintf(msgMinOrderValueFmt, c.MinOrderValue.StringFixed(2)))
	}
	if c.MaxOrderValue != nil && ctx.Subtotal.GreaterThan(*c.MaxOrderValue) {
		v = append(v, fmt.Sprintf(msgMaxOrderValueFmt, c.MaxOrderValue.StringFixed(2)))
	}
	if c.MinQuantity != nil && ctx.Quantity < *c.MinQuantity {
		v = append(v, fmt.Sprintf(msgMinQuantityFmt, *c.MinQuantity))
	}
	if c.MaxQuantity != nil && ctx.Quantity > *c.MaxQuantity {
		v = append(v, fmt.Sprintf(msgMaxQuantityFmt, *c.MaxQuantity))
	}

	if c.RequiredPromoCode != "" && !strings.EqualFold(strings.TrimSpace(ctx.PromoCode), c.RequiredPromoCode) {
		v = append(v, MsgInvalidPromoCode)
	}
	if c.IsAppExclusive && ctx.Channel != ChannelApp {
		v = append(v, MsgAppExclusive)
	}
	if len(c.PaymentMethods) > 0 && !containsFold(c.PaymentMethods, ctx.PaymentMethod) {
		v = append(v, MsgPaymentMethod)
	}
	if c.UsageLimitPerUser != nil && u != nil && u.Redemptions[p.ID] >= *c.UsageLimitPerUser {
		v = append(v, MsgUserUsageLimit)
	}
	if c.Expression != "" && !evalExpression(c.Expression, ctx) {
		v = append(v, MsgConditionsNotMet)
	}

	return Eligibility{Eligible: len(v) == 0, Violations: v}
}

// temporalViolations explains why p is not currently effective, if it isn't.
func temporalViolations(p *Promotion, now time.Time) []string {
	if p.IsEffective(now) {
		return nil
	}
	switch {
	case !p.IsActive || p.Status != StatusActive:
		return []string{MsgNotActive}
	case now.Before(p.StartDate):
		return []string{MsgNotStarted}
	case p.EndDate != nil && now.After(*p.EndDate):
		return []string{MsgExpired}
	default:
		return []string{MsgUsageLimit}
	}
}

// FilterEligible returns the promotions that pass Evaluate, preserving order.
func FilterEligible(promos []Promotion, ctx Context) []Promotion {
	out := make([]Promotion, 0, len(promos))
	for i := range promos {
		if Evaluate(&promos[i], ctx).Eligible {
			out = append(out, promos[i])
		}
	}
	return out
}

func containsFold(list []string, s string) bool {
	return slices.ContainsFunc(list, func(v string) bool {
		return strings.EqualFold(v, s)
	})
}
