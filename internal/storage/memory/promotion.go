// Package memory provides in-process repositories used by tests and local
// tooling. Every conditional mutation runs under a single lock, so the
// guarded updates behave atomically like their SQL counterparts.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

var _ promotion.Repository = (*PromotionRepository)(nil)

type redemptionKey struct {
	promotionID string
	orderID     string
}

// PromotionRepository implements promotion.Repository in memory.
type PromotionRepository struct {
	mu          sync.Mutex
	order       []string
	byID        map[string]*promotion.Promotion
	redemptions map[redemptionKey]promotion.Redemption
	now         func() time.Time
}

// NewPromotionRepository returns an empty PromotionRepository.
func NewPromotionRepository() *PromotionRepository {
	return &PromotionRepository{
		byID:        make(map[string]*promotion.Promotion),
		redemptions: make(map[redemptionKey]promotion.Redemption),
		now:         time.Now,
	}
}

func (r *PromotionRepository) GetByID(_ context.Context, id string) (*promotion.Promotion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, promotion.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *PromotionRepository) FindActive(_ context.Context) ([]promotion.Promotion, error) {
	return r.filter(func(p *promotion.Promotion) bool { return active(p) }), nil
}

func (r *PromotionRepository) FindByCode(_ context.Context, code string) ([]promotion.Promotion, error) {
	code = strings.TrimSpace(code)
	return r.filter(func(p *promotion.Promotion) bool {
		return active(p) && p.Conditions.RequiredPromoCode != "" &&
			strings.EqualFold(p.Conditions.RequiredPromoCode, code)
	}), nil
}

func (r *PromotionRepository) ListCodes(_ context.Context) ([]string, error) {
	var codes []string
	for _, p := range r.filter(func(p *promotion.Promotion) bool {
		return active(p) && p.Conditions.RequiredPromoCode != ""
	}) {
		codes = append(codes, p.Conditions.RequiredPromoCode)
	}
	return codes, nil
}

func (r *PromotionRepository) CountUserRedemptions(_ context.Context, userID string, promotionIDs []string) (map[string]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int, len(promotionIDs))
	for _, red := range r.redemptions {
		if red.UserID == userID && slices.Contains(promotionIDs, red.PromotionID) {
			counts[red.PromotionID]++
		}
	}
	return counts, nil
}

// IncrementUsage records the redemption at most once per promotion and
// order, guarded by the usage cap.
func (r *PromotionRepository) IncrementUsage(_ context.Context, red promotion.Redemption) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[red.PromotionID]
	if !ok {
		return promotion.ErrNotFound
	}
	key := redemptionKey{promotionID: red.PromotionID, orderID: red.OrderID}
	if _, dup := r.redemptions[key]; dup {
		return nil
	}
	if p.UsageExhausted() {
		return &promotion.UnavailableError{PromotionID: p.ID, Reason: promotion.ReasonUsageLimit}
	}

	p.CurrentUsage++
	p.TotalDiscount = p.TotalDiscount.Add(red.Discount)
	p.UpdatedAt = r.now()
	r.redemptions[key] = red
	return nil
}

// ReleaseUsage reverses a redemption. Releasing an unknown redemption is a
// no-op.
func (r *PromotionRepository) ReleaseUsage(_ context.Context, promotionID, orderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := redemptionKey{promotionID: promotionID, orderID: orderID}
	red, ok := r.redemptions[key]
	if !ok {
		return nil
	}
	delete(r.redemptions, key)
	if p, ok := r.byID[promotionID]; ok {
		p.CurrentUsage = max(p.CurrentUsage-1, 0)
		p.TotalDiscount = decimal.Max(p.TotalDiscount.Sub(red.Discount), decimal.Zero)
		p.UpdatedAt = r.now()
	}
	return nil
}

func (r *PromotionRepository) ExpireEnded(_ context.Context, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for _, id := range r.order {
		p := r.byID[id]
		if p.Status != promotion.StatusActive || p.EndDate == nil || p.EndDate.After(now) {
			continue
		}
		p.Status = promotion.StatusExpired
		p.IsActive = false
		p.UpdatedAt = now
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *PromotionRepository) Save(_ context.Context, p *promotion.Promotion) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if existing, ok := r.byID[p.ID]; ok {
		p.CreatedAt = existing.CreatedAt
	} else {
		r.order = append(r.order, p.ID)
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
	}
	p.UpdatedAt = now
	cp := *p
	r.byID[p.ID] = &cp
	return nil
}

func (r *PromotionRepository) filter(keep func(*promotion.Promotion) bool) []promotion.Promotion {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []promotion.Promotion
	for _, id := range r.order {
		if p := r.byID[id]; keep(p) {
			out = append(out, *p)
		}
	}
	return out
}

func active(p *promotion.Promotion) bool {
	return p.IsActive && p.Status == promotion.StatusActive
}
