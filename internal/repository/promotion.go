package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-promotions/internal/domain/promotion"
)

const promotionColumns = `id, title, slug, type, conditions, benefits, start_date, end_date,
	max_usage, current_usage, total_discount, status, is_active, stacking, exclusive_with,
	priority, created_at, updated_at`

const (
	getPromotionByIDSQL = `SELECT ` + promotionColumns + ` FROM promotions WHERE id = $1`

	findActivePromotionsSQL = `SELECT ` + promotionColumns + ` FROM promotions
		WHERE is_active AND status = 'active' ORDER BY priority DESC, id`

	findPromotionsByCodeSQL = `SELECT ` + promotionColumns + ` FROM promotions
		WHERE promo_code = upper(trim($1)) AND is_active AND status = 'active'
		ORDER BY priority DESC, id`

	listPromoCodesSQL = `SELECT DISTINCT promo_code FROM promotions
		WHERE promo_code <> '' AND is_active AND status = 'active'`

	countUserRedemptionsSQL = `SELECT promotion_id, count(*) FROM promotion_redemptions
		WHERE user_id = $1 AND promotion_id = ANY($2) GROUP BY promotion_id`

	insertRedemptionSQL = `INSERT INTO promotion_redemptions (id, promotion_id, order_id, user_id, discount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (promotion_id, order_id) DO NOTHING`

	incrementUsageSQL = `UPDATE promotions
		SET current_usage = current_usage + 1, total_discount = total_discount + $2, updated_at = $3
		WHERE id = $1 AND (max_usage IS NULL OR current_usage < max_usage)`

	deleteRedemptionSQL = `DELETE FROM promotion_redemptions
		WHERE promotion_id = $1 AND order_id = $2 RETURNING discount`

	releaseUsageSQL = `UPDATE promotions
		SET current_usage = GREATEST(current_usage - 1, 0),
			total_discount = GREATEST(total_discount - $2, 0),
			updated_at = now()
		WHERE id = $1`

	expireEndedSQL = `UPDATE promotions SET status = 'expired', is_active = FALSE, updated_at = $1
		WHERE status = 'active' AND end_date IS NOT NULL AND end_date <= $1
		RETURNING id`

	upsertPromotionSQL = `INSERT INTO promotions (id, title, slug, type, conditions, benefits, start_date, end_date,
			max_usage, current_usage, total_discount, status, is_active, stacking, exclusive_with, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title, slug = EXCLUDED.slug, type = EXCLUDED.type,
			conditions = EXCLUDED.conditions, benefits = EXCLUDED.benefits,
			start_date = EXCLUDED.start_date, end_date = EXCLUDED.end_date, max_usage = EXCLUDED.max_usage,
			status = EXCLUDED.status, is_active = EXCLUDED.is_active, stacking = EXCLUDED.stacking,
			exclusive_with = EXCLUDED.exclusive_with, priority = EXCLUDED.priority, updated_at = now()
		RETURNING created_at, updated_at`
)

var _ promotion.Repository = (*PromotionRepository)(nil)

// PromotionRepository implements promotion.Repository backed by PostgreSQL.
type PromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPromotionRepository returns a PromotionRepository that uses the given pool.
func NewPromotionRepository(pool *pgxpool.Pool) *PromotionRepository {
	return &PromotionRepository{pool: pool}
}

func (r *PromotionRepository) GetByID(ctx context.Context, id string) (*promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, getPromotionByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting promotion %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanPromotion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promotion.ErrNotFound
		}
		return nil, fmt.Errorf("getting promotion %q: %w", id, err)
	}
	return &p, nil
}

func (r *PromotionRepository) FindActive(ctx context.Context) ([]promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, findActivePromotionsSQL)
	if err != nil {
		return nil, fmt.Errorf("finding active promotions: %w", err)
	}
	return pgx.CollectRows(rows, scanPromotion)
}

func (r *PromotionRepository) FindByCode(ctx context.Context, code string) ([]promotion.Promotion, error) {
	rows, err := r.pool.Query(ctx, findPromotionsByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding promotions by code: %w", err)
	}
	return pgx.CollectRows(rows, scanPromotion)
}

func (r *PromotionRepository) ListCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, listPromoCodesSQL)
	if err != nil {
		return nil, fmt.Errorf("listing promo codes: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *PromotionRepository) CountUserRedemptions(ctx context.Context, userID string, promotionIDs []string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, countUserRedemptionsSQL, userID, promotionIDs)
	if err != nil {
		return nil, fmt.Errorf("counting redemptions of user %q: %w", userID, err)
	}

	counts := make(map[string]int, len(promotionIDs))
	var (
		id string
		n  int
	)
	_, err = pgx.ForEachRow(rows, []any{&id, &n}, func() error {
		counts[id] = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("counting redemptions of user %q: %w", userID, err)
	}
	return counts, nil
}

// IncrementUsage stores the redemption and bumps the counter in one
// transaction. The unique (promotion_id, order_id) key makes a repeated call
// for the same order a no-op; the guarded UPDATE serializes concurrent
// redemptions on the row lock.
func (r *PromotionRepository) IncrementUsage(ctx context.Context, red promotion.Redemption) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, insertRedemptionSQL,
			red.ID, red.PromotionID, red.OrderID, red.UserID, red.Discount, red.CreatedAt,
		)
		if err != nil {
			if isForeignKeyViolation(err) {
				return promotion.ErrNotFound
			}
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		tag, err = tx.Exec(ctx, incrementUsageSQL, red.PromotionID, red.Discount, red.CreatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return &promotion.UnavailableError{PromotionID: red.PromotionID, Reason: promotion.ReasonUsageLimit}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, promotion.ErrNotFound) || errors.Is(err, promotion.ErrUnavailable) {
			return err
		}
		return fmt.Errorf("incrementing usage of promotion %q: %w", red.PromotionID, err)
	}
	return nil
}

func (r *PromotionRepository) ReleaseUsage(ctx context.Context, promotionID, orderID string) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var discount decimal.Decimal
		if err := tx.QueryRow(ctx, deleteRedemptionSQL, promotionID, orderID).Scan(&discount); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		_, err := tx.Exec(ctx, releaseUsageSQL, promotionID, discount)
		return err
	})
	if err != nil {
		return fmt.Errorf("releasing usage of promotion %q: %w", promotionID, err)
	}
	return nil
}

func (r *PromotionRepository) ExpireEnded(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, expireEndedSQL, now)
	if err != nil {
		return nil, fmt.Errorf("expiring promotions: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *PromotionRepository) Save(ctx context.Context, p *promotion.Promotion) error {
	conditions, err := json.Marshal(p.Conditions)
	if err != nil {
		return fmt.Errorf("marshaling conditions of promotion %q: %w", p.ID, err)
	}
	var benefits []byte
	if p.Benefits != nil {
		benefits = promotion.MarshalBenefits(p.Benefits)
	}
	exclusive := p.ExclusiveWith
	if exclusive == nil {
		exclusive = []string{}
	}

	err = r.pool.QueryRow(ctx, upsertPromotionSQL,
		p.ID, p.Title, p.Slug, string(p.Type), conditions, benefits, p.StartDate, p.EndDate,
		p.MaxUsage, p.CurrentUsage, p.TotalDiscount, string(p.Status), p.IsActive, p.Stacking,
		exclusive, p.Priority,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving promotion %q: %w", p.ID, err)
	}
	return nil
}

func scanPromotion(row pgx.CollectableRow) (promotion.Promotion, error) {
	var (
		p                    promotion.Promotion
		typ, status          string
		conditions, benefits []byte
	)
	err := row.Scan(
		&p.ID, &p.Title, &p.Slug, &typ, &conditions, &benefits, &p.StartDate, &p.EndDate,
		&p.MaxUsage, &p.CurrentUsage, &p.TotalDiscount, &status, &p.IsActive, &p.Stacking, &p.ExclusiveWith,
		&p.Priority, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	p.Type = promotion.Type(typ)
	p.Status = promotion.Status(status)

	if err := json.Unmarshal(conditions, &p.Conditions); err != nil {
		return p, fmt.Errorf("decoding conditions of promotion %q: %w", p.ID, err)
	}
	if benefits != nil {
		if p.Benefits, err = promotion.UnmarshalBenefits(p.Type, benefits); err != nil {
			return p, fmt.Errorf("decoding benefits of promotion %q: %w", p.ID, err)
		}
	}
	return p, nil
}
