package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-promotions/internal/domain/order"
	"github.com/xenking/kart-promotions/internal/domain/product"
)

const (
	decrementStockSQL = `UPDATE products SET count_in_stock = count_in_stock - $2
		WHERE id = $1 AND count_in_stock >= $2`

	createOrderSQL = `INSERT INTO orders (id, user_id, items, subtotal, discounts, total, promo_code,
			free_shipping, bonus_points, promotion_ids, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	getOrderByIDSQL = `SELECT id, user_id, items, subtotal, discounts, total, promo_code,
			free_shipping, bonus_points, promotion_ids, created_at
		FROM orders WHERE id = $1`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create decrements stock for every line and persists the order in one
// transaction. The order items are serialized to JSON for storage in the
// JSONB column.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, stock []product.StockLine) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	promotionIDs := o.PromotionIDs
	if promotionIDs == nil {
		promotionIDs = []string{}
	}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, l := range stock {
			tag, err := tx.Exec(ctx, decrementStockSQL, l.ProductID, l.Quantity)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return &product.InsufficientStockError{ProductID: l.ProductID, Requested: l.Quantity}
			}
		}
		_, err := tx.Exec(ctx, createOrderSQL,
			o.ID, o.UserID, itemsJSON, o.Subtotal, o.Discounts, o.Total, o.PromoCode,
			o.FreeShipping, o.BonusPoints, promotionIDs, o.CreatedAt,
		)
		return err
	})
	if err != nil {
		var stockErr *product.InsufficientStockError
		if errors.As(err, &stockErr) {
			return err
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	var (
		o     order.Order
		items []byte
	)
	err := r.pool.QueryRow(ctx, getOrderByIDSQL, id).Scan(
		&o.ID, &o.UserID, &items, &o.Subtotal, &o.Discounts, &o.Total, &o.PromoCode,
		&o.FreeShipping, &o.BonusPoints, &o.PromotionIDs, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decoding items of order %q: %w", id, err)
	}
	return &o, nil
}
