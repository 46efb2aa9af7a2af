package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-promotions/internal/domain/bundle"
)

const bundleColumns = `id, name, items, original_price, bundle_price, discount_percentage,
	is_active, created_at, updated_at`

const (
	getBundleByIDSQL = `SELECT ` + bundleColumns + ` FROM bundles WHERE id = $1`

	getBundlesByIDsSQL = `SELECT ` + bundleColumns + ` FROM bundles WHERE id = ANY($1)`

	findBundlesContainingSQL = `SELECT ` + bundleColumns + ` FROM bundles b
		WHERE EXISTS (
			SELECT 1 FROM jsonb_array_elements(b.items) it WHERE it->>'product_id' = ANY($1)
		)
		ORDER BY id`

	upsertBundleSQL = `INSERT INTO bundles (id, name, items, original_price, bundle_price, discount_percentage, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, items = EXCLUDED.items, original_price = EXCLUDED.original_price,
			bundle_price = EXCLUDED.bundle_price, discount_percentage = EXCLUDED.discount_percentage,
			is_active = EXCLUDED.is_active, updated_at = now()
		RETURNING created_at, updated_at`
)

var _ bundle.Repository = (*BundleRepository)(nil)

// BundleRepository implements bundle.Repository backed by PostgreSQL.
type BundleRepository struct {
	pool *pgxpool.Pool
}

// NewBundleRepository returns a BundleRepository that uses the given pool.
func NewBundleRepository(pool *pgxpool.Pool) *BundleRepository {
	return &BundleRepository{pool: pool}
}

func (r *BundleRepository) GetByID(ctx context.Context, id string) (*bundle.Bundle, error) {
	rows, err := r.pool.Query(ctx, getBundleByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting bundle %q: %w", id, err)
	}

	b, err := pgx.CollectExactlyOneRow(rows, scanBundle)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, bundle.ErrNotFound
		}
		return nil, fmt.Errorf("getting bundle %q: %w", id, err)
	}
	return &b, nil
}

func (r *BundleRepository) GetByIDs(ctx context.Context, ids []string) ([]bundle.Bundle, error) {
	rows, err := r.pool.Query(ctx, getBundlesByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting bundles by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanBundle)
}

func (r *BundleRepository) FindContaining(ctx context.Context, productIDs []string) ([]bundle.Bundle, error) {
	rows, err := r.pool.Query(ctx, findBundlesContainingSQL, productIDs)
	if err != nil {
		return nil, fmt.Errorf("finding bundles by product: %w", err)
	}
	return pgx.CollectRows(rows, scanBundle)
}

// Save persists a bundle. The items are serialized to JSON for storage in
// the JSONB column.
func (r *BundleRepository) Save(ctx context.Context, b *bundle.Bundle) error {
	items, err := json.Marshal(b.Items)
	if err != nil {
		return fmt.Errorf("marshaling bundle items: %w", err)
	}

	err = r.pool.QueryRow(ctx, upsertBundleSQL,
		b.ID, b.Name, items, b.OriginalPrice, b.BundlePrice, b.DiscountPercentage, b.IsActive,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving bundle %q: %w", b.ID, err)
	}
	return nil
}

func scanBundle(row pgx.CollectableRow) (bundle.Bundle, error) {
	var (
		b     bundle.Bundle
		items []byte
	)
	err := row.Scan(
		&b.ID, &b.Name, &items, &b.OriginalPrice, &b.BundlePrice, &b.DiscountPercentage,
		&b.IsActive, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return b, err
	}
	if err := json.Unmarshal(items, &b.Items); err != nil {
		return b, fmt.Errorf("decoding items of bundle %q: %w", b.ID, err)
	}
	return b, nil
}
