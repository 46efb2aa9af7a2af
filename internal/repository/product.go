package repository

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-promotions/internal/domain/product"
)

const productColumns = `id, name, price, categories, brand, count_in_stock,
	sale_price, sale_discount_percentage, sale_starts_at, sale_ends_at, flash_stock, flash_per_user_limit`

const (
	getProductByIDSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductsByIDsSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`

	getCategoriesByIDsSQL = `SELECT id, name, COALESCE(parent_id, '') FROM categories WHERE id = ANY($1)`

	clearLapsedSalesSQL = `UPDATE products SET sale_price = NULL, sale_discount_percentage = NULL,
			sale_starts_at = NULL, sale_ends_at = NULL, flash_stock = NULL, flash_per_user_limit = NULL
		WHERE sale_price IS NOT NULL AND sale_ends_at IS NOT NULL AND sale_ends_at <= $1
		RETURNING id`

	upsertProductSQL = `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, price = EXCLUDED.price, categories = EXCLUDED.categories,
			brand = EXCLUDED.brand, count_in_stock = EXCLUDED.count_in_stock,
			sale_price = EXCLUDED.sale_price, sale_discount_percentage = EXCLUDED.sale_discount_percentage,
			sale_starts_at = EXCLUDED.sale_starts_at, sale_ends_at = EXCLUDED.sale_ends_at,
			flash_stock = EXCLUDED.flash_stock, flash_per_user_limit = EXCLUDED.flash_per_user_limit`

	upsertCategorySQL = `INSERT INTO categories (id, name, parent_id) VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, parent_id = EXCLUDED.parent_id`
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, product.ErrNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetByIDs returns products matching any of the given IDs.
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	rows, err := r.pool.Query(ctx, getProductsByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting products by ids: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

func (r *ProductRepository) GetCategoriesByIDs(ctx context.Context, ids []string) ([]product.Category, error) {
	rows, err := r.pool.Query(ctx, getCategoriesByIDsSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("getting categories by ids: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (product.Category, error) {
		var c product.Category
		err := row.Scan(&c.ID, &c.Name, &c.ParentID)
		return c, err
	})
}

func (r *ProductRepository) ClearLapsedSales(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, clearLapsedSalesSQL, now)
	if err != nil {
		return nil, fmt.Errorf("clearing lapsed sales: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("clearing lapsed sales: %w", err)
	}
	slices.Sort(ids)
	return ids, nil
}

// Save inserts or replaces a product.
func (r *ProductRepository) Save(ctx context.Context, p *product.Product) error {
	var (
		salePrice          *decimal.Decimal
		salePct            *int
		startsAt, endsAt   *time.Time
		flashStock, flashN *int
	)
	if s := p.Sale; s != nil {
		salePrice, salePct = &s.SalePrice, &s.DiscountPercentage
		startsAt, endsAt = s.StartsAt, s.EndsAt
		if s.Flash != nil {
			flashStock, flashN = &s.Flash.Stock, &s.Flash.PerUserLimit
		}
	}
	categories := p.Categories
	if categories == nil {
		categories = []string{}
	}

	_, err := r.pool.Exec(ctx, upsertProductSQL,
		p.ID, p.Name, p.Price, categories, p.Brand, p.CountInStock,
		salePrice, salePct, startsAt, endsAt, flashStock, flashN,
	)
	if err != nil {
		return fmt.Errorf("saving product %q: %w", p.ID, err)
	}
	return nil
}

// SaveCategory inserts or replaces a category.
func (r *ProductRepository) SaveCategory(ctx context.Context, c product.Category) error {
	if _, err := r.pool.Exec(ctx, upsertCategorySQL, c.ID, c.Name, c.ParentID); err != nil {
		return fmt.Errorf("saving category %q: %w", c.ID, err)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p                  product.Product
		salePrice          *decimal.Decimal
		salePct            *int
		startsAt, endsAt   *time.Time
		flashStock, flashN *int
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Price, &p.Categories, &p.Brand, &p.CountInStock,
		&salePrice, &salePct, &startsAt, &endsAt, &flashStock, &flashN,
	)
	if err != nil {
		return p, err
	}

	if salePrice != nil {
		p.Sale = &product.Sale{SalePrice: *salePrice, StartsAt: startsAt, EndsAt: endsAt}
		if salePct != nil {
			p.Sale.DiscountPercentage = *salePct
		}
		if flashStock != nil {
			p.Sale.Flash = &product.FlashSale{Stock: *flashStock}
			if flashN != nil {
				p.Sale.Flash.PerUserLimit = *flashN
			}
		}
	}
	return p, nil
}
