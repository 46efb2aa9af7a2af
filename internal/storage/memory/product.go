package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xenking/kart-promotions/internal/domain/product"
)

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository implements product.Repository in memory.
type ProductRepository struct {
	mu         sync.Mutex
	byID       map[string]*product.Product
	categories map[string]product.Category
}

// NewProductRepository returns a ProductRepository holding products.
func NewProductRepository(products ...product.Product) *ProductRepository {
	r := &ProductRepository{
		byID:       make(map[string]*product.Product, len(products)),
		categories: make(map[string]product.Category),
	}
	for i := range products {
		p := products[i]
		r.byID[p.ID] = &p
	}
	return r
}

// Save inserts or replaces a product.
func (r *ProductRepository) Save(_ context.Context, p *product.Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.byID[p.ID] = &cp
	return nil
}

// SaveCategory inserts or replaces a category.
func (r *ProductRepository) SaveCategory(_ context.Context, c product.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.categories[c.ID] = c
	return nil
}

func (r *ProductRepository) GetByID(_ context.Context, id string) (*product.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *ProductRepository) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]product.Product, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := r.byID[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *ProductRepository) GetCategoriesByIDs(_ context.Context, ids []string) ([]product.Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []product.Category
	for _, id := range ids {
		if c, ok := r.categories[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *ProductRepository) ClearLapsedSales(_ context.Context, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, p := range r.byID {
		if p.SaleLapsed(now) {
			p.ClearSale()
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// decrementStock applies every line or none. The caller holds r.mu.
func (r *ProductRepository) decrementStock(lines []product.StockLine) error {
	for _, l := range lines {
		p, ok := r.byID[l.ProductID]
		if !ok {
			return product.ErrNotFound
		}
		if p.CountInStock < l.Quantity {
			return &product.InsufficientStockError{ProductID: l.ProductID, Requested: l.Quantity}
		}
	}
	for _, l := range lines {
		r.byID[l.ProductID].CountInStock -= l.Quantity
	}
	return nil
}
