package memory

import (
	"context"
	"sync"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-promotions/internal/domain/order"
	"github.com/xenking/kart-promotions/internal/domain/product"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository in memory, decrementing stock
// in the shared ProductRepository.
type OrderRepository struct {
	mu       sync.Mutex
	products *ProductRepository
	byID     map[string]order.Order
}

// NewOrderRepository returns an OrderRepository bound to products.
func NewOrderRepository(products *ProductRepository) *OrderRepository {
	return &OrderRepository{products: products, byID: make(map[string]order.Order)}
}

func (r *OrderRepository) Create(_ context.Context, o *order.Order, stock []product.StockLine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byID[o.ID]; dup {
		return errors.Errorf("order %s already exists", o.ID)
	}

	r.products.mu.Lock()
	err := r.products.decrementStock(stock)
	r.products.mu.Unlock()
	if err != nil {
		return err
	}

	r.byID[o.ID] = *o
	return nil
}

func (r *OrderRepository) GetByID(_ context.Context, id string) (*order.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return &o, nil
}
