package flashsale

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
)

type allotment struct {
	stock  int
	users  map[string]int
	orders map[string]int
}

// MemoryReserver is a Reserver for a single process.
type MemoryReserver struct {
	mu       sync.Mutex
	products map[string]*allotment
}

var _ Reserver = (*MemoryReserver)(nil)

// NewMemoryReserver creates an empty MemoryReserver.
func NewMemoryReserver() *MemoryReserver {
	return &MemoryReserver{products: make(map[string]*allotment)}
}

func (m *MemoryReserver) Prepare(_ context.Context, productID string, stock int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[productID] = &allotment{
		stock:  stock,
		users:  make(map[string]int),
		orders: make(map[string]int),
	}
	return nil
}

// Stock returns the units left for productID.
func (m *MemoryReserver) Stock(productID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.products[productID]; ok {
		return a.stock
	}
	return 0
}

func (m *MemoryReserver) Reserve(_ context.Context, r Reservation, perUserLimit int) error {
	if r.Quantity <= 0 {
		return errors.Errorf("invalid flash reservation quantity %d", r.Quantity)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.products[r.ProductID]
	if !ok {
		return soldOut(r.ProductID)
	}
	if _, dup := a.orders[r.OrderID]; dup {
		return nil
	}
	if perUserLimit > 0 && r.UserID != "" && a.users[r.UserID]+r.Quantity > perUserLimit {
		return userLimit(r.ProductID)
	}
	if a.stock < r.Quantity {
		return soldOut(r.ProductID)
	}

	a.stock -= r.Quantity
	if r.UserID != "" {
		a.users[r.UserID] += r.Quantity
	}
	a.orders[r.OrderID] = r.Quantity
	return nil
}

func (m *MemoryReserver) Release(_ context.Context, r Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.products[r.ProductID]
	if !ok {
		return nil
	}
	qty, ok := a.orders[r.OrderID]
	if !ok {
		return nil
	}
	delete(a.orders, r.OrderID)
	a.stock += qty
	if r.UserID != "" {
		if a.users[r.UserID] -= qty; a.users[r.UserID] <= 0 {
			delete(a.users, r.UserID)
		}
	}
	return nil
}
