package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/xenking/kart-promotions/internal/domain/bundle"
)

var _ bundle.Repository = (*BundleRepository)(nil)

// BundleRepository implements bundle.Repository in memory.
type BundleRepository struct {
	mu   sync.Mutex
	byID map[string]bundle.Bundle
}

// NewBundleRepository returns an empty BundleRepository.
func NewBundleRepository() *BundleRepository {
	return &BundleRepository{byID: make(map[string]bundle.Bundle)}
}

func (r *BundleRepository) GetByID(_ context.Context, id string) (*bundle.Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	if !ok {
		return nil, bundle.ErrNotFound
	}
	b.Items = slices.Clone(b.Items)
	return &b, nil
}

func (r *BundleRepository) GetByIDs(_ context.Context, ids []string) ([]bundle.Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bundle.Bundle
	for _, id := range ids {
		if b, ok := r.byID[id]; ok {
			b.Items = slices.Clone(b.Items)
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *BundleRepository) FindContaining(_ context.Context, productIDs []string) ([]bundle.Bundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []bundle.Bundle
	for _, b := range r.byID {
		if slices.ContainsFunc(b.Items, func(it bundle.Item) bool {
			return slices.Contains(productIDs, it.ProductID)
		}) {
			b.Items = slices.Clone(b.Items)
			out = append(out, b)
		}
	}
	slices.SortFunc(out, func(a, b bundle.Bundle) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *BundleRepository) Save(_ context.Context, b *bundle.Bundle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *b
	cp.Items = slices.Clone(b.Items)
	r.byID[b.ID] = cp
	return nil
}
