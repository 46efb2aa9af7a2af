package bundle

import (
	"context"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-promotions/internal/domain/product"
	"github.com/xenking/kart-promotions/internal/events"
)

// --- Mock implementations ---

type mockBundleRepo struct {
	byID    map[string]*Bundle
	saved   []Bundle
	saveErr error
	findErr error
	finds   int
}

func (m *mockBundleRepo) GetByID(_ context.Context, id string) (*Bundle, error) {
	b, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *mockBundleRepo) GetByIDs(_ context.Context, ids []string) ([]Bundle, error) {
	var out []Bundle
	for _, id := range ids {
		if b, ok := m.byID[id]; ok {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (m *mockBundleRepo) FindContaining(_ context.Context, productIDs []string) ([]Bundle, error) {
	m.finds++
	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []Bundle
	for _, b := range m.byID {
		for _, id := range b.ProductIDs() {
			if slices.Contains(productIDs, id) {
				out = append(out, *b)
				break
			}
		}
	}
	slices.SortFunc(out, func(a, b Bundle) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *mockBundleRepo) Save(_ context.Context, b *Bundle) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, *b)
	return nil
}

type mockProductRepo struct {
	product.Repository
	products []product.Product
	err      error
}

func (m *mockProductRepo) GetByIDs(_ context.Context, _ []string) ([]product.Product, error) {
	return m.products, m.err
}

// --- Helpers ---

func newTestService(bundles *mockBundleRepo, products ...product.Product) (*Service, *events.Recorder) {
	rec := &events.Recorder{}
	svc := NewService(bundles, &mockProductRepo{products: products}, rec)
	svc.now = func() time.Time { return now }
	return svc, rec
}

// --- Tests ---

func TestService_Save(t *testing.T) {
	repo := &mockBundleRepo{}
	svc, rec := newTestService(repo, newProduct("a", "50.00", 3), newProduct("b", "70.00", 3))

	b := &Bundle{
		Name:        "Starter kit",
		Items:       []Item{{ProductID: "a", Quantity: 1}, {ProductID: "b", Quantity: 1}},
		BundlePrice: d("90.00"),
	}
	require.NoError(t, svc.Save(context.Background(), b))

	assert.NotEmpty(t, b.ID)
	assert.True(t, b.IsActive)
	require.Len(t, repo.saved, 1)
	assert.Equal(t, 25, repo.saved[0].DiscountPercentage)

	published := rec.OfType(events.TypeBundleRepriced)
	require.Len(t, published, 1)
	assert.Equal(t, b.ID, published[0].Subject)
	assert.True(t, d("90.00").Equal(*published[0].Amount))
}

func TestService_Save_RejectsNoSavings(t *testing.T) {
	repo := &mockBundleRepo{}
	svc, rec := newTestService(repo, newProduct("a", "50.00", 3))

	err := svc.Save(context.Background(), &Bundle{
		Items:       []Item{{ProductID: "a", Quantity: 1}},
		BundlePrice: d("50.00"),
	})
	require.ErrorIs(t, err, ErrNoSavings)
	assert.Empty(t, repo.saved)
	assert.Empty(t, rec.Events())
}

func TestService_Save_Invalid(t *testing.T) {
	svc, _ := newTestService(&mockBundleRepo{})
	require.ErrorIs(t, svc.Save(context.Background(), &Bundle{BundlePrice: d("5")}), ErrNoItems)
}

func TestService_RecomputeBundlePricing(t *testing.T) {
	repo := &mockBundleRepo{byID: map[string]*Bundle{
		"b1": {
			ID:            "b1",
			Items:         []Item{{ProductID: "a", Quantity: 2}},
			BundlePrice:   d("70.00"),
			OriginalPrice: d("80.00"),
			IsActive:      true,
		},
	}}
	// Constituent price went up since the bundle was last priced.
	svc, _ := newTestService(repo, newProduct("a", "50.00", 3))

	got, err := svc.RecomputeBundlePricing(context.Background(), "b1")
	require.NoError(t, err)
	assert.True(t, d("100.00").Equal(got.OriginalPrice))
	assert.Equal(t, 30, got.DiscountPercentage)
	assert.Equal(t, now, got.UpdatedAt)
	require.Len(t, repo.saved, 1)
}

func TestService_RecomputeBundlePricing_Errors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		svc, _ := newTestService(&mockBundleRepo{})
		_, err := svc.RecomputeBundlePricing(context.Background(), "nope")
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("inconsistent pricing is not persisted", func(t *testing.T) {
		repo := &mockBundleRepo{byID: map[string]*Bundle{
			"b1": {ID: "b1", Items: []Item{{ProductID: "a", Quantity: 1}}, BundlePrice: d("1")},
		}}
		svc, _ := newTestService(repo, newProduct("a", "0", 1))
		_, err := svc.RecomputeBundlePricing(context.Background(), "b1")
		require.ErrorIs(t, err, ErrInconsistentPricing)
		assert.Empty(t, repo.saved)
	})

	t.Run("save failure", func(t *testing.T) {
		repo := &mockBundleRepo{
			byID:    map[string]*Bundle{"b1": {ID: "b1", Items: []Item{{ProductID: "a", Quantity: 1}}, BundlePrice: d("1")}},
			saveErr: errors.New("db down"),
		}
		svc, rec := newTestService(repo, newProduct("a", "5", 1))
		_, err := svc.RecomputeBundlePricing(context.Background(), "b1")
		require.Error(t, err)
		assert.Empty(t, rec.Events())
	})
}

func TestService_RepriceContaining(t *testing.T) {
	repo := &mockBundleRepo{byID: map[string]*Bundle{
		"ok": {
			ID:            "ok",
			Items:         []Item{{ProductID: "a", Quantity: 2}},
			BundlePrice:   d("70.00"),
			OriginalPrice: d("80.00"),
			IsActive:      true,
		},
		"no-savings": {
			ID:                 "no-savings",
			Items:              []Item{{ProductID: "a", Quantity: 1}, {ProductID: "b", Quantity: 1}},
			BundlePrice:        d("75.00"),
			OriginalPrice:      d("90.00"),
			DiscountPercentage: 17,
			IsActive:           true,
		},
		"inactive": {
			ID:          "inactive",
			Items:       []Item{{ProductID: "a", Quantity: 1}},
			BundlePrice: d("10.00"),
		},
		"other": {
			ID:          "other",
			Items:       []Item{{ProductID: "c", Quantity: 1}},
			BundlePrice: d("1.00"),
			IsActive:    true,
		},
	}}
	svc, rec := newTestService(repo, newProduct("a", "50.00", 3), newProduct("b", "20.00", 3))

	rep, err := svc.RepriceContaining(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, rep.Repriced)
	assert.Equal(t, []string{"no-savings"}, rep.Deactivated)

	require.Len(t, repo.saved, 2)
	byID := make(map[string]Bundle, len(repo.saved))
	for _, b := range repo.saved {
		byID[b.ID] = b
	}
	assert.True(t, d("100.00").Equal(byID["ok"].OriginalPrice))
	assert.Equal(t, 30, byID["ok"].DiscountPercentage)
	assert.True(t, byID["ok"].IsActive)

	gone := byID["no-savings"]
	assert.False(t, gone.IsActive)
	assert.True(t, d("90.00").Equal(gone.OriginalPrice), "derived fields are left as they were")
	assert.Equal(t, 17, gone.DiscountPercentage)
	assert.Equal(t, now, gone.UpdatedAt)

	require.Len(t, rec.OfType(events.TypeBundleRepriced), 1)
	deactivated := rec.OfType(events.TypeBundleDeactivated)
	require.Len(t, deactivated, 1)
	assert.Equal(t, "no-savings", deactivated[0].Subject)
}

func TestService_RepriceContaining_Errors(t *testing.T) {
	t.Run("no products skips the lookup", func(t *testing.T) {
		repo := &mockBundleRepo{}
		svc, _ := newTestService(repo)
		rep, err := svc.RepriceContaining(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, rep.Repriced)
		assert.Zero(t, repo.finds)
	})

	t.Run("lookup failure", func(t *testing.T) {
		svc, _ := newTestService(&mockBundleRepo{findErr: errors.New("db down")})
		_, err := svc.RepriceContaining(context.Background(), []string{"a"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "find bundles")
	})

	t.Run("save failure stops the run", func(t *testing.T) {
		repo := &mockBundleRepo{
			byID: map[string]*Bundle{
				"b1": {ID: "b1", Items: []Item{{ProductID: "a", Quantity: 1}}, BundlePrice: d("1"), IsActive: true},
			},
			saveErr: errors.New("db down"),
		}
		svc, _ := newTestService(repo, newProduct("a", "5", 1))
		rep, err := svc.RepriceContaining(context.Background(), []string{"a"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "reprice bundle b1")
		assert.Empty(t, rep.Repriced)
	})
}

func TestService_Availability(t *testing.T) {
	repo := &mockBundleRepo{byID: map[string]*Bundle{
		"b1": {ID: "b1", Items: []Item{{ProductID: "a", Quantity: 2}, {ProductID: "b", Quantity: 1}}},
	}}
	svc, _ := newTestService(repo, newProduct("a", "1", 5), newProduct("b", "1", 0))

	n, short, err := svc.Availability(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, []Shortage{{ProductID: "b", Required: 1, Available: 0}}, short)
}
