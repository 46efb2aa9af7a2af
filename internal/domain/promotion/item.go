package promotion

import (
	"slices"

	"github.com/xenking/kart-promotions/internal/domain/product"
)

// IsItemEligible reports whether p may discount item. The exclusion list
// always wins; an otherwise unscoped promotion applies to every item; then
// the explicit product list, category overlap and brand are tried in turn.
// item.Categories is expected to already include ancestor categories.
func IsItemEligible(p *Promotion, item *product.Product) bool {
	c := &p.Conditions
	if slices.Contains(c.ExcludedProductIDs, item.ID) {
		return false
	}
	if !c.ItemScoped() {
		return true
	}
	if slices.Contains(c.ProductIDs, item.ID) {
		return true
	}
	for _, cat := range item.Categories {
		if slices.Contains(c.Categories, cat) {
			return true
		}
	}
	return item.Brand != "" && containsFold(c.Brands, item.Brand)
}

// IsBundleEligible reports whether p targets the given bundle. Bundles only
// take promotions that list them explicitly.
func IsBundleEligible(p *Promotion, bundleID string) bool {
	return slices.Contains(p.Conditions.BundleIDs, bundleID)
}
