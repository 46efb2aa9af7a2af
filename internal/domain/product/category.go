package product

import "context"

// maxCategoryDepth bounds ancestor walks so a malformed tree with a cycle
// cannot loop forever.
const maxCategoryDepth = 16

// CategoryTree indexes categories by ID.
type CategoryTree map[string]Category

// LoadCategoryTree fetches the given categories and all of their ancestors.
func LoadCategoryTree(ctx context.Context, repo Repository, ids []string) (CategoryTree, error) {
	tree := make(CategoryTree, len(ids))
	pending := ids
	for depth := 0; len(pending) > 0 && depth < maxCategoryDepth; depth++ {
		cats, err := repo.GetCategoriesByIDs(ctx, pending)
		if err != nil {
			return nil, err
		}
		pending = pending[:0:0]
		for _, c := range cats {
			tree[c.ID] = c
		}
		for _, c := range cats {
			if c.ParentID == "" {
				continue
			}
			if _, ok := tree[c.ParentID]; !ok {
				pending = append(pending, c.ParentID)
			}
		}
	}
	return tree, nil
}

// Expand returns ids together with every ancestor known to the tree,
// without duplicates and preserving first-seen order.
func (t CategoryTree) Expand(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		for depth := 0; id != "" && depth < maxCategoryDepth; depth++ {
			if _, ok := seen[id]; ok {
				break
			}
			seen[id] = struct{}{}
			out = append(out, id)
			id = t[id].ParentID
		}
	}
	return out
}
