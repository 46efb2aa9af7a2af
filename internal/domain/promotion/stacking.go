package promotion

import (
	"slices"
	"sort"
)

// Conflicts reports whether p and q may not apply together: both refuse to
// stack, or either lists the other as exclusive. The relation is symmetric.
func Conflicts(p, q *Promotion) bool {
	if !p.Stacking && !q.Stacking {
		return true
	}
	return slices.Contains(p.ExclusiveWith, q.ID) || slices.Contains(q.ExclusiveWith, p.ID)
}

// Resolve picks a non-conflicting subset of candidates. Candidates are
// considered by descending priority, input order breaking ties, and each is
// admitted unless it conflicts with one already admitted. The result is
// greedy, not the combination with the largest total discount.
func Resolve(candidates []Promotion) []Promotion {
	ordered := slices.Clone(candidates)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	selected := make([]Promotion, 0, len(ordered))
	for i := range ordered {
		admit := true
		for j := range selected {
			if Conflicts(&ordered[i], &selected[j]) {
				admit = false
				break
			}
		}
		if admit {
			selected = append(selected, ordered[i])
		}
	}
	return selected
}
