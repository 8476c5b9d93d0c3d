package domain

import (
	"fmt"
	"sort"
)

// SortOrder selects how approved reviews are ordered for display.
type SortOrder string

const (
	SortNewest  SortOrder = "newest"
	SortHighest SortOrder = "highest"
	SortLowest  SortOrder = "lowest"
)

// ParseSortOrder maps a query value to a SortOrder. Empty means newest.
func ParseSortOrder(v string) (SortOrder, error) {
	switch SortOrder(v) {
	case "":
		return SortNewest, nil
	case SortNewest, SortHighest, SortLowest:
		return SortOrder(v), nil
	}
	return "", fmt.Errorf("unknown sort order %q", v)
}

// SortReviews orders reviews in place. Ties on the primary key fall back to
// createdAt descending and then id ascending, which makes the order total.
func SortReviews(reviews []Review, order SortOrder) {
	sort.SliceStable(reviews, func(i, j int) bool {
		a, b := &reviews[i], &reviews[j]
		switch order {
		case SortHighest:
			if a.Rating != b.Rating {
				return a.Rating > b.Rating
			}
		case SortLowest:
			if a.Rating != b.Rating {
				return a.Rating < b.Rating
			}
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
