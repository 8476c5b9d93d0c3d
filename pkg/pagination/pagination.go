// Package pagination reads page and per_page query parameters and describes
// the page a listing returned.
package pagination

import (
	"net/http"
	"strconv"
)

const (
	DefaultPerPage = 20
	// MaxPerPage bounds what a caller may ask for; larger values are clamped.
	MaxPerPage = 100
)

// Params is a normalised page request. Page is 1-based.
type Params struct {
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// New normalises raw values: a page below 1 becomes 1, a missing or
// non-positive size becomes DefaultPerPage and an oversize one MaxPerPage.
func New(page, perPage int) Params {
	p := Params{Page: max(page, 1), PerPage: perPage}
	switch {
	case perPage <= 0:
		p.PerPage = DefaultPerPage
	case perPage > MaxPerPage:
		p.PerPage = MaxPerPage
	}
	return p
}

// FromRequest applies New to the page and per_page query parameters.
// Values that are not integers count as absent.
func FromRequest(r *http.Request) Params {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	return New(page, perPage)
}

// Offset is the number of items before this page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// Page cuts the requested page out of an already ordered slice. Pages past
// the end are empty.
func Page[T any](items []T, p Params) []T {
	start := min(p.Offset(), len(items))
	end := min(start+p.PerPage, len(items))
	return items[start:end]
}

// TotalPages is the number of pages needed for total items.
func TotalPages(total, perPage int) int {
	if perPage <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}

// Result is one page of a listing plus enough to render navigation.
type Result[T any] struct {
	Data       []T  `json:"data"`
	TotalCount int  `json:"total_count"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

func NewResult[T any](data []T, total int, p Params) Result[T] {
	pages := TotalPages(total, p.PerPage)
	return Result[T]{
		Data:       data,
		TotalCount: total,
		Page:       p.Page,
		PerPage:    p.PerPage,
		TotalPages: pages,
		HasNext:    p.Page < pages,
		HasPrev:    p.Page > 1,
	}
}
