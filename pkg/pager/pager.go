// Package pager provides deterministic pagination over a caller-held result
// set, plus the page-number list a bounded-width pager control renders.
package pager

import "fmt"

// Defaults applied by New when no option overrides them.
const (
	DefaultPageSize   = 10
	DefaultMaxVisible = 5
)

// Ellipsis is the marker rendered for an elided run of pages.
const Ellipsis = "…"

// Window describes the current page of a result set for display.
// StartIndex and EndIndex are 1-based and inclusive; both are 0 when the
// result set is empty.
type Window struct {
	CurrentPage  int  `json:"current_page"`
	TotalPages   int  `json:"total_pages"`
	TotalResults int  `json:"total_results"`
	StartIndex   int  `json:"start_index"`
	EndIndex     int  `json:"end_index"`
	HasPrevious  bool `json:"has_previous"`
	HasNext      bool `json:"has_next"`
}

// Item is one entry in the visible page list: either a page number or an
// elision marker.
type Item struct {
	Page     int  `json:"page,omitempty"`
	Elided   bool `json:"elided,omitempty"`
	Selected bool `json:"selected,omitempty"`
}

func (i Item) String() string {
	if i.Elided {
		return Ellipsis
	}
	return fmt.Sprint(i.Page)
}

// Option configures a Pager.
type Option func(*config)

type config struct {
	pageSize   int
	maxVisible int
}

// WithPageSize sets the number of items per page.
func WithPageSize(n int) Option {
	return func(c *config) { c.pageSize = n }
}

// WithMaxVisible sets how many page numbers the visible list shows
// besides the first and last page.
func WithMaxVisible(n int) Option {
	return func(c *config) { c.maxVisible = n }
}

// Pager holds one result set and a current-page cursor.
// A Pager is not safe for concurrent use.
type Pager[T any] struct {
	items      []T
	pageSize   int
	maxVisible int
	current    int
	total      int
}

// New creates an empty Pager. It panics if the page size or max-visible
// count is not positive.
func New[T any](opts ...Option) *Pager[T] {
	c := config{pageSize: DefaultPageSize, maxVisible: DefaultMaxVisible}
	for _, opt := range opts {
		opt(&c)
	}
	if c.pageSize <= 0 {
		panic(fmt.Sprintf("pager: page size must be positive, got %d", c.pageSize))
	}
	if c.maxVisible <= 0 {
		panic(fmt.Sprintf("pager: max visible must be positive, got %d", c.maxVisible))
	}
	return &Pager[T]{pageSize: c.pageSize, maxVisible: c.maxVisible, current: 1}
}

// SetResults replaces the held result set and rewinds to page 1.
// The slice is copied; later changes by the caller are not observed.
func (p *Pager[T]) SetResults(items []T) {
	p.items = make([]T, len(items))
	copy(p.items, items)
	p.total = (len(items) + p.pageSize - 1) / p.pageSize
	p.current = 1
}

// Page moves to page n and returns its items. It reports false, leaving
// the cursor untouched, when n is outside [1, TotalPages].
func (p *Pager[T]) Page(n int) ([]T, bool) {
	if n < 1 || n > p.total {
		return nil, false
	}
	p.current = n
	return p.slice(n), true
}

// Next advances one page. It reports false on the last page.
func (p *Pager[T]) Next() ([]T, bool) {
	return p.Page(p.current + 1)
}

// Previous steps back one page. It reports false on the first page.
func (p *Pager[T]) Previous() ([]T, bool) {
	return p.Page(p.current - 1)
}

// Current returns the items on the current page.
func (p *Pager[T]) Current() []T {
	if p.total == 0 {
		return []T{}
	}
	return p.slice(p.current)
}

func (p *Pager[T]) slice(n int) []T {
	start := (n - 1) * p.pageSize
	end := min(start+p.pageSize, len(p.items))
	out := make([]T, end-start)
	copy(out, p.items[start:end])
	return out
}

// CurrentPage returns the 1-based cursor.
func (p *Pager[T]) CurrentPage() int { return p.current }

// TotalPages returns ceil(Len/PageSize), or 0 for an empty result set.
func (p *Pager[T]) TotalPages() int { return p.total }

// Len returns the number of held results.
func (p *Pager[T]) Len() int { return len(p.items) }

// PageSize returns the configured page size.
func (p *Pager[T]) PageSize() int { return p.pageSize }

// Window computes the display metadata for the current page.
func (p *Pager[T]) Window() Window {
	w := Window{
		CurrentPage:  p.current,
		TotalPages:   p.total,
		TotalResults: len(p.items),
		HasPrevious:  p.current > 1,
		HasNext:      p.current < p.total,
	}
	if w.TotalResults > 0 {
		w.StartIndex = (p.current-1)*p.pageSize + 1
		w.EndIndex = min(p.current*p.pageSize, w.TotalResults)
	}
	return w
}

// VisiblePages returns the page numbers and elision markers for a
// bounded-width pager. The first and last page are always present.
func (p *Pager[T]) VisiblePages() []Item {
	return visiblePages(p.current, p.total, p.maxVisible)
}

func visiblePages(cur, total, maxVisible int) []Item {
	if total == 0 {
		return []Item{}
	}
	if total <= maxVisible+2 {
		items := make([]Item, 0, total)
		for n := 1; n <= total; n++ {
			items = append(items, Item{Page: n, Selected: n == cur})
		}
		return items
	}

	lo := max(2, cur-1)
	hi := min(total-1, cur+1)
	switch {
	case cur <= 3:
		lo, hi = 2, 4
	case cur >= total-2:
		lo, hi = total-3, total-1
	}
	// Small maxVisible values can push the widened window past either end.
	lo, hi = max(lo, 2), min(hi, total-1)

	items := []Item{{Page: 1, Selected: cur == 1}}
	if lo > 2 {
		items = append(items, Item{Elided: true})
	}
	for n := lo; n <= hi; n++ {
		items = append(items, Item{Page: n, Selected: n == cur})
	}
	if hi < total-1 {
		items = append(items, Item{Elided: true})
	}
	return append(items, Item{Page: total, Selected: cur == total})
}
