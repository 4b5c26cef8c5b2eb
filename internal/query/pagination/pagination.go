// Package pagination computes page counts, clamped pages, client-side slice
// bounds and the page-number window shown by paging controls.
package pagination

import "github.com/zatekoja/clinicopsdashboard/internal/domain/entities"

const (
	// DefaultPageSize is used when a non-positive page size is requested
	DefaultPageSize = 10
	// DefaultWindow is the number of page controls shown before collapsing
	DefaultWindow = 5
)

// Bounds is the outcome of paginating total items.
type Bounds struct {
	Pages      int
	Page       int
	SliceStart int
	SliceEnd   int
}

// Paginate clamps page into [1, pages] and returns the slice bounds of that
// page. pages is at least 1 even when total is 0. SliceEnd may exceed total;
// use Slice to cut a list safely.
func Paginate(total, page, pageSize int) Bounds {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if total < 0 {
		total = 0
	}

	pages := Pages(total, pageSize)
	clamped := min(max(1, page), pages)
	start := (clamped - 1) * pageSize

	return Bounds{
		Pages:      pages,
		Page:       clamped,
		SliceStart: start,
		SliceEnd:   start + pageSize,
	}
}

// Pages returns max(1, ceil(total/pageSize)).
func Pages(total, pageSize int) int {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	pages := (total + pageSize - 1) / pageSize
	if pages < 1 {
		return 1
	}
	return pages
}

// Slice returns the items within b, clipped to len(items).
func Slice[T any](items []T, b Bounds) []T {
	start := min(max(0, b.SliceStart), len(items))
	end := min(max(start, b.SliceEnd), len(items))
	out := make([]T, end-start)
	copy(out, items[start:end])
	return out
}

// Window lists the page controls for current of pages. When pages fits in
// budget every page is listed; otherwise the first page, a run of pages
// centred on current, and the last page, with an ellipsis wherever pages are
// skipped. Numbers are unique, ascending and within [1, pages].
func Window(current, pages, budget int) []entities.PageItem {
	if pages < 1 {
		pages = 1
	}
	if budget < 1 {
		budget = DefaultWindow
	}
	current = min(max(1, current), pages)

	if pages <= budget {
		items := make([]entities.PageItem, 0, pages)
		for p := 1; p <= pages; p++ {
			items = append(items, entities.PageItem{Number: p})
		}
		return items
	}

	// First and last are always shown; the run fills the rest of the budget.
	run := max(1, budget-2)
	start := current - run/2
	start = min(max(2, start), pages-run)
	start = max(2, start)
	end := min(start+run-1, pages-1)

	items := []entities.PageItem{{Number: 1}}
	if start > 2 {
		items = append(items, entities.PageItem{Ellipsis: true})
	}
	for p := start; p <= end; p++ {
		items = append(items, entities.PageItem{Number: p})
	}
	if end < pages-1 {
		items = append(items, entities.PageItem{Ellipsis: true})
	}
	items = append(items, entities.PageItem{Number: pages})
	return items
}
