package entities

import (
	"strings"

	apperrors "github.com/zatekoja/clinicopsdashboard/pkg/errors"
)

// SearchState tracks the free-text query as typed and as last settled.
// DebouncedQuery only ever holds a value RawQuery held before.
type SearchState struct {
	RawQuery       string `json:"rawQuery"`
	DebouncedQuery string `json:"debouncedQuery"`
}

// FilterValue is either a categorical equality value or numeric range bounds.
// Bounds are kept as entered; unparseable bounds impose no constraint.
type FilterValue struct {
	Value string `json:"value,omitempty"`
	Min   string `json:"min,omitempty"`
	Max   string `json:"max,omitempty"`
}

// IsEmpty reports whether the value constrains nothing.
func (v FilterValue) IsEmpty() bool {
	return strings.TrimSpace(v.Value) == "" &&
		strings.TrimSpace(v.Min) == "" &&
		strings.TrimSpace(v.Max) == ""
}

// FilterSpec maps filter names to values. Absent or empty entries mean no
// constraint on that filter.
type FilterSpec map[string]FilterValue

// Clone returns a copy safe to hand to readers.
func (f FilterSpec) Clone() FilterSpec {
	out := make(FilterSpec, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// SortDirection represents sort order
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// ParseSortDirection maps "desc" (any case) to SortDesc and anything else to SortAsc.
func ParseSortDirection(s string) SortDirection {
	if strings.EqualFold(strings.TrimSpace(s), string(SortDesc)) {
		return SortDesc
	}
	return SortAsc
}

// SortSpec names the single active sort key. An empty Key keeps input order.
type SortSpec struct {
	Key       string        `json:"key"`
	Direction SortDirection `json:"direction"`
}

// Toggle returns the spec after a header click on key: the active key flips
// direction, any other key starts ascending.
func (s SortSpec) Toggle(key string) SortSpec {
	if s.Key == key {
		if s.Direction == SortDesc {
			return SortSpec{Key: key, Direction: SortAsc}
		}
		return SortSpec{Key: key, Direction: SortDesc}
	}
	return SortSpec{Key: key, Direction: SortAsc}
}

// PaginationState is 1-based; Pages is at least 1.
type PaginationState struct {
	Page     int `json:"page"`
	PageSize int `json:"pageSize"`
	Total    int `json:"total"`
	Pages    int `json:"pages"`
}

// QueryResult is the page to render. It is replaced, never mutated.
type QueryResult struct {
	VisibleRecords []Record        `json:"visibleRecords"`
	Pagination     PaginationState `json:"pagination"`
}

// PageItem is one entry in the page-number control. Ellipsis entries carry no number.
type PageItem struct {
	Number   int  `json:"number,omitempty"`
	Ellipsis bool `json:"ellipsis,omitempty"`
}

// Mode selects where pagination happens
type Mode string

const (
	// ModeServer pages with the records service's own metadata
	ModeServer Mode = "server"
	// ModeClient pages a locally filtered and sorted full record set
	ModeClient Mode = "client"
)

// ViewError is the user-facing error state of a record view
type ViewError struct {
	Type      apperrors.ErrorType `json:"type"`
	Message   string              `json:"message"`
	Retryable bool                `json:"retryable"`
}

// ViewState is a read-only snapshot of one record view
type ViewState struct {
	Kind        string      `json:"kind"`
	Mode        Mode        `json:"mode"`
	Search      SearchState `json:"search"`
	Filters     FilterSpec  `json:"filters"`
	Sort        SortSpec    `json:"sort"`
	Result      QueryResult `json:"result"`
	PageNumbers []PageItem  `json:"pageNumbers"`
	Loading     bool        `json:"loading"`
	Loaded      bool        `json:"loaded"`
	Error       *ViewError  `json:"error,omitempty"`
	// IgnoredFilters lists filter values that could not be applied.
	IgnoredFilters []string `json:"ignoredFilters,omitempty"`
	Version        uint64   `json:"version"`
}
