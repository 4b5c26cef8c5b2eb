package handlers

import "github.com/zatekoja/clinicopsdashboard/internal/domain/entities"

// OpenViewRequest opens a view of one record kind
type OpenViewRequest struct {
	Kind string `json:"kind" validate:"required"`
}

// ViewResponse carries a view's id and current state
type ViewResponse struct {
	ID    string             `json:"id"`
	State entities.ViewState `json:"state"`
}

// SearchRequest sets the raw search text
type SearchRequest struct {
	Text string `json:"text" validate:"max=200"`
}

// FilterRequest sets one filter. Empty values clear it.
type FilterRequest struct {
	Value string `json:"value" validate:"max=100"`
	Min   string `json:"min" validate:"max=20"`
	Max   string `json:"max" validate:"max=20"`
}

// SortRequest sets the sort key and direction
type SortRequest struct {
	Key       string `json:"key" validate:"required"`
	Direction string `json:"direction" validate:"omitempty,oneof=asc desc"`
}

// ToggleSortRequest is a header click
type ToggleSortRequest struct {
	Key string `json:"key" validate:"required"`
}

// PageRequest moves to a page. Out of range pages are clamped.
type PageRequest struct {
	Page int `json:"page"`
}

// PageSizeRequest changes the page size
type PageSizeRequest struct {
	PageSize int `json:"pageSize" validate:"required,min=1,max=500"`
}

// RecordsChangedRequest announces an upstream change
type RecordsChangedRequest struct {
	Reason string `json:"reason" validate:"max=200"`
}

// KindResponse describes one record kind
type KindResponse struct {
	Kind     string   `json:"kind"`
	Filters  []string `json:"filters"`
	SortKeys []string `json:"sortKeys"`
}
