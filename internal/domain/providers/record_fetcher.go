package providers

import (
	"context"

	"github.com/zatekoja/clinicopsdashboard/internal/domain/entities"
)

// RecordFetcher reads one page of a paginated records endpoint.
// Implementations are read-only and hold no per-view state.
type RecordFetcher interface {
	// FetchPage issues GET <endpoint>?page=<page>&page_size=<pageSize>
	FetchPage(ctx context.Context, endpoint string, page, pageSize int) (*entities.RecordPage, error)
}
