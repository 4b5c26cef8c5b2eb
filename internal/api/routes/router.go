package routes

import (
	"net/http"

	"github.com/zatekoja/clinicopsdashboard/internal/api/handlers"
	"github.com/zatekoja/clinicopsdashboard/internal/api/middleware"
	"github.com/zatekoja/clinicopsdashboard/internal/infrastructure/observability"
)

// Router holds all route handlers
type Router struct {
	mux *http.ServeMux

	viewHandler *handlers.ViewHandler
	sseHandler  *handlers.SSEHandler

	cacheMiddleware *middleware.CacheMiddleware
	allowedOrigins  []string
	metrics         *observability.Metrics
}

// NewRouter creates a new router. cacheMiddleware and metrics may be nil.
func NewRouter(
	viewHandler *handlers.ViewHandler,
	sseHandler *handlers.SSEHandler,
	cacheMiddleware *middleware.CacheMiddleware,
	allowedOrigins []string,
	metrics *observability.Metrics,
) *Router {
	return &Router{
		mux:             http.NewServeMux(),
		viewHandler:     viewHandler,
		sseHandler:      sseHandler,
		cacheMiddleware: cacheMiddleware,
		allowedOrigins:  allowedOrigins,
		metrics:         metrics,
	}
}

// SetupRoutes configures all application routes
func (r *Router) SetupRoutes() http.Handler {
	// Health check endpoint
	r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			return
		}
	})

	r.mux.HandleFunc("GET /api/kinds", r.viewHandler.ListKinds)

	// View endpoints
	r.mux.HandleFunc("POST /api/views", r.viewHandler.OpenView)
	r.mux.HandleFunc("GET /api/views/{id}", r.viewHandler.GetView)
	r.mux.HandleFunc("DELETE /api/views/{id}", r.viewHandler.CloseView)
	r.mux.HandleFunc("PUT /api/views/{id}/search", r.viewHandler.SetSearch)
	r.mux.HandleFunc("PUT /api/views/{id}/filters/{name}", r.viewHandler.SetFilter)
	r.mux.HandleFunc("DELETE /api/views/{id}/filters/{name}", r.viewHandler.ClearFilter)
	r.mux.HandleFunc("DELETE /api/views/{id}/filters", r.viewHandler.ClearAllFilters)
	r.mux.HandleFunc("PUT /api/views/{id}/sort", r.viewHandler.SetSort)
	r.mux.HandleFunc("POST /api/views/{id}/sort/toggle", r.viewHandler.ToggleSort)
	r.mux.HandleFunc("PUT /api/views/{id}/page", r.viewHandler.GoToPage)
	r.mux.HandleFunc("PUT /api/views/{id}/page-size", r.viewHandler.SetPageSize)
	r.mux.HandleFunc("POST /api/views/{id}/refetch", r.viewHandler.Refetch)

	// Upstream change notifications
	r.mux.HandleFunc("POST /api/records/{kind}/changed", r.viewHandler.RecordsChanged)

	// Live view state
	if r.sseHandler != nil {
		r.mux.HandleFunc("GET /api/stream/views/{id}", r.sseHandler.StreamView)
	}

	// Apply middleware in reverse order (last middleware wraps first)
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)
	if r.cacheMiddleware != nil {
		handler = r.cacheMiddleware.Middleware(handler)
	}
	handler = middleware.ObservabilityMiddleware(r.metrics)(handler)
	handler = middleware.ResponseOptimization(handler)
	// CORS wraps everything so headers are set even on cache HITs
	handler = middleware.CORSMiddleware(r.allowedOrigins)(handler)

	return handler
}
