package middleware_test

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/clinicopsdashboard/internal/adapters/cache"
	"github.com/zatekoja/clinicopsdashboard/internal/api/middleware"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
}

func TestCORSMiddleware_EchoesListedOrigin(t *testing.T) {
	handler := middleware.CORSMiddleware([]string{"https://ops.example.org"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/kinds", nil)
	req.Header.Set("Origin", "https://ops.example.org")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://ops.example.org", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", rec.Header().Get("Vary"))
}

func TestCORSMiddleware_IgnoresUnlistedOrigin(t *testing.T) {
	handler := middleware.CORSMiddleware([]string{"https://ops.example.org"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/kinds", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSMiddleware_AnswersPreflight(t *testing.T) {
	called := false
	handler := middleware.CORSMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/views", nil)
	req.Header.Set("Origin", "https://anywhere.example.org")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.False(t, called)
}

func TestResponseOptimization_ETagRoundTrip(t *testing.T) {
	handler := middleware.ResponseOptimization(okHandler())

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/kinds", nil))
	etag := first.Header().Get("ETag")
	assert.NotEmpty(t, etag)
	assert.Equal(t, "public, max-age=600, must-revalidate", first.Header().Get("Cache-Control"))

	req := httptest.NewRequest(http.MethodGet, "/api/kinds", nil)
	req.Header.Set("If-None-Match", etag)
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)

	assert.Equal(t, http.StatusNotModified, second.Code)
}

func TestResponseOptimization_GzipsBodies(t *testing.T) {
	handler := middleware.ResponseOptimization(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/views/abc", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "private, no-store", rec.Header().Get("Cache-Control"))
	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))
}

func TestResponseOptimization_BodilessResponseStaysEmpty(t *testing.T) {
	handler := middleware.ResponseOptimization(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodDelete, "/api/views/abc", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Zero(t, rec.Body.Len())
}

func TestResponseOptimization_StreamsPassThrough(t *testing.T) {
	handler := middleware.ResponseOptimization(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, isFlusher := w.(http.Flusher)
		assert.True(t, isFlusher)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: connected\n\n"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/stream/views/abc", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("ETag"))
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "event: connected\n\n", rec.Body.String())
}

func TestLoggingMiddleware_PassesStatusThrough(t *testing.T) {
	handler := middleware.LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestObservabilityMiddleware_NilMetrics(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /api/views/{id}", okHandler())
	handler := middleware.ObservabilityMiddleware(nil)(mux)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/views/abc", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCacheMiddleware_ServesSecondRequestFromCache(t *testing.T) {
	calls := 0
	handler := middleware.NewCacheMiddleware(cache.NewMemoryAdapter(8, time.Minute), nil, nil).
		Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			_, _ = w.Write([]byte(`{"kinds":[]}`))
		}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/kinds", nil))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/kinds", nil))

	assert.Equal(t, 1, calls)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, `{"kinds":[]}`, second.Body.String())
}

func TestCacheMiddleware_SkipsUnlistedRoutes(t *testing.T) {
	calls := 0
	handler := middleware.NewCacheMiddleware(cache.NewMemoryAdapter(8, time.Minute), nil, nil).
		Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
		}))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/views/abc", nil))
	}

	assert.Equal(t, 2, calls)
}
