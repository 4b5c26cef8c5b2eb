package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/clinicopsdashboard/internal/application/services"
	"github.com/zatekoja/clinicopsdashboard/internal/domain/entities"
)

// SSEHandler handles Server-Sent Events for live view state
type SSEHandler struct {
	service   *services.ViewService
	heartbeat time.Duration
	clients   atomic.Int64
}

// NewSSEHandler creates a new SSE handler
func NewSSEHandler(service *services.ViewService, heartbeat time.Duration) *SSEHandler {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &SSEHandler{
		service:   service,
		heartbeat: heartbeat,
	}
}

// StreamView handles SSE connections for one view's state
// GET /api/stream/views/{id}
func (h *SSEHandler) StreamView(w http.ResponseWriter, r *http.Request) {
	viewID := r.PathValue("id")
	if viewID == "" {
		respondWithError(w, http.StatusBadRequest, "view ID is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Only the newest state matters, so a slow client skips intermediate ones.
	updates := make(chan entities.ViewState, 1)
	stop, err := h.service.Watch(viewID, func(state entities.ViewState) {
		for {
			select {
			case updates <- state:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	defer stop()

	h.clients.Add(1)
	defer h.clients.Add(-1)

	// Set headers for SSE
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	h.sendEvent(w, "connected", map[string]interface{}{
		"view_id":   viewID,
		"timestamp": time.Now(),
	})
	var lastVersion uint64
	if state, err := h.service.Get(viewID); err == nil {
		lastVersion = state.Version
		h.sendEvent(w, "state", state)
	}
	flusher.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug().Str("view_id", viewID).Msg("client disconnected from view stream")
			return
		case <-ticker.C:
			h.sendEvent(w, "heartbeat", map[string]interface{}{
				"timestamp": time.Now(),
			})
			flusher.Flush()
		case state := <-updates:
			if state.Version <= lastVersion {
				continue
			}
			lastVersion = state.Version
			h.sendEvent(w, "state", state)
			flusher.Flush()
		}
	}
}

// sendEvent sends an SSE event to the client
func (h *SSEHandler) sendEvent(w http.ResponseWriter, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("failed to marshal event data")
		return
	}

	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
}

// GetClientCount returns the number of connected clients for debugging
func (h *SSEHandler) GetClientCount() int {
	return int(h.clients.Load())
}
