package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/zatekoja/clinicopsdashboard/internal/application/services"
	"github.com/zatekoja/clinicopsdashboard/internal/domain/entities"
	"github.com/zatekoja/clinicopsdashboard/internal/query/fields"
	"github.com/zatekoja/clinicopsdashboard/pkg/validator"
)

// defaultWaitTimeout bounds ?wait=true requests
const defaultWaitTimeout = 10 * time.Second

// ViewHandler handles record view HTTP requests
type ViewHandler struct {
	service     *services.ViewService
	validator   *validator.Validator
	waitTimeout time.Duration
}

// NewViewHandler creates a new view handler
func NewViewHandler(service *services.ViewService, waitTimeout time.Duration) *ViewHandler {
	if waitTimeout <= 0 {
		waitTimeout = defaultWaitTimeout
	}
	return &ViewHandler{
		service:     service,
		validator:   validator.New(),
		waitTimeout: waitTimeout,
	}
}

// ListKinds handles GET /api/kinds
func (h *ViewHandler) ListKinds(w http.ResponseWriter, r *http.Request) {
	kinds := fields.Kinds()
	out := make([]KindResponse, 0, len(kinds))
	for _, kind := range kinds {
		fieldSet, err := fields.Lookup(kind)
		if err != nil {
			continue
		}
		out = append(out, KindResponse{
			Kind:     kind,
			Filters:  fieldSet.FilterNames(),
			SortKeys: fieldSet.SortKeys(),
		})
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"kinds": out,
		"count": len(out),
	})
}

// OpenView handles POST /api/views
func (h *ViewHandler) OpenView(w http.ResponseWriter, r *http.Request) {
	var req OpenViewRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}

	session, err := h.service.Open(r.Context(), req.Kind)
	if err != nil {
		respondWithAppError(w, err)
		return
	}

	h.respondWithState(w, r, http.StatusCreated, session.ID)
}

// GetView handles GET /api/views/{id}
func (h *ViewHandler) GetView(w http.ResponseWriter, r *http.Request) {
	h.respondWithState(w, r, http.StatusOK, r.PathValue("id"))
}

// CloseView handles DELETE /api/views/{id}
func (h *ViewHandler) CloseView(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Close(r.Context(), r.PathValue("id")); err != nil {
		respondWithAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetSearch handles PUT /api/views/{id}/search
func (h *ViewHandler) SetSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}
	h.intent(w, r, func(id string) (entities.ViewState, error) {
		return h.service.SetSearch(id, req.Text)
	})
}

// SetFilter handles PUT /api/views/{id}/filters/{name}
func (h *ViewHandler) SetFilter(w http.ResponseWriter, r *http.Request) {
	var req FilterRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}
	name := r.PathValue("name")
	h.intent(w, r, func(id string) (entities.ViewState, error) {
		return h.service.SetFilter(id, name, entities.FilterValue{Value: req.Value, Min: req.Min, Max: req.Max})
	})
}

// ClearFilter handles DELETE /api/views/{id}/filters/{name}
func (h *ViewHandler) ClearFilter(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	h.intent(w, r, func(id string) (entities.ViewState, error) {
		return h.service.ClearFilter(id, name)
	})
}

// ClearAllFilters handles DELETE /api/views/{id}/filters
func (h *ViewHandler) ClearAllFilters(w http.ResponseWriter, r *http.Request) {
	h.intent(w, r, h.service.ClearAllFilters)
}

// SetSort handles PUT /api/views/{id}/sort
func (h *ViewHandler) SetSort(w http.ResponseWriter, r *http.Request) {
	var req SortRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}
	h.intent(w, r, func(id string) (entities.ViewState, error) {
		return h.service.SetSort(id, req.Key, entities.ParseSortDirection(req.Direction))
	})
}

// ToggleSort handles POST /api/views/{id}/sort/toggle
func (h *ViewHandler) ToggleSort(w http.ResponseWriter, r *http.Request) {
	var req ToggleSortRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}
	h.intent(w, r, func(id string) (entities.ViewState, error) {
		return h.service.ToggleSort(id, req.Key)
	})
}

// GoToPage handles PUT /api/views/{id}/page
func (h *ViewHandler) GoToPage(w http.ResponseWriter, r *http.Request) {
	var req PageRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}
	h.intent(w, r, func(id string) (entities.ViewState, error) {
		return h.service.GoToPage(id, req.Page)
	})
}

// SetPageSize handles PUT /api/views/{id}/page-size
func (h *ViewHandler) SetPageSize(w http.ResponseWriter, r *http.Request) {
	var req PageSizeRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}
	h.intent(w, r, func(id string) (entities.ViewState, error) {
		return h.service.SetPageSize(id, req.PageSize)
	})
}

// Refetch handles POST /api/views/{id}/refetch
func (h *ViewHandler) Refetch(w http.ResponseWriter, r *http.Request) {
	h.intent(w, r, func(id string) (entities.ViewState, error) {
		return h.service.Refetch(context.WithoutCancel(r.Context()), id)
	})
}

// RecordsChanged handles POST /api/records/{kind}/changed
func (h *ViewHandler) RecordsChanged(w http.ResponseWriter, r *http.Request) {
	var req RecordsChangedRequest
	if !decodeAndValidate(w, r, h.validator, &req) {
		return
	}

	event, err := h.service.PublishRecordsChanged(r.Context(), r.PathValue("kind"), req.Reason)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, event)
}

func (h *ViewHandler) intent(w http.ResponseWriter, r *http.Request, apply func(id string) (entities.ViewState, error)) {
	id := r.PathValue("id")
	if _, err := apply(id); err != nil {
		respondWithAppError(w, err)
		return
	}
	h.respondWithState(w, r, http.StatusOK, id)
}

// respondWithState writes the view's state, first waiting for it to settle
// when the request asks for ?wait=true.
func (h *ViewHandler) respondWithState(w http.ResponseWriter, r *http.Request, statusCode int, id string) {
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		ctx, cancel := context.WithTimeout(r.Context(), h.waitTimeout)
		defer cancel()
		if err := h.service.WaitIdle(ctx, id); err != nil {
			if ctx.Err() != nil {
				respondWithError(w, http.StatusGatewayTimeout, "view did not settle in time")
				return
			}
			respondWithAppError(w, err)
			return
		}
	}

	state, err := h.service.Get(id)
	if err != nil {
		respondWithAppError(w, err)
		return
	}
	respondWithJSON(w, statusCode, ViewResponse{ID: id, State: state})
}
