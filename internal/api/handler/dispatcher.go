package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/halvard/relay/internal/api/middleware"
	"github.com/halvard/relay/internal/api/request"
	"github.com/halvard/relay/internal/api/response"
	"github.com/halvard/relay/internal/core"
	"github.com/halvard/relay/internal/model"
)

// Dispatcher handles event dispatcher registration endpoints.
type Dispatcher struct {
	svc *core.DispatcherService
}

// NewDispatcher creates a new Dispatcher handler.
func NewDispatcher(svc *core.DispatcherService) *Dispatcher {
	return &Dispatcher{svc: svc}
}

// Register creates or updates a dispatcher for the authenticated environment.
func (h *Dispatcher) Register(w http.ResponseWriter, r *http.Request) {
	env := middleware.EnvironmentFromContext(r.Context())

	var req request.RegisterDispatcher
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	d := &model.EventDispatcher{
		EnvironmentID:     env.ID,
		EventNames:        req.EventNames,
		Source:            req.Source,
		PayloadFilter:     req.PayloadFilter,
		ContextFilter:     req.ContextFilter,
		ExternalAccountID: req.ExternalAccountID,
		Manual:            req.Manual,
		Enabled:           true,
		Batch:             req.Batch,
		Dispatchable: model.Dispatchable{
			Type:             req.Dispatchable.Type,
			VersionID:        req.Dispatchable.VersionID,
			DynamicTriggerID: req.Dispatchable.DynamicTriggerID,
			EndpointID:       req.Dispatchable.EndpointID,
		},
	}

	if err := h.svc.Register(r.Context(), d); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusCreated, d)
}

// List returns dispatchers for the authenticated environment.
func (h *Dispatcher) List(w http.ResponseWriter, r *http.Request) {
	env := middleware.EnvironmentFromContext(r.Context())
	pg := request.ParsePagination(r)

	dispatchers, hasMore, err := h.svc.ListByEnvironment(r.Context(), env.ID, pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var nextCursor string
	if hasMore && len(dispatchers) > 0 {
		nextCursor = dispatchers[len(dispatchers)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, dispatchers, nextCursor, hasMore)
}

// Disable turns a dispatcher off without deleting it.
func (h *Dispatcher) Disable(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Disable(r.Context(), id); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
