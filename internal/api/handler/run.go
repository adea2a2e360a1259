package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/halvard/relay/internal/api/middleware"
	"github.com/halvard/relay/internal/api/request"
	"github.com/halvard/relay/internal/api/response"
	"github.com/halvard/relay/internal/core"
)

// Run handles run inspection endpoints.
type Run struct {
	svc *core.RunService
}

// NewRun creates a new Run handler.
func NewRun(svc *core.RunService) *Run {
	return &Run{svc: svc}
}

// List returns runs for the authenticated environment, newest first.
func (h *Run) List(w http.ResponseWriter, r *http.Request) {
	env := middleware.EnvironmentFromContext(r.Context())
	pg := request.ParsePagination(r)

	runs, hasMore, err := h.svc.ListByEnvironment(r.Context(), env.ID, pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var nextCursor string
	if hasMore && len(runs) > 0 {
		nextCursor = runs[len(runs)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, runs, nextCursor, hasMore)
}

// Get returns a single run with its execution and task history.
func (h *Run) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := h.svc.Detail(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, run)
}

// Executions returns the execution history for a run, oldest first.
func (h *Run) Executions(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	execs, err := h.svc.Executions(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, execs)
}
