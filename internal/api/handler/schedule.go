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

// Schedule handles schedule source endpoints.
type Schedule struct {
	svc *core.ScheduleService
}

// NewSchedule creates a new Schedule handler.
func NewSchedule(svc *core.ScheduleService) *Schedule {
	return &Schedule{svc: svc}
}

// Register creates or updates a schedule source and arms its first fire.
func (h *Schedule) Register(w http.ResponseWriter, r *http.Request) {
	env := middleware.EnvironmentFromContext(r.Context())

	var req request.RegisterSchedule
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	source := &model.ScheduleSource{
		EnvironmentID: env.ID,
		DispatcherID:  req.DispatcherID,
		Key:           req.Key,
		ScheduleType:  req.ScheduleType,
		ScheduleExpr:  req.ScheduleExpr,
		Active:        true,
	}

	if err := h.svc.Register(r.Context(), source); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusCreated, source)
}

// Deactivate stops a schedule source and cancels its pending fire.
func (h *Schedule) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Deactivate(r.Context(), id); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
