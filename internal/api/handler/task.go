package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/halvard/relay/internal/api/request"
	"github.com/halvard/relay/internal/api/response"
	"github.com/halvard/relay/internal/core"
)

// Task handles task completion callbacks.
type Task struct {
	svc *core.TaskService
}

// NewTask creates a new Task handler.
func NewTask(svc *core.TaskService) *Task {
	return &Task{svc: svc}
}

// Complete records a task's output and schedules its resume.
func (h *Task) Complete(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.CompleteTask
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Complete(r.Context(), id, req.Output); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
