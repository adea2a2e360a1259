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

// Event handles event ingestion and inspection endpoints.
type Event struct {
	svc *core.EventIngestService
}

// NewEvent creates a new Event handler.
func NewEvent(svc *core.EventIngestService) *Event {
	return &Event{svc: svc}
}

// Send ingests an event for the authenticated environment.
func (h *Event) Send(w http.ResponseWriter, r *http.Request) {
	env := middleware.EnvironmentFromContext(r.Context())

	var req request.SendEvent
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, err := h.svc.Ingest(r.Context(), env, model.RawEvent{
		ID:      req.ID,
		Name:    req.Name,
		Source:  req.Source,
		Payload: req.Payload,
		Context: req.Context,
	}, core.IngestOptions{DeliverAt: req.DeliverAt, DeliverAfter: req.DeliverAfter})
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if record == nil {
		// Runs disabled for the organization; accepted but not recorded.
		w.WriteHeader(http.StatusNoContent)
		return
	}

	response.WriteJSON(w, http.StatusCreated, record)
}

// SendBatch ingests a set of events for the authenticated environment and
// schedules their delivery as one batched pass.
func (h *Event) SendBatch(w http.ResponseWriter, r *http.Request) {
	env := middleware.EnvironmentFromContext(r.Context())

	var req request.SendEventBatch
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	events := make([]model.RawEvent, 0, len(req.Events))
	for _, ev := range req.Events {
		events = append(events, model.RawEvent{
			ID:      ev.ID,
			Name:    ev.Name,
			Source:  ev.Source,
			Payload: ev.Payload,
			Context: ev.Context,
		})
	}

	records, err := h.svc.IngestBatch(r.Context(), env, events, core.IngestOptions{
		DeliverAt:    req.DeliverAt,
		DeliverAfter: req.DeliverAfter,
	})
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	response.WriteJSON(w, http.StatusCreated, records)
}

// List returns events for the authenticated environment, newest first.
func (h *Event) List(w http.ResponseWriter, r *http.Request) {
	env := middleware.EnvironmentFromContext(r.Context())
	pg := request.ParsePagination(r)

	events, hasMore, err := h.svc.ListByEnvironment(r.Context(), env.ID, pg.Limit, pg.Cursor)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var nextCursor string
	if hasMore && len(events) > 0 {
		nextCursor = events[len(events)-1].ID
	}
	response.WritePaginated(w, http.StatusOK, events, nextCursor, hasMore)
}

// Get returns a single event record.
func (h *Event) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, record)
}

// Cancel cancels a delayed event that has not been delivered yet.
func (h *Event) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.CancelDelayedEvent(r.Context(), id); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
