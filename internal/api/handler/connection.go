package handler

import (
	"net/http"

	"github.com/halvard/relay/internal/api/middleware"
	"github.com/halvard/relay/internal/api/request"
	"github.com/halvard/relay/internal/api/response"
	"github.com/halvard/relay/internal/core"
	"github.com/halvard/relay/internal/model"
)

// Connection handles API connection endpoints.
type Connection struct {
	svc *core.ConnectionService
}

// NewConnection creates a new Connection handler.
func NewConnection(svc *core.ConnectionService) *Connection {
	return &Connection{svc: svc}
}

// Create stores a connection and wakes any runs waiting on it.
func (h *Connection) Create(w http.ResponseWriter, r *http.Request) {
	env := middleware.EnvironmentFromContext(r.Context())

	var req request.CreateConnection
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	conn := &model.APIConnection{
		EnvironmentID:     env.ID,
		ClientID:          req.ClientID,
		ConnectionType:    req.ConnectionType,
		ExternalAccountID: req.ExternalAccountID,
		Credentials:       req.Credentials,
	}

	if err := h.svc.Created(r.Context(), conn); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusCreated, conn)
}
