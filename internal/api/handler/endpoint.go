package handler

import (
	"net/http"

	"github.com/halvard/relay/internal/api/middleware"
	"github.com/halvard/relay/internal/api/request"
	"github.com/halvard/relay/internal/api/response"
	"github.com/halvard/relay/internal/core"
)

// Endpoint handles endpoint registration.
type Endpoint struct {
	svc *core.EndpointService
}

// NewEndpoint creates a new Endpoint handler.
func NewEndpoint(svc *core.EndpointService) *Endpoint {
	return &Endpoint{svc: svc}
}

// Register pings and upserts an endpoint for the authenticated environment.
func (h *Endpoint) Register(w http.ResponseWriter, r *http.Request) {
	env := middleware.EnvironmentFromContext(r.Context())

	var req request.RegisterEndpoint
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	ep, err := h.svc.Register(r.Context(), env.ID, req.Slug, req.URL)
	if err != nil {
		response.WriteError(w, http.StatusBadGateway, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusCreated, ep)
}
