package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newDispatcherHandler() *Dispatcher {
	return NewDispatcher(nil)
}

// --- Register ---

func TestDispatcherRegister_InvalidJSON(t *testing.T) {
	h := newDispatcherHandler()
	rec := httptest.NewRecorder()
	r := newRequestRaw(http.MethodPost, "/dispatchers", "{bad json")
	r = withEnvironment(r)

	h.Register(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "invalid JSON")
}

func TestDispatcherRegister_NoEventNames(t *testing.T) {
	h := newDispatcherHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/dispatchers", map[string]any{
		"event_names":  []string{},
		"source":       "app",
		"dispatchable": map[string]any{"type": "JOB_VERSION", "version_id": "ver-1"},
	})
	r = withEnvironment(r)

	h.Register(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "validation error")
}

func TestDispatcherRegister_UnknownDispatchableType(t *testing.T) {
	h := newDispatcherHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/dispatchers", map[string]any{
		"event_names":  []string{"order.created"},
		"source":       "app",
		"dispatchable": map[string]any{"type": "WEBHOOK"},
	})
	r = withEnvironment(r)

	h.Register(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- Disable ---

func TestDispatcherDisable_EmptyID(t *testing.T) {
	h := newDispatcherHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodDelete, "/dispatchers/", nil)
	r = withChiURLParam(r, "id", "")

	h.Disable(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "missing required ID")
}
