package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskComplete_EmptyID(t *testing.T) {
	h := NewTask(nil)
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodPost, "/tasks//complete", map[string]any{})
	r = withChiURLParam(r, "id", "")

	h.Complete(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "missing required ID")
}

func TestTaskComplete_InvalidJSON(t *testing.T) {
	h := NewTask(nil)
	rec := httptest.NewRecorder()
	r := newRequestRaw(http.MethodPost, "/tasks/"+validID+"/complete", "{bad")
	r = withChiURLParam(r, "id", validID)

	h.Complete(rec, r)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
