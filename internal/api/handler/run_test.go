package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newRunHandler() *Run {
	return NewRun(nil)
}

func TestRunGet_EmptyID(t *testing.T) {
	h := newRunHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodGet, "/runs/", nil)
	r = withChiURLParam(r, "id", "")

	h.Get(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeErrorResponse(rec)
	assert.Contains(t, body["error"], "missing required ID")
}

func TestRunExecutions_EmptyID(t *testing.T) {
	h := newRunHandler()
	rec := httptest.NewRecorder()
	r := newRequest(http.MethodGet, "/runs//executions", nil)
	r = withChiURLParam(r, "id", "")

	h.Executions(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
