package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexuts-io/nexuts/internal/nexerr"
)

func TestStatusForMapsKinds(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, StatusFor(nexerr.Validation("op", nexerr.ErrUnknownOpType)))
	assert.Equal(t, http.StatusNotFound, StatusFor(nexerr.NotFound("op", nexerr.ErrUnknownPath)))
	assert.Equal(t, http.StatusServiceUnavailable, StatusFor(nexerr.Transient("op", nexerr.ErrUnexpectedStatus)))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(nexerr.Corruption("op", nexerr.ErrUnknownOpType)))
}

func TestWriteErrorWritesJSONBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, nexerr.Validation("op", nexerr.ErrMissingWorkerID))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestDecodeJSONRejectsMalformedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{not json"))
	var dst map[string]any
	err := DecodeJSON(req, &dst)
	assert.Error(t, err)
}
