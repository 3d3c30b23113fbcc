package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/docingest/backend/internal/ingesterr"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromIngestError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
		stage  string
	}{
		{"validation", ingesterr.Validation("name", "required"), http.StatusBadRequest, "VALIDATION_ERROR", ""},
		{"not found", ingesterr.NotFound(ingesterr.StageMerge, "s"), http.StatusNotFound, "NOT_FOUND", "merge"},
		{"ordering", ingesterr.Ordering("s", "ambiguous index"), http.StatusUnprocessableEntity, "ORDERING_ERROR", "merge"},
		{"remote", ingesterr.RemoteUpload("s", 503, "busy", nil), http.StatusBadGateway, "REMOTE_UPLOAD_FAILED", "upload"},
		{"persistence", ingesterr.Persistence("s", errors.New("db down")), http.StatusInternalServerError, "PERSISTENCE_FAILED", "persist"},
		{"concurrency", ingesterr.Concurrency("s"), http.StatusConflict, "COMPLETION_IN_PROGRESS", ""},
		{"batch", ingesterr.Batch(3, errors.New("boom")), http.StatusInternalServerError, "BATCH_FAILED", "import"},
		{"timeout", ingesterr.Timeout(ingesterr.StageUpload, "s", nil), http.StatusGatewayTimeout, "TIMEOUT", "upload"},
		{"storage", ingesterr.Storage(ingesterr.StageChunk, "s", errors.New("disk full")), http.StatusInternalServerError, "STORAGE_ERROR", "chunk"},
		{"wrapped", fmt.Errorf("complete: %w", ingesterr.Concurrency("s")), http.StatusConflict, "COMPLETION_IN_PROGRESS", ""},
		{"foreign", errors.New("plain"), http.StatusInternalServerError, "INTERNAL_ERROR", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := FromIngestError(tt.err)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.stage, apiErr.Stage)
		})
	}
}

func TestFromIngestError_RemoteBody(t *testing.T) {
	apiErr := FromIngestError(ingesterr.RemoteUpload("sess", 400, `{"error":"bad signature"}`, nil))
	assert.Equal(t, `{"error":"bad signature"}`, apiErr.Details)
	assert.Equal(t, "sess", apiErr.Subject)
	assert.Contains(t, apiErr.Message, "status 400")
}

func TestFromIngestError_PassesAPIErrorThrough(t *testing.T) {
	orig := NewNotFoundError("document", "x")
	assert.Same(t, orig, FromIngestError(orig))
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"api error", NewValidationError("file_id"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"echo error", echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), http.StatusMethodNotAllowed, "HTTP_ERROR"},
		{"ingest error", ingesterr.NotFound(ingesterr.StageMerge, "s"), http.StatusNotFound, "NOT_FOUND"},
		{"unknown error", errors.New("kaput"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/x", nil), rec)

			ErrorHandler(tt.err, c)

			require.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestErrorHandler_CommittedResponse(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, c.String(http.StatusOK, "done"))

	ErrorHandler(errors.New("late"), c)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "done", rec.Body.String())
}
