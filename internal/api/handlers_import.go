// handlers_import.go - Bulk import handlers
package api

import (
	"net/http"
	"sync/atomic"

	"github.com/docingest/backend/internal/importer"
	"github.com/docingest/backend/internal/models"
	"github.com/labstack/echo/v4"
)

// ImportHandlerImpl implements the ImportHandler interface
type ImportHandlerImpl struct {
	engine   Importer
	defaults importer.Options
	running  atomic.Bool
}

// NewImportHandler creates a new import handler. defaults fills in any
// option the request leaves out.
func NewImportHandler(engine Importer, defaults importer.Options) ImportHandler {
	return &ImportHandlerImpl{engine: engine, defaults: defaults}
}

type importResponse struct {
	*models.ImportSummary
	Error *APIError `json:"error,omitempty"`
}

// HandleImportUsers runs one bulk import and returns its summary. Only one
// import runs at a time.
func (h *ImportHandlerImpl) HandleImportUsers(c echo.Context) error {
	opts := h.defaults
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&opts); err != nil {
			return NewBadRequestError("invalid request body", err)
		}
	}
	if err := opts.Validate(); err != nil {
		return FromIngestError(err)
	}

	if !h.running.CompareAndSwap(false, true) {
		return &APIError{
			Status:  http.StatusConflict,
			Code:    "IMPORT_IN_PROGRESS",
			Message: "an import is already running",
		}
	}
	defer h.running.Store(false)

	summary, err := h.engine.Run(c.Request().Context(), opts)
	if err != nil {
		apiErr := FromIngestError(err)
		if summary == nil {
			return apiErr
		}
		// Partial runs still report what was committed.
		return c.JSON(apiErr.Status, importResponse{ImportSummary: summary, Error: apiErr})
	}

	return c.JSON(http.StatusOK, importResponse{ImportSummary: summary})
}
