// handlers_documents.go - Document metadata handlers
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/docingest/backend/internal/models"
	"github.com/docingest/backend/internal/persistence"
	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	defaultDocumentLimit = 50
	maxDocumentLimit     = 500
)

// DocumentHandlerImpl implements the DocumentHandler interface
type DocumentHandlerImpl struct {
	docs DocumentReader
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(docs DocumentReader) DocumentHandler {
	return &DocumentHandlerImpl{docs: docs}
}

func (h *DocumentHandlerImpl) list(c echo.Context) ([]*models.IngestedDocument, int, error) {
	if h.docs == nil {
		return nil, 0, NewServiceUnavailableError("document store is not configured")
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 {
		limit = defaultDocumentLimit
	}
	if limit > maxDocumentLimit {
		limit = maxDocumentLimit
	}

	docs, err := h.docs.ListDocuments(c.Request().Context(), limit)
	if err != nil {
		return nil, 0, NewInternalError("failed to list documents", err)
	}
	return docs, limit, nil
}

// HandleListDocuments returns the most recent documents as JSON
func (h *DocumentHandlerImpl) HandleListDocuments(c echo.Context) error {
	docs, _, err := h.list(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, docs)
}

// HandleListDocumentsMsgpack returns the most recent documents in MessagePack format.
func (h *DocumentHandlerImpl) HandleListDocumentsMsgpack(c echo.Context) error {
	docs, limit, err := h.list(c)
	if err != nil {
		return err
	}

	data, err := msgpack.Marshal(map[string]interface{}{
		"documents": docs,
		"count":     len(docs),
		"limit":     limit,
	})
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}

	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleGetDocument returns one document by id
func (h *DocumentHandlerImpl) HandleGetDocument(c echo.Context) error {
	if h.docs == nil {
		return NewServiceUnavailableError("document store is not configured")
	}
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	doc, err := h.docs.GetDocument(c.Request().Context(), id)
	if errors.Is(err, persistence.ErrDocumentNotFound) {
		return NewNotFoundError("document", id)
	}
	if err != nil {
		return NewInternalError("failed to get document", err)
	}
	return c.JSON(http.StatusOK, doc)
}
