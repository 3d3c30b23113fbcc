// handlers_upload.go - Chunked upload handlers
package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/docingest/backend/internal/upload"
	"github.com/labstack/echo/v4"
)

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	chunks    ChunkWriter
	completer Completer
}

// NewUploadHandler creates a new upload handler instance
func NewUploadHandler(chunks ChunkWriter, completer Completer) UploadHandler {
	return &UploadHandlerImpl{
		chunks:    chunks,
		completer: completer,
	}
}

// HandleUploadChunk stores one chunk from a multipart form with fields
// file_id, chunk_index and data. data may be a file part or a plain field.
func (h *UploadHandlerImpl) HandleUploadChunk(c echo.Context) error {
	var req uploadChunkRequest
	req.FileID = c.FormValue("file_id")
	req.ChunkIndex = c.FormValue("chunk_index")

	index, err := req.validate()
	if err != nil {
		return err
	}

	data, err := chunkPayload(c)
	if err != nil {
		return err
	}
	defer data.Close()

	if err := h.chunks.PutChunk(c.Request().Context(), req.FileID, index, data); err != nil {
		return FromIngestError(err)
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"file_id":     req.FileID,
		"chunk_index": index,
	})
}

func chunkPayload(c echo.Context) (io.ReadCloser, error) {
	if fh, err := c.FormFile("data"); err == nil {
		f, err := fh.Open()
		if err != nil {
			return nil, NewInternalError("failed to open chunk data", err)
		}
		return f, nil
	}

	form, err := c.MultipartForm()
	if err != nil {
		return nil, NewBadRequestError("expected multipart form", err)
	}
	values, ok := form.Value["data"]
	if !ok || len(values) == 0 {
		return nil, NewValidationError("data")
	}
	return io.NopCloser(strings.NewReader(values[0])), nil
}

// HandleCompleteUpload merges a staged session and finalizes the document
func (h *UploadHandlerImpl) HandleCompleteUpload(c echo.Context) error {
	var req completeUploadRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	if err := req.validate(); err != nil {
		return err
	}

	doc, err := h.completer.CompleteUpload(c.Request().Context(), req.toCompleteRequest())
	if err != nil {
		return FromIngestError(err)
	}

	return c.JSON(http.StatusCreated, doc)
}

// HandleSessionStatus reports staged chunks and completion state
func (h *UploadHandlerImpl) HandleSessionStatus(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	sess, err := h.completer.Status(c.Request().Context(), id)
	if err != nil {
		return FromIngestError(err)
	}
	sess.StagingDir = ""

	return c.JSON(http.StatusOK, sess)
}

// Request types

type uploadChunkRequest struct {
	FileID     string
	ChunkIndex string
}

func (r *uploadChunkRequest) validate() (int, error) {
	if r.FileID == "" {
		return 0, NewValidationError("file_id")
	}
	if r.ChunkIndex == "" {
		return 0, NewValidationError("chunk_index")
	}
	index, err := strconv.Atoi(r.ChunkIndex)
	if err != nil || index < 0 {
		return 0, NewBadRequestError("chunk_index must be a non-negative integer", err)
	}
	return index, nil
}

type completeUploadRequest struct {
	FileID    string `json:"file_id"`
	Name      string `json:"name"`
	Extension string `json:"extension"`
	// Older clients send the misspelled key.
	Extention string `json:"extention"`
}

func (r *completeUploadRequest) validate() error {
	if r.FileID == "" {
		return NewValidationError("file_id")
	}
	if strings.TrimSpace(r.Name) == "" {
		return NewValidationError("name")
	}
	return nil
}

func (r *completeUploadRequest) toCompleteRequest() upload.CompleteRequest {
	ext := r.Extension
	if ext == "" {
		ext = r.Extention
	}
	return upload.CompleteRequest{
		SessionID: r.FileID,
		Name:      r.Name,
		Extension: ext,
	}
}
