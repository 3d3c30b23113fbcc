// interfaces.go - Handler and service interface definitions
package api

import (
	"context"
	"io"

	"github.com/docingest/backend/internal/events"
	"github.com/docingest/backend/internal/importer"
	"github.com/docingest/backend/internal/models"
	"github.com/docingest/backend/internal/upload"
	"github.com/labstack/echo/v4"
)

// UploadHandler handles chunked document uploads
type UploadHandler interface {
	HandleUploadChunk(c echo.Context) error
	HandleCompleteUpload(c echo.Context) error
	HandleSessionStatus(c echo.Context) error
}

// DocumentHandler serves persisted document records
type DocumentHandler interface {
	HandleListDocuments(c echo.Context) error
	HandleListDocumentsMsgpack(c echo.Context) error
	HandleGetDocument(c echo.Context) error
}

// ImportHandler triggers bulk imports
type ImportHandler interface {
	HandleImportUsers(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// EventHandler streams pipeline events
type EventHandler interface {
	HandleEvents(c echo.Context) error
}

// ChunkWriter stages chunk payloads.
type ChunkWriter interface {
	PutChunk(ctx context.Context, sessionID string, index int, r io.Reader) error
}

// Completer runs and reports upload completions.
// This allows mocking in tests
type Completer interface {
	CompleteUpload(ctx context.Context, req upload.CompleteRequest) (*models.IngestedDocument, error)
	Status(ctx context.Context, sessionID string) (*models.UploadSession, error)
}

// DocumentReader reads persisted document metadata.
type DocumentReader interface {
	ListDocuments(ctx context.Context, limit int) ([]*models.IngestedDocument, error)
	GetDocument(ctx context.Context, id string) (*models.IngestedDocument, error)
}

// Importer runs a bulk user import.
type Importer interface {
	Run(ctx context.Context, opts importer.Options) (*models.ImportSummary, error)
}

// EventSource hands out event subscriptions.
type EventSource interface {
	Subscribe() *events.Subscription
}

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}
