// routes.go - Route registration helpers
package api

import (
	"github.com/docingest/backend/internal/importer"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Chunks        ChunkWriter
	Completer     Completer
	Documents     DocumentReader // nil disables the document endpoints
	Importer      Importer
	ImportDefault importer.Options
	Events        EventSource
	DB            Pinger
	RemoteBackend string
	Version       string
	Logger        logrus.FieldLogger
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Upload    UploadHandler
	Documents DocumentHandler
	Import    ImportHandler
	Events    EventHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	h := &Handlers{
		Health:    NewHealthHandler(deps.Version, deps.DB, deps.RemoteBackend),
		Upload:    NewUploadHandler(deps.Chunks, deps.Completer),
		Documents: NewDocumentHandler(deps.Documents),
	}
	if deps.Importer != nil {
		h.Import = NewImportHandler(deps.Importer, deps.ImportDefault)
	}
	if deps.Events != nil {
		h.Events = NewEventStreamHandler(deps.Events, deps.Logger)
	}
	return h
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	api := e.Group("/api")

	// Health check
	api.GET("/health", handlers.Health.HandleHealth)

	// Chunked upload and document routes
	docs := api.Group("/documents")
	docs.POST("/upload-chunk", handlers.Upload.HandleUploadChunk)
	docs.POST("/complete-upload", handlers.Upload.HandleCompleteUpload)
	docs.GET("/sessions/:id", handlers.Upload.HandleSessionStatus)
	docs.GET("", handlers.Documents.HandleListDocuments)
	docs.GET("/msgpack", handlers.Documents.HandleListDocumentsMsgpack)
	docs.GET("/:id", handlers.Documents.HandleGetDocument)

	if handlers.Import != nil {
		api.POST("/import/users", handlers.Import.HandleImportUsers)
	}

	if handlers.Events != nil {
		api.GET("/ws/events", handlers.Events.HandleEvents)
	}
}

// SetupMiddleware configures the error handler
func SetupMiddleware(e *echo.Echo) {
	e.HTTPErrorHandler = ErrorHandler
}
