// errors.go - Structured error handling for API responses
package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/docingest/backend/internal/ingesterr"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Subject string `json:"subject,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
	}
}

var kindStatus = map[ingesterr.Kind]struct {
	status int
	code   string
}{
	ingesterr.KindValidation:   {http.StatusBadRequest, "VALIDATION_ERROR"},
	ingesterr.KindNotFound:     {http.StatusNotFound, "NOT_FOUND"},
	ingesterr.KindOrdering:     {http.StatusUnprocessableEntity, "ORDERING_ERROR"},
	ingesterr.KindRemoteUpload: {http.StatusBadGateway, "REMOTE_UPLOAD_FAILED"},
	ingesterr.KindPersistence:  {http.StatusInternalServerError, "PERSISTENCE_FAILED"},
	ingesterr.KindConcurrency:  {http.StatusConflict, "COMPLETION_IN_PROGRESS"},
	ingesterr.KindBatch:        {http.StatusInternalServerError, "BATCH_FAILED"},
	ingesterr.KindTimeout:      {http.StatusGatewayTimeout, "TIMEOUT"},
	ingesterr.KindStorage:      {http.StatusInternalServerError, "STORAGE_ERROR"},
}

// FromIngestError maps a pipeline error onto an APIError. Errors outside the
// ingestion taxonomy become a 500.
func FromIngestError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var ie *ingesterr.Error
	if !errors.As(err, &ie) {
		return NewInternalError("an unexpected error occurred", err)
	}

	m, ok := kindStatus[ie.Kind]
	if !ok {
		m = kindStatus[ingesterr.KindStorage]
	}
	out := &APIError{
		Status:  m.status,
		Code:    m.code,
		Message: err.Error(),
		Stage:   string(ie.Stage),
		Subject: ie.Subject,
	}
	if ie.Body != "" {
		out.Details = ie.Body
	}
	return out
}

// ErrorHandler is the echo HTTPErrorHandler.
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	var httpErr *echo.HTTPError

	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &httpErr):
		apiErr = &APIError{
			Status:  httpErr.Code,
			Code:    "HTTP_ERROR",
			Message: fmt.Sprintf("%v", httpErr.Message),
		}
	default:
		apiErr = FromIngestError(err)
	}

	if apiErr.Status >= http.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{
			"component": "api",
			"path":      c.Request().URL.Path,
			"code":      apiErr.Code,
		}).WithError(err).Error("request failed")
	}

	c.JSON(apiErr.Status, apiErr)
}

// RespondWithError is a helper to respond with an APIError
func RespondWithError(c echo.Context, err *APIError) error {
	return c.JSON(err.Status, err)
}
