package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/docingest/backend/internal/models"
	"github.com/docingest/backend/internal/testutil"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func seededDocuments(t *testing.T, n int) *testutil.MockDocumentStore {
	t.Helper()
	store := testutil.NewMockDocumentStore()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		_, err := store.SaveDocument(context.Background(), &models.IngestedDocument{
			ID:          fmt.Sprintf("doc-%d", i),
			Name:        fmt.Sprintf("file-%d.pdf", i),
			RemoteURL:   fmt.Sprintf("https://cdn.example/%d", i),
			ContentHash: fmt.Sprintf("hash-%d", i),
			Size:        int64(i * 100),
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	return store
}

func serveDocuments(h DocumentHandler, method, target string, fn func(DocumentHandler) echo.HandlerFunc, params ...string) (*httptest.ResponseRecorder, error) {
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if len(params) == 2 {
		c.SetParamNames(params[0])
		c.SetParamValues(params[1])
	}
	return rec, fn(h)(c)
}

func TestDocumentHandler_HandleListDocuments(t *testing.T) {
	h := NewDocumentHandler(seededDocuments(t, 5))

	rec, err := serveDocuments(h, http.MethodGet, "/api/documents?limit=2", func(h DocumentHandler) echo.HandlerFunc { return h.HandleListDocuments })
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)

	var docs []models.IngestedDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &docs))
	require.Len(t, docs, 2)
	assert.Equal(t, "doc-4", docs[0].ID)
	assert.Equal(t, "doc-3", docs[1].ID)
}

func TestDocumentHandler_HandleListDocumentsMsgpack(t *testing.T) {
	h := NewDocumentHandler(seededDocuments(t, 3))

	rec, err := serveDocuments(h, http.MethodGet, "/api/documents/msgpack", func(h DocumentHandler) echo.HandlerFunc { return h.HandleListDocumentsMsgpack })
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get(echo.HeaderContentType))

	var payload struct {
		Documents []models.IngestedDocument `msgpack:"documents"`
		Count     int                       `msgpack:"count"`
		Limit     int                       `msgpack:"limit"`
	}
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, 3, payload.Count)
	assert.Equal(t, defaultDocumentLimit, payload.Limit)
	require.Len(t, payload.Documents, 3)
	assert.Equal(t, "file-2.pdf", payload.Documents[0].Name)
	assert.Equal(t, "https://cdn.example/2", payload.Documents[0].RemoteURL)
}

func TestDocumentHandler_HandleGetDocument(t *testing.T) {
	h := NewDocumentHandler(seededDocuments(t, 2))
	get := func(h DocumentHandler) echo.HandlerFunc { return h.HandleGetDocument }

	rec, err := serveDocuments(h, http.MethodGet, "/api/documents/doc-1", get, "id", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err = serveDocuments(h, http.MethodGet, "/api/documents/missing", get, "id", "missing")
	apiErr, ok := err.(*APIError)
	require.True(t, ok, "expected APIError, got %T", err)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
}

func TestDocumentHandler_NoStore(t *testing.T) {
	h := NewDocumentHandler(nil)

	_, err := serveDocuments(h, http.MethodGet, "/api/documents", func(h DocumentHandler) echo.HandlerFunc { return h.HandleListDocuments })
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.Status)
}
