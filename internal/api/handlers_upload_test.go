// handlers_upload_test.go - Tests for chunked upload handlers
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/docingest/backend/internal/models"
	"github.com/docingest/backend/internal/storage"
	"github.com/docingest/backend/internal/testutil"
	"github.com/docingest/backend/internal/upload"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type uploadFixture struct {
	e      *echo.Echo
	store  *storage.LocalStore
	remote *testutil.MockRemote
	docs   *testutil.MockDocumentStore
}

func newUploadFixture(t *testing.T) *uploadFixture {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	f := &uploadFixture{
		e:      echo.New(),
		store:  store,
		remote: &testutil.MockRemote{},
		docs:   testutil.NewMockDocumentStore(),
	}
	coord := upload.NewCoordinator(store, upload.Options{Remote: f.remote, Documents: f.docs})

	SetupMiddleware(f.e)
	RegisterRoutes(f.e, NewHandlers(&Dependencies{
		Chunks:    store,
		Completer: coord,
		Documents: f.docs,
	}))
	return f
}

// chunkForm builds a multipart body. asFile sends data as a file part.
func chunkForm(t *testing.T, fields map[string]string, data string, asFile bool) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if asFile {
		fw, err := mw.CreateFormFile("data", "blob")
		require.NoError(t, err)
		fw.Write([]byte(data))
	} else if data != "" {
		require.NoError(t, mw.WriteField("data", data))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (f *uploadFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func (f *uploadFixture) putChunk(t *testing.T, fileID, index, data string, asFile bool) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := chunkForm(t, map[string]string{"file_id": fileID, "chunk_index": index}, data, asFile)
	req := httptest.NewRequest(http.MethodPost, "/api/documents/upload-chunk", body)
	req.Header.Set(echo.HeaderContentType, ct)
	return f.do(req)
}

func (f *uploadFixture) complete(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/documents/complete-upload", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return f.do(req)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr), rec.Body.String())
	return apiErr
}

func TestUploadHandler_HandleUploadChunk(t *testing.T) {
	tests := []struct {
		name       string
		fields     map[string]string
		data       string
		asFile     bool
		wantStatus int
		errCode    string
	}{
		{"file part", map[string]string{"file_id": "s", "chunk_index": "0"}, "abc", true, http.StatusAccepted, ""},
		{"text field", map[string]string{"file_id": "s", "chunk_index": "1"}, "abc", false, http.StatusAccepted, ""},
		{"missing file_id", map[string]string{"chunk_index": "0"}, "abc", true, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"missing chunk_index", map[string]string{"file_id": "s"}, "abc", true, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"negative index", map[string]string{"file_id": "s", "chunk_index": "-1"}, "abc", true, http.StatusBadRequest, "BAD_REQUEST"},
		{"non-numeric index", map[string]string{"file_id": "s", "chunk_index": "one"}, "abc", true, http.StatusBadRequest, "BAD_REQUEST"},
		{"missing data", map[string]string{"file_id": "s", "chunk_index": "0"}, "", false, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"path traversal id", map[string]string{"file_id": "../x", "chunk_index": "0"}, "abc", true, http.StatusBadRequest, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newUploadFixture(t)
			body, ct := chunkForm(t, tt.fields, tt.data, tt.asFile)
			req := httptest.NewRequest(http.MethodPost, "/api/documents/upload-chunk", body)
			req.Header.Set(echo.HeaderContentType, ct)

			rec := f.do(req)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.errCode != "" {
				assert.Equal(t, tt.errCode, decodeError(t, rec).Code)
			}
		})
	}
}

func TestUploadHandler_ChunkedUploadRoundTrip(t *testing.T) {
	f := newUploadFixture(t)

	// Out of order, with a repeated index and indices past 9
	parts := map[int]string{}
	for _, i := range []int{11, 3, 0, 10, 2, 1, 9, 4, 5, 6, 7, 8, 3} {
		data := strings.Repeat(string(rune('a'+i)), i+1)
		parts[i] = data
		rec := f.putChunk(t, "doc-1", strconv.Itoa(i), data, true)
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := f.complete(t, `{"file_id":"doc-1","name":"notes","extention":"txt"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var doc models.IngestedDocument
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "notes.txt", doc.Name)

	var want strings.Builder
	for i := 0; i <= 11; i++ {
		want.WriteString(parts[i])
	}
	received := f.remote.Received()
	require.Len(t, received, 1)
	assert.Equal(t, want.String(), string(received[0]))
	assert.Equal(t, 1, f.docs.Count())

	// Session status after finalization
	req := httptest.NewRequest(http.MethodGet, "/api/documents/sessions/doc-1", nil)
	rec = f.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	var sess models.UploadSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, models.SessionFinalized, sess.State)
	assert.Empty(t, sess.StagingDir)
}

func TestUploadHandler_HandleCompleteUpload_Errors(t *testing.T) {
	t.Run("invalid json", func(t *testing.T) {
		f := newUploadFixture(t)
		rec := f.complete(t, `{not json`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing name", func(t *testing.T) {
		f := newUploadFixture(t)
		rec := f.complete(t, `{"file_id":"s"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Code)
	})

	t.Run("unknown session", func(t *testing.T) {
		f := newUploadFixture(t)
		rec := f.complete(t, `{"file_id":"nope","name":"x","extension":"pdf"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, 0, f.docs.Count())
	})

	t.Run("bad extension", func(t *testing.T) {
		f := newUploadFixture(t)
		f.putChunk(t, "s", "0", "a", true)
		rec := f.complete(t, `{"file_id":"s","name":"x","extension":"p/df"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("remote failure", func(t *testing.T) {
		f := newUploadFixture(t)
		f.remote.FailWith = assert.AnError
		f.putChunk(t, "s", "0", "a", true)

		rec := f.complete(t, `{"file_id":"s","name":"x"}`)
		assert.Equal(t, http.StatusBadGateway, rec.Code)
		apiErr := decodeError(t, rec)
		assert.Equal(t, "REMOTE_UPLOAD_FAILED", apiErr.Code)
		assert.Equal(t, "upload", apiErr.Stage)
		assert.Equal(t, "s", apiErr.Subject)

		// Chunks survive for a retry
		_, err := f.store.ListChunks(context.Background(), "s")
		assert.NoError(t, err)
	})

	t.Run("persistence failure", func(t *testing.T) {
		f := newUploadFixture(t)
		f.docs.FailWith = assert.AnError
		f.putChunk(t, "s", "0", "a", true)

		rec := f.complete(t, `{"file_id":"s","name":"x"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, "PERSISTENCE_FAILED", decodeError(t, rec).Code)
	})
}

func TestUploadHandler_HandleSessionStatus(t *testing.T) {
	f := newUploadFixture(t)
	for _, i := range []string{"10", "2", "9"} {
		f.putChunk(t, "s", i, "x", false)
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/documents/sessions/s", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var sess models.UploadSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, []int{2, 9, 10}, sess.ReceivedChunks)
	assert.Equal(t, models.SessionReceiving, sess.State)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/documents/sessions/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
