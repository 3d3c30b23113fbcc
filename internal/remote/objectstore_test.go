package remote

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/docingest/backend/internal/ingesterr"
	"github.com/docingest/backend/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "uploads/go/abc123.pdf", ObjectKey("uploads/go", "abc123", "Report.PDF"))
	assert.Equal(t, "abc123", ObjectKey("", "abc123", "noext"))
}

func TestNewObjectStore(t *testing.T) {
	_, err := NewObjectStore(ObjectStoreConfig{Endpoint: "localhost:9000"}, logrus.New())
	assert.Error(t, err, "bucket is required")

	s, err := NewObjectStore(ObjectStoreConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "documents",
	}, logrus.New())
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000/documents/uploads/a.bin", s.objectURL("uploads/a.bin"))

	s.cfg.PublicURL = "https://cdn.example.com/"
	assert.Equal(t, "https://cdn.example.com/documents/k", s.objectURL("k"))
}

// s3Stub answers the path-style requests the object store issues.
type s3Stub struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
	headers map[string]http.Header
	deny    bool
	puts    int
}

func newS3Stub(t *testing.T) (*s3Stub, *httptest.Server) {
	t.Helper()
	stub := &s3Stub{
		buckets: map[string]bool{},
		objects: map[string][]byte{},
		headers: map[string]http.Header{},
	}
	srv := httptest.NewServer(http.HandlerFunc(stub.serve))
	t.Cleanup(srv.Close)
	return stub, srv
}

func (s *s3Stub) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")

	switch {
	case r.Method == http.MethodGet && r.URL.Query().Has("location"):
		w.Header().Set("Content-Type", "application/xml")
		io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?>`+
			`<LocationConstraint xmlns="http://s3.amazonaws.com/doc/2006-03-01/">us-east-1</LocationConstraint>`)
	case r.Method == http.MethodHead && key == "":
		if !s.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && key == "":
		s.buckets[bucket] = true
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		s.puts++
		if s.deny {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusForbidden)
			io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code>`+
				`<Message>Access Denied.</Message><BucketName>`+bucket+`</BucketName>`+
				`<Resource>`+r.URL.Path+`</Resource><RequestId>req-1</RequestId><HostId>stub</HostId></Error>`)
			return
		}
		body, _ := io.ReadAll(r.Body)
		s.objects[key] = body
		s.headers[key] = r.Header.Clone()
		w.Header().Set("ETag", `"0123456789abcdef"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func newStubStore(t *testing.T, srv *httptest.Server) *ObjectStore {
	t.Helper()
	s, err := NewObjectStore(ObjectStoreConfig{
		Endpoint:  strings.TrimPrefix(srv.URL, "http://"),
		AccessKey: "minio",
		SecretKey: "minio123",
		Bucket:    "documents",
		Folder:    "uploads",
	}, logrus.New())
	require.NoError(t, err)
	return s
}

func TestObjectStore_EnsureBucket(t *testing.T) {
	stub, srv := newS3Stub(t)
	s := newStubStore(t, srv)

	require.NoError(t, s.EnsureBucket(context.Background()))
	assert.True(t, stub.buckets["documents"])

	// Existing bucket is left alone
	require.NoError(t, s.EnsureBucket(context.Background()))
}

func TestObjectStore_Upload(t *testing.T) {
	stub, srv := newS3Stub(t)
	s := newStubStore(t, srv)

	payload := []byte("%PDF-1.7\nquarterly figures")
	artifact := writeArtifact(t, payload)
	artifact.ContentHash = "c0ffee"

	obj, err := s.Upload(context.Background(), artifact, "Report.PDF")
	require.NoError(t, err)

	assert.Equal(t, "uploads/c0ffee.pdf", obj.PublicID)
	assert.Equal(t, srv.URL+"/documents/uploads/c0ffee.pdf", obj.SecureURL)
	assert.Equal(t, "PDF", obj.Format)
	assert.Equal(t, string(KindPDF), obj.Kind)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	require.Contains(t, stub.objects, "uploads/c0ffee.pdf")
	// The body may be aws-chunked; the payload is carried verbatim.
	assert.True(t, bytes.Contains(stub.objects["uploads/c0ffee.pdf"], payload))
	h := stub.headers["uploads/c0ffee.pdf"]
	assert.Equal(t, "application/pdf", h.Get("Content-Type"))
	assert.Equal(t, "Report.PDF", h.Get("X-Amz-Meta-Original-Name"))
}

func TestObjectStore_UploadRejected(t *testing.T) {
	stub, srv := newS3Stub(t)
	stub.deny = true
	s := newStubStore(t, srv)

	artifact := writeArtifact(t, []byte("plain text"))
	artifact.ContentHash = "abc"

	_, err := s.Upload(context.Background(), artifact, "notes.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, ingesterr.ErrRemoteUpload)

	var ie *ingesterr.Error
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, http.StatusForbidden, ie.StatusCode)
	assert.Equal(t, "Access Denied.", ie.Body)
	assert.Equal(t, ingesterr.StageUpload, ie.Stage)
	assert.Equal(t, "sess-1", ie.Subject)
}

func TestObjectStore_UploadMissingArtifact(t *testing.T) {
	stub, srv := newS3Stub(t)
	s := newStubStore(t, srv)

	_, err := s.Upload(context.Background(), &models.MergedArtifact{SessionID: "s", Path: "/does/not/exist"}, "x.bin")
	assert.ErrorIs(t, err, ingesterr.ErrRemoteUpload)
	assert.Zero(t, stub.puts)
}
