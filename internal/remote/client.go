// Package remote hands merged artifacts to an external object store.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docingest/backend/internal/ingesterr"
	"github.com/docingest/backend/internal/models"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

const (
	DefaultBaseURL = "https://api.cloudinary.com"

	// maxErrorBody caps how much of a provider error body is kept for diagnostics.
	maxErrorBody = 64 << 10
)

// Config holds the provider credentials and transport settings.
type Config struct {
	BaseURL      string
	CloudName    string
	APIKey       string
	APISecret    string
	Folder       string
	Timeout      time.Duration
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Validate reports missing credentials.
func (c Config) Validate() error {
	switch {
	case c.CloudName == "":
		return errors.New("remote: cloud name is required")
	case c.APIKey == "":
		return errors.New("remote: api key is required")
	case c.APISecret == "":
		return errors.New("remote: api secret is required")
	}
	return nil
}

// Client uploads artifacts through the provider's signed multipart API.
type Client struct {
	cfg  Config
	http *retryablehttp.Client
	log  *logrus.Entry
	now  func() time.Time
}

// NewClient creates a Client. A transient failure (transport error, 429 or
// 5xx) is retried exactly once.
func NewClient(cfg Config, logger logrus.FieldLogger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}

	log := logger.WithField("component", "remote")

	hc := retryablehttp.NewClient()
	hc.RetryMax = 1
	hc.HTTPClient.Timeout = cfg.Timeout
	if cfg.RetryWaitMin > 0 {
		hc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		hc.RetryWaitMax = cfg.RetryWaitMax
	}
	hc.CheckRetry = retryablehttp.DefaultRetryPolicy
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	hc.Logger = leveledLogger{log}

	return &Client{cfg: cfg, http: hc, log: log, now: time.Now}
}

// UploadURL returns the provider route for a resource type.
func (c *Client) UploadURL(resourceType string) string {
	return fmt.Sprintf("%s/v1_1/%s/%s/upload", strings.TrimRight(c.cfg.BaseURL, "/"), c.cfg.CloudName, resourceType)
}

// Upload sends a merged artifact and returns the provider's object.
func (c *Client) Upload(ctx context.Context, artifact *models.MergedArtifact, name string) (*models.RemoteObject, error) {
	kind, err := sniffFile(artifact.Path)
	if err != nil {
		return nil, ingesterr.RemoteUpload(artifact.SessionID, 0, "", fmt.Errorf("reading artifact: %w", err))
	}

	fields := c.signedFields(kind)

	boundary := uuid.NewString()
	body := retryablehttp.ReaderFunc(func() (io.Reader, error) {
		return multipartBody(artifact.Path, name, boundary, fields)
	})

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.UploadURL(kind.ResourceType()), body)
	if err != nil {
		return nil, ingesterr.RemoteUpload(artifact.SessionID, 0, "", fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)

	c.log.WithFields(logrus.Fields{
		"session": artifact.SessionID,
		"kind":    kind,
		"size":    artifact.Size,
	}).Info("uploading artifact")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ingesterr.Timeout(ingesterr.StageUpload, artifact.SessionID, err)
		}
		return nil, ingesterr.RemoteUpload(artifact.SessionID, 0, "", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return nil, ingesterr.RemoteUpload(artifact.SessionID, resp.StatusCode, "", fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode >= 400 {
		return nil, ingesterr.RemoteUpload(artifact.SessionID, resp.StatusCode, string(respBody),
			fmt.Errorf("provider rejected upload: %s", resp.Status))
	}

	var obj models.RemoteObject
	if err := json.Unmarshal(respBody, &obj); err != nil {
		return nil, ingesterr.RemoteUpload(artifact.SessionID, resp.StatusCode, string(respBody),
			fmt.Errorf("decoding response: %w", err))
	}
	if obj.SecureURL == "" {
		return nil, ingesterr.RemoteUpload(artifact.SessionID, resp.StatusCode, string(respBody),
			errors.New("response has no secure_url"))
	}
	obj.Kind = string(kind)
	return &obj, nil
}

// signedFields returns the form fields of one upload. Empty parameters are
// neither signed nor sent, since the provider drops them before verifying.
func (c *Client) signedFields(kind ContentKind) [][2]string {
	params := map[string]string{
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
	}
	if c.cfg.Folder != "" {
		params["folder"] = c.cfg.Folder
	}

	fields := [][2]string{
		{"timestamp", params["timestamp"]},
		{"api_key", c.cfg.APIKey},
		{"signature", Sign(params, c.cfg.APISecret)},
	}
	if folder, ok := params["folder"]; ok {
		fields = append(fields, [2]string{"folder", folder})
	}
	return append(fields, [2]string{"resource_type", kind.ResourceType()})
}

// multipartBody streams the form for one attempt. The boundary is fixed so
// every retry matches the Content-Type header.
func multipartBody(path, name, boundary string, fields [][2]string) (io.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	go func() {
		defer f.Close()
		mw := multipart.NewWriter(pw)
		if err := mw.SetBoundary(boundary); err != nil {
			pw.CloseWithError(err)
			return
		}
		part, err := mw.CreateFormFile("file", filepath.Base(name))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			pw.CloseWithError(err)
			return
		}
		for _, kv := range fields {
			if err := mw.WriteField(kv[0], kv[1]); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
		pw.CloseWithError(mw.Close())
	}()
	return pr, nil
}

// sniffFile classifies a file by its leading bytes.
func sniffFile(path string) (ContentKind, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, textSniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	return Classify(head[:n]), nil
}

// leveledLogger adapts logrus to retryablehttp's LeveledLogger.
type leveledLogger struct {
	entry *logrus.Entry
}

func (l leveledLogger) fields(kv []interface{}) *logrus.Entry {
	e := l.entry
	for i := 0; i+1 < len(kv); i += 2 {
		e = e.WithField(fmt.Sprint(kv[i]), kv[i+1])
	}
	return e
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.fields(kv).Error(msg) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.fields(kv).Debug(msg) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.fields(kv).Debug(msg) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.fields(kv).Warn(msg) }
