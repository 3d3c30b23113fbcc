package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/docingest/backend/internal/ingesterr"
	"github.com/docingest/backend/internal/models"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"
)

// ObjectStoreConfig configures an S3-compatible bucket target.
type ObjectStoreConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Folder    string
	UseSSL    bool
	PublicURL string // base for secure_url; defaults to the endpoint
}

// ObjectStore uploads artifacts to an S3-compatible bucket. It satisfies the
// same contract as Client and is chosen with remote.backend=minio.
type ObjectStore struct {
	cfg    ObjectStoreConfig
	client *minio.Client
	log    *logrus.Entry
}

// NewObjectStore creates an ObjectStore.
func NewObjectStore(cfg ObjectStoreConfig, logger logrus.FieldLogger) (*ObjectStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("remote: minio endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	return &ObjectStore{cfg: cfg, client: client, log: logger.WithField("component", "objectstore")}, nil
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return fmt.Errorf("checking bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

// Upload puts the artifact under a key derived from its content hash, so a
// re-upload of the same content lands on the same object.
func (s *ObjectStore) Upload(ctx context.Context, artifact *models.MergedArtifact, name string) (*models.RemoteObject, error) {
	kind, err := sniffFile(artifact.Path)
	if err != nil {
		return nil, ingesterr.RemoteUpload(artifact.SessionID, 0, "", fmt.Errorf("reading artifact: %w", err))
	}

	f, err := os.Open(artifact.Path)
	if err != nil {
		return nil, ingesterr.RemoteUpload(artifact.SessionID, 0, "", fmt.Errorf("opening artifact: %w", err))
	}
	defer f.Close()

	key := ObjectKey(s.cfg.Folder, artifact.ContentHash, name)
	info, err := s.client.PutObject(ctx, s.cfg.Bucket, key, f, artifact.Size, minio.PutObjectOptions{
		ContentType:  kind.MIMEType(),
		UserMetadata: map[string]string{"original-name": name},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ingesterr.Timeout(ingesterr.StageUpload, artifact.SessionID, err)
		}
		resp := minio.ToErrorResponse(err)
		return nil, ingesterr.RemoteUpload(artifact.SessionID, resp.StatusCode, resp.Message, err)
	}

	s.log.WithFields(logrus.Fields{"session": artifact.SessionID, "key": info.Key}).Info("artifact stored")

	return &models.RemoteObject{
		PublicID:  info.Key,
		SecureURL: s.objectURL(info.Key),
		Format:    strings.TrimPrefix(path.Ext(name), "."),
		Kind:      string(kind),
	}, nil
}

func (s *ObjectStore) objectURL(key string) string {
	base := s.cfg.PublicURL
	if base == "" {
		scheme := "http"
		if s.cfg.UseSSL {
			scheme = "https"
		}
		base = scheme + "://" + s.cfg.Endpoint
	}
	u, err := url.JoinPath(base, s.cfg.Bucket, key)
	if err != nil {
		return strings.TrimRight(base, "/") + "/" + s.cfg.Bucket + "/" + key
	}
	return u
}

// ObjectKey builds "<folder>/<hash><ext>".
func ObjectKey(folder, contentHash, name string) string {
	return path.Join(folder, contentHash+strings.ToLower(path.Ext(name)))
}
