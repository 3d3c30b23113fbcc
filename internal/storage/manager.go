package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/docingest/backend/internal/ingesterr"
	"github.com/docingest/backend/internal/models"
	"github.com/google/uuid"
)

const (
	chunkPrefix = "chunk_"
	maxIDLength = 255
)

// ChunkStore stages chunk payloads per upload session.
type ChunkStore interface {
	PutChunk(ctx context.Context, sessionID string, index int, r io.Reader) error
	ListChunks(ctx context.Context, sessionID string) ([]models.ChunkEntry, error)
	OpenChunk(sessionID, name string) (io.ReadCloser, error)
	Session(ctx context.Context, sessionID string) (*models.UploadSession, error)
	DeleteSession(sessionID string) error
}

// LocalStore implements ChunkStore on the local filesystem.
//
// Layout under the root:
//
//	chunks/<session>/chunk_<n>   staged payloads
//	merged/<session>             transient merged artifact
//	receipts/<session>.json      remote object awaiting persistence
//	files/<id>_<name>            artifacts kept locally when no remote store is used
type LocalStore struct {
	root string
}

// NewLocalStore creates a new LocalStore.
func NewLocalStore(root string) (*LocalStore, error) {
	for _, dir := range []string{"chunks", "merged", "receipts", "files"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			return nil, fmt.Errorf("creating %s directory: %w", dir, err)
		}
	}
	return &LocalStore{root: root}, nil
}

// Root returns the upload root directory.
func (s *LocalStore) Root() string {
	return s.root
}

// ValidateSessionID rejects identifiers that cannot be used as a single
// staging container name.
func ValidateSessionID(sessionID string) error {
	if sessionID == "" {
		return ingesterr.Validation("file_id", "must not be empty")
	}
	if len(sessionID) > maxIDLength {
		return ingesterr.Validation("file_id", "must be at most 255 bytes")
	}
	if sessionID == "." || sessionID == ".." || strings.ContainsAny(sessionID, `/\`) || strings.ContainsRune(sessionID, 0) {
		return ingesterr.Validation("file_id", "must be a single path component")
	}
	return nil
}

// ChunkName returns the staged entry name for a chunk index.
func ChunkName(index int) string {
	return chunkPrefix + strconv.Itoa(index)
}

// ParseChunkName returns the numeric index encoded in a staged entry name.
func ParseChunkName(name string) (int, error) {
	if !strings.HasPrefix(name, chunkPrefix) {
		return 0, fmt.Errorf("unexpected entry %q", name)
	}
	index, err := strconv.Atoi(strings.TrimPrefix(name, chunkPrefix))
	if err != nil || index < 0 {
		return 0, fmt.Errorf("entry %q has no numeric chunk index", name)
	}
	return index, nil
}

func (s *LocalStore) sessionDir(sessionID string) string {
	return filepath.Join(s.root, "chunks", sessionID)
}

// PutChunk writes a chunk, overwriting any previous payload at that index.
// The payload goes to a hidden temp file first so a concurrent or aborted
// write never leaves a torn chunk behind.
func (s *LocalStore) PutChunk(ctx context.Context, sessionID string, index int, r io.Reader) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	if index < 0 {
		return ingesterr.Validation("chunk_index", "must be non-negative")
	}

	chunkDir := s.sessionDir(sessionID)
	if err := os.MkdirAll(chunkDir, 0755); err != nil {
		return ingesterr.Storage(ingesterr.StageChunk, sessionID, fmt.Errorf("creating chunk directory: %w", err))
	}

	name := ChunkName(index)
	tmpPath := filepath.Join(chunkDir, "."+name+"."+uuid.NewString())
	f, err := os.Create(tmpPath)
	if err != nil {
		return ingesterr.Storage(ingesterr.StageChunk, sessionID, fmt.Errorf("creating chunk file: %w", err))
	}

	if _, err := io.Copy(f, contextReader{ctx: ctx, r: r}); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return ingesterr.Storage(ingesterr.StageChunk, sessionID, fmt.Errorf("writing chunk %d: %w", index, err))
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return ingesterr.Storage(ingesterr.StageChunk, sessionID, fmt.Errorf("closing chunk %d: %w", index, err))
	}

	if err := os.Rename(tmpPath, filepath.Join(chunkDir, name)); err != nil {
		os.Remove(tmpPath)
		return ingesterr.Storage(ingesterr.StageChunk, sessionID, fmt.Errorf("committing chunk %d: %w", index, err))
	}
	return nil
}

// ListChunks returns the staged entries of a session. Hidden files are
// in-flight writes and are skipped.
func (s *LocalStore) ListChunks(ctx context.Context, sessionID string) ([]models.ChunkEntry, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}

	dirEntries, err := os.ReadDir(s.sessionDir(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ingesterr.NotFound("", sessionID)
	}
	if err != nil {
		return nil, ingesterr.Storage("", sessionID, fmt.Errorf("reading chunk directory: %w", err))
	}

	entries := make([]models.ChunkEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.HasPrefix(de.Name(), ".") || de.IsDir() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			return nil, ingesterr.Storage("", sessionID, fmt.Errorf("stat %s: %w", de.Name(), err))
		}
		entries = append(entries, models.ChunkEntry{Name: de.Name(), Size: info.Size()})
	}

	if len(entries) == 0 {
		return nil, ingesterr.NotFound("", sessionID)
	}
	return entries, nil
}

// OpenChunk opens a staged entry for reading.
func (s *LocalStore) OpenChunk(sessionID, name string) (io.ReadCloser, error) {
	if err := ValidateSessionID(sessionID); err != nil {
		return nil, err
	}
	if strings.ContainsAny(name, `/\`) {
		return nil, ingesterr.Validation("name", "must be a single path component")
	}
	f, err := os.Open(filepath.Join(s.sessionDir(sessionID), name))
	if err != nil {
		return nil, ingesterr.Storage("", sessionID, fmt.Errorf("opening %s: %w", name, err))
	}
	return f, nil
}

// Session reports the received chunk indices of a session, ascending.
// Entries that do not parse as chunk indices are left out.
func (s *LocalStore) Session(ctx context.Context, sessionID string) (*models.UploadSession, error) {
	entries, err := s.ListChunks(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	indices := make([]int, 0, len(entries))
	for _, e := range entries {
		if idx, err := ParseChunkName(e.Name); err == nil {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)

	info, err := os.Stat(s.sessionDir(sessionID))
	if err != nil {
		return nil, ingesterr.Storage("", sessionID, err)
	}

	return &models.UploadSession{
		ID:             sessionID,
		StagingDir:     s.sessionDir(sessionID),
		ReceivedChunks: indices,
		State:          models.SessionReceiving,
		UpdatedAt:      info.ModTime(),
	}, nil
}

// DeleteSession removes the session's staging container wholesale.
func (s *LocalStore) DeleteSession(sessionID string) error {
	if err := ValidateSessionID(sessionID); err != nil {
		return err
	}
	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("removing chunk directory: %w", err)
	}
	return nil
}

// ArtifactPath returns where the merged artifact of a session is written.
func (s *LocalStore) ArtifactPath(sessionID string) string {
	return filepath.Join(s.root, "merged", sessionID)
}

// RemoveArtifact deletes a session's merged artifact, if any.
func (s *LocalStore) RemoveArtifact(sessionID string) error {
	if err := os.Remove(s.ArtifactPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing merged artifact: %w", err)
	}
	return nil
}

// PromotedPath returns where Promote places an artifact with this key and
// name. The same key and name always map to the same file.
func (s *LocalStore) PromotedPath(key, name string) string {
	return filepath.Join(s.root, "files", key+"_"+SafeFileName(name))
}

// Promote moves a merged artifact into the permanent files area and returns
// its new path. Used when no remote object store is configured. A repeated
// promotion overwrites.
func (s *LocalStore) Promote(sessionID, key, name string) (string, error) {
	dest := s.PromotedPath(key, name)
	if err := os.Rename(s.ArtifactPath(sessionID), dest); err != nil {
		return "", fmt.Errorf("promoting merged artifact: %w", err)
	}
	return dest, nil
}

// SafeFileName lowercases a display name and replaces everything outside
// [a-z0-9._-] with underscores.
func SafeFileName(name string) string {
	var b strings.Builder
	prevUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
			prevUnderscore = false
		default:
			if !prevUnderscore {
				b.WriteByte('_')
				prevUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "_.")
	if out == "" {
		return "file"
	}
	return out
}

type receipt struct {
	ContentHash string              `json:"contentHash"`
	Object      models.RemoteObject `json:"object"`
}

func (s *LocalStore) receiptPath(sessionID string) string {
	return filepath.Join(s.root, "receipts", sessionID+".json")
}

// SaveReceipt records the remote object uploaded for a session's content.
func (s *LocalStore) SaveReceipt(sessionID, contentHash string, obj *models.RemoteObject) error {
	data, err := json.Marshal(receipt{ContentHash: contentHash, Object: *obj})
	if err != nil {
		return fmt.Errorf("encoding receipt: %w", err)
	}
	tmp := s.receiptPath(sessionID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing receipt: %w", err)
	}
	return os.Rename(tmp, s.receiptPath(sessionID))
}

// LoadReceipt returns the recorded remote object when it was uploaded for
// exactly this content hash.
func (s *LocalStore) LoadReceipt(sessionID, contentHash string) (*models.RemoteObject, bool) {
	data, err := os.ReadFile(s.receiptPath(sessionID))
	if err != nil {
		return nil, false
	}
	var rc receipt
	if err := json.Unmarshal(data, &rc); err != nil || rc.ContentHash != contentHash {
		return nil, false
	}
	return &rc.Object, true
}

// RemoveReceipt deletes a session's receipt, if any.
func (s *LocalStore) RemoveReceipt(sessionID string) error {
	if err := os.Remove(s.receiptPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing receipt: %w", err)
	}
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
