package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/docingest/backend/internal/ingesterr"
	"github.com/docingest/backend/internal/models"
	"github.com/docingest/backend/internal/storage"
	"github.com/google/uuid"
)

// ChunkSource is the read side of the staging area.
type ChunkSource interface {
	ListChunks(ctx context.Context, sessionID string) ([]models.ChunkEntry, error)
	OpenChunk(sessionID, name string) (io.ReadCloser, error)
	ArtifactPath(sessionID string) string
}

// Assembler reassembles staged chunks into one artifact. It never deletes
// staged chunks.
type Assembler struct {
	chunks ChunkSource
}

// NewAssembler creates an Assembler over a chunk source.
func NewAssembler(chunks ChunkSource) *Assembler {
	return &Assembler{chunks: chunks}
}

type orderedChunk struct {
	index int
	name  string
}

// orderChunks parses staged entry names and sorts them by numeric index.
// Lexical order of the names is never used: chunk_10 follows chunk_9.
func orderChunks(sessionID string, entries []models.ChunkEntry) ([]orderedChunk, error) {
	ordered := make([]orderedChunk, 0, len(entries))
	seen := make(map[int]string, len(entries))
	for _, e := range entries {
		idx, err := storage.ParseChunkName(e.Name)
		if err != nil {
			return nil, ingesterr.Ordering(sessionID, err.Error())
		}
		if prev, dup := seen[idx]; dup {
			return nil, ingesterr.Ordering(sessionID, fmt.Sprintf("entries %q and %q share index %d", prev, e.Name, idx))
		}
		seen[idx] = e.Name
		ordered = append(ordered, orderedChunk{index: idx, name: e.Name})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].index < ordered[j].index })
	return ordered, nil
}

// Merge concatenates a session's chunks in ascending numeric index order and
// writes the result atomically to the session's artifact path.
func (a *Assembler) Merge(ctx context.Context, sessionID string) (*models.MergedArtifact, error) {
	entries, err := a.chunks.ListChunks(ctx, sessionID)
	if err != nil {
		return nil, ingesterr.Stamp(err, ingesterr.StageMerge, sessionID)
	}

	ordered, err := orderChunks(sessionID, entries)
	if err != nil {
		return nil, err
	}

	dest := a.chunks.ArtifactPath(sessionID)
	tmp := dest + ".tmp-" + uuid.NewString()
	out, err := os.Create(tmp)
	if err != nil {
		return nil, ingesterr.Storage(ingesterr.StageMerge, sessionID, fmt.Errorf("creating artifact: %w", err))
	}

	hash := sha256.New()
	w := io.MultiWriter(out, hash)

	var size int64
	for _, c := range ordered {
		if err := ctx.Err(); err != nil {
			out.Close()
			os.Remove(tmp)
			return nil, err
		}
		n, err := a.copyChunk(w, sessionID, c.name)
		if err != nil {
			out.Close()
			os.Remove(tmp)
			return nil, ingesterr.Storage(ingesterr.StageMerge, sessionID, fmt.Errorf("copying chunk %d: %w", c.index, err))
		}
		size += n
	}

	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return nil, ingesterr.Storage(ingesterr.StageMerge, sessionID, fmt.Errorf("closing artifact: %w", err))
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return nil, ingesterr.Storage(ingesterr.StageMerge, sessionID, fmt.Errorf("committing artifact: %w", err))
	}

	return &models.MergedArtifact{
		SessionID:   sessionID,
		Path:        dest,
		Size:        size,
		ChunkCount:  len(ordered),
		ContentHash: hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

func (a *Assembler) copyChunk(w io.Writer, sessionID, name string) (int64, error) {
	rc, err := a.chunks.OpenChunk(sessionID, name)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	return io.Copy(w, rc)
}
