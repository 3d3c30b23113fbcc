package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docingest/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Driver: DriverDuckDB, MaxOpenConns: 4, Threads: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen(t *testing.T) {
	t.Run("in-memory duckdb", func(t *testing.T) {
		s := openTestStore(t)
		assert.Equal(t, DriverDuckDB, s.Driver())
		assert.NoError(t, s.Ping(context.Background()))
	})

	t.Run("schema creation is repeatable", func(t *testing.T) {
		s := openTestStore(t)
		assert.NoError(t, s.migrate(context.Background()))
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, err := Open(context.Background(), Config{Driver: "oracle"}, nil)
		assert.Error(t, err)
	})

	t.Run("bad mysql dsn", func(t *testing.T) {
		_, err := Open(context.Background(), Config{Driver: DriverMySQL, DSN: "not a dsn"}, nil)
		assert.Error(t, err)
	})
}

func newDoc(id, name, hash string, created time.Time) *models.IngestedDocument {
	return &models.IngestedDocument{
		ID:          id,
		Name:        name,
		RemoteURL:   "https://cdn.example/" + hash,
		ContentHash: hash,
		Size:        42,
		CreatedAt:   created,
	}
}

func TestStore_SaveDocument(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	saved, err := s.SaveDocument(ctx, newDoc("doc-1", "report.pdf", "abc", created))
	require.NoError(t, err)
	assert.Equal(t, "doc-1", saved.ID)

	t.Run("same content and name returns existing row", func(t *testing.T) {
		again, err := s.SaveDocument(ctx, newDoc("doc-2", "report.pdf", "abc", created.Add(time.Minute)))
		require.NoError(t, err)
		assert.Equal(t, "doc-1", again.ID)

		n, err := s.CountDocuments(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("same content under another name is a new row", func(t *testing.T) {
		_, err := s.SaveDocument(ctx, newDoc("doc-3", "copy.pdf", "abc", created))
		require.NoError(t, err)

		n, _ := s.CountDocuments(ctx)
		assert.Equal(t, int64(2), n)
	})

	t.Run("round trip", func(t *testing.T) {
		got, err := s.GetDocument(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, "report.pdf", got.Name)
		assert.Equal(t, "https://cdn.example/abc", got.RemoteURL)
		assert.Equal(t, int64(42), got.Size)
		assert.True(t, created.Equal(got.CreatedAt), "created_at %v", got.CreatedAt)
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := s.GetDocument(ctx, "missing")
		assert.True(t, errors.Is(err, ErrDocumentNotFound))
	})
}

func TestStore_ListDocuments(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := s.SaveDocument(ctx, newDoc(fmt.Sprintf("d%d", i), fmt.Sprintf("f%d", i), fmt.Sprintf("h%d", i), base.Add(time.Duration(i)*time.Hour)))
		require.NoError(t, err)
	}

	docs, err := s.ListDocuments(ctx, 3)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "d4", docs[0].ID)
	assert.Equal(t, "d3", docs[1].ID)
	assert.Equal(t, "d2", docs[2].ID)
}

func userRows(offset, n int64) []models.UserRow {
	rows := make([]models.UserRow, n)
	for i := range rows {
		id := offset + int64(i) + 1
		rows[i] = models.UserRow{
			ID:       id,
			Name:     fmt.Sprintf("User%d", id),
			Email:    fmt.Sprintf("user%d@example.com", id),
			Password: "hash",
		}
	}
	return rows
}

func TestStore_InsertUsers(t *testing.T) {
	ctx := context.Background()

	t.Run("one statement per batch", func(t *testing.T) {
		s := openTestStore(t)
		require.NoError(t, s.InsertUsers(ctx, userRows(0, 250)))

		n, err := s.CountUsers(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(250), n)
	})

	t.Run("re-running the same range adds nothing", func(t *testing.T) {
		s := openTestStore(t)
		require.NoError(t, s.InsertUsers(ctx, userRows(0, 10)))
		require.NoError(t, s.InsertUsers(ctx, userRows(0, 10)))

		n, _ := s.CountUsers(ctx)
		assert.Equal(t, int64(10), n)
	})

	t.Run("empty batch", func(t *testing.T) {
		s := openTestStore(t)
		assert.NoError(t, s.InsertUsers(ctx, nil))
	})

	t.Run("too many parameters", func(t *testing.T) {
		s := openTestStore(t)
		err := s.InsertUsers(ctx, make([]models.UserRow, MaxBindParams/UserColumns+1))
		assert.Error(t, err)
	})

	t.Run("concurrent batches over distinct ids", func(t *testing.T) {
		s := openTestStore(t)
		var wg sync.WaitGroup
		var mu sync.Mutex
		var errs []error
		for b := int64(0); b < 4; b++ {
			wg.Add(1)
			go func(b int64) {
				defer wg.Done()
				if err := s.InsertUsers(ctx, userRows(b*25, 25)); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}(b)
		}
		wg.Wait()
		assert.Empty(t, errs)

		n, _ := s.CountUsers(ctx)
		assert.Equal(t, int64(100), n)
	})
}
