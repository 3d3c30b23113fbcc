// mock_storage.go - In-memory document store for testing
package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/docingest/backend/internal/models"
	"github.com/docingest/backend/internal/persistence"
)

// MockDocumentStore implements upload.DocumentStore in memory.
type MockDocumentStore struct {
	mu    sync.RWMutex
	docs  map[string]*models.IngestedDocument // keyed by content hash + name
	saves int

	// FailWith makes SaveDocument return this error while set.
	FailWith error
}

// NewMockDocumentStore creates an empty MockDocumentStore.
func NewMockDocumentStore() *MockDocumentStore {
	return &MockDocumentStore{docs: make(map[string]*models.IngestedDocument)}
}

func (m *MockDocumentStore) SaveDocument(ctx context.Context, doc *models.IngestedDocument) (*models.IngestedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.saves++
	if m.FailWith != nil {
		return nil, m.FailWith
	}

	key := doc.ContentHash + "\x00" + doc.Name
	if existing, ok := m.docs[key]; ok {
		return existing, nil
	}
	stored := *doc
	m.docs[key] = &stored
	return &stored, nil
}

func (m *MockDocumentStore) ListDocuments(ctx context.Context, limit int) ([]*models.IngestedDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*models.IngestedDocument, 0, len(m.docs))
	for _, d := range m.docs {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (m *MockDocumentStore) GetDocument(ctx context.Context, id string) (*models.IngestedDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, d := range m.docs {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, persistence.ErrDocumentNotFound
}

// Count returns the number of distinct stored documents.
func (m *MockDocumentStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// Saves returns how many times SaveDocument was called.
func (m *MockDocumentStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}
