package testutil

import (
	"context"
	"os"
	"sync"

	"github.com/docingest/backend/internal/events"
	"github.com/docingest/backend/internal/models"
)

// MockRemote implements upload.RemoteStore and records what it received.
type MockRemote struct {
	mu       sync.Mutex
	calls    int
	received [][]byte

	// FailWith makes Upload return this error while set.
	FailWith error

	// Entered, when set, receives one value as each Upload starts.
	Entered chan struct{}
	// Release, when set, blocks Upload until it is closed or ctx is done.
	Release chan struct{}
}

func (m *MockRemote) Upload(ctx context.Context, artifact *models.MergedArtifact, name string) (*models.RemoteObject, error) {
	if m.Entered != nil {
		m.Entered <- struct{}{}
	}
	if m.Release != nil {
		select {
		case <-m.Release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	m.received = append(m.received, data)

	return &models.RemoteObject{
		PublicID:  "mock/" + artifact.ContentHash,
		SecureURL: "https://mock.example/" + artifact.ContentHash,
		Format:    "bin",
	}, nil
}

// Calls returns how many uploads were attempted.
func (m *MockRemote) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Received returns the payloads of successful uploads.
func (m *MockRemote) Received() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.received...)
}

// MockPublisher collects published events.
type MockPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *MockPublisher) Publish(ev events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev.Type)
}

// Types returns the published event types in order.
func (p *MockPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}
