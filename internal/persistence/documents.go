package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/docingest/backend/internal/models"
	"github.com/sirupsen/logrus"
)

// ErrDocumentNotFound is returned by GetDocument for an unknown id.
var ErrDocumentNotFound = errors.New("document not found")

const documentColumns = "id, name, remote_url, content_hash, size, created_at"

// SaveDocument inserts a document record. When a record with the same
// content hash and name already exists it is returned unchanged, so a
// retried completion never writes a second row.
func (s *Store) SaveDocument(ctx context.Context, doc *models.IngestedDocument) (*models.IngestedDocument, error) {
	if existing, err := s.findDocument(ctx, doc.ContentHash, doc.Name); err == nil {
		return existing, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO documents ("+documentColumns+") VALUES (?, ?, ?, ?, ?, ?)",
		doc.ID, doc.Name, doc.RemoteURL, doc.ContentHash, doc.Size, doc.CreatedAt.UTC(),
	)
	if err != nil {
		// A concurrent save of the same content may have won.
		if existing, findErr := s.findDocument(ctx, doc.ContentHash, doc.Name); findErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to insert document: %w", err)
	}

	s.log.WithFields(logrus.Fields{"document": doc.ID, "hash": doc.ContentHash}).Debug("document saved")
	stored := *doc
	return &stored, nil
}

func (s *Store) findDocument(ctx context.Context, contentHash, name string) (*models.IngestedDocument, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE content_hash = ? AND name = ? LIMIT 1",
		contentHash, name,
	)
	doc, err := scanDocument(row)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up document: %w", err)
	}
	return doc, err
}

// GetDocument returns a document by id.
func (s *Store) GetDocument(ctx context.Context, id string) (*models.IngestedDocument, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns the most recent documents, newest first.
func (s *Store) ListDocuments(ctx context.Context, limit int) ([]*models.IngestedDocument, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+documentColumns+" FROM documents ORDER BY created_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]*models.IngestedDocument, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// CountDocuments returns the number of stored documents.
func (s *Store) CountDocuments(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(sc scanner) (*models.IngestedDocument, error) {
	var doc models.IngestedDocument
	if err := sc.Scan(&doc.ID, &doc.Name, &doc.RemoteURL, &doc.ContentHash, &doc.Size, &doc.CreatedAt); err != nil {
		return nil, err
	}
	doc.CreatedAt = doc.CreatedAt.UTC()
	return &doc, nil
}
