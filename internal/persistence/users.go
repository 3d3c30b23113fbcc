package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/docingest/backend/internal/models"
)

// UserColumns is the number of bind parameters each user row needs.
const UserColumns = 4

// MaxBindParams is the largest placeholder count a single statement may carry
// across the supported engines.
const MaxBindParams = 65535

// InsertUsers writes rows in one transaction with a single multi-row INSERT.
// Rows whose id already exists are skipped, so re-running an import over the
// same id range is harmless.
func (s *Store) InsertUsers(ctx context.Context, rows []models.UserRow) error {
	if len(rows) == 0 {
		return nil
	}
	if len(rows)*UserColumns > MaxBindParams {
		return fmt.Errorf("batch of %d rows exceeds %d bind parameters", len(rows), MaxBindParams)
	}

	var b strings.Builder
	b.Grow(64 + len(rows)*14)
	b.WriteString(s.dialect.insertIgnore)
	b.WriteString(" users (id, name, email, password) VALUES ")
	args := make([]interface{}, 0, len(rows)*UserColumns)
	for i, r := range rows {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString("(?, ?, ?, ?)")
		args = append(args, r.ID, r.Name, r.Email, r.Password)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to insert users: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit users: %w", err)
	}
	return nil
}

// CountUsers returns the number of stored users.
func (s *Store) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}
