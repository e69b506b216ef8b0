package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CursorStore implements domain.CursorStore using PostgreSQL.
type CursorStore struct {
	pool *pgxpool.Pool
}

// NewCursorStore creates a new CursorStore backed by the given connection pool.
func NewCursorStore(pool *pgxpool.Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

// GetCursor returns the stored height for name, or 0 when none is stored.
func (s *CursorStore) GetCursor(ctx context.Context, name string) (uint64, error) {
	var height int64
	err := s.pool.QueryRow(ctx, `SELECT height FROM job_cursors WHERE name = $1`, name).Scan(&height)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: get cursor %s: %w", name, err)
	}
	return uint64(height), nil
}

// SetCursor upserts the height for name.
func (s *CursorStore) SetCursor(ctx context.Context, name string, height uint64) error {
	const query = `
		INSERT INTO job_cursors (name, height) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET height = EXCLUDED.height, updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, name, int64(height)); err != nil {
		return fmt.Errorf("postgres: set cursor %s: %w", name, err)
	}
	return nil
}
