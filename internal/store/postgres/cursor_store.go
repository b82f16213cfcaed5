package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftgate/solverbot/internal/domain"
)

// CursorStore implements domain.CursorStore using PostgreSQL.
type CursorStore struct {
	pool *pgxpool.Pool
}

var _ domain.CursorStore = (*CursorStore)(nil)

// NewCursorStore creates a CursorStore backed by the given connection pool.
func NewCursorStore(pool *pgxpool.Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

// Get returns the stored block for name, or domain.ErrNotFound when the
// cursor has never been written.
func (s *CursorStore) Get(ctx context.Context, name string) (uint64, error) {
	var block int64
	err := s.pool.QueryRow(ctx, `SELECT block FROM cursors WHERE name = $1`, name).Scan(&block)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: get cursor %s: %w", name, err)
	}
	return uint64(block), nil
}

// Set stores block for name. Cursors only move forward; a stale writer racing
// a fresher one cannot rewind the scan position.
func (s *CursorStore) Set(ctx context.Context, name string, block uint64) error {
	const query = `
		INSERT INTO cursors (name, block, updated_at) VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET
			block = GREATEST(cursors.block, EXCLUDED.block),
			updated_at = NOW()`
	if _, err := s.pool.Exec(ctx, query, name, int64(block)); err != nil {
		return fmt.Errorf("postgres: set cursor %s: %w", name, err)
	}
	return nil
}
