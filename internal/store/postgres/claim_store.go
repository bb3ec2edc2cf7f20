package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// ClaimStore implements domain.ClaimStore on the idempotency_keys table.
type ClaimStore struct {
	pool DB
}

// NewClaimStore creates a new ClaimStore backed by the given connection pool.
func NewClaimStore(pool DB) *ClaimStore {
	return &ClaimStore{pool: pool}
}

// Claim inserts key and reports whether this call created it. Concurrent
// callers with the same key see exactly one true.
func (s *ClaimStore) Claim(ctx context.Context, key string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_keys (key) VALUES ($1) ON CONFLICT (key) DO NOTHING`, key)
	if err != nil {
		return false, fmt.Errorf("postgres: claim %s: %w", key, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release deletes key.
func (s *ClaimStore) Release(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key); err != nil {
		return fmt.Errorf("postgres: release claim %s: %w", key, err)
	}
	return nil
}

var _ domain.ClaimStore = (*ClaimStore)(nil)
