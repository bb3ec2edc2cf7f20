package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// SettingsStore implements domain.SettingsStore on the system_settings table.
type SettingsStore struct {
	pool DB
}

// NewSettingsStore creates a new SettingsStore backed by the given connection pool.
func NewSettingsStore(pool DB) *SettingsStore {
	return &SettingsStore{pool: pool}
}

// GetByPrefix returns every setting whose key starts with prefix.
func (s *SettingsStore) GetByPrefix(ctx context.Context, prefix string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM system_settings WHERE starts_with(key, $1)`, prefix)
	if err != nil {
		return nil, fmt.Errorf("postgres: get settings %s*: %w", prefix, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("postgres: scan setting: %w", err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get settings rows: %w", err)
	}
	return out, nil
}

// Set upserts a single setting.
func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	const query = `
		INSERT INTO system_settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET
			value      = EXCLUDED.value,
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("postgres: set setting %s: %w", key, err)
	}
	return nil
}

var _ domain.SettingsStore = (*SettingsStore)(nil)
