package postgres

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool DB
}

// NewSignalStore creates a new SignalStore backed by the given connection pool.
func NewSignalStore(pool DB) *SignalStore {
	return &SignalStore{pool: pool}
}

// Insert records one processed signal.
func (s *SignalStore) Insert(ctx context.Context, rec domain.SignalRecord) error {
	const query = `
		INSERT INTO signals (
			id, event_key, source, symbol, action, price, raw_text,
			outcome, position_id, message, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.EventKey, rec.Source, rec.Symbol, rec.Action, rec.Price, rec.RawText,
		string(rec.Outcome), rec.PositionID, rec.Message, rec.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: insert signal %s: %w", rec.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert signal %s: %w", rec.ID, err)
	}
	return nil
}

// List returns signal records, newest first.
func (s *SignalStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.SignalRecord, error) {
	query, args := applyListOpts(
		`SELECT id, event_key, source, symbol, action, price, raw_text,
		        outcome, position_id, message, created_at
		 FROM signals WHERE 1=1`,
		nil, opts, "created_at",
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals: %w", err)
	}
	defer rows.Close()

	var records []domain.SignalRecord
	for rows.Next() {
		var r domain.SignalRecord
		var outcome string
		if err := rows.Scan(
			&r.ID, &r.EventKey, &r.Source, &r.Symbol, &r.Action, &r.Price, &r.RawText,
			&outcome, &r.PositionID, &r.Message, &r.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan signal: %w", err)
		}
		r.Outcome = domain.Outcome(outcome)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list signals rows: %w", err)
	}
	return records, nil
}

var _ domain.SignalStore = (*SignalStore)(nil)
