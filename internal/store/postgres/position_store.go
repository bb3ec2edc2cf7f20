package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/signalbot/internal/domain"
)

// PositionStore implements domain.PositionLedger using PostgreSQL.
type PositionStore struct {
	pool DB
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool DB) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionSelectCols = `id, symbol, side, quantity, open_price, opened_at,
	status, close_price, closed_at, profit_loss, stop_loss, take_profit,
	total_cost, stop_loss_triggered, closed_by_user, exit_kind, order_type, signal_id`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var side, status, exitKind string

	err := row.Scan(
		&p.ID, &p.Symbol, &side, &p.Quantity, &p.OpenPrice, &p.OpenedAt,
		&status, &p.ClosePrice, &p.ClosedAt, &p.ProfitLoss, &p.StopLoss, &p.TakeProfit,
		&p.TotalCost, &p.StopLossTriggered, &p.ClosedByUser, &exitKind, &p.OrderType, &p.SignalID,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Side = domain.Side(side)
	p.Status = domain.PositionStatus(status)
	p.ExitKind = domain.ExitKind(exitKind)
	return p, nil
}

func scanPositions(rows pgx.Rows) ([]domain.Position, error) {
	defer rows.Close()
	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// WithSymbolLock runs fn inside a transaction holding a transaction-scoped
// advisory lock on symbol. The lock serializes deciders even when no OPEN
// row exists yet for FOR UPDATE to lock.
func (s *PositionStore) WithSymbolLock(ctx context.Context, symbol string, fn func(tx domain.PositionTx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin symbol tx %s: %w", symbol, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "positions:"+symbol); err != nil {
		return fmt.Errorf("postgres: lock symbol %s: %w", symbol, err)
	}

	if err := fn(&positionTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit symbol tx %s: %w", symbol, err)
	}
	return nil
}

// positionTx implements domain.PositionTx on a single pgx transaction.
type positionTx struct {
	tx pgx.Tx
}

// LockOpen selects the OPEN rows for symbol with FOR UPDATE.
func (t *positionTx) LockOpen(ctx context.Context, symbol string) ([]domain.Position, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE symbol = $1 AND status = 'OPEN'
		 ORDER BY opened_at
		 FOR UPDATE`, symbol)
	if err != nil {
		return nil, fmt.Errorf("postgres: lock open positions %s: %w", symbol, err)
	}
	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions %s: %w", symbol, err)
	}
	return positions, nil
}

// Insert creates a new position row.
func (t *positionTx) Insert(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, symbol, side, quantity, open_price, opened_at,
			status, close_price, closed_at, profit_loss, stop_loss, take_profit,
			total_cost, stop_loss_triggered, closed_by_user, exit_kind, order_type, signal_id,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17, $18,
			NOW()
		)`

	_, err := t.tx.Exec(ctx, query,
		p.ID, p.Symbol, string(p.Side), p.Quantity, p.OpenPrice, p.OpenedAt,
		string(p.Status), p.ClosePrice, p.ClosedAt, p.ProfitLoss, p.StopLoss, p.TakeProfit,
		p.TotalCost, p.StopLossTriggered, p.ClosedByUser, string(p.ExitKind), p.OrderType, p.SignalID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("postgres: insert position %s: %w", p.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert position %s: %w", p.ID, err)
	}
	return nil
}

// Close writes the close fields of p. Only OPEN rows are updated, so a row
// can never be closed twice.
func (t *positionTx) Close(ctx context.Context, p domain.Position) error {
	const query = `
		UPDATE positions SET
			status              = 'CLOSED',
			close_price         = $2,
			closed_at           = $3,
			profit_loss         = $4,
			stop_loss_triggered = $5,
			closed_by_user      = $6,
			exit_kind           = $7,
			updated_at          = NOW()
		WHERE id = $1 AND status = 'OPEN'`

	tag, err := t.tx.Exec(ctx, query,
		p.ID, p.ClosePrice, p.ClosedAt, p.ProfitLoss,
		p.StopLossTriggered, p.ClosedByUser, string(p.ExitKind),
	)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpen returns every OPEN position, oldest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE status = 'OPEN'
		 ORDER BY symbol, opened_at`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions: %w", err)
	}
	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open positions: %w", err)
	}
	return positions, nil
}

// OpenSymbols returns the distinct symbols with at least one OPEN position.
func (s *PositionStore) OpenSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT symbol FROM positions WHERE status = 'OPEN' ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open symbols: %w", err)
	}
	symbols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan open symbols: %w", err)
	}
	return symbols, nil
}

// ListClosed returns closed positions, newest close first.
func (s *PositionStore) ListClosed(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	query, args := applyListOpts(
		`SELECT `+positionSelectCols+` FROM positions WHERE status = 'CLOSED'`,
		nil, opts, "closed_at",
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed positions: %w", err)
	}
	positions, err := scanPositions(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan closed positions: %w", err)
	}
	return positions, nil
}

// CountOpen returns the number of OPEN positions.
func (s *PositionStore) CountOpen(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE status = 'OPEN'`,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count open positions: %w", err)
	}
	return n, nil
}

// CountOpenedSince returns the number of positions opened at or after since.
func (s *PositionStore) CountOpenedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE opened_at >= $1`, since,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count positions since: %w", err)
	}
	return n, nil
}

// SumLossSince returns the magnitude of realized losses on positions closed
// at or after since. Profitable closes are not netted against it.
func (s *PositionStore) SumLossSince(ctx context.Context, since time.Time) (float64, error) {
	var sum float64
	if err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(-SUM(profit_loss), 0) FROM positions
		 WHERE status = 'CLOSED' AND closed_at >= $1 AND profit_loss < 0`, since,
	).Scan(&sum); err != nil {
		return 0, fmt.Errorf("postgres: sum losses since: %w", err)
	}
	return sum, nil
}

// Compile-time interface checks.
var (
	_ domain.PositionLedger = (*PositionStore)(nil)
	_ domain.PositionTx     = (*positionTx)(nil)
)
