package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	Symbol string
}

// PositionTx is the view of the ledger inside a per-symbol critical section.
// Every call runs on the same transaction.
type PositionTx interface {
	// LockOpen returns the OPEN positions for the symbol, row-locked until the
	// transaction ends.
	LockOpen(ctx context.Context, symbol string) ([]Position, error)
	Insert(ctx context.Context, pos Position) error
	// Close persists the close fields of pos. It returns ErrNotFound if the
	// row is no longer OPEN.
	Close(ctx context.Context, pos Position) error
}

// PositionLedger persists positions.
type PositionLedger interface {
	// WithSymbolLock runs fn in a transaction that holds an exclusive lock on
	// the symbol. The transaction commits when fn returns nil.
	WithSymbolLock(ctx context.Context, symbol string, fn func(tx PositionTx) error) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	OpenSymbols(ctx context.Context) ([]string, error)
	ListClosed(ctx context.Context, opts ListOpts) ([]Position, error)
	CountOpen(ctx context.Context) (int, error)
	CountOpenedSince(ctx context.Context, since time.Time) (int, error)
	SumLossSince(ctx context.Context, since time.Time) (float64, error)
}

// ClaimStore records idempotency keys.
type ClaimStore interface {
	// Claim inserts key if absent. It returns false when the key was already
	// claimed.
	Claim(ctx context.Context, key string) (bool, error)
	// Release deletes key so a failed delivery can be retried. Releasing an
	// unknown key is not an error.
	Release(ctx context.Context, key string) error
}

// SignalStore persists the signal audit log.
type SignalStore interface {
	Insert(ctx context.Context, rec SignalRecord) error
	List(ctx context.Context, opts ListOpts) ([]SignalRecord, error)
}

// SettingsStore persists key/value system settings.
type SettingsStore interface {
	GetByPrefix(ctx context.Context, prefix string) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
