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
}

// TradeStore persists the append-only spot trade ledger.
type TradeStore interface {
	Insert(ctx context.Context, trade TradeRecord) (int64, error)
	InsertBatch(ctx context.Context, trades []TradeRecord) error
	// ListBySymbol returns trades for symbol in timestamp order.
	ListBySymbol(ctx context.Context, symbol string, opts ListOpts) ([]TradeRecord, error)
	ListSymbols(ctx context.Context) ([]string, error)
	// ListBefore feeds the archive. Trades are never deleted: holdings replay
	// a symbol's full history.
	ListBefore(ctx context.Context, before time.Time, limit int) ([]TradeRecord, error)
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
	ListBefore(ctx context.Context, before time.Time, limit int) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
