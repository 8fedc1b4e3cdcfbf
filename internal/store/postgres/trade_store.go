package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/trailstop/internal/domain"
)

// TradeStore implements domain.TradeStore using PostgreSQL. Numeric columns
// travel as text so no precision is lost on the way to decimal.Decimal.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given connection pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

const tradeSelectCols = `id, symbol, trade_type, price::text, quantity::text, fee::text, timestamp`

const insertTrade = `
	INSERT INTO trades (symbol, trade_type, price, quantity, fee, timestamp)
	VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6)
	RETURNING id`

func tradeArgs(t domain.TradeRecord) []any {
	return []any{t.Symbol, string(t.Type), t.Price.String(), t.Quantity.String(), t.Fee.String(), t.Timestamp}
}

func scanTradeRows(rows pgx.Rows) ([]domain.TradeRecord, error) {
	var trades []domain.TradeRecord
	for rows.Next() {
		var (
			t                   domain.TradeRecord
			typ                 string
			price, qty, feeText string
		)
		if err := rows.Scan(&t.ID, &t.Symbol, &typ, &price, &qty, &feeText, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Type = domain.TradeType(typ)
		var err error
		if t.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("trade %d price: %w", t.ID, err)
		}
		if t.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("trade %d quantity: %w", t.ID, err)
		}
		if t.Fee, err = decimal.NewFromString(feeText); err != nil {
			return nil, fmt.Errorf("trade %d fee: %w", t.ID, err)
		}
		t.Timestamp = t.Timestamp.UTC()
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// Insert appends one trade and returns its id.
func (s *TradeStore) Insert(ctx context.Context, t domain.TradeRecord) (int64, error) {
	var id int64
	if err := s.pool.QueryRow(ctx, insertTrade, tradeArgs(t)...).Scan(&id); err != nil {
		return 0, fmt.Errorf("postgres: insert trade %s: %w", t.Symbol, err)
	}
	return id, nil
}

// InsertBatch appends trades in one transaction using a pgx Batch.
func (s *TradeStore) InsertBatch(ctx context.Context, trades []domain.TradeRecord) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin trade batch: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(insertTrade, tradeArgs(t)...)
	}
	br := tx.SendBatch(ctx, batch)
	for i := range trades {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: insert trade batch item %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: close trade batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit trade batch: %w", err)
	}
	return nil
}

// ListBySymbol returns trades for symbol oldest first. Ties on timestamp
// keep insertion order.
func (s *TradeStore) ListBySymbol(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.TradeRecord, error) {
	query, args := window(
		`SELECT `+tradeSelectCols+` FROM trades WHERE symbol = $1`,
		[]any{symbol}, "timestamp", "timestamp ASC, id ASC", opts,
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades for %s: %w", symbol, err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades for %s: %w", symbol, err)
	}
	return trades, nil
}

// ListSymbols returns every symbol with at least one trade, sorted.
func (s *TradeStore) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT symbol FROM trades ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade symbols: %w", err)
	}
	defer rows.Close()

	symbols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade symbols: %w", err)
	}
	return symbols, nil
}

// ListBefore returns up to limit trades older than before, oldest first.
func (s *TradeStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeRecord, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE timestamp < $1 ORDER BY timestamp ASC, id ASC`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades before %s: %w", before.Format(time.RFC3339), err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades before: %w", err)
	}
	return trades, nil
}

var _ domain.TradeStore = (*TradeStore)(nil)
