package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"sniper-trading-bot/internal/market"
)

const upsertBarSQL = `
	INSERT INTO bars (symbol, start_time, open, high, low, close, volume, sealed, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	ON CONFLICT (symbol, start_time) DO UPDATE SET
		open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
		close = EXCLUDED.close, volume = EXCLUDED.volume,
		sealed = bars.sealed OR EXCLUDED.sealed, updated_at = NOW()`

// BarRepository stores one-minute bars. Writes are idempotent upserts keyed by
// (symbol, start) so a requeued flush never duplicates rows.
type BarRepository struct {
	db *DB
}

// NewBarRepository creates a bar repository
func NewBarRepository(db *DB) *BarRepository {
	return &BarRepository{db: db}
}

// SaveBars upserts sealed bars in one batch
func (r *BarRepository) SaveBars(ctx context.Context, bars []market.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, b := range bars {
		batch.Queue(upsertBarSQL, b.Symbol, b.Start, b.Open, b.High, b.Low, b.Close, b.Volume, true)
	}
	if err := r.db.Pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save %d bars: %w", len(bars), err)
	}
	return nil
}

// UpsertOpenBar writes the in-progress bar
func (r *BarRepository) UpsertOpenBar(ctx context.Context, b market.Bar) error {
	if _, err := r.db.Pool.Exec(ctx, upsertBarSQL, b.Symbol, b.Start, b.Open, b.High, b.Low, b.Close, b.Volume, false); err != nil {
		return fmt.Errorf("upsert open bar %s: %w", b.Symbol, err)
	}
	return nil
}

// RecentBars returns up to limit sealed bars for symbol, oldest first
func (r *BarRepository) RecentBars(ctx context.Context, symbol string, limit int) ([]market.Bar, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT symbol, start_time, open, high, low, close, volume FROM (
			SELECT symbol, start_time, open, high, low, close, volume
			FROM bars WHERE symbol = $1 AND sealed
			ORDER BY start_time DESC LIMIT $2
		) recent ORDER BY start_time ASC`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("query bars %s: %w", symbol, err)
	}
	defer rows.Close()

	var bars []market.Bar
	for rows.Next() {
		var b market.Bar
		if err := rows.Scan(&b.Symbol, &b.Start, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}
