package database

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"sniper-trading-bot/internal/confirmation"
	"sniper-trading-bot/internal/market"
	"sniper-trading-bot/internal/positions"
)

// TradeRepository stores closed legs and answers win-rate queries
type TradeRepository struct {
	db *DB
}

// NewTradeRepository creates a trade repository
func NewTradeRepository(db *DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// RecordPartial stores a scale-out leg
func (r *TradeRepository) RecordPartial(ctx context.Context, rec positions.PartialRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO partial_exits (position_id, symbol, direction, contracts, price, pnl, reason, exited_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)`,
		rec.PositionID, rec.Symbol, string(rec.Direction), rec.Contracts, rec.Price,
		rec.PnL.String(), string(rec.Reason), rec.At,
	)
	if err != nil {
		return fmt.Errorf("record partial %s: %w", rec.PositionID, err)
	}
	return nil
}

// RecordTrade stores a fully closed trade; replays are ignored
func (r *TradeRepository) RecordTrade(ctx context.Context, rec positions.TradeRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO trades (position_id, setup_id, symbol, direction, entry_price, exit_price,
			total_contracts, pnl, reason, grade, confidence, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9, $10, $11, $12, $13)
		ON CONFLICT (position_id) DO NOTHING`,
		rec.PositionID, rec.SetupID, rec.Symbol, string(rec.Direction), rec.Entry, rec.Exit,
		rec.TotalContracts, rec.PnL.String(), string(rec.Reason), string(rec.Grade), rec.Confidence,
		rec.OpenedAt, rec.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("record trade %s: %w", rec.PositionID, err)
	}
	return nil
}

// WinStats returns winning and total closed trades for symbol
func (r *TradeRepository) WinStats(ctx context.Context, symbol string) (wins, total int, err error) {
	err = r.db.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE pnl > 0), COUNT(*)
		FROM trades WHERE symbol = $1`, symbol).Scan(&wins, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("win stats %s: %w", symbol, err)
	}
	return wins, total, nil
}

// RecentTrades returns the latest closed trades, newest first
func (r *TradeRepository) RecentTrades(ctx context.Context, limit int) ([]positions.TradeRecord, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT position_id::text, COALESCE(setup_id, ''), symbol, direction, entry_price, exit_price,
			total_contracts, pnl::text, reason, grade, confidence, opened_at, closed_at
		FROM trades ORDER BY closed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []positions.TradeRecord
	for rows.Next() {
		var (
			rec                     positions.TradeRecord
			dir, pnl, reason, grade string
		)
		if err := rows.Scan(&rec.PositionID, &rec.SetupID, &rec.Symbol, &dir, &rec.Entry, &rec.Exit,
			&rec.TotalContracts, &pnl, &reason, &grade, &rec.Confidence, &rec.OpenedAt, &rec.ClosedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		rec.Direction = market.Direction(dir)
		rec.Reason = positions.ExitReason(reason)
		rec.Grade = confirmation.Tier(grade)
		if rec.PnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("parse pnl %q: %w", pnl, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
