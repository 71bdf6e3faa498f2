package database

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"sniper-trading-bot/internal/confirmation"
	"sniper-trading-bot/internal/market"
	"sniper-trading-bot/internal/positions"
)

// PositionRepository stores position state
type PositionRepository struct {
	db *DB
}

// NewPositionRepository creates a position repository
func NewPositionRepository(db *DB) *PositionRepository {
	return &PositionRepository{db: db}
}

// SavePosition upserts the full position row
func (r *PositionRepository) SavePosition(ctx context.Context, p positions.Position) error {
	var exitPrice *float64
	var exitReason *string
	if p.Status == positions.StatusClosed {
		exitPrice = &p.ExitPrice
		reason := string(p.ExitReason)
		exitReason = &reason
	}

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO positions (
			id, setup_id, symbol, direction, entry_price, stop_price, original_stop,
			target1, target2, total_contracts, remaining_contracts, realized_pnl,
			status, target1_hit, confidence, grade, opened_at, closed_at,
			exit_price, exit_reason, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::numeric, $13, $14, $15, $16, $17, $18, $19, $20, NOW())
		ON CONFLICT (id) DO UPDATE SET
			stop_price = EXCLUDED.stop_price,
			remaining_contracts = EXCLUDED.remaining_contracts,
			realized_pnl = EXCLUDED.realized_pnl,
			status = EXCLUDED.status,
			target1_hit = EXCLUDED.target1_hit,
			closed_at = EXCLUDED.closed_at,
			exit_price = EXCLUDED.exit_price,
			exit_reason = EXCLUDED.exit_reason,
			updated_at = NOW()`,
		p.ID, p.SetupID, p.Symbol, string(p.Direction), p.Entry, p.Stop, p.OriginalStop,
		p.Target1, p.Target2, p.TotalContracts, p.RemainingContracts, p.RealizedPnL.String(),
		string(p.Status), p.Target1Hit, p.Confidence, string(p.Grade), p.OpenedAt, p.ClosedAt,
		exitPrice, exitReason,
	)
	if err != nil {
		return fmt.Errorf("save position %s: %w", p.ID, err)
	}
	return nil
}

// LoadOpenPositions returns positions not yet closed
func (r *PositionRepository) LoadOpenPositions(ctx context.Context) ([]positions.Position, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT id::text, COALESCE(setup_id, ''), symbol, direction, entry_price, stop_price, original_stop,
			target1, target2, total_contracts, remaining_contracts, realized_pnl::text,
			status, target1_hit, confidence, grade, opened_at
		FROM positions WHERE status <> 'closed'
		ORDER BY opened_at`)
	if err != nil {
		return nil, fmt.Errorf("query open positions: %w", err)
	}
	defer rows.Close()

	var out []positions.Position
	for rows.Next() {
		var (
			p                       positions.Position
			dir, status, grade, pnl string
			opened                  time.Time
		)
		if err := rows.Scan(&p.ID, &p.SetupID, &p.Symbol, &dir, &p.Entry, &p.Stop, &p.OriginalStop,
			&p.Target1, &p.Target2, &p.TotalContracts, &p.RemainingContracts, &pnl,
			&status, &p.Target1Hit, &p.Confidence, &grade, &opened); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.Direction = market.Direction(dir)
		p.Status = positions.Status(status)
		p.Grade = confirmation.Tier(grade)
		p.OpenedAt = opened
		if p.RealizedPnL, err = decimal.NewFromString(pnl); err != nil {
			return nil, fmt.Errorf("parse realized pnl %q: %w", pnl, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
