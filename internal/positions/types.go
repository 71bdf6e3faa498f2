// Package positions manages the lifecycle of open positions from entry to
// target-1 scale-out and final exit.
package positions

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"sniper-trading-bot/internal/confirmation"
	"sniper-trading-bot/internal/market"
	"sniper-trading-bot/internal/notification"
	"sniper-trading-bot/internal/risk"
)

// Status of a position; transitions only move forward
type Status string

const (
	StatusOpen   Status = "open"
	StatusScaled Status = "scaled"
	StatusClosed Status = "closed"
)

// ExitReason is the closed set of reasons a position leg is closed
type ExitReason string

const (
	ReasonStopLoss ExitReason = "stop-loss"
	ReasonTarget1  ExitReason = "target-1"
	ReasonTarget2  ExitReason = "target-2"
	ReasonEndOfDay ExitReason = "end-of-day"
)

// Valid reports whether r is a known reason
func (r ExitReason) Valid() bool {
	switch r {
	case ReasonStopLoss, ReasonTarget1, ReasonTarget2, ReasonEndOfDay:
		return true
	}
	return false
}

var (
	ErrPositionClosed   = errors.New("position already closed")
	ErrPositionNotFound = errors.New("position not found")
	ErrPositionExists   = errors.New("position already open for symbol")
	ErrMaxPositions     = errors.New("max open positions reached")
	ErrCircuitOpen      = errors.New("new entries halted")
	ErrLowConfidence    = errors.New("confidence below minimum")
	ErrInvalidReason    = errors.New("invalid exit reason")
)

// Signal is a graded, confirmed setup ready to become a position
type Signal struct {
	SetupID    string            `json:"setup_id"`
	Symbol     string            `json:"symbol"`
	Direction  market.Direction  `json:"direction"`
	Entry      float64           `json:"entry"`
	Levels     risk.Levels       `json:"levels"`
	ZoneLow    float64           `json:"zone_low"`
	ZoneHigh   float64           `json:"zone_high"`
	Confidence float64           `json:"confidence"`
	Grade      confirmation.Tier `json:"grade"`
	Labels     []string          `json:"labels,omitempty"`
	At         time.Time         `json:"at"`
}

// Position is the state of one trade. RemainingContracts only decreases and
// RealizedPnL only accumulates.
type Position struct {
	ID                 string            `json:"id"`
	SetupID            string            `json:"setup_id"`
	Symbol             string            `json:"symbol"`
	Direction          market.Direction  `json:"direction"`
	Entry              float64           `json:"entry"`
	Stop               float64           `json:"stop"`
	OriginalStop       float64           `json:"original_stop"`
	Target1            float64           `json:"target1"`
	Target2            float64           `json:"target2"`
	TotalContracts     int               `json:"total_contracts"`
	RemainingContracts int               `json:"remaining_contracts"`
	RealizedPnL        decimal.Decimal   `json:"realized_pnl"`
	Status             Status            `json:"status"`
	Target1Hit         bool              `json:"target1_hit"`
	Confidence         float64           `json:"confidence"`
	Grade              confirmation.Tier `json:"grade"`
	OpenedAt           time.Time         `json:"opened_at"`
	ClosedAt           *time.Time        `json:"closed_at,omitempty"`
	ExitPrice          float64           `json:"exit_price,omitempty"`
	ExitReason         ExitReason        `json:"exit_reason,omitempty"`
}

// PartialRecord is an immutable record of a scale-out leg
type PartialRecord struct {
	PositionID string           `json:"position_id"`
	Symbol     string           `json:"symbol"`
	Direction  market.Direction `json:"direction"`
	Contracts  int              `json:"contracts"`
	Price      float64          `json:"price"`
	PnL        decimal.Decimal  `json:"pnl"`
	Reason     ExitReason       `json:"reason"`
	At         time.Time        `json:"at"`
}

// TradeRecord is an immutable record of a fully closed position
type TradeRecord struct {
	PositionID     string            `json:"position_id"`
	SetupID        string            `json:"setup_id"`
	Symbol         string            `json:"symbol"`
	Direction      market.Direction  `json:"direction"`
	Entry          float64           `json:"entry"`
	Exit           float64           `json:"exit"`
	TotalContracts int               `json:"total_contracts"`
	PnL            decimal.Decimal   `json:"pnl"`
	Reason         ExitReason        `json:"reason"`
	Grade          confirmation.Tier `json:"grade"`
	Confidence     float64           `json:"confidence"`
	OpenedAt       time.Time         `json:"opened_at"`
	ClosedAt       time.Time         `json:"closed_at"`
}

// Win reports whether the trade made money
func (r TradeRecord) Win() bool {
	return r.PnL.IsPositive()
}

// Store persists position state
type Store interface {
	SavePosition(ctx context.Context, p Position) error
	LoadOpenPositions(ctx context.Context) ([]Position, error)
}

// TradeSink receives closed legs
type TradeSink interface {
	RecordPartial(ctx context.Context, r PartialRecord) error
	RecordTrade(ctx context.Context, r TradeRecord) error
}

// Guard gates new entries and learns from closed trades
type Guard interface {
	CanTrade(at time.Time) (bool, string)
	RecordTrade(pnl float64, at time.Time)
}

// Alerter delivers lifecycle alerts
type Alerter interface {
	Signal(ctx context.Context, a notification.SignalAlert)
	ScaleOut(ctx context.Context, a notification.ScaleOutAlert)
	Exit(ctx context.Context, a notification.ExitAlert)
}
