// Package risk sizes positions and derives their stop and target levels.
package risk

import (
	"errors"
	"fmt"
	"math"

	"sniper-trading-bot/internal/confirmation"
)

var (
	ErrNonPositiveRisk = errors.New("non-positive risk per contract")
	ErrBudgetTooSmall  = errors.New("risk budget below minimum contracts")
)

// SizerConfig holds account-level sizing configuration
type SizerConfig struct {
	AccountBalance     float64
	ContractMultiplier float64 // shares per contract
	MinContracts       int
	MaxContracts       int
}

// DefaultSizerConfig returns a 25k account sizing between 2 and 10 contracts
func DefaultSizerConfig() SizerConfig {
	return SizerConfig{
		AccountBalance:     25000,
		ContractMultiplier: 100,
		MinContracts:       2,
		MaxContracts:       10,
	}
}

// Sizer turns a signal's risk distance and confidence into a contract count
type Sizer struct {
	config SizerConfig
}

// NewSizer creates a sizer
func NewSizer(cfg SizerConfig) *Sizer {
	def := DefaultSizerConfig()
	if cfg.ContractMultiplier <= 0 {
		cfg.ContractMultiplier = def.ContractMultiplier
	}
	if cfg.MinContracts <= 0 {
		cfg.MinContracts = def.MinContracts
	}
	cfg.MinContracts += cfg.MinContracts % 2
	cfg.MaxContracts -= cfg.MaxContracts % 2
	if cfg.MaxContracts < cfg.MinContracts {
		cfg.MaxContracts = cfg.MinContracts
	}
	return &Sizer{config: cfg}
}

// RiskFraction is the share of the account put at risk for a signal
func RiskFraction(confidence float64, grade confirmation.Tier) float64 {
	switch {
	case confidence >= 0.85 || grade == confirmation.TierAPlus:
		return 0.02
	case confidence >= 0.70 || grade == confirmation.TierA:
		return 0.015
	default:
		return 0.01
	}
}

// Contracts returns an even contract count so a scale-out splits exactly in half.
// A budget that cannot cover MinContracts returns 0 and ErrBudgetTooSmall.
func (s *Sizer) Contracts(entry, stop, confidence float64, grade confirmation.Tier) (int, error) {
	perUnit := math.Abs(entry-stop) * s.config.ContractMultiplier
	if perUnit <= 0 || math.IsNaN(perUnit) || s.config.AccountBalance <= 0 {
		return 0, fmt.Errorf("size %.4f/%.4f: %w", entry, stop, ErrNonPositiveRisk)
	}

	budget := s.config.AccountBalance * RiskFraction(confidence, grade)
	n := int(math.Floor(budget / perUnit))
	n -= n % 2
	if n < s.config.MinContracts {
		return 0, fmt.Errorf("size %.4f/%.4f: $%.2f buys %d: %w", entry, stop, budget, n, ErrBudgetTooSmall)
	}
	if n > s.config.MaxContracts {
		n = s.config.MaxContracts
	}
	n -= n % 2
	return n, nil
}

// Config returns the sizer configuration
func (s *Sizer) Config() SizerConfig {
	return s.config
}
