// Package circuit halts new entries after a losing streak or daily loss.
package circuit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sniper-trading-bot/internal/events"
	"sniper-trading-bot/internal/market"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed BreakerState = "closed" // entries allowed
	StateOpen   BreakerState = "open"   // entries halted until the next session
)

// Config holds circuit breaker configuration
type Config struct {
	Enabled              bool    `json:"enabled"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	MaxDailyLoss         float64 `json:"max_daily_loss"` // dollars, 0 disables
}

// DefaultConfig halts after three losses in a row
func DefaultConfig() Config {
	return Config{
		Enabled:              true,
		MaxConsecutiveLosses: 3,
		MaxDailyLoss:         1000,
	}
}

// Breaker is a per-session loss-streak guard. It resets at the start of each
// exchange session day.
type Breaker struct {
	config            Config
	state             BreakerState
	consecutiveLosses int
	dailyLoss         float64
	dailyTrades       int
	sessionDay        time.Time
	tripReason        string
	lastTripTime      time.Time
	mu                sync.RWMutex
	bus               events.Publisher
	logger            zerolog.Logger
	onTrip            func(reason string)
}

// NewBreaker creates a new circuit breaker
func NewBreaker(cfg Config, bus events.Publisher, logger zerolog.Logger) *Breaker {
	if cfg.MaxConsecutiveLosses <= 0 {
		cfg.MaxConsecutiveLosses = DefaultConfig().MaxConsecutiveLosses
	}
	if bus == nil {
		bus = events.Discard
	}
	return &Breaker{
		config: cfg,
		state:  StateClosed,
		bus:    bus,
		logger: logger.With().Str("component", "circuit").Logger(),
	}
}

// OnTrip sets callback for when breaker trips
func (cb *Breaker) OnTrip(handler func(reason string)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onTrip = handler
}

// CanTrade checks if a new entry is allowed at the given time
func (cb *Breaker) CanTrade(at time.Time) (bool, string) {
	if !cb.config.Enabled {
		return true, ""
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.rollSession(at)

	if cb.state == StateOpen {
		return false, fmt.Sprintf("circuit breaker open (reason: %s)", cb.tripReason)
	}
	return true, ""
}

// RecordTrade records a closed trade's total P&L in dollars
func (cb *Breaker) RecordTrade(pnl float64, at time.Time) {
	if !cb.config.Enabled || math.IsNaN(pnl) || math.IsInf(pnl, 0) {
		return
	}

	cb.mu.Lock()
	cb.rollSession(at)
	cb.dailyTrades++
	if pnl < 0 {
		cb.consecutiveLosses++
		cb.dailyLoss += -pnl
	} else {
		cb.consecutiveLosses = 0
	}

	var reason string
	if cb.state == StateClosed {
		switch {
		case cb.consecutiveLosses >= cb.config.MaxConsecutiveLosses:
			reason = fmt.Sprintf("consecutive losses: %d", cb.consecutiveLosses)
		case cb.config.MaxDailyLoss > 0 && cb.dailyLoss >= cb.config.MaxDailyLoss:
			reason = fmt.Sprintf("daily loss: %.2f", cb.dailyLoss)
		}
	}
	if reason != "" {
		cb.state = StateOpen
		cb.tripReason = reason
		cb.lastTripTime = at
	}
	losses, daily, onTrip := cb.consecutiveLosses, cb.dailyLoss, cb.onTrip
	cb.mu.Unlock()

	if reason == "" {
		return
	}
	cb.logger.Warn().Str("reason", reason).Int("consecutive_losses", losses).Float64("daily_loss", daily).Msg("Circuit breaker tripped, halting new entries")
	events.PublishCircuitTripped(cb.bus, reason, losses, daily)
	if onTrip != nil {
		go onTrip(reason)
	}
}

// rollSession resets the counters on a new session day; caller holds mu
func (cb *Breaker) rollSession(at time.Time) {
	day := market.SessionDay(at)
	if cb.sessionDay.Equal(day) {
		return
	}
	if !cb.sessionDay.IsZero() && cb.state == StateOpen {
		cb.logger.Info().Msg("New session, circuit breaker reset")
	}
	cb.sessionDay = day
	cb.state = StateClosed
	cb.consecutiveLosses = 0
	cb.dailyLoss = 0
	cb.dailyTrades = 0
	cb.tripReason = ""
}

// ForceReset manually resets the circuit breaker
func (cb *Breaker) ForceReset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.consecutiveLosses = 0
	cb.tripReason = ""
}

// GetState returns the current state
func (cb *Breaker) GetState() BreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// GetStats returns breaker statistics
func (cb *Breaker) GetStats() map[string]interface{} {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return map[string]interface{}{
		"enabled":            cb.config.Enabled,
		"state":              string(cb.state),
		"consecutive_losses": cb.consecutiveLosses,
		"daily_loss":         cb.dailyLoss,
		"daily_trades":       cb.dailyTrades,
		"trip_reason":        cb.tripReason,
		"last_trip_time":     cb.lastTripTime,
	}
}
