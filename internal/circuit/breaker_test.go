package circuit

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"sniper-trading-bot/internal/events"
	"sniper-trading-bot/internal/market"
)

// TestBreakerTripsOnLossStreak tests that three losses in a row halt entries
func TestBreakerTripsOnLossStreak(t *testing.T) {
	rec := &events.Recorder{}
	cb := NewBreaker(Config{Enabled: true, MaxConsecutiveLosses: 3}, rec, zerolog.Nop())
	at := time.Date(2024, 3, 5, 11, 0, 0, 0, market.Eastern())

	cb.RecordTrade(-100, at)
	cb.RecordTrade(-50, at)
	if ok, _ := cb.CanTrade(at); !ok {
		t.Fatal("Expected trading allowed after two losses")
	}
	cb.RecordTrade(-10, at)

	if ok, reason := cb.CanTrade(at); ok || reason == "" {
		t.Errorf("Expected trading halted with reason, got ok=%v reason=%q", ok, reason)
	}
	if rec.Count(events.EventCircuitTripped) != 1 {
		t.Errorf("Expected 1 trip event, got %d", rec.Count(events.EventCircuitTripped))
	}

	// a new session day resets the guard
	next := at.Add(24 * time.Hour)
	if ok, _ := cb.CanTrade(next); !ok {
		t.Error("Expected trading allowed on the next session")
	}
}

// TestBreakerWinResetsStreak tests that a winner clears the streak
func TestBreakerWinResetsStreak(t *testing.T) {
	cb := NewBreaker(Config{Enabled: true, MaxConsecutiveLosses: 3}, nil, zerolog.Nop())
	at := time.Date(2024, 3, 5, 11, 0, 0, 0, market.Eastern())

	cb.RecordTrade(-1, at)
	cb.RecordTrade(-1, at)
	cb.RecordTrade(5, at)
	cb.RecordTrade(-1, at)
	cb.RecordTrade(-1, at)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected closed, got %s", cb.GetState())
	}
}

// TestBreakerDailyLoss tests the daily dollar loss limit
func TestBreakerDailyLoss(t *testing.T) {
	cb := NewBreaker(Config{Enabled: true, MaxConsecutiveLosses: 10, MaxDailyLoss: 500}, nil, zerolog.Nop())
	at := time.Date(2024, 3, 5, 11, 0, 0, 0, market.Eastern())

	cb.RecordTrade(-300, at)
	cb.RecordTrade(100, at)
	cb.RecordTrade(-250, at)

	if cb.GetState() != StateOpen {
		t.Errorf("Expected open after 550 daily loss, got %s", cb.GetState())
	}

	cb.ForceReset()
	if ok, _ := cb.CanTrade(at); !ok {
		t.Error("Expected trading allowed after force reset")
	}
}

// TestBreakerDisabled tests that a disabled breaker never halts
func TestBreakerDisabled(t *testing.T) {
	cb := NewBreaker(Config{Enabled: false}, nil, zerolog.Nop())
	at := time.Now()
	for i := 0; i < 5; i++ {
		cb.RecordTrade(-100, at)
	}
	if ok, _ := cb.CanTrade(at); !ok {
		t.Error("Expected disabled breaker to allow trading")
	}
}
