package confluence

import (
	"testing"
	"time"

	"sniper-trading-bot/internal/market"
)

func alignmentHistory() ([]market.Bar, time.Time) {
	et := market.Eastern()
	var bars []market.Bar
	day1 := time.Date(2024, 3, 4, 10, 0, 0, 0, et)
	for i := 0; i < 3; i++ {
		bars = append(bars, market.Bar{Symbol: "AAPL", Start: day1.Add(time.Duration(i) * time.Minute),
			Open: 100, High: 101, Low: 99, Close: 100, Volume: 100})
	}

	open := time.Date(2024, 3, 5, 9, 30, 0, 0, et)
	for i := 0; i < 25; i++ {
		bars = append(bars, market.Bar{Symbol: "AAPL", Start: open.Add(time.Duration(i) * time.Minute),
			Open: 100, High: 100.5, Low: 99.5, Close: 100, Volume: 100})
	}
	breakout := open.Add(25 * time.Minute)
	bars = append(bars,
		market.Bar{Symbol: "AAPL", Start: breakout, Open: 100, High: 102.2, Low: 100, Close: 102, Volume: 400},
		market.Bar{Symbol: "AAPL", Start: breakout.Add(time.Minute), Open: 102, High: 102.1, Low: 101.8, Close: 101.9, Volume: 150},
	)
	return bars, breakout
}

// TestAlignmentChecksBull tests that a strong bull breakout aligns on every check
func TestAlignmentChecksBull(t *testing.T) {
	bars, breakout := alignmentHistory()
	checks := AlignmentChecks(bars, market.Bull, 101.9, breakout, DefaultAlignmentConfig())

	if len(checks) != 4 {
		t.Fatalf("Expected 4 checks, got %d: %+v", len(checks), checks)
	}
	for _, c := range checks {
		if !c.Aligned {
			t.Errorf("Expected %s to be aligned", c.Name)
		}
	}
}

// TestAlignmentChecksBear tests that the same history is unaligned for a bear signal
func TestAlignmentChecksBear(t *testing.T) {
	bars, breakout := alignmentHistory()
	checks := AlignmentChecks(bars, market.Bear, 101.9, breakout, DefaultAlignmentConfig())

	for _, c := range checks {
		if c.Name == CheckInstitutional {
			continue
		}
		if c.Aligned {
			t.Errorf("Expected %s to be unaligned for bear", c.Name)
		}
	}
}

// TestAlignmentChecksOmitsMissingData tests that unknown breakout bars and disabled checks are skipped
func TestAlignmentChecksOmitsMissingData(t *testing.T) {
	bars, _ := alignmentHistory()
	cfg := DefaultAlignmentConfig()
	cfg.OpeningRangeMinutes = 0

	checks := AlignmentChecks(bars, market.Bull, 101.9, time.Time{}, cfg)
	for _, c := range checks {
		if c.Name == CheckInstitutional || c.Name == CheckOpeningRange {
			t.Errorf("Expected %s to be omitted", c.Name)
		}
	}
	if len(checks) != 2 {
		t.Errorf("Expected 2 checks, got %d", len(checks))
	}

	if got := AlignmentChecks(nil, market.Bull, 100, time.Time{}, cfg); len(got) != 0 {
		t.Errorf("Expected no checks for empty history, got %d", len(got))
	}
}
