// Package patterns finds breaks of structure and the fair value gaps that follow them.
package patterns

import (
	"time"

	"sniper-trading-bot/internal/market"
)

// SwingKind distinguishes swing highs from swing lows
type SwingKind string

const (
	SwingHigh SwingKind = "high"
	SwingLow  SwingKind = "low"
)

// SwingPoint is a local extreme inside a centered window
type SwingPoint struct {
	Kind  SwingKind
	Price float64
	Index int // index into the bars passed to FindSwings
}

// StructureBreak is a close beyond the retained swing level
type StructureBreak struct {
	Direction  market.Direction
	Level      float64
	BreakPrice float64
	Index      int
	Strength   float64 // signed (close-level)/level
	At         time.Time
	Volume     float64
}

// DefaultSwingLookback is the swing window used when callers pass 0
const DefaultSwingLookback = 10

// MinBarsForBreak is the history FindBreak needs for a lookback
func MinBarsForBreak(lookback int) int {
	if lookback <= 0 {
		lookback = DefaultSwingLookback
	}
	return lookback*2 + 1
}

// FindSwings scans the last 2×lookback bars. A bar is a swing high when its high
// is the maximum of the lookback-wide window centered on it; lows mirror that.
// Of the qualifying swings the most extreme is kept, the most recent on ties.
func FindSwings(bars []market.Bar, lookback int) (high, low *SwingPoint) {
	if lookback <= 0 {
		lookback = DefaultSwingLookback
	}
	start := len(bars) - 2*lookback
	if start < 0 {
		start = 0
	}
	half := lookback / 2

	for i := start + half; i <= len(bars)-1-half; i++ {
		lo, hi := i-half, i+half
		isHigh, isLow := true, true
		for j := lo; j <= hi; j++ {
			if bars[j].High > bars[i].High {
				isHigh = false
			}
			if bars[j].Low < bars[i].Low {
				isLow = false
			}
		}
		if isHigh && (high == nil || bars[i].High >= high.Price) {
			high = &SwingPoint{Kind: SwingHigh, Price: bars[i].High, Index: i}
		}
		if isLow && (low == nil || bars[i].Low <= low.Price) {
			low = &SwingPoint{Kind: SwingLow, Price: bars[i].Low, Index: i}
		}
	}
	return high, low
}

// FindBreak compares the latest close with swings computed over every bar but
// the latest. Returns nil when there is no break or not enough history.
func FindBreak(bars []market.Bar, lookback int) *StructureBreak {
	if len(bars) < MinBarsForBreak(lookback) {
		return nil
	}

	last := len(bars) - 1
	high, low := FindSwings(bars[:last], lookback)
	px := bars[last].Close

	if high != nil && high.Price > 0 && px > high.Price {
		return &StructureBreak{
			Direction:  market.Bull,
			Level:      high.Price,
			BreakPrice: px,
			Index:      last,
			Strength:   (px - high.Price) / high.Price,
			At:         bars[last].Start,
			Volume:     bars[last].Volume,
		}
	}
	if low != nil && low.Price > 0 && px < low.Price {
		return &StructureBreak{
			Direction:  market.Bear,
			Level:      low.Price,
			BreakPrice: px,
			Index:      last,
			Strength:   (px - low.Price) / low.Price,
			At:         bars[last].Start,
			Volume:     bars[last].Volume,
		}
	}
	return nil
}
