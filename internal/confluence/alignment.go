package confluence

import (
	"time"

	"sniper-trading-bot/internal/market"
)

// Check names
const (
	CheckVWAP          = "vwap"
	CheckPrevDay       = "prev-day-break"
	CheckInstitutional = "institutional-volume"
	CheckOpeningRange  = "opening-range"
)

// AlignmentConfig tunes the boolean checks
type AlignmentConfig struct {
	VolumeLookback      int     // bars averaged before the breakout bar
	VolumeMultiple      float64 // breakout volume / average needed
	OpeningRangeMinutes int     // 0 disables the opening range check
}

// DefaultAlignmentConfig returns 20 bars, 3x volume and a 15 minute opening range
func DefaultAlignmentConfig() AlignmentConfig {
	return AlignmentConfig{VolumeLookback: 20, VolumeMultiple: 3.0, OpeningRangeMinutes: 15}
}

// AlignmentChecks evaluates the boolean checks for a signal at price against the
// bar history up to the confirmation bar. breakoutAt locates the break bar. A check
// with no data to evaluate is omitted rather than reported as unaligned.
func AlignmentChecks(history []market.Bar, dir market.Direction, price float64, breakoutAt time.Time, cfg AlignmentConfig) []Check {
	var checks []Check
	if len(history) == 0 || !dir.Valid() {
		return checks
	}

	session := market.SessionBars(history)
	if vwap := market.VWAP(session); vwap > 0 {
		aligned := price > vwap
		if dir == market.Bear {
			aligned = price < vwap
		}
		checks = append(checks, Check{Name: CheckVWAP, Aligned: aligned})
	}

	if high, low, ok := market.PreviousDayLevels(history); ok {
		aligned := price > high
		if dir == market.Bear {
			aligned = price < low
		}
		checks = append(checks, Check{Name: CheckPrevDay, Aligned: aligned})
	}

	if idx := indexAt(history, breakoutAt); idx > 0 {
		avg := market.AverageVolume(history[:idx+1], cfg.VolumeLookback)
		if avg > 0 {
			checks = append(checks, Check{
				Name:    CheckInstitutional,
				Aligned: history[idx].Volume >= cfg.VolumeMultiple*avg,
			})
		}
	}

	if cfg.OpeningRangeMinutes > 0 {
		if high, low, ok := market.OpeningRange(history, cfg.OpeningRangeMinutes); ok {
			aligned := price > high
			if dir == market.Bear {
				aligned = price < low
			}
			checks = append(checks, Check{Name: CheckOpeningRange, Aligned: aligned})
		}
	}
	return checks
}

func indexAt(bars []market.Bar, at time.Time) int {
	for i := len(bars) - 1; i >= 0; i-- {
		if bars[i].Start.Equal(at) {
			return i
		}
		if bars[i].Start.Before(at) {
			break
		}
	}
	return -1
}
