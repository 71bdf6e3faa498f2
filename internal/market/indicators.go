package market

import (
	"math"
	"time"
)

// GapThreshold is the adaptive minimum gap fraction for the current volatility regime
type GapThreshold struct {
	MinGapFraction float64
	ConfidenceAdj  float64
	ATRPercent     float64
	Regime         string
}

// ATR returns the simple average true range over the last period bars.
// Zero when there are not enough bars.
func ATR(bars []Bar, period int) float64 {
	if period <= 0 || len(bars) < period+1 {
		return 0
	}
	sum := 0.0
	for i := len(bars) - period; i < len(bars); i++ {
		sum += trueRange(bars[i], bars[i-1].Close)
	}
	return sum / float64(period)
}

func trueRange(bar Bar, prevClose float64) float64 {
	tr := bar.High - bar.Low
	tr = math.Max(tr, math.Abs(bar.High-prevClose))
	return math.Max(tr, math.Abs(bar.Low-prevClose))
}

// AdaptiveGapThreshold maps the 14-period ATR% of the last close to a gap threshold.
func AdaptiveGapThreshold(bars []Bar) GapThreshold {
	atr := ATR(bars, 14)
	if atr == 0 || len(bars) == 0 || bars[len(bars)-1].Close <= 0 {
		return GapThreshold{MinGapFraction: 0.002, ConfidenceAdj: 1.0, Regime: "unknown"}
	}
	pct := atr / bars[len(bars)-1].Close * 100
	switch {
	case pct > 2.0:
		return GapThreshold{MinGapFraction: 0.003, ConfidenceAdj: 0.95, ATRPercent: pct, Regime: "high"}
	case pct > 1.0:
		return GapThreshold{MinGapFraction: 0.002, ConfidenceAdj: 1.0, ATRPercent: pct, Regime: "normal"}
	default:
		return GapThreshold{MinGapFraction: 0.0015, ConfidenceAdj: 1.05, ATRPercent: pct, Regime: "low"}
	}
}

// VWAP is the volume weighted typical price of the bars
func VWAP(bars []Bar) float64 {
	var pv, vol float64
	for _, b := range bars {
		tp := (b.High + b.Low + b.Close) / 3
		pv += tp * b.Volume
		vol += b.Volume
	}
	if vol == 0 {
		return 0
	}
	return pv / vol
}

// AverageVolume averages the volume of the period bars preceding the last one
func AverageVolume(bars []Bar, period int) float64 {
	if len(bars) < 2 || period <= 0 {
		return 0
	}
	end := len(bars) - 1
	start := end - period
	if start < 0 {
		start = 0
	}
	sum := 0.0
	for _, b := range bars[start:end] {
		sum += b.Volume
	}
	return sum / float64(end-start)
}

var eastern = loadEastern()

func loadEastern() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("EST", -5*3600)
	}
	return loc
}

// Eastern returns the exchange time zone
func Eastern() *time.Location { return eastern }

// SessionDay returns the exchange-local calendar date of t at midnight
func SessionDay(t time.Time) time.Time {
	et := t.In(eastern)
	return time.Date(et.Year(), et.Month(), et.Day(), 0, 0, 0, 0, eastern)
}

// SessionBars returns the trailing bars that share the last bar's session day
func SessionBars(bars []Bar) []Bar {
	if len(bars) == 0 {
		return nil
	}
	day := SessionDay(bars[len(bars)-1].Start)
	i := len(bars)
	for i > 0 && SessionDay(bars[i-1].Start).Equal(day) {
		i--
	}
	return bars[i:]
}

// PreviousDayLevels returns the high and low of the session before the last bar's session
func PreviousDayLevels(bars []Bar) (high, low float64, ok bool) {
	session := SessionBars(bars)
	prior := bars[:len(bars)-len(session)]
	if len(prior) == 0 {
		return 0, 0, false
	}
	prev := SessionBars(prior)
	high, low = prev[0].High, prev[0].Low
	for _, b := range prev[1:] {
		high = math.Max(high, b.High)
		low = math.Min(low, b.Low)
	}
	return high, low, true
}

// OpeningRange returns the high/low of the first minutes of the last bar's session
func OpeningRange(bars []Bar, minutes int) (high, low float64, ok bool) {
	session := SessionBars(bars)
	if len(session) == 0 {
		return 0, 0, false
	}
	day := SessionDay(session[0].Start)
	open := day.Add(9*time.Hour + 30*time.Minute)
	end := open.Add(time.Duration(minutes) * time.Minute)
	for _, b := range session {
		if b.Start.Before(open) || !b.Start.Before(end) {
			continue
		}
		if !ok {
			high, low, ok = b.High, b.Low, true
			continue
		}
		high = math.Max(high, b.High)
		low = math.Min(low, b.Low)
	}
	return high, low, ok
}
