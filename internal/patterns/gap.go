package patterns

import (
	"sniper-trading-bot/internal/market"
)

// Gap is a three-bar fair value gap; High > Low always holds
type Gap struct {
	Direction    market.Direction
	Low          float64
	High         float64
	Mid          float64
	SizeFraction float64
	Index        int // index of the first bar of the triple
}

// Size is the zone height in price
func (g Gap) Size() float64 {
	return g.High - g.Low
}

// Contains reports whether price sits inside the zone
func (g Gap) Contains(price float64) bool {
	return price >= g.Low && price <= g.High
}

// GapScanLookback is how many bars before the break the forward scan starts
const GapScanLookback = 5

// FindGapAfterBreak scans forward from slightly before breakIndex and returns
// the first triple (c0, c1, c2) whose gap in direction meets minGapFraction.
func FindGapAfterBreak(bars []market.Bar, breakIndex int, direction market.Direction, minGapFraction float64) *Gap {
	start := breakIndex - GapScanLookback
	if start < 0 {
		start = 0
	}

	for i := start; i+2 < len(bars); i++ {
		c0, c2 := bars[i], bars[i+2]

		switch direction {
		case market.Bull:
			if c0.High <= 0 {
				continue
			}
			size := c2.Low - c0.High
			if size <= 0 {
				continue
			}
			frac := size / c0.High
			if frac < minGapFraction {
				continue
			}
			return &Gap{
				Direction:    market.Bull,
				Low:          c0.High,
				High:         c2.Low,
				Mid:          (c0.High + c2.Low) / 2,
				SizeFraction: frac,
				Index:        i,
			}
		case market.Bear:
			if c0.Low <= 0 {
				continue
			}
			size := c0.Low - c2.High
			if size <= 0 {
				continue
			}
			frac := size / c0.Low
			if frac < minGapFraction {
				continue
			}
			return &Gap{
				Direction:    market.Bear,
				Low:          c2.High,
				High:         c0.Low,
				Mid:          (c2.High + c0.Low) / 2,
				SizeFraction: frac,
				Index:        i,
			}
		}
	}
	return nil
}

// Detection bundles a break, its gap and the threshold used to find it
type Detection struct {
	Break     StructureBreak
	Gap       Gap
	Threshold market.GapThreshold
}

// DetectorConfig configures Detect
type DetectorConfig struct {
	SwingLookback int
	FixedMinGap   float64 // when > 0 overrides the adaptive threshold
}

// Detect runs break detection, then the gap search with an adaptive threshold
func Detect(bars []market.Bar, cfg DetectorConfig) *Detection {
	brk := FindBreak(bars, cfg.SwingLookback)
	if brk == nil {
		return nil
	}

	threshold := market.AdaptiveGapThreshold(bars)
	if cfg.FixedMinGap > 0 {
		threshold.MinGapFraction = cfg.FixedMinGap
	}

	gap := FindGapAfterBreak(bars, brk.Index, brk.Direction, threshold.MinGapFraction)
	if gap == nil {
		return nil
	}
	return &Detection{Break: *brk, Gap: *gap, Threshold: threshold}
}
