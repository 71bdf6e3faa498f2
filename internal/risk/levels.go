package risk

import (
	"fmt"
	"math"

	"sniper-trading-bot/internal/confirmation"
	"sniper-trading-bot/internal/market"
	"sniper-trading-bot/internal/patterns"
)

// Stop modes
const (
	StopModeGap = "gap"
	StopModeATR = "atr"
)

// Levels are the protective stop and two profit targets of a signal
type Levels struct {
	Stop    float64 `json:"stop"`
	Target1 float64 `json:"target1"`
	Target2 float64 `json:"target2"`
	Mode    string  `json:"mode"`
}

// LevelsConfig configures level derivation
type LevelsConfig struct {
	Mode      string
	GapBuffer float64 // fraction of the gap height beyond the far boundary
}

var atrStopMultiple = map[confirmation.Tier]float64{
	confirmation.TierAPlus:  1.2,
	confirmation.TierA:      1.5,
	confirmation.TierAMinus: 1.8,
}

// ComputeLevels places the stop beyond the gap (or an ATR multiple away) and
// the targets at fixed multiples of the resulting risk.
func ComputeLevels(cfg LevelsConfig, dir market.Direction, entry float64, gap patterns.Gap, grade confirmation.Tier, atr float64) (Levels, error) {
	if !dir.Valid() {
		return Levels{}, fmt.Errorf("levels: invalid direction %q", dir)
	}
	sign := dir.Sign()

	var lv Levels
	r1, r2 := 1.5, 2.5
	if mult, ok := atrStopMultiple[grade]; cfg.Mode == StopModeATR && ok && atr > 0 {
		lv.Mode = StopModeATR
		lv.Stop = entry - sign*atr*mult
		r1, r2 = 2.0, 3.5
	} else {
		buffer := cfg.GapBuffer
		if buffer <= 0 {
			buffer = 0.20
		}
		lv.Mode = StopModeGap
		if dir == market.Bull {
			lv.Stop = gap.Low - buffer*gap.Size()
		} else {
			lv.Stop = gap.High + buffer*gap.Size()
		}
	}

	risk := (entry - lv.Stop) * sign
	if risk <= 0 || math.IsNaN(risk) {
		return Levels{}, fmt.Errorf("levels entry=%.4f stop=%.4f: %w", entry, lv.Stop, ErrNonPositiveRisk)
	}
	lv.Stop = round4(lv.Stop)
	lv.Target1 = round4(entry + sign*risk*r1)
	lv.Target2 = round4(entry + sign*risk*r2)
	return lv, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
