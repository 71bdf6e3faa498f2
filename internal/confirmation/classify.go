// Package confirmation tracks armed setups until a qualifying candle confirms
// them or they run out of bars.
package confirmation

import (
	"sniper-trading-bot/internal/market"
)

// Tier grades a confirmation candle
type Tier string

const (
	TierNone   Tier = ""
	TierAPlus  Tier = "A+"
	TierA      Tier = "A"
	TierAMinus Tier = "A-"
	TierReject Tier = "reject"
)

// geometry is a candle seen from the confirming direction: "with" means the
// close is on the confirming side of the open, the rejection wick is the one
// pointing away from the confirming direction (lower wick for bull).
type geometry struct {
	rng           float64
	body          float64
	closesWith    bool
	rejectionWick float64
}

func measure(bar market.Bar, dir market.Direction) geometry {
	g := geometry{rng: bar.Range(), body: bar.Body()}
	if dir == market.Bull {
		g.closesWith = bar.Bullish()
		g.rejectionWick = bar.LowerWick()
	} else {
		g.closesWith = bar.Bearish()
		g.rejectionWick = bar.UpperWick()
	}
	return g
}

// rule is one row of the decision table; zero thresholds are not checked
type rule struct {
	tier           Tier
	closesWith     bool
	minBodyOfRange float64
	minWickOfBody  float64
	minWickOfRange float64
}

// Evaluated top to bottom, first match wins.
var rules = []rule{
	{tier: TierAPlus, closesWith: true, minBodyOfRange: 0.80},
	{tier: TierA, closesWith: true, minWickOfBody: 0.50},
	{tier: TierAMinus, closesWith: false, minWickOfRange: 0.60},
}

func (r rule) matches(g geometry) bool {
	if g.closesWith != r.closesWith {
		return false
	}
	if r.minBodyOfRange > 0 && g.body < r.minBodyOfRange*g.rng {
		return false
	}
	if r.minWickOfBody > 0 && (g.body <= 0 || g.rejectionWick < r.minWickOfBody*g.body) {
		return false
	}
	if r.minWickOfRange > 0 && g.rejectionWick < r.minWickOfRange*g.rng {
		return false
	}
	return true
}

// Classify grades a candle for the given direction. Zero-range bars never confirm.
func Classify(bar market.Bar, dir market.Direction) Tier {
	g := measure(bar, dir)
	if g.rng <= 0 {
		return TierNone
	}
	for _, r := range rules {
		if r.matches(g) {
			return r.tier
		}
	}
	return TierNone
}
