package confluence

import (
	"fmt"
	"math"

	"sniper-trading-bot/internal/confirmation"
)

// Check is one independent boolean alignment signal
type Check struct {
	Name    string `json:"name"`
	Aligned bool   `json:"aligned"`
}

// Multiplier is one independent multiplicative signal
type Multiplier struct {
	Source string  `json:"source"`
	Value  float64 `json:"value"`
	Label  string  `json:"label"`
}

// Input is everything the composer needs; it reads nothing else
type Input struct {
	Tier        confirmation.Tier
	Checks      []Check
	Multipliers []Multiplier
	BarsWaited  int
}

// Result is the composed grade and confidence
type Result struct {
	BaseTier   confirmation.Tier `json:"base_tier"`
	Tier       confirmation.Tier `json:"tier"`
	Rejected   bool              `json:"rejected"`
	BaseScore  float64           `json:"base_score"`
	Multiplier float64           `json:"multiplier"` // clamped product
	Decay      float64           `json:"decay"`
	Confidence float64           `json:"confidence"`
	Aligned    int               `json:"aligned"`
	Checks     int               `json:"checks"`
	Labels     []string          `json:"labels"`
}

// ComposerConfig bounds the composer
type ComposerConfig struct {
	BaseScores      map[confirmation.Tier]float64
	MinMultiplier   float64
	MaxMultiplier   float64
	ConfidenceFloor float64
}

// DefaultComposerConfig returns A+ 0.85, A 0.70, A- 0.55 clamped to [0.70, 1.30]
func DefaultComposerConfig() ComposerConfig {
	return ComposerConfig{
		BaseScores: map[confirmation.Tier]float64{
			confirmation.TierAPlus:  0.85,
			confirmation.TierA:      0.70,
			confirmation.TierAMinus: 0.55,
		},
		MinMultiplier:   0.70,
		MaxMultiplier:   1.30,
		ConfidenceFloor: 0.50,
	}
}

// Composer combines a confirmation tier with alignment signals. It is pure.
type Composer struct {
	config ComposerConfig
}

// NewComposer creates a composer
func NewComposer(cfg ComposerConfig) *Composer {
	def := DefaultComposerConfig()
	if len(cfg.BaseScores) == 0 {
		cfg.BaseScores = def.BaseScores
	}
	if cfg.MinMultiplier <= 0 || cfg.MaxMultiplier < cfg.MinMultiplier {
		cfg.MinMultiplier, cfg.MaxMultiplier = def.MinMultiplier, def.MaxMultiplier
	}
	if cfg.ConfidenceFloor <= 0 {
		cfg.ConfidenceFloor = def.ConfidenceFloor
	}
	return &Composer{config: cfg}
}

var ladder = []confirmation.Tier{
	confirmation.TierReject,
	confirmation.TierAMinus,
	confirmation.TierA,
	confirmation.TierAPlus,
}

func step(tier confirmation.Tier, delta int) confirmation.Tier {
	for i, t := range ladder {
		if t != tier {
			continue
		}
		j := i + delta
		if j < 0 {
			j = 0
		}
		if j >= len(ladder) {
			j = len(ladder) - 1
		}
		return ladder[j]
	}
	return tier
}

// AdjustTier promotes when every check aligns and demotes when at most one does
func AdjustTier(tier confirmation.Tier, aligned, total int) confirmation.Tier {
	switch {
	case total == 0:
		return tier
	case aligned == total:
		return step(tier, 1)
	case aligned <= 1:
		return step(tier, -1)
	default:
		return tier
	}
}

// Decay is the fractional confidence penalty for waiting n bars
func Decay(barsWaited int) float64 {
	switch {
	case barsWaited <= 5:
		return 0
	case barsWaited <= 10:
		return float64(barsWaited-5) * 0.02
	case barsWaited <= 15:
		return 0.10 + float64(barsWaited-10)*0.03
	default:
		return 0.25 + float64(barsWaited-15)*0.05
	}
}

// Clamp bounds v to [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Grade composes the final tier and confidence
func (c *Composer) Grade(in Input) (Result, error) {
	if _, ok := c.config.BaseScores[in.Tier]; !ok {
		return Result{}, fmt.Errorf("no base score for tier %q", in.Tier)
	}

	res := Result{BaseTier: in.Tier, Checks: len(in.Checks)}
	for _, ch := range in.Checks {
		if ch.Aligned {
			res.Aligned++
			res.Labels = append(res.Labels, ch.Name)
		}
	}

	res.Tier = AdjustTier(in.Tier, res.Aligned, res.Checks)
	if res.Tier == confirmation.TierReject {
		res.Rejected = true
		return res, nil
	}
	res.BaseScore = c.config.BaseScores[res.Tier]

	product := 1.0
	for _, m := range in.Multipliers {
		if m.Value <= 0 || math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
			continue
		}
		product *= m.Value
		if m.Label != "" {
			res.Labels = append(res.Labels, m.Source+":"+m.Label)
		}
	}
	res.Multiplier = Clamp(product, c.config.MinMultiplier, c.config.MaxMultiplier)

	undecayed := math.Min(res.BaseScore*res.Multiplier, 1.0)
	res.Decay = Decay(in.BarsWaited)
	res.Confidence = undecayed * (1 - res.Decay)
	if res.Decay > 0 {
		// delay alone never pushes below the floor
		res.Confidence = math.Max(res.Confidence, math.Min(c.config.ConfidenceFloor, undecayed))
	}
	res.Confidence = round4(res.Confidence)
	return res, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
