package confluence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sniper-trading-bot/internal/market"
)

// ErrNoData is returned by sources that have nothing for the symbol
var ErrNoData = errors.New("no enrichment data")

// SignalContext is what enrichers see about the signal being graded
type SignalContext struct {
	Symbol    string
	Direction market.Direction
	Bar       market.Bar
	Entry     float64
	Stop      float64
	Target1   float64
}

// Enricher returns one bounded multiplier for a signal
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, sc SignalContext) (Multiplier, error)
}

// GEXData is the gamma exposure summary handed over by the options analytics job
type GEXData struct {
	NegativeZone bool     `json:"neg_gex_zone"`
	GammaPin     *float64 `json:"gamma_pin,omitempty"`
	GammaFlip    *float64 `json:"gamma_flip,omitempty"`
}

// UOAData holds the strongest unusual volume/OI ratio seen on each side
type UOAData struct {
	CallScore float64 `json:"call_score"`
	PutScore  float64 `json:"put_score"`
}

// Analytics is the per-symbol bundle published by external analytics jobs
type Analytics struct {
	IVRank *float64 `json:"iv_rank,omitempty"`
	GEX    *GEXData `json:"gex,omitempty"`
	UOA    *UOAData `json:"uoa,omitempty"`
}

// AnalyticsSource loads the latest analytics bundle for a symbol
type AnalyticsSource interface {
	Analytics(ctx context.Context, symbol string) (Analytics, error)
}

// TradeStats reports closed-trade history for a symbol
type TradeStats interface {
	WinStats(ctx context.Context, symbol string) (wins, total int, err error)
}

// Neutral is the multiplier used when a signal is missing or failed
func Neutral(source string) Multiplier {
	return Multiplier{Source: source, Value: 1.0, Label: "neutral"}
}

// IVRankMultiplier maps IV rank (0-100) to a multiplier
func IVRankMultiplier(ivr float64) (float64, string) {
	switch {
	case ivr < 20:
		return 1.15, fmt.Sprintf("low(%.0f)", ivr)
	case ivr < 40:
		return 1.08, fmt.Sprintf("below-avg(%.0f)", ivr)
	case ivr < 60:
		return 1.00, fmt.Sprintf("neutral(%.0f)", ivr)
	case ivr < 80:
		return 0.90, fmt.Sprintf("high(%.0f)", ivr)
	default:
		return 0.75, fmt.Sprintf("extreme(%.0f)", ivr)
	}
}

// GEXMultiplier maps the gamma regime and pin location to a multiplier
func GEXMultiplier(gex GEXData, dir market.Direction, entry, stop, target1 float64) (float64, string) {
	m := 0.97
	label := "pos-gex"
	if gex.NegativeZone {
		m = 1.08
		label = "neg-gex"
	}

	if gex.GammaPin != nil {
		pin := *gex.GammaPin
		switch dir {
		case market.Bull:
			if pin > entry && pin <= target1*1.02 {
				m *= 1.05
				label += "+pin-target"
			} else if pin > stop && pin < entry {
				m *= 0.92
				label += "+pin-headwind"
			}
		case market.Bear:
			if pin < entry && pin >= target1*0.98 {
				m *= 1.05
				label += "+pin-target"
			} else if pin < stop && pin > entry {
				m *= 0.92
				label += "+pin-headwind"
			}
		}
	}
	return Clamp(m, 0.70, 1.30), label
}

// UOA thresholds on volume/open-interest
const (
	UOAThreshold = 0.5
	UOAStrong    = 1.0
	UOAExtreme   = 2.0
)

// UOAMultiplier maps unusual options activity on each side to a multiplier
func UOAMultiplier(uoa UOAData, dir market.Direction) (float64, string) {
	aligned, opposing := uoa.CallScore, uoa.PutScore
	if dir == market.Bear {
		aligned, opposing = uoa.PutScore, uoa.CallScore
	}
	hasAligned := aligned >= UOAThreshold
	hasOpposing := opposing >= UOAThreshold

	switch {
	case hasAligned && !hasOpposing:
		switch {
		case aligned >= UOAExtreme:
			return 1.20, fmt.Sprintf("extreme-aligned(%.1fx)", aligned)
		case aligned >= UOAStrong:
			return 1.15, fmt.Sprintf("strong-aligned(%.1fx)", aligned)
		default:
			return 1.10, fmt.Sprintf("aligned(%.1fx)", aligned)
		}
	case hasOpposing && !hasAligned:
		return 0.85, fmt.Sprintf("opposing(%.1fx)", opposing)
	case hasAligned && hasOpposing:
		if aligned >= opposing {
			return 1.05, "mixed-aligned"
		}
		return 0.92, "mixed-opposing"
	default:
		return 1.00, "none"
	}
}

// MinTradesForWinRate is the history needed before win rate moves confidence
const MinTradesForWinRate = 5

// WinRateMultiplier maps a symbol's closed-trade win rate to a multiplier
func WinRateMultiplier(wins, total int) (float64, string) {
	if total < MinTradesForWinRate {
		return 1.0, "insufficient-history"
	}
	rate := float64(wins) / float64(total)
	label := fmt.Sprintf("win-rate(%.0f%%)", rate*100)
	switch {
	case rate >= 0.75:
		return 1.10, label
	case rate >= 0.65:
		return 1.05, label
	case rate <= 0.45:
		return 0.90, label
	case rate <= 0.55:
		return 0.95, label
	default:
		return 1.0, label
	}
}

// RegimeMultiplier turns the adaptive gap threshold's volatility regime into a multiplier
func RegimeMultiplier(th market.GapThreshold) Multiplier {
	adj := th.ConfidenceAdj
	if adj <= 0 {
		adj = 1.0
	}
	return Multiplier{Source: "volatility", Value: adj, Label: th.Regime}
}

// AnalyticsEnricher reads one field of the analytics bundle
type AnalyticsEnricher struct {
	kind   string // "ivr", "gex" or "uoa"
	source AnalyticsSource
}

// NewIVRankEnricher maps IV rank from source
func NewIVRankEnricher(source AnalyticsSource) *AnalyticsEnricher {
	return &AnalyticsEnricher{kind: "ivr", source: source}
}

// NewGEXEnricher maps gamma exposure from source
func NewGEXEnricher(source AnalyticsSource) *AnalyticsEnricher {
	return &AnalyticsEnricher{kind: "gex", source: source}
}

// NewUOAEnricher maps unusual options activity from source
func NewUOAEnricher(source AnalyticsSource) *AnalyticsEnricher {
	return &AnalyticsEnricher{kind: "uoa", source: source}
}

func (e *AnalyticsEnricher) Name() string { return e.kind }

func (e *AnalyticsEnricher) Enrich(ctx context.Context, sc SignalContext) (Multiplier, error) {
	a, err := e.source.Analytics(ctx, sc.Symbol)
	if err != nil {
		return Multiplier{}, err
	}

	var v float64
	var label string
	switch e.kind {
	case "ivr":
		if a.IVRank == nil {
			return Multiplier{}, ErrNoData
		}
		v, label = IVRankMultiplier(*a.IVRank)
	case "gex":
		if a.GEX == nil {
			return Multiplier{}, ErrNoData
		}
		v, label = GEXMultiplier(*a.GEX, sc.Direction, sc.Entry, sc.Stop, sc.Target1)
	case "uoa":
		if a.UOA == nil {
			return Multiplier{}, ErrNoData
		}
		v, label = UOAMultiplier(*a.UOA, sc.Direction)
	default:
		return Multiplier{}, fmt.Errorf("unknown analytics kind %q", e.kind)
	}
	return Multiplier{Source: e.kind, Value: v, Label: label}, nil
}

// WinRateEnricher scales confidence by the symbol's own track record
type WinRateEnricher struct {
	stats TradeStats
}

// NewWinRateEnricher creates a win-rate enricher
func NewWinRateEnricher(stats TradeStats) *WinRateEnricher {
	return &WinRateEnricher{stats: stats}
}

func (e *WinRateEnricher) Name() string { return "win_rate" }

func (e *WinRateEnricher) Enrich(ctx context.Context, sc SignalContext) (Multiplier, error) {
	wins, total, err := e.stats.WinStats(ctx, sc.Symbol)
	if err != nil {
		return Multiplier{}, err
	}
	v, label := WinRateMultiplier(wins, total)
	return Multiplier{Source: "win_rate", Value: v, Label: label}, nil
}

// Enrich calls every enricher concurrently with a per-call timeout. Failures and
// out-of-range values become neutral multipliers; results keep enricher order.
func Enrich(ctx context.Context, enrichers []Enricher, sc SignalContext, timeout time.Duration, logger zerolog.Logger) []Multiplier {
	out := make([]Multiplier, len(enrichers))
	var wg sync.WaitGroup
	for i, e := range enrichers {
		wg.Add(1)
		go func(i int, e Enricher) {
			defer wg.Done()
			callCtx := ctx
			if timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			m, err := e.Enrich(callCtx, sc)
			if err != nil || m.Value <= 0 {
				if err != nil && !errors.Is(err, ErrNoData) {
					logger.Debug().Err(err).Str("enricher", e.Name()).Str("symbol", sc.Symbol).Msg("Enrichment failed, using neutral")
				}
				out[i] = Neutral(e.Name())
				return
			}
			m.Value = Clamp(m.Value, 0.5, 1.5)
			out[i] = m
		}(i, e)
	}
	wg.Wait()
	return out
}
