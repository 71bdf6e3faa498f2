// Package feed turns the live trade stream into one-minute bars.
package feed

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sniper-trading-bot/internal/events"
	"sniper-trading-bot/internal/market"
	"sniper-trading-bot/internal/metrics"
)

// IngestResult reports what happened to a tick
type IngestResult int

const (
	TickMerged IngestResult = iota
	TickOpened              // first tick for the symbol opened a bar
	TickRolledOver          // previous bar sealed, new bar opened
	TickRejectedInvalid
	TickRejectedLate
	TickRejectedSpike
)

func (r IngestResult) String() string {
	switch r {
	case TickMerged:
		return "merged"
	case TickOpened:
		return "opened"
	case TickRolledOver:
		return "rolled_over"
	case TickRejectedInvalid:
		return "invalid"
	case TickRejectedLate:
		return "late"
	case TickRejectedSpike:
		return "spike"
	default:
		return "unknown"
	}
}

// Accepted reports whether the tick was merged into a bar
func (r IngestResult) Accepted() bool {
	return r == TickMerged || r == TickOpened || r == TickRolledOver
}

// BarStore persists bars. Implementations must be safe for concurrent use.
type BarStore interface {
	SaveBars(ctx context.Context, bars []market.Bar) error
	UpsertOpenBar(ctx context.Context, bar market.Bar) error
}

// AggregatorConfig configures bar building
type AggregatorConfig struct {
	BarInterval    time.Duration
	FlushInterval  time.Duration
	SpikeThreshold float64
	ReanchorTicks  int // consistent rejected ticks that move the spike reference; 0 disables
	MaxPrice       float64
	HistoryBars    int
}

// DefaultAggregatorConfig returns one-minute bars with a 10% spike gate
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		BarInterval:    time.Minute,
		FlushInterval:  10 * time.Second,
		SpikeThreshold: 0.10,
		ReanchorTicks:  5,
		MaxPrice:       100000,
		HistoryBars:    390,
	}
}

type symbolState struct {
	mu      sync.Mutex
	open    *market.Bar
	pending []market.Bar // sealed, not yet persisted
	history []market.Bar // sealed, newest last

	spikeRef float64 // price of the current run of spike rejections
	spikeRun int
}

// Aggregator merges ticks into per-symbol bars
type Aggregator struct {
	config AggregatorConfig
	store  BarStore
	bus    events.Publisher
	logger zerolog.Logger

	mu      sync.RWMutex
	symbols map[string]*symbolState

	sealed chan market.Bar
}

// NewAggregator creates an aggregator. store may be nil for in-memory use.
func NewAggregator(cfg AggregatorConfig, store BarStore, bus events.Publisher, logger zerolog.Logger) *Aggregator {
	if cfg.BarInterval <= 0 {
		cfg.BarInterval = time.Minute
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	if cfg.MaxPrice <= 0 {
		cfg.MaxPrice = 100000
	}
	if cfg.HistoryBars <= 0 {
		cfg.HistoryBars = 390
	}
	if bus == nil {
		bus = events.Discard
	}
	return &Aggregator{
		config:  cfg,
		store:   store,
		bus:     bus,
		logger:  logger.With().Str("component", "Aggregator").Logger(),
		symbols: make(map[string]*symbolState),
		sealed:  make(chan market.Bar, 1024),
	}
}

// Sealed delivers bars as they close. Slow readers miss bars rather than block ingest.
func (a *Aggregator) Sealed() <-chan market.Bar {
	return a.sealed
}

func (a *Aggregator) state(symbol string) *symbolState {
	a.mu.RLock()
	st, ok := a.symbols[symbol]
	a.mu.RUnlock()
	if ok {
		return st
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok = a.symbols[symbol]; !ok {
		st = &symbolState{}
		a.symbols[symbol] = st
	}
	return st
}

func (a *Aggregator) bucket(ts int64) time.Time {
	return time.UnixMilli(ts).UTC().Truncate(a.config.BarInterval)
}

// IngestTick merges one trade into the bar for its bucket
func (a *Aggregator) IngestTick(symbol string, price, size float64, timestampMs int64) IngestResult {
	if symbol == "" || price <= 0 || price > a.config.MaxPrice || size < 0 || timestampMs <= 0 {
		a.reject(symbol, price, TickRejectedInvalid)
		return TickRejectedInvalid
	}

	start := a.bucket(timestampMs)
	st := a.state(symbol)

	st.mu.Lock()
	result, sealed := a.merge(st, symbol, start, price, size)
	st.mu.Unlock()

	if !result.Accepted() {
		a.reject(symbol, price, result)
		return result
	}

	metrics.TicksIngested.Inc()
	if sealed != nil {
		metrics.BarsSealed.Inc()
		events.PublishBarSealed(a.bus, sealed.Symbol, sealed.Start, sealed.Close, sealed.Volume)
		select {
		case a.sealed <- *sealed:
		default:
			a.logger.Warn().Str("symbol", symbol).Msg("Sealed bar channel full, dropping notification")
		}
	}
	return result
}

// merge runs under st.mu
func (a *Aggregator) merge(st *symbolState, symbol string, start time.Time, price, size float64) (IngestResult, *market.Bar) {
	if st.open == nil {
		if n := len(st.history); n > 0 && !start.After(st.history[n-1].Start) {
			return TickRejectedLate, nil
		}
		bar := market.NewBar(symbol, start, price, size)
		st.open = &bar
		return TickOpened, nil
	}

	if start.Before(st.open.Start) {
		return TickRejectedLate, nil
	}

	ref := st.open.Close
	if a.spikeGated(st.open, start) && ref > 0 && abs(price-ref)/ref > a.config.SpikeThreshold {
		if !a.reanchor(st, price) {
			return TickRejectedSpike, nil
		}
		a.logger.Warn().
			Str("symbol", symbol).
			Float64("from", ref).
			Float64("to", price).
			Msg("Spike reference moved after consistent prints")
		if start.Equal(st.open.Start) {
			st.spikeRef, st.spikeRun = 0, 0
			bar := market.NewBar(symbol, start, price, size)
			st.open = &bar
			return TickOpened, nil
		}
	}
	st.spikeRef, st.spikeRun = 0, 0

	if start.Equal(st.open.Start) {
		st.open.Merge(price, size)
		return TickMerged, nil
	}

	sealed := *st.open
	st.pending = append(st.pending, sealed)
	st.history = append(st.history, sealed)
	if over := len(st.history) - a.config.HistoryBars; over > 0 {
		st.history = append(st.history[:0:0], st.history[over:]...)
	}
	bar := market.NewBar(symbol, start, price, size)
	st.open = &bar
	return TickRolledOver, &sealed
}

// spikeGated reports whether a tick in bucket start is checked against the open
// bar. Only the same bucket and the next one within the same session are gated,
// so gaps across halts and overnight roll the bar over.
func (a *Aggregator) spikeGated(open *market.Bar, start time.Time) bool {
	if start.Sub(open.Start) > a.config.BarInterval {
		return false
	}
	return market.SessionDay(start).Equal(market.SessionDay(open.Start))
}

// reanchor tracks consecutive spike rejections that agree with each other and
// reports true once the run reaches ReanchorTicks. Caller holds st.mu.
func (a *Aggregator) reanchor(st *symbolState, price float64) bool {
	if st.spikeRun > 0 && abs(price-st.spikeRef)/st.spikeRef <= a.config.SpikeThreshold {
		st.spikeRun++
	} else {
		st.spikeRef, st.spikeRun = price, 1
	}
	return a.config.ReanchorTicks > 0 && st.spikeRun >= a.config.ReanchorTicks
}

func (a *Aggregator) reject(symbol string, price float64, result IngestResult) {
	metrics.TicksRejected.WithLabelValues(result.String()).Inc()
	a.logger.Debug().
		Str("symbol", symbol).
		Float64("price", price).
		Str("reason", result.String()).
		Msg("Tick rejected")
	events.PublishTickRejected(a.bus, symbol, result.String(), price)
}

// Flush persists sealed bars and upserts every open bar.
// Store calls happen outside the per-symbol locks.
func (a *Aggregator) Flush(ctx context.Context) error {
	a.mu.RLock()
	states := make(map[string]*symbolState, len(a.symbols))
	for sym, st := range a.symbols {
		states[sym] = st
	}
	a.mu.RUnlock()

	var sealed []market.Bar
	var open []market.Bar
	drained := make(map[string][]market.Bar)
	for sym, st := range states {
		st.mu.Lock()
		if len(st.pending) > 0 {
			drained[sym] = st.pending
			sealed = append(sealed, st.pending...)
			st.pending = nil
		}
		if st.open != nil {
			open = append(open, *st.open)
		}
		st.mu.Unlock()
	}

	if a.store == nil {
		return nil
	}

	var firstErr error
	if len(sealed) > 0 {
		sort.Slice(sealed, func(i, j int) bool {
			if sealed[i].Symbol != sealed[j].Symbol {
				return sealed[i].Symbol < sealed[j].Symbol
			}
			return sealed[i].Start.Before(sealed[j].Start)
		})
		if err := a.store.SaveBars(ctx, sealed); err != nil {
			a.logger.Error().Err(err).Int("bars", len(sealed)).Msg("Failed to persist sealed bars, requeueing")
			a.requeue(states, drained)
			firstErr = err
		} else {
			metrics.BarsPersisted.Add(float64(len(sealed)))
		}
	}

	for _, bar := range open {
		if err := a.store.UpsertOpenBar(ctx, bar); err != nil {
			a.logger.Warn().Err(err).Str("symbol", bar.Symbol).Msg("Failed to upsert open bar")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (a *Aggregator) requeue(states map[string]*symbolState, drained map[string][]market.Bar) {
	for sym, bars := range drained {
		st := states[sym]
		st.mu.Lock()
		st.pending = append(append([]market.Bar{}, bars...), st.pending...)
		st.mu.Unlock()
	}
}

// Run flushes on the configured interval until ctx is done, then flushes once more
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = a.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			_ = a.Flush(ctx)
		}
	}
}

// OpenBar returns a copy of the symbol's open bar
func (a *Aggregator) OpenBar(symbol string) (market.Bar, bool) {
	a.mu.RLock()
	st, ok := a.symbols[symbol]
	a.mu.RUnlock()
	if !ok {
		return market.Bar{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.open == nil {
		return market.Bar{}, false
	}
	return *st.open, true
}

// LastPrice returns the last accepted trade price
func (a *Aggregator) LastPrice(symbol string) (float64, bool) {
	bar, ok := a.OpenBar(symbol)
	if !ok {
		return 0, false
	}
	return bar.Close, true
}

// Bars returns a copy of the sealed bar history, oldest first
func (a *Aggregator) Bars(symbol string) []market.Bar {
	a.mu.RLock()
	st, ok := a.symbols[symbol]
	a.mu.RUnlock()
	if !ok {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	out := make([]market.Bar, len(st.history))
	copy(out, st.history)
	return out
}

// Seed loads historical bars for a symbol ahead of live ticks
func (a *Aggregator) Seed(symbol string, bars []market.Bar) {
	st := a.state(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.open != nil || len(st.history) > 0 {
		return
	}
	if len(bars) > a.config.HistoryBars {
		bars = bars[len(bars)-a.config.HistoryBars:]
	}
	st.history = append([]market.Bar{}, bars...)
}

// Symbols lists every symbol with state
func (a *Aggregator) Symbols() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.symbols))
	for sym := range a.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
