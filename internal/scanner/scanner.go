// Package scanner runs the per-symbol signal pipeline on every newly sealed bar:
// confirmations are graded and opened, then fresh breaks are armed.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sniper-trading-bot/internal/confirmation"
	"sniper-trading-bot/internal/confluence"
	"sniper-trading-bot/internal/events"
	"sniper-trading-bot/internal/logging"
	"sniper-trading-bot/internal/market"
	"sniper-trading-bot/internal/metrics"
	"sniper-trading-bot/internal/patterns"
	"sniper-trading-bot/internal/positions"
	"sniper-trading-bot/internal/risk"
)

// BarSource exposes sealed bar history per symbol, oldest first
type BarSource interface {
	Symbols() []string
	Bars(symbol string) []market.Bar
}

// Opener turns graded signals into positions
type Opener interface {
	Open(ctx context.Context, sig positions.Signal) (positions.Position, error)
	HasOpen(symbol string) bool
}

// Scanner orchestrates detection, confirmation and grading across symbols
type Scanner struct {
	config    ScannerConfig
	bars      BarSource
	tracker   *confirmation.Tracker
	composer  *confluence.Composer
	enrichers []confluence.Enricher
	opener    Opener
	bus       events.Publisher
	logger    zerolog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	kick     chan struct{}
	wg       sync.WaitGroup

	mu         sync.RWMutex
	lastSeen   map[string]time.Time // start of the newest bar processed per symbol
	lastResult *ScanResult
	recent     []SignalResult
}

// NewScanner creates a new scanner instance
func NewScanner(
	config ScannerConfig,
	bars BarSource,
	tracker *confirmation.Tracker,
	composer *confluence.Composer,
	enrichers []confluence.Enricher,
	opener Opener,
	bus events.Publisher,
	logger zerolog.Logger,
) *Scanner {
	def := DefaultScannerConfig()
	if config.ScanInterval <= 0 {
		config.ScanInterval = def.ScanInterval
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = def.WorkerCount
	}
	if config.ATRPeriod <= 0 {
		config.ATRPeriod = def.ATRPeriod
	}
	if config.RecentSignals <= 0 {
		config.RecentSignals = def.RecentSignals
	}
	if bus == nil {
		bus = events.Discard
	}
	return &Scanner{
		config:    config,
		bars:      bars,
		tracker:   tracker,
		composer:  composer,
		enrichers: enrichers,
		opener:    opener,
		bus:       bus,
		logger:    logger.With().Str("component", "Scanner").Logger(),
		stopChan:  make(chan struct{}),
		kick:      make(chan struct{}, 1),
		lastSeen:  make(map[string]time.Time),
	}
}

// Start begins the background scan loop
func (sc *Scanner) Start(ctx context.Context) {
	if !sc.config.Enabled {
		sc.logger.Info().Msg("Scanner is disabled")
		return
	}

	sc.wg.Add(1)
	go sc.runScanLoop(ctx)
	sc.logger.Info().
		Dur("interval", sc.config.ScanInterval).
		Int("workers", sc.config.WorkerCount).
		Msg("Scanner started")
}

// Stop ends the scan loop and waits for the cycle in flight
func (sc *Scanner) Stop() {
	sc.stopOnce.Do(func() { close(sc.stopChan) })
	sc.wg.Wait()
}

// Kick requests a scan ahead of the next tick; extra kicks coalesce
func (sc *Scanner) Kick() {
	select {
	case sc.kick <- struct{}{}:
	default:
	}
}

func (sc *Scanner) runScanLoop(ctx context.Context) {
	defer sc.wg.Done()

	ticker := time.NewTicker(sc.config.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sc.Scan(ctx)
		case <-sc.kick:
			sc.Scan(ctx)
		case <-ctx.Done():
			sc.logger.Info().Msg("Scanner stopped")
			return
		case <-sc.stopChan:
			sc.logger.Info().Msg("Scanner stopped")
			return
		}
	}
}

type symbolResult struct {
	bars    int
	armed   int
	signals []SignalResult
}

// Scan executes a single scan cycle over every symbol with new sealed bars
func (sc *Scanner) Scan(ctx context.Context) *ScanResult {
	startTime := time.Now()
	symbols := sc.bars.Symbols()
	scanID := logging.GenerateTraceID()
	ctx = logging.NewContext(ctx, sc.logger.With().Str("scan_id", scanID).Logger())

	resultChan := make(chan symbolResult, len(symbols))
	symbolChan := make(chan string, len(symbols))
	var wg sync.WaitGroup

	for i := 0; i < sc.config.WorkerCount; i++ {
		wg.Add(1)
		go sc.worker(ctx, symbolChan, resultChan, &wg)
	}

	for _, symbol := range symbols {
		symbolChan <- symbol
	}
	close(symbolChan)

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	result := &ScanResult{
		ScanID:         scanID,
		StartTime:      startTime,
		SymbolsScanned: len(symbols),
	}
	for r := range resultChan {
		result.BarsProcessed += r.bars
		result.Armed += r.armed
		result.Signals = append(result.Signals, r.signals...)
	}
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)

	sc.mu.Lock()
	sc.lastResult = result
	sc.recent = append(sc.recent, result.Signals...)
	if over := len(sc.recent) - sc.config.RecentSignals; over > 0 {
		sc.recent = append([]SignalResult(nil), sc.recent[over:]...)
	}
	sc.mu.Unlock()

	if result.BarsProcessed > 0 {
		sc.logger.Debug().
			Int("symbols", result.SymbolsScanned).
			Int("bars", result.BarsProcessed).
			Int("armed", result.Armed).
			Int("signals", len(result.Signals)).
			Dur("duration", result.Duration).
			Msg("Scan completed")
	}
	return result
}

func (sc *Scanner) worker(
	ctx context.Context,
	symbolChan <-chan string,
	resultChan chan<- symbolResult,
	wg *sync.WaitGroup,
) {
	defer wg.Done()

	for symbol := range symbolChan {
		select {
		case <-ctx.Done():
			continue
		default:
			resultChan <- sc.scanSymbol(ctx, symbol)
		}
	}
}

// scanSymbol replays the symbol's unprocessed bars in order. A symbol seen for
// the first time only has its newest bar processed so seeded history never
// produces signals.
func (sc *Scanner) scanSymbol(ctx context.Context, symbol string) symbolResult {
	var res symbolResult
	all := sc.bars.Bars(symbol)
	if len(all) == 0 {
		return res
	}

	sc.mu.RLock()
	last, seen := sc.lastSeen[symbol]
	sc.mu.RUnlock()

	start := len(all) - 1
	if seen {
		start = len(all)
		for i, b := range all {
			if b.Start.After(last) {
				start = i
				break
			}
		}
	}

	for i := start; i < len(all); i++ {
		history := all[:i+1]
		bar := all[i]
		res.bars++

		for _, conf := range sc.tracker.OnBar(symbol, bar) {
			res.signals = append(res.signals, sc.grade(ctx, history, conf))
		}
		if sc.arm(ctx, symbol, history) {
			res.armed++
		}
	}

	sc.mu.Lock()
	sc.lastSeen[symbol] = all[len(all)-1].Start
	sc.mu.Unlock()
	return res
}

// arm looks for a break on the newest bar of history and arms its gap
func (sc *Scanner) arm(ctx context.Context, symbol string, history []market.Bar) bool {
	bar := history[len(history)-1]
	if !sc.config.Window.Contains(bar.Start) || sc.opener.HasOpen(symbol) {
		return false
	}

	det := patterns.Detect(history, sc.config.Detector)
	if det == nil || sc.tracker.IsArmed(symbol, det.Break.Direction) {
		return false
	}

	if _, err := sc.tracker.Arm(symbol, det.Gap, det.Break, bar.Start); err != nil {
		log := logging.SymbolContext(logging.FromContext(ctx), symbol)
		if errors.Is(err, confirmation.ErrArmedCapReached) {
			log.Warn().Msg("Armed setup cap reached, skipping break")
		} else {
			log.Debug().Err(err).Msg("Setup not armed")
		}
		return false
	}
	return true
}

// grade composes confidence for a confirmation and hands the signal to the opener
func (sc *Scanner) grade(ctx context.Context, history []market.Bar, conf confirmation.Confirmation) SignalResult {
	setup := conf.Setup
	dir := setup.Direction
	log := logging.SetupContext(logging.FromContext(ctx), setup.ID, setup.Symbol, string(dir))

	res := SignalResult{
		SetupID:   setup.ID,
		Symbol:    setup.Symbol,
		Direction: dir,
		Entry:     conf.Entry,
		At:        conf.Bar.Start,
	}

	if !sc.config.Window.Contains(conf.Bar.Start) {
		return sc.reject(log, res, OutcomeOutOfWindow, "outside entry window")
	}

	atr := market.ATR(history, sc.config.ATRPeriod)
	levels, err := risk.ComputeLevels(sc.config.Levels, dir, conf.Entry, setup.Gap, conf.Tier, atr)
	if err != nil {
		return sc.reject(log, res, OutcomeInvalidRisk, err.Error())
	}

	checks := confluence.AlignmentChecks(history, dir, conf.Entry, setup.Break.At, sc.config.Alignment)
	mults := confluence.Enrich(ctx, sc.enrichers, confluence.SignalContext{
		Symbol:    setup.Symbol,
		Direction: dir,
		Bar:       conf.Bar,
		Entry:     conf.Entry,
		Stop:      levels.Stop,
		Target1:   levels.Target1,
	}, sc.config.EnrichTimeout, sc.logger)
	mults = append(mults, confluence.RegimeMultiplier(market.AdaptiveGapThreshold(history)))

	result, err := sc.composer.Grade(confluence.Input{
		Tier:        conf.Tier,
		Checks:      checks,
		Multipliers: mults,
		BarsWaited:  setup.BarsWaited,
	})
	if err != nil {
		return sc.reject(log, res, OutcomeRejected, err.Error())
	}
	res.Grade = result
	if result.Rejected {
		metrics.Signals.WithLabelValues(string(confirmation.TierReject)).Inc()
		return sc.reject(log, res, OutcomeRejected, fmt.Sprintf("%d of %d checks aligned", result.Aligned, result.Checks))
	}
	metrics.Signals.WithLabelValues(string(result.Tier)).Inc()

	if result.Tier != conf.Tier {
		if levels, err = risk.ComputeLevels(sc.config.Levels, dir, conf.Entry, setup.Gap, result.Tier, atr); err != nil {
			return sc.reject(log, res, OutcomeInvalidRisk, err.Error())
		}
	}
	res.Levels = levels

	pos, err := sc.opener.Open(ctx, positions.Signal{
		SetupID:    setup.ID,
		Symbol:     setup.Symbol,
		Direction:  dir,
		Entry:      conf.Entry,
		Levels:     levels,
		ZoneLow:    setup.Gap.Low,
		ZoneHigh:   setup.Gap.High,
		Confidence: result.Confidence,
		Grade:      result.Tier,
		Labels:     result.Labels,
		At:         conf.Bar.Start,
	})
	if err != nil {
		return sc.reject(log, res, OutcomeOpenRefused, err.Error())
	}

	res.Outcome = OutcomeOpened
	res.PositionID = pos.ID
	log.Info().
		Str("grade", string(result.Tier)).
		Float64("confidence", result.Confidence).
		Strs("labels", result.Labels).
		Str("position_id", pos.ID).
		Msg("Signal opened")
	return res
}

func (sc *Scanner) reject(log zerolog.Logger, res SignalResult, outcome Outcome, reason string) SignalResult {
	res.Outcome = outcome
	res.Reason = reason
	log.Info().Str("outcome", string(outcome)).Str("reason", reason).Msg("Signal not taken")
	events.PublishSignalRejected(sc.bus, res.SetupID, res.Symbol, reason, res.Grade.Confidence)
	return res
}

// LastResult returns the most recent scan result
func (sc *Scanner) LastResult() *ScanResult {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.lastResult
}

// RecentSignals returns the latest graded signals, oldest first
func (sc *Scanner) RecentSignals() []SignalResult {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	out := make([]SignalResult, len(sc.recent))
	copy(out, sc.recent)
	return out
}

// Tracker exposes the armed setup tracker for snapshots
func (sc *Scanner) Tracker() *confirmation.Tracker {
	return sc.tracker
}
