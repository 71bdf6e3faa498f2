// Package bot wires the feed, aggregator, scanner and lifecycle manager into one
// running pipeline.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"sniper-trading-bot/config"
	"sniper-trading-bot/internal/circuit"
	"sniper-trading-bot/internal/confirmation"
	"sniper-trading-bot/internal/confluence"
	"sniper-trading-bot/internal/database"
	"sniper-trading-bot/internal/events"
	"sniper-trading-bot/internal/feed"
	"sniper-trading-bot/internal/logging"
	"sniper-trading-bot/internal/market"
	"sniper-trading-bot/internal/notification"
	"sniper-trading-bot/internal/patterns"
	"sniper-trading-bot/internal/positions"
	"sniper-trading-bot/internal/risk"
	"sniper-trading-bot/internal/scanner"
)

// ErrNoDatabase is returned by history queries when Postgres is disabled
var ErrNoDatabase = errors.New("database disabled")

// Deps are the optional infrastructure handles; nil disables the feature
type Deps struct {
	DB       *database.DB
	Redis    *redis.Client
	Notifier *notification.Manager
	Bus      *events.EventBus
}

// Bot owns the running pipeline
type Bot struct {
	config *config.Config
	logger zerolog.Logger
	bus    *events.EventBus
	now    func() time.Time

	window     market.Window
	forceClose market.Clock

	aggregator *feed.Aggregator
	subs       *feed.SubscriptionManager
	client     *feed.Client
	tracker    *confirmation.Tracker
	scanner    *scanner.Scanner
	manager    *positions.Manager
	breaker    *circuit.Breaker

	db        *database.DB
	bars      *database.BarRepository
	trades    *database.TradeRepository
	state     *database.StateStore
	dbIsStore bool

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time
	lastEOD   time.Time
}

// New builds every pipeline component from configuration
func New(ctx context.Context, cfg *config.Config, deps Deps, logger zerolog.Logger) (*Bot, error) {
	window, err := market.ParseWindow(cfg.SessionConfig.EntryStart, cfg.SessionConfig.EntryEnd)
	if err != nil {
		return nil, fmt.Errorf("entry window: %w", err)
	}
	forceClose, err := market.ParseClock(cfg.SessionConfig.ForceClose)
	if err != nil {
		return nil, fmt.Errorf("force close: %w", err)
	}

	bus := deps.Bus
	if bus == nil {
		bus = events.NewEventBus()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notification.NewManager(false, logger)
	}

	b := &Bot{
		config:     cfg,
		logger:     logging.WithComponent(logger, "Bot"),
		bus:        bus,
		now:        time.Now,
		window:     window,
		forceClose: forceClose,
		state:      database.NewStateStore(ctx, deps.Redis, logger),
	}

	var barStore feed.BarStore
	var store positions.Store = b.state
	var tradeSink positions.TradeSink
	var enrichers []confluence.Enricher

	if deps.DB != nil {
		b.db = deps.DB
		b.bars = database.NewBarRepository(deps.DB)
		b.trades = database.NewTradeRepository(deps.DB)
		barStore = b.bars
		store = database.NewPositionRepository(deps.DB)
		tradeSink = b.trades
		b.dbIsStore = true
		enrichers = append(enrichers, confluence.NewWinRateEnricher(b.trades))
	}
	if deps.Redis != nil {
		analytics := database.NewRedisAnalytics(deps.Redis)
		enrichers = append(enrichers,
			confluence.NewIVRankEnricher(analytics),
			confluence.NewGEXEnricher(analytics),
			confluence.NewUOAEnricher(analytics),
		)
	}

	agg := cfg.AggregatorConfig
	b.aggregator = feed.NewAggregator(feed.AggregatorConfig{
		BarInterval:    agg.BarInterval,
		FlushInterval:  agg.FlushInterval,
		SpikeThreshold: agg.SpikeThreshold,
		ReanchorTicks:  agg.ReanchorTicks,
		MaxPrice:       agg.MaxPrice,
		HistoryBars:    agg.HistoryBars,
	}, barStore, bus, logger)

	b.breaker = circuit.NewBreaker(circuit.Config{
		Enabled:              cfg.CircuitConfig.Enabled,
		MaxConsecutiveLosses: cfg.CircuitConfig.MaxConsecutiveLosses,
		MaxDailyLoss:         cfg.CircuitConfig.MaxDailyLoss,
	}, bus, logger)
	b.breaker.OnTrip(func(reason string) {
		notifier.Error(context.Background(), "Circuit breaker tripped", reason)
	})

	rc := cfg.RiskConfig
	sizer := risk.NewSizer(risk.SizerConfig{
		AccountBalance:     rc.AccountBalance,
		ContractMultiplier: rc.ContractMultiplier,
		MinContracts:       rc.MinContracts,
		MaxContracts:       rc.MaxContracts,
	})
	b.manager = positions.NewManager(positions.Config{
		ContractMultiplier: rc.ContractMultiplier,
		MaxOpenPositions:   rc.MaxOpenPositions,
		MinConfidence:      rc.MinConfidence,
	}, sizer, positions.Deps{
		Guard:  b.breaker,
		Store:  store,
		Trades: tradeSink,
		Alerts: notifier,
		Bus:    bus,
	}, logger)

	b.tracker = confirmation.NewTracker(confirmation.TrackerConfig{
		MaxWaitBars: cfg.ConfirmationConfig.MaxWaitBars,
		MaxArmed:    cfg.ConfirmationConfig.MaxArmed,
	}, bus, logger)

	dc := cfg.DetectorConfig
	sc := scanner.DefaultScannerConfig()
	sc.Enabled = cfg.ScannerConfig.Enabled
	sc.ScanInterval = cfg.ScannerConfig.ScanInterval
	sc.WorkerCount = cfg.ScannerConfig.WorkerCount
	sc.EnrichTimeout = cfg.ScannerConfig.EnrichTimeout
	sc.Window = window
	sc.Detector = patterns.DetectorConfig{
		SwingLookback: dc.SwingLookback,
		FixedMinGap:   dc.FixedMinGap,
	}
	sc.Alignment = confluence.AlignmentConfig{
		VolumeLookback:      dc.AverageVolumeBars,
		VolumeMultiple:      dc.InstitutionalRatio,
		OpeningRangeMinutes: dc.OpeningRangeMins,
	}
	sc.Levels = risk.LevelsConfig{Mode: rc.StopMode, GapBuffer: rc.GapStopBuffer}
	composer := confluence.NewComposer(confluence.DefaultComposerConfig())
	b.scanner = scanner.NewScanner(sc, b.aggregator, b.tracker, composer, enrichers, b.manager, bus, logger)

	fc := cfg.FeedConfig
	b.subs = feed.NewSubscriptionManager(fc.Symbols...)
	b.client = feed.NewClient(feed.ClientConfig{
		URL:                    fc.URL,
		APIKey:                 fc.APIKey,
		MaxSymbolsPerSubscribe: fc.MaxSymbolsPerSubscribe,
		ReconnectDelay:         fc.ReconnectDelay,
		DialTimeout:            fc.DialTimeout,
	}, b.subs, b, bus, logger)

	return b, nil
}

// IngestTick feeds the aggregator and, for accepted prints, the open position
// of the symbol. It is the feed client's tick sink.
func (b *Bot) IngestTick(symbol string, price, size float64, timestampMs int64) feed.IngestResult {
	res := b.aggregator.IngestTick(symbol, price, size, timestampMs)
	if res.Accepted() {
		b.manager.OnPrice(b.context(), symbol, price, time.UnixMilli(timestampMs))
	}
	return res
}

func (b *Bot) context() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return context.Background()
	}
	return b.ctx
}

// Start restores state, closes stale positions and launches every loop
func (b *Bot) Start(parent context.Context) error {
	b.mu.Lock()
	if b.cancel != nil {
		b.mu.Unlock()
		return fmt.Errorf("bot already started")
	}
	ctx, cancel := context.WithCancel(parent)
	b.ctx, b.cancel = ctx, cancel
	b.startedAt = b.now()
	b.mu.Unlock()

	b.seedBars(ctx)
	b.restore(ctx)
	if stale := b.manager.CloseStale(ctx, b.now()); len(stale) > 0 {
		b.logger.Warn().Int("count", len(stale)).Msg("Closed positions left open from an earlier session")
	}

	b.wg.Add(4)
	go func() {
		defer b.wg.Done()
		b.aggregator.Run(ctx)
	}()
	go func() {
		defer b.wg.Done()
		if err := b.client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			b.logger.Error().Err(err).Msg("Feed client stopped")
			events.PublishError(b.bus, "feed", "feed client stopped", err)
		}
	}()
	go func() {
		defer b.wg.Done()
		b.forwardSealed(ctx)
	}()
	go func() {
		defer b.wg.Done()
		b.runHousekeeping(ctx)
	}()
	b.scanner.Start(ctx)

	b.bus.Publish(events.Event{
		Type: events.EventBotStarted,
		Data: map[string]interface{}{
			"symbols":        b.subs.All(),
			"open_positions": b.manager.Count(),
			"armed_setups":   len(b.tracker.Active()),
		},
	})
	b.logger.Info().
		Strs("symbols", b.subs.All()).
		Str("entry_window", b.window.Start.String()+"-"+b.window.End.String()).
		Str("force_close", b.forceClose.String()).
		Bool("postgres", b.dbIsStore).
		Bool("redis", b.state.IsRedisAvailable()).
		Msg("Bot started")
	return nil
}

// Stop halts every loop and writes a final snapshot
func (b *Bot) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	b.scanner.Stop()
	b.wg.Wait()

	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	b.snapshot(ctx)

	b.bus.Publish(events.Event{Type: events.EventBotStopped, Data: map[string]interface{}{}})
	b.logger.Info().Msg("Bot stopped")
}

// seedBars loads recent persisted bars so detection has history after a restart
func (b *Bot) seedBars(ctx context.Context) {
	if b.bars == nil {
		return
	}
	for _, sym := range b.subs.All() {
		bars, err := b.bars.RecentBars(ctx, sym, b.config.AggregatorConfig.HistoryBars)
		if err != nil {
			b.logger.Warn().Err(err).Str("symbol", sym).Msg("Failed to load bar history")
			continue
		}
		b.aggregator.Seed(sym, bars)
	}
}

// restore reloads open positions and armed setups
func (b *Bot) restore(ctx context.Context) {
	n, err := b.manager.Restore(ctx)
	if err != nil {
		b.logger.Error().Err(err).Msg("Failed to restore positions")
		events.PublishError(b.bus, "restore", "failed to restore positions", err)
	} else if n > 0 {
		b.logger.Info().Int("count", n).Msg("Restored open positions")
	}

	setups, err := b.state.LoadSetups(ctx)
	if err != nil {
		b.logger.Warn().Err(err).Msg("Failed to load armed setups")
		return
	}
	if n := b.tracker.Restore(setups); n > 0 {
		b.logger.Info().Int("count", n).Msg("Restored armed setups")
	}
}

// forwardSealed turns bar closes into immediate scans
func (b *Bot) forwardSealed(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.aggregator.Sealed():
			b.scanner.Kick()
		}
	}
}

// runHousekeeping drives the end-of-day close and the state snapshot
func (b *Bot) runHousekeeping(ctx context.Context) {
	period := b.config.ScannerConfig.SnapshotPeriod
	if period <= 0 {
		period = 30 * time.Second
	}
	snapshot := time.NewTicker(period)
	defer snapshot.Stop()
	eod := time.NewTicker(15 * time.Second)
	defer eod.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-eod.C:
			b.checkEndOfDay(ctx, b.now())
		case <-snapshot.C:
			b.snapshot(ctx)
		}
	}
}

// checkEndOfDay force-closes everything once per session day after the cutoff
func (b *Bot) checkEndOfDay(ctx context.Context, now time.Time) []positions.Position {
	day := market.SessionDay(now)
	if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return nil
	}
	if now.Before(b.forceClose.On(now)) {
		return nil
	}

	b.mu.Lock()
	if b.lastEOD.Equal(day) {
		b.mu.Unlock()
		return nil
	}
	b.lastEOD = day
	b.mu.Unlock()

	closed := b.manager.CloseAll(ctx, b.aggregator.LastPrice, positions.ReasonEndOfDay)
	if len(closed) > 0 {
		b.logger.Info().Int("count", len(closed)).Msg("End of day close")
	}
	return closed
}

// snapshot writes armed setups, and open positions when Postgres is the
// primary store, to the hot state store
func (b *Bot) snapshot(ctx context.Context) {
	if err := b.state.SaveSetups(ctx, b.tracker.Active()); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to snapshot armed setups")
	}
	if !b.dbIsStore {
		return
	}
	for _, p := range b.manager.Positions() {
		if err := b.state.SavePosition(ctx, p); err != nil {
			b.logger.Warn().Err(err).Str("position_id", p.ID).Msg("Failed to snapshot position")
		}
	}
}

// Status summarizes the running pipeline
func (b *Bot) Status() map[string]interface{} {
	b.mu.Lock()
	startedAt := b.startedAt
	b.mu.Unlock()

	status := map[string]interface{}{
		"running":         !startedAt.IsZero(),
		"started_at":      startedAt,
		"feed_connected":  b.client.IsConnected(),
		"subscriptions":   b.subs.Stats(),
		"open_positions":  b.manager.Count(),
		"armed_setups":    len(b.tracker.Active()),
		"in_entry_window": b.window.Contains(b.now()),
		"circuit_breaker": b.breaker.GetStats(),
		"trading_halted":  b.breaker.GetState() == circuit.StateOpen,
		"redis_available": b.state.IsRedisAvailable(),
		"postgres":        b.dbIsStore,
	}
	if last := b.scanner.LastResult(); last != nil {
		status["last_scan"] = map[string]interface{}{
			"at":             last.EndTime,
			"symbols":        last.SymbolsScanned,
			"bars_processed": last.BarsProcessed,
			"duration_ms":    last.Duration.Milliseconds(),
		}
	}
	return status
}

// OpenPositions returns open positions
func (b *Bot) OpenPositions() []positions.Position {
	return b.manager.Positions()
}

// ClosedPositions returns recently closed positions
func (b *Bot) ClosedPositions() []positions.Position {
	return b.manager.Closed()
}

// ArmedSetups returns setups waiting for confirmation
func (b *Bot) ArmedSetups() []confirmation.ArmedSetup {
	return b.tracker.Active()
}

// RecentSignals returns the latest graded signals
func (b *Bot) RecentSignals() []scanner.SignalResult {
	return b.scanner.RecentSignals()
}

// RecentTrades returns persisted trades, newest first
func (b *Bot) RecentTrades(ctx context.Context, limit int) ([]positions.TradeRecord, error) {
	if b.trades == nil {
		return nil, ErrNoDatabase
	}
	return b.trades.RecentTrades(ctx, limit)
}

// Symbols returns every subscribed symbol
func (b *Bot) Symbols() []string {
	return b.subs.All()
}

// AddSymbols subscribes symbols at runtime and returns the ones that were new
func (b *Bot) AddSymbols(symbols ...string) []string {
	added := b.client.AddSymbols(symbols...)
	if len(added) > 0 {
		b.logger.Info().Str("symbols", strings.Join(added, ",")).Msg("Symbols added")
	}
	return added
}

// ClosePosition flattens one position at the last traded price
func (b *Bot) ClosePosition(ctx context.Context, id string) (positions.Position, error) {
	price := 0.0
	if p, ok := b.manager.Get(id); ok {
		price = p.Entry
		if px, ok := b.aggregator.LastPrice(p.Symbol); ok && px > 0 {
			price = px
		}
	}
	return b.manager.Close(ctx, id, price, positions.ReasonEndOfDay)
}

// ResetCircuit clears a tripped circuit breaker
func (b *Bot) ResetCircuit() map[string]interface{} {
	b.breaker.ForceReset()
	b.logger.Warn().Msg("Circuit breaker manually reset")
	return b.breaker.GetStats()
}

// Health pings Postgres when it backs the bot. Redis outages are tolerated.
func (b *Bot) Health(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	if err := b.db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}
