package positions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sniper-trading-bot/internal/events"
	"sniper-trading-bot/internal/logging"
	"sniper-trading-bot/internal/market"
	"sniper-trading-bot/internal/metrics"
	"sniper-trading-bot/internal/notification"
	"sniper-trading-bot/internal/risk"
)

// Config configures the manager
type Config struct {
	ContractMultiplier float64
	MaxOpenPositions   int // 0 means unlimited
	MinConfidence      float64
	MaxClosedHistory   int
}

// DefaultConfig returns 100-share contracts, 5 positions and a 0.50 confidence floor
func DefaultConfig() Config {
	return Config{
		ContractMultiplier: 100,
		MaxOpenPositions:   5,
		MinConfidence:      0.50,
		MaxClosedHistory:   200,
	}
}

// Deps are the optional collaborators of a Manager; nil fields are skipped
type Deps struct {
	Guard  Guard
	Store  Store
	Trades TradeSink
	Alerts Alerter
	Bus    events.Publisher
}

type tracked struct {
	mu  sync.Mutex
	pos Position
}

type outcome struct {
	pos     Position
	leg     decimal.Decimal
	partial *PartialRecord
	trade   *TradeRecord
}

// Manager owns every open position. Each position has its own lock so price
// updates on different symbols never contend.
type Manager struct {
	config Config
	sizer  *risk.Sizer
	deps   Deps
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	open     map[string]*tracked
	bySymbol map[string]string
	closed   []Position
}

// NewManager creates a position manager
func NewManager(cfg Config, sizer *risk.Sizer, deps Deps, logger zerolog.Logger) *Manager {
	def := DefaultConfig()
	if cfg.ContractMultiplier <= 0 {
		cfg.ContractMultiplier = def.ContractMultiplier
	}
	if cfg.MaxClosedHistory <= 0 {
		cfg.MaxClosedHistory = def.MaxClosedHistory
	}
	if deps.Bus == nil {
		deps.Bus = events.Discard
	}
	return &Manager{
		config:   cfg,
		sizer:    sizer,
		deps:     deps,
		logger:   logger.With().Str("component", "positions").Logger(),
		now:      time.Now,
		open:     make(map[string]*tracked),
		bySymbol: make(map[string]string),
	}
}

// LegPnL is the dollar P&L of closing contracts opened at entry at exit
func LegPnL(dir market.Direction, entry, exit float64, contracts int, multiplier float64) decimal.Decimal {
	diff := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))
	if dir == market.Bear {
		diff = diff.Neg()
	}
	return diff.Mul(decimal.NewFromFloat(multiplier)).Mul(decimal.NewFromInt(int64(contracts)))
}

// Open sizes and opens a position for a graded signal
func (m *Manager) Open(ctx context.Context, sig Signal) (Position, error) {
	if sig.Confidence < m.config.MinConfidence {
		return Position{}, fmt.Errorf("open %s at %.2f: %w", sig.Symbol, sig.Confidence, ErrLowConfidence)
	}
	at := sig.At
	if at.IsZero() {
		at = m.now()
	}
	if m.deps.Guard != nil {
		if ok, reason := m.deps.Guard.CanTrade(at); !ok {
			return Position{}, fmt.Errorf("open %s: %w: %s", sig.Symbol, ErrCircuitOpen, reason)
		}
	}

	contracts, err := m.sizer.Contracts(sig.Entry, sig.Levels.Stop, sig.Confidence, sig.Grade)
	if err != nil {
		return Position{}, fmt.Errorf("open %s: %w", sig.Symbol, err)
	}

	pos := Position{
		ID:                 uuid.New().String(),
		SetupID:            sig.SetupID,
		Symbol:             sig.Symbol,
		Direction:          sig.Direction,
		Entry:              sig.Entry,
		Stop:               sig.Levels.Stop,
		OriginalStop:       sig.Levels.Stop,
		Target1:            sig.Levels.Target1,
		Target2:            sig.Levels.Target2,
		TotalContracts:     contracts,
		RemainingContracts: contracts,
		RealizedPnL:        decimal.Zero,
		Status:             StatusOpen,
		Confidence:         sig.Confidence,
		Grade:              sig.Grade,
		OpenedAt:           at,
	}

	m.mu.Lock()
	if _, exists := m.bySymbol[pos.Symbol]; exists {
		m.mu.Unlock()
		return Position{}, fmt.Errorf("open %s: %w", pos.Symbol, ErrPositionExists)
	}
	if m.config.MaxOpenPositions > 0 && len(m.open) >= m.config.MaxOpenPositions {
		m.mu.Unlock()
		return Position{}, fmt.Errorf("open %s: %w (%d)", pos.Symbol, ErrMaxPositions, m.config.MaxOpenPositions)
	}
	m.open[pos.ID] = &tracked{pos: pos}
	m.bySymbol[pos.Symbol] = pos.ID
	n := len(m.open)
	m.mu.Unlock()

	metrics.OpenPositions.Set(float64(n))
	m.persist(ctx, pos)
	events.PublishPositionOpened(m.deps.Bus, pos.ID, pos.Symbol, string(pos.Direction), pos.Entry, pos.Stop, pos.TotalContracts)
	if m.deps.Alerts != nil {
		m.deps.Alerts.Signal(ctx, notification.SignalAlert{
			Symbol:     pos.Symbol,
			Direction:  string(pos.Direction),
			Entry:      pos.Entry,
			Stop:       pos.Stop,
			Target1:    pos.Target1,
			Target2:    pos.Target2,
			Confidence: pos.Confidence,
			Grade:      string(pos.Grade),
		})
	}

	plog := logging.PositionContext(m.logger, pos.ID, pos.Symbol, string(pos.Direction), pos.Entry)
	plog.Info().
		Float64("stop", pos.Stop).
		Float64("target1", pos.Target1).
		Float64("target2", pos.Target2).
		Int("contracts", pos.TotalContracts).
		Float64("confidence", pos.Confidence).
		Str("grade", string(pos.Grade)).
		Msg("Position opened")
	return pos, nil
}

// OnPrice applies a live price to the open position of symbol. Stop is checked
// first, then target 2, then the one-time target 1 scale-out. It reports the
// position state when something changed.
func (m *Manager) OnPrice(ctx context.Context, symbol string, price float64, at time.Time) (Position, bool) {
	if price <= 0 {
		return Position{}, false
	}
	m.mu.RLock()
	t := m.open[m.bySymbol[symbol]]
	m.mu.RUnlock()
	if t == nil {
		return Position{}, false
	}

	t.mu.Lock()
	out, changed := m.evaluateLocked(&t.pos, price, at)
	t.mu.Unlock()
	if !changed {
		return Position{}, false
	}
	m.emit(ctx, out)
	return out.pos, true
}

func (m *Manager) evaluateLocked(p *Position, price float64, at time.Time) (outcome, bool) {
	if p.Status == StatusClosed {
		return outcome{}, false
	}
	sign := p.Direction.Sign()
	reached := func(level float64) bool { return (price-level)*sign >= 0 }

	switch {
	case (price-p.Stop)*sign <= 0:
		return m.closeLocked(p, p.Stop, ReasonStopLoss, at), true
	case reached(p.Target2):
		return m.closeLocked(p, p.Target2, ReasonTarget2, at), true
	case !p.Target1Hit && reached(p.Target1):
		return m.scaleLocked(p, at), true
	}
	return outcome{}, false
}

// scaleLocked takes half the original size off at target 1 and moves the stop to entry
func (m *Manager) scaleLocked(p *Position, at time.Time) outcome {
	half := p.TotalContracts / 2
	if half == 0 || half >= p.RemainingContracts {
		return m.closeLocked(p, p.Target1, ReasonTarget1, at)
	}

	leg := LegPnL(p.Direction, p.Entry, p.Target1, half, m.config.ContractMultiplier)
	p.RemainingContracts -= half
	p.RealizedPnL = p.RealizedPnL.Add(leg)
	p.Stop = p.Entry
	p.Target1Hit = true
	p.Status = StatusScaled

	rec := PartialRecord{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Direction:  p.Direction,
		Contracts:  half,
		Price:      p.Target1,
		PnL:        leg,
		Reason:     ReasonTarget1,
		At:         at,
	}
	return outcome{pos: *p, leg: leg, partial: &rec}
}

func (m *Manager) closeLocked(p *Position, exit float64, reason ExitReason, at time.Time) outcome {
	leg := LegPnL(p.Direction, p.Entry, exit, p.RemainingContracts, m.config.ContractMultiplier)
	p.RealizedPnL = p.RealizedPnL.Add(leg)
	p.RemainingContracts = 0
	p.Status = StatusClosed
	closedAt := at
	p.ClosedAt = &closedAt
	p.ExitPrice = exit
	p.ExitReason = reason

	rec := TradeRecord{
		PositionID:     p.ID,
		SetupID:        p.SetupID,
		Symbol:         p.Symbol,
		Direction:      p.Direction,
		Entry:          p.Entry,
		Exit:           exit,
		TotalContracts: p.TotalContracts,
		PnL:            p.RealizedPnL,
		Reason:         reason,
		Grade:          p.Grade,
		Confidence:     p.Confidence,
		OpenedAt:       p.OpenedAt,
		ClosedAt:       at,
	}
	return outcome{pos: *p, leg: leg, trade: &rec}
}

// emit runs the side effects of a state change outside any position lock
func (m *Manager) emit(ctx context.Context, out outcome) {
	p := out.pos
	plog := logging.PositionContext(m.logger, p.ID, p.Symbol, string(p.Direction), p.Entry)
	legPnL, _ := out.leg.Float64()
	metrics.RealizedPnL.Add(legPnL)

	if out.trade != nil {
		m.retire(p)
	}
	m.persist(ctx, p)

	if r := out.partial; r != nil {
		metrics.Exits.WithLabelValues(string(r.Reason), string(p.Direction)).Inc()
		if m.deps.Trades != nil {
			if err := m.deps.Trades.RecordPartial(ctx, *r); err != nil {
				plog.Error().Err(err).Msg("Failed to record partial exit")
			}
		}
		events.PublishPositionScaled(m.deps.Bus, p.ID, p.Symbol, r.Price, p.RemainingContracts, legPnL)
		if m.deps.Alerts != nil {
			m.deps.Alerts.ScaleOut(ctx, notification.ScaleOutAlert{
				Symbol:     p.Symbol,
				Exit:       r.Price,
				Remaining:  p.RemainingContracts,
				PartialPnL: legPnL,
			})
		}
		plog.Info().
			Int("closed", r.Contracts).
			Int("remaining", p.RemainingContracts).
			Float64("exit", r.Price).
			Str("pnl", r.PnL.StringFixed(2)).
			Msg("Scaled out at target 1, stop moved to breakeven")
	}

	if r := out.trade; r != nil {
		total, _ := r.PnL.Float64()
		metrics.Exits.WithLabelValues(string(r.Reason), string(p.Direction)).Inc()
		if m.deps.Trades != nil {
			if err := m.deps.Trades.RecordTrade(ctx, *r); err != nil {
				plog.Error().Err(err).Msg("Failed to record trade")
			}
		}
		if m.deps.Guard != nil {
			m.deps.Guard.RecordTrade(total, r.ClosedAt)
		}
		events.PublishPositionClosed(m.deps.Bus, p.ID, p.Symbol, string(r.Reason), r.Exit, total)
		if m.deps.Alerts != nil {
			m.deps.Alerts.Exit(ctx, notification.ExitAlert{
				Symbol:   p.Symbol,
				Exit:     r.Exit,
				Reason:   string(r.Reason),
				TotalPnL: total,
			})
		}
		plog.Info().
			Str("reason", string(r.Reason)).
			Float64("exit", r.Exit).
			Str("total_pnl", r.PnL.StringFixed(2)).
			Msg("Position closed")
	}
}

func (m *Manager) retire(p Position) {
	m.mu.Lock()
	delete(m.open, p.ID)
	if m.bySymbol[p.Symbol] == p.ID {
		delete(m.bySymbol, p.Symbol)
	}
	m.closed = append(m.closed, p)
	if over := len(m.closed) - m.config.MaxClosedHistory; over > 0 {
		m.closed = append([]Position(nil), m.closed[over:]...)
	}
	n := len(m.open)
	m.mu.Unlock()
	metrics.OpenPositions.Set(float64(n))
}

func (m *Manager) persist(ctx context.Context, p Position) {
	if m.deps.Store == nil {
		return
	}
	if err := m.deps.Store.SavePosition(ctx, p); err != nil {
		m.logger.Error().Err(err).Str("position_id", p.ID).Msg("Failed to persist position, continuing in memory")
	}
}

// Close closes the remaining contracts of a position at price
func (m *Manager) Close(ctx context.Context, id string, price float64, reason ExitReason) (Position, error) {
	if !reason.Valid() {
		return Position{}, fmt.Errorf("close %s: %w %q", id, ErrInvalidReason, reason)
	}

	m.mu.RLock()
	t, ok := m.open[id]
	m.mu.RUnlock()
	if !ok {
		if _, closed := m.closedByID(id); closed {
			return Position{}, fmt.Errorf("close %s: %w", id, ErrPositionClosed)
		}
		return Position{}, fmt.Errorf("close %s: %w", id, ErrPositionNotFound)
	}

	t.mu.Lock()
	if t.pos.Status == StatusClosed {
		t.mu.Unlock()
		return Position{}, fmt.Errorf("close %s: %w", id, ErrPositionClosed)
	}
	out := m.closeLocked(&t.pos, price, reason, m.now())
	t.mu.Unlock()

	m.emit(ctx, out)
	return out.pos, nil
}

// CloseAll force-closes every open position at the price priceFn reports,
// falling back to entry when no price is known.
func (m *Manager) CloseAll(ctx context.Context, priceFn func(symbol string) (float64, bool), reason ExitReason) []Position {
	return m.closeWhere(ctx, func(Position) bool { return true }, priceFn, reason)
}

// CloseStale closes positions opened on an earlier session day at their entry
func (m *Manager) CloseStale(ctx context.Context, now time.Time) []Position {
	today := market.SessionDay(now)
	stale := func(p Position) bool { return market.SessionDay(p.OpenedAt).Before(today) }
	return m.closeWhere(ctx, stale, nil, ReasonEndOfDay)
}

func (m *Manager) closeWhere(ctx context.Context, match func(Position) bool, priceFn func(string) (float64, bool), reason ExitReason) []Position {
	m.mu.RLock()
	targets := make([]*tracked, 0, len(m.open))
	for _, t := range m.open {
		targets = append(targets, t)
	}
	m.mu.RUnlock()

	var closed []Position
	for _, t := range targets {
		t.mu.Lock()
		if t.pos.Status == StatusClosed || !match(t.pos) {
			t.mu.Unlock()
			continue
		}
		price := t.pos.Entry
		if priceFn != nil {
			if px, ok := priceFn(t.pos.Symbol); ok && px > 0 {
				price = px
			} else {
				m.logger.Warn().Str("symbol", t.pos.Symbol).Msg("No live price for forced close, using entry")
			}
		}
		out := m.closeLocked(&t.pos, price, reason, m.now())
		t.mu.Unlock()

		m.emit(ctx, out)
		closed = append(closed, out.pos)
	}
	return closed
}

// Restore loads open positions from the store
func (m *Manager) Restore(ctx context.Context) (int, error) {
	if m.deps.Store == nil {
		return 0, nil
	}
	loaded, err := m.deps.Store.LoadOpenPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("restore positions: %w", err)
	}
	return m.Adopt(loaded), nil
}

// Adopt takes ownership of previously open positions, skipping closed ones and
// symbols that already have a position.
func (m *Manager) Adopt(positions []Position) int {
	m.mu.Lock()
	adopted := 0
	for _, p := range positions {
		if p.Status == StatusClosed || p.RemainingContracts <= 0 {
			continue
		}
		if _, exists := m.bySymbol[p.Symbol]; exists {
			continue
		}
		m.open[p.ID] = &tracked{pos: p}
		m.bySymbol[p.Symbol] = p.ID
		adopted++
	}
	n := len(m.open)
	m.mu.Unlock()

	metrics.OpenPositions.Set(float64(n))
	if adopted > 0 {
		m.logger.Info().Int("count", adopted).Msg("Restored open positions")
	}
	return adopted
}

// Positions returns a snapshot of open positions ordered by open time
func (m *Manager) Positions() []Position {
	m.mu.RLock()
	targets := make([]*tracked, 0, len(m.open))
	for _, t := range m.open {
		targets = append(targets, t)
	}
	m.mu.RUnlock()

	out := make([]Position, 0, len(targets))
	for _, t := range targets {
		t.mu.Lock()
		out = append(out, t.pos)
		t.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// Closed returns recently closed positions, oldest first
func (m *Manager) Closed() []Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Position, len(m.closed))
	copy(out, m.closed)
	return out
}

// Get returns an open or recently closed position
func (m *Manager) Get(id string) (Position, bool) {
	m.mu.RLock()
	t, ok := m.open[id]
	m.mu.RUnlock()
	if ok {
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.pos, true
	}
	return m.closedByID(id)
}

func (m *Manager) closedByID(id string) (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.closed) - 1; i >= 0; i-- {
		if m.closed[i].ID == id {
			return m.closed[i], true
		}
	}
	return Position{}, false
}

// HasOpen reports whether symbol has an open position
func (m *Manager) HasOpen(symbol string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.bySymbol[symbol]
	return ok
}

// Count returns the number of open positions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.open)
}
