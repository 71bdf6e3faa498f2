package positions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"sniper-trading-bot/internal/confirmation"
	"sniper-trading-bot/internal/events"
	"sniper-trading-bot/internal/market"
	"sniper-trading-bot/internal/notification"
	"sniper-trading-bot/internal/risk"
)

type memSink struct {
	mu       sync.Mutex
	partials []PartialRecord
	trades   []TradeRecord
}

func (s *memSink) RecordPartial(ctx context.Context, r PartialRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partials = append(s.partials, r)
	return nil
}

func (s *memSink) RecordTrade(ctx context.Context, r TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, r)
	return nil
}

type memStore struct {
	mu    sync.Mutex
	saved map[string]Position
	err   error
}

func (s *memStore) SavePosition(ctx context.Context, p Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.saved == nil {
		s.saved = make(map[string]Position)
	}
	s.saved[p.ID] = p
	return nil
}

func (s *memStore) LoadOpenPositions(ctx context.Context) ([]Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Position
	for _, p := range s.saved {
		if p.Status != StatusClosed {
			out = append(out, p)
		}
	}
	return out, nil
}

type stubGuard struct {
	halted bool
	pnls   []float64
}

func (g *stubGuard) CanTrade(at time.Time) (bool, string) {
	if g.halted {
		return false, "test halt"
	}
	return true, ""
}

func (g *stubGuard) RecordTrade(pnl float64, at time.Time) { g.pnls = append(g.pnls, pnl) }

type memAlerts struct {
	signals []notification.SignalAlert
	scales  []notification.ScaleOutAlert
	exits   []notification.ExitAlert
}

func (a *memAlerts) Signal(ctx context.Context, s notification.SignalAlert) { a.signals = append(a.signals, s) }
func (a *memAlerts) ScaleOut(ctx context.Context, s notification.ScaleOutAlert) { a.scales = append(a.scales, s) }
func (a *memAlerts) Exit(ctx context.Context, s notification.ExitAlert) { a.exits = append(a.exits, s) }

type fixture struct {
	m      *Manager
	sink   *memSink
	store  *memStore
	guard  *stubGuard
	alerts *memAlerts
	rec    *events.Recorder
}

func newFixture() *fixture {
	f := &fixture{
		sink:   &memSink{},
		store:  &memStore{},
		guard:  &stubGuard{},
		alerts: &memAlerts{},
		rec:    &events.Recorder{},
	}
	f.m = NewManager(DefaultConfig(), risk.NewSizer(risk.DefaultSizerConfig()), Deps{
		Guard:  f.guard,
		Store:  f.store,
		Trades: f.sink,
		Alerts: f.alerts,
		Bus:    f.rec,
	}, zerolog.Nop())
	return f
}

var sessionStart = time.Date(2024, 3, 5, 10, 15, 0, 0, market.Eastern())

// bullSignal is the AAPL gap [100.40, 100.60] confirmed at 100.55
func bullSignal() Signal {
	return Signal{
		SetupID:    "setup-1",
		Symbol:     "AAPL",
		Direction:  market.Bull,
		Entry:      100.55,
		Levels:     risk.Levels{Stop: 100.36, Target1: 100.835, Target2: 101.025, Mode: risk.StopModeGap},
		ZoneLow:    100.40,
		ZoneHigh:   100.60,
		Confidence: 0.90,
		Grade:      confirmation.TierAPlus,
		At:         sessionStart,
	}
}

func mustOpen(t *testing.T, f *fixture, sig Signal) Position {
	t.Helper()
	pos, err := f.m.Open(context.Background(), sig)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return pos
}

// TestScaleOutThenBreakeven tests the 10 contract scale-out and breakeven close
func TestScaleOutThenBreakeven(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pos := mustOpen(t, f, bullSignal())

	if pos.TotalContracts != 10 || pos.RemainingContracts != 10 {
		t.Fatalf("Expected 10 contracts, got %d/%d", pos.TotalContracts, pos.RemainingContracts)
	}

	if _, changed := f.m.OnPrice(ctx, "AAPL", 100.70, sessionStart.Add(time.Minute)); changed {
		t.Fatal("Expected no change between stop and target 1")
	}

	scaled, changed := f.m.OnPrice(ctx, "AAPL", 100.90, sessionStart.Add(2*time.Minute))
	if !changed {
		t.Fatal("Expected scale-out at target 1")
	}
	if scaled.RemainingContracts != 5 || scaled.Status != StatusScaled || scaled.Stop != 100.55 || !scaled.Target1Hit {
		t.Errorf("Unexpected scaled state %+v", scaled)
	}
	if !scaled.RealizedPnL.Equal(decimal.NewFromFloat(142.5)) {
		t.Errorf("Expected partial P&L 142.5, got %s", scaled.RealizedPnL)
	}
	if len(f.sink.partials) != 1 || f.sink.partials[0].Contracts != 5 || f.sink.partials[0].Reason != ReasonTarget1 {
		t.Errorf("Unexpected partial records %+v", f.sink.partials)
	}
	if len(f.alerts.scales) != 1 || f.alerts.scales[0].Remaining != 5 {
		t.Errorf("Unexpected scale-out alerts %+v", f.alerts.scales)
	}

	// target 1 only scales once
	if _, changed := f.m.OnPrice(ctx, "AAPL", 100.95, sessionStart.Add(3*time.Minute)); changed {
		t.Error("Expected no second scale-out")
	}

	closed, changed := f.m.OnPrice(ctx, "AAPL", 100.50, sessionStart.Add(4*time.Minute))
	if !changed {
		t.Fatal("Expected breakeven stop to close")
	}
	if closed.Status != StatusClosed || closed.RemainingContracts != 0 {
		t.Errorf("Expected closed with no contracts, got %+v", closed)
	}
	if closed.ExitPrice != 100.55 || closed.ExitReason != ReasonStopLoss {
		t.Errorf("Expected stop-loss at entry, got %v %s", closed.ExitPrice, closed.ExitReason)
	}
	if !closed.RealizedPnL.Equal(decimal.NewFromFloat(142.5)) {
		t.Errorf("Expected breakeven leg to add nothing, got %s", closed.RealizedPnL)
	}

	if len(f.sink.trades) != 1 || !f.sink.trades[0].Win() {
		t.Errorf("Expected one winning trade record, got %+v", f.sink.trades)
	}
	if len(f.guard.pnls) != 1 || f.guard.pnls[0] != 142.5 {
		t.Errorf("Expected guard to see 142.5, got %v", f.guard.pnls)
	}
	if f.m.Count() != 0 || f.m.HasOpen("AAPL") {
		t.Error("Expected no open positions")
	}
	if f.rec.Count(events.EventPositionScaled) != 1 || f.rec.Count(events.EventPositionClosed) != 1 {
		t.Error("Expected one scaled and one closed event")
	}
}

// TestPnLConservation tests that scale-out plus final exit equals the blended exit
func TestPnLConservation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pos := mustOpen(t, f, bullSignal())

	f.m.OnPrice(ctx, "AAPL", 100.84, sessionStart.Add(time.Minute))
	closed, _ := f.m.OnPrice(ctx, "AAPL", 101.10, sessionStart.Add(2*time.Minute))

	if closed.ExitReason != ReasonTarget2 || closed.ExitPrice != 101.025 {
		t.Fatalf("Expected target-2 exit at 101.025, got %s %v", closed.ExitReason, closed.ExitPrice)
	}

	half := pos.TotalContracts / 2
	blended := LegPnL(market.Bull, pos.Entry, pos.Target1, half, 100).
		Add(LegPnL(market.Bull, pos.Entry, pos.Target2, pos.TotalContracts-half, 100))
	if !closed.RealizedPnL.Equal(blended) {
		t.Errorf("Expected %s, got %s", blended, closed.RealizedPnL)
	}
	if !closed.RealizedPnL.Equal(decimal.NewFromFloat(380)) {
		t.Errorf("Expected 380, got %s", closed.RealizedPnL)
	}
}

// TestStopLossBeforeTargets tests a full stop-out on a bear position
func TestStopLossBeforeTargets(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	sig := bullSignal()
	sig.Direction = market.Bear
	sig.Entry = 99.45
	sig.Levels = risk.Levels{Stop: 99.64, Target1: 99.165, Target2: 98.975}
	mustOpen(t, f, sig)

	closed, changed := f.m.OnPrice(ctx, "AAPL", 99.70, sessionStart.Add(time.Minute))
	if !changed || closed.ExitReason != ReasonStopLoss || closed.ExitPrice != 99.64 {
		t.Fatalf("Expected stop-loss at 99.64, got %+v", closed)
	}
	if !closed.RealizedPnL.IsNegative() {
		t.Errorf("Expected a loss, got %s", closed.RealizedPnL)
	}
	if len(f.alerts.exits) != 1 || f.alerts.exits[0].Reason != "stop-loss" {
		t.Errorf("Unexpected exit alerts %+v", f.alerts.exits)
	}
}

// TestOpenRejections tests the entry guards
func TestOpenRejections(t *testing.T) {
	f := newFixture()
	mustOpen(t, f, bullSignal())

	if _, err := f.m.Open(context.Background(), bullSignal()); !errors.Is(err, ErrPositionExists) {
		t.Errorf("Expected ErrPositionExists, got %v", err)
	}

	low := bullSignal()
	low.Symbol = "MSFT"
	low.Confidence = 0.3
	if _, err := f.m.Open(context.Background(), low); !errors.Is(err, ErrLowConfidence) {
		t.Errorf("Expected ErrLowConfidence, got %v", err)
	}

	flat := bullSignal()
	flat.Symbol = "NVDA"
	flat.Levels.Stop = flat.Entry
	if _, err := f.m.Open(context.Background(), flat); !errors.Is(err, risk.ErrNonPositiveRisk) {
		t.Errorf("Expected ErrNonPositiveRisk, got %v", err)
	}

	wide := bullSignal()
	wide.Symbol = "AMD"
	wide.Levels.Stop = wide.Entry - 20
	if _, err := f.m.Open(context.Background(), wide); !errors.Is(err, risk.ErrBudgetTooSmall) {
		t.Errorf("Expected ErrBudgetTooSmall, got %v", err)
	}
	if f.m.HasOpen("AMD") {
		t.Error("Expected no position when the budget cannot cover the minimum")
	}

	f.guard.halted = true
	halted := bullSignal()
	halted.Symbol = "TSLA"
	if _, err := f.m.Open(context.Background(), halted); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

// TestMaxOpenPositions tests the open position cap
func TestMaxOpenPositions(t *testing.T) {
	f := newFixture()
	f.m.config.MaxOpenPositions = 2
	for i, sym := range []string{"AAPL", "MSFT", "NVDA"} {
		sig := bullSignal()
		sig.Symbol = sym
		_, err := f.m.Open(context.Background(), sig)
		if i < 2 && err != nil {
			t.Fatalf("Open %s failed: %v", sym, err)
		}
		if i == 2 && !errors.Is(err, ErrMaxPositions) {
			t.Errorf("Expected ErrMaxPositions, got %v", err)
		}
	}
}

// TestCloseTwice tests that closing a closed position is an error
func TestCloseTwice(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	pos := mustOpen(t, f, bullSignal())

	if _, err := f.m.Close(ctx, pos.ID, 100.70, ReasonEndOfDay); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := f.m.Close(ctx, pos.ID, 100.70, ReasonEndOfDay); !errors.Is(err, ErrPositionClosed) {
		t.Errorf("Expected ErrPositionClosed, got %v", err)
	}
	if _, err := f.m.Close(ctx, "missing", 1, ReasonEndOfDay); !errors.Is(err, ErrPositionNotFound) {
		t.Errorf("Expected ErrPositionNotFound, got %v", err)
	}
	if _, err := f.m.Close(ctx, pos.ID, 1, ExitReason("manual")); !errors.Is(err, ErrInvalidReason) {
		t.Errorf("Expected ErrInvalidReason, got %v", err)
	}
	if got, ok := f.m.Get(pos.ID); !ok || got.Status != StatusClosed {
		t.Errorf("Expected closed position to be retrievable, got %+v", got)
	}
}

// TestCloseAllEndOfDay tests the forced end-of-day exit
func TestCloseAllEndOfDay(t *testing.T) {
	f := newFixture()
	for _, sym := range []string{"AAPL", "MSFT"} {
		sig := bullSignal()
		sig.Symbol = sym
		mustOpen(t, f, sig)
	}

	prices := map[string]float64{"AAPL": 100.70}
	closed := f.m.CloseAll(context.Background(), func(s string) (float64, bool) {
		px, ok := prices[s]
		return px, ok
	}, ReasonEndOfDay)

	if len(closed) != 2 {
		t.Fatalf("Expected 2 closed, got %d", len(closed))
	}
	for _, p := range closed {
		if p.ExitReason != ReasonEndOfDay {
			t.Errorf("Expected end-of-day, got %s", p.ExitReason)
		}
		want := 100.70
		if p.Symbol == "MSFT" {
			want = p.Entry
		}
		if p.ExitPrice != want {
			t.Errorf("%s: expected exit %v, got %v", p.Symbol, want, p.ExitPrice)
		}
	}
	if f.m.Count() != 0 {
		t.Errorf("Expected no open positions, got %d", f.m.Count())
	}
}

// TestCloseStaleAndRestore tests restoring from the store and closing prior-session positions
func TestCloseStaleAndRestore(t *testing.T) {
	f := newFixture()
	old := bullSignal()
	old.At = sessionStart.Add(-24 * time.Hour)
	mustOpen(t, f, old)

	g := newFixture()
	g.store = f.store
	g.m.deps.Store = f.store
	n, err := g.m.Restore(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 restored position, got %d, %v", n, err)
	}

	closed := g.m.CloseStale(context.Background(), sessionStart)
	if len(closed) != 1 || closed[0].ExitPrice != closed[0].Entry || closed[0].ExitReason != ReasonEndOfDay {
		t.Fatalf("Unexpected stale close %+v", closed)
	}
	if !closed[0].RealizedPnL.IsZero() {
		t.Errorf("Expected zero P&L at entry, got %s", closed[0].RealizedPnL)
	}

	fresh := bullSignal()
	mustOpen(t, g, fresh)
	if got := g.m.CloseStale(context.Background(), sessionStart.Add(time.Hour)); len(got) != 0 {
		t.Errorf("Expected same-session position to survive, got %d closed", len(got))
	}
}

// TestPersistenceFailureContinues tests that store errors do not block trading
func TestPersistenceFailureContinues(t *testing.T) {
	f := newFixture()
	f.store.err = errors.New("db down")
	pos := mustOpen(t, f, bullSignal())
	if _, err := f.m.Close(context.Background(), pos.ID, 100.60, ReasonEndOfDay); err != nil {
		t.Errorf("Expected close to succeed in memory, got %v", err)
	}
}

// TestConcurrentPrices tests that concurrent updates close a position exactly once
func TestConcurrentPrices(t *testing.T) {
	f := newFixture()
	mustOpen(t, f, bullSignal())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.m.OnPrice(context.Background(), "AAPL", 100.30, sessionStart.Add(time.Minute))
		}()
	}
	wg.Wait()

	f.sink.mu.Lock()
	defer f.sink.mu.Unlock()
	if len(f.sink.trades) != 1 {
		t.Errorf("Expected exactly 1 trade record, got %d", len(f.sink.trades))
	}
}
