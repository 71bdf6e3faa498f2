package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sniper-trading-bot/internal/events"
	"sniper-trading-bot/internal/logging"
	"sniper-trading-bot/internal/market"
)

type memoryBarStore struct {
	mu      sync.Mutex
	saved   []market.Bar
	upserts []market.Bar
	failing bool
}

func (s *memoryBarStore) SaveBars(ctx context.Context, bars []market.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("store down")
	}
	s.saved = append(s.saved, bars...)
	return nil
}

func (s *memoryBarStore) UpsertOpenBar(ctx context.Context, bar market.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("store down")
	}
	s.upserts = append(s.upserts, bar)
	return nil
}

var session = time.Date(2024, 1, 2, 14, 30, 0, 0, time.UTC)

func ms(offset time.Duration) int64 {
	return session.Add(offset).UnixMilli()
}

func newTestAggregator(store BarStore) (*Aggregator, *events.Recorder) {
	rec := &events.Recorder{}
	return NewAggregator(DefaultAggregatorConfig(), store, rec, logging.Nop()), rec
}

func TestIngestBuildsOHLCV(t *testing.T) {
	agg, _ := newTestAggregator(nil)

	prices := []float64{100, 101.5, 99.2, 100.7}
	sizes := []float64{10, 5, 7, 3}
	for i := range prices {
		agg.IngestTick("AAPL", prices[i], sizes[i], ms(time.Duration(i)*10*time.Second))
	}

	bar, ok := agg.OpenBar("AAPL")
	if !ok {
		t.Fatal("Expected open bar")
	}
	if bar.Open != 100 || bar.High != 101.5 || bar.Low != 99.2 || bar.Close != 100.7 {
		t.Errorf("Unexpected OHLC %+v", bar)
	}
	if bar.Volume != 25 {
		t.Errorf("Expected volume 25, got %f", bar.Volume)
	}
	if !bar.Start.Equal(session) {
		t.Errorf("Expected bucket %s, got %s", session, bar.Start)
	}
}

func TestIngestValidityGate(t *testing.T) {
	agg, rec := newTestAggregator(nil)

	tests := []struct {
		price float64
		size  float64
	}{
		{0, 1},
		{-5, 1},
		{100000.01, 1},
		{50, -1},
	}
	for _, tt := range tests {
		if got := agg.IngestTick("AAPL", tt.price, tt.size, ms(0)); got != TickRejectedInvalid {
			t.Errorf("price %f size %f: expected invalid, got %s", tt.price, tt.size, got)
		}
	}
	if got := agg.IngestTick("AAPL", 100000, 0, ms(0)); got != TickOpened {
		t.Errorf("Upper bound price should be accepted, got %s", got)
	}
	if rec.Count(events.EventTickRejected) != len(tests) {
		t.Errorf("Expected %d rejection events, got %d", len(tests), rec.Count(events.EventTickRejected))
	}
}

func TestSpikeRejectedWithoutChangingBar(t *testing.T) {
	agg, _ := newTestAggregator(nil)
	agg.IngestTick("TSLA", 200, 1, ms(0))

	if got := agg.IngestTick("TSLA", 221, 1, ms(time.Second)); got != TickRejectedSpike {
		t.Fatalf("Expected spike rejection, got %s", got)
	}
	if got := agg.IngestTick("TSLA", 179, 1, ms(2*time.Second)); got != TickRejectedSpike {
		t.Fatalf("Expected spike rejection, got %s", got)
	}
	// exactly 10% is allowed
	if got := agg.IngestTick("TSLA", 220, 1, ms(3*time.Second)); got != TickMerged {
		t.Fatalf("Expected 10%% move to merge, got %s", got)
	}

	bar, _ := agg.OpenBar("TSLA")
	if bar.High != 220 || bar.Low != 200 || bar.Volume != 2 {
		t.Errorf("Spike altered bar: %+v", bar)
	}
}

// TestOvernightGapRollsOver tests that a gap across sessions seals the stale bar
func TestOvernightGapRollsOver(t *testing.T) {
	agg, _ := newTestAggregator(nil)
	dayOne := time.Date(2024, 3, 4, 20, 59, 0, 0, time.UTC)
	dayTwo := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	agg.IngestTick("AAPL", 100, 10, dayOne.UnixMilli())
	if got := agg.IngestTick("AAPL", 115, 10, dayTwo.UnixMilli()); got != TickRolledOver {
		t.Fatalf("Expected rollover across a 15%% overnight gap, got %s", got)
	}
	accepted := 0
	for i := 1; i <= 120; i++ {
		price := 115 + float64(i%5)*0.1
		if agg.IngestTick("AAPL", price, 10, dayTwo.Add(time.Duration(i)*time.Minute).UnixMilli()).Accepted() {
			accepted++
		}
	}
	if accepted != 120 {
		t.Errorf("Expected 120 day-two ticks accepted, got %d", accepted)
	}

	bars := agg.Bars("AAPL")
	if len(bars) != 121 {
		t.Fatalf("Expected 121 sealed bars, got %d", len(bars))
	}
	if bars[0].Close != 100 || !bars[0].Start.Equal(dayOne) {
		t.Errorf("Expected the day-one bar sealed unchanged, got %+v", bars[0])
	}
	if px, _ := agg.LastPrice("AAPL"); px < 115 {
		t.Errorf("Expected last price to follow day two, got %f", px)
	}
}

// TestSpikeGateAcrossBuckets tests the gate on the next bucket and after a halt
func TestSpikeGateAcrossBuckets(t *testing.T) {
	agg, _ := newTestAggregator(nil)
	agg.IngestTick("NVDA", 800, 1, ms(0))

	if got := agg.IngestTick("NVDA", 900, 1, ms(time.Minute)); got != TickRejectedSpike {
		t.Errorf("Expected spike rejection in the next bucket, got %s", got)
	}
	if got := agg.IngestTick("NVDA", 900, 1, ms(10*time.Minute)); got != TickRolledOver {
		t.Errorf("Expected rollover after a halt, got %s", got)
	}
}

// TestConsistentPrintsMoveSpikeReference tests recovery from a bad first print
func TestConsistentPrintsMoveSpikeReference(t *testing.T) {
	agg, _ := newTestAggregator(nil)
	agg.IngestTick("AMD", 50, 1, ms(0))

	for i := 1; i < 5; i++ {
		if got := agg.IngestTick("AMD", 100+float64(i)*0.1, 1, ms(time.Duration(i)*time.Second)); got != TickRejectedSpike {
			t.Fatalf("tick %d: expected spike rejection, got %s", i, got)
		}
	}
	if got := agg.IngestTick("AMD", 100.5, 2, ms(5*time.Second)); got != TickOpened {
		t.Fatalf("Expected the fifth consistent print to restart the bar, got %s", got)
	}
	bar, _ := agg.OpenBar("AMD")
	if bar.Open != 100.5 || bar.Low != 100.5 || bar.Volume != 2 {
		t.Errorf("Expected bar restarted at 100.5, got %+v", bar)
	}
	if got := agg.IngestTick("AMD", 100.8, 1, ms(6*time.Second)); got != TickMerged {
		t.Errorf("Expected normal merge after the move, got %s", got)
	}
}

func TestRolloverSealsAndDropsLateTicks(t *testing.T) {
	store := &memoryBarStore{}
	agg, rec := newTestAggregator(store)

	agg.IngestTick("MSFT", 400, 1, ms(5*time.Second))
	agg.IngestTick("MSFT", 401, 2, ms(50*time.Second))
	if got := agg.IngestTick("MSFT", 402, 3, ms(61*time.Second)); got != TickRolledOver {
		t.Fatalf("Expected rollover, got %s", got)
	}
	if got := agg.IngestTick("MSFT", 401, 1, ms(59*time.Second)); got != TickRejectedLate {
		t.Errorf("Expected late tick rejection, got %s", got)
	}

	bars := agg.Bars("MSFT")
	if len(bars) != 1 {
		t.Fatalf("Expected 1 sealed bar, got %d", len(bars))
	}
	if bars[0].Close != 401 || bars[0].Volume != 3 {
		t.Errorf("Sealed bar changed after rollover: %+v", bars[0])
	}
	if rec.Count(events.EventBarSealed) != 1 {
		t.Errorf("Expected 1 sealed event, got %d", rec.Count(events.EventBarSealed))
	}

	select {
	case b := <-agg.Sealed():
		if !b.Start.Equal(session) {
			t.Errorf("Unexpected sealed bar start %s", b.Start)
		}
	default:
		t.Error("Expected sealed bar on channel")
	}
}

func TestFlushPersistsSealedOnceAndUpsertsOpen(t *testing.T) {
	store := &memoryBarStore{}
	agg, _ := newTestAggregator(store)

	agg.IngestTick("AAPL", 100, 1, ms(0))
	agg.IngestTick("AAPL", 101, 1, ms(time.Minute))
	agg.IngestTick("AAPL", 102, 1, ms(2*time.Minute))

	if err := agg.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(store.saved) != 2 {
		t.Errorf("Expected 2 sealed bars saved, got %d", len(store.saved))
	}
	if len(store.upserts) != 1 || store.upserts[0].Close != 102 {
		t.Errorf("Expected open bar upsert at 102, got %+v", store.upserts)
	}

	if err := agg.Flush(context.Background()); err != nil {
		t.Fatalf("Second flush failed: %v", err)
	}
	if len(store.saved) != 2 {
		t.Errorf("Sealed bars must not be persisted twice, got %d", len(store.saved))
	}
}

func TestFlushFailureRequeues(t *testing.T) {
	store := &memoryBarStore{failing: true}
	agg, _ := newTestAggregator(store)

	agg.IngestTick("AAPL", 100, 1, ms(0))
	agg.IngestTick("AAPL", 101, 1, ms(time.Minute))

	if err := agg.Flush(context.Background()); err == nil {
		t.Fatal("Expected flush error")
	}

	store.failing = false
	if err := agg.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(store.saved) != 1 {
		t.Errorf("Expected requeued bar to be saved, got %d", len(store.saved))
	}
}

func TestConcurrentIngestAcrossSymbols(t *testing.T) {
	agg, _ := newTestAggregator(nil)
	symbols := []string{"AAPL", "MSFT", "NVDA", "AMD"}

	var wg sync.WaitGroup
	for _, sym := range symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				agg.IngestTick(sym, 50, 1, ms(time.Duration(i)*time.Second))
			}
		}(sym)
	}
	wg.Wait()

	for _, sym := range symbols {
		total := 0.0
		for _, b := range agg.Bars(sym) {
			total += b.Volume
		}
		open, _ := agg.OpenBar(sym)
		total += open.Volume
		if total != 100 {
			t.Errorf("%s: expected volume 100, got %f", sym, total)
		}
	}
}
