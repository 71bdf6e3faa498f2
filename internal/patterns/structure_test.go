package patterns

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"sniper-trading-bot/internal/market"
)

var t0 = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

// flatBars returns n bars trading 99-101 around 100
func flatBars(n int) []market.Bar {
	bars := make([]market.Bar, n)
	for i := range bars {
		bars[i] = market.Bar{
			Symbol: "AAPL",
			Start:  t0.Add(time.Duration(i) * time.Minute),
			Open:   100, High: 101, Low: 99, Close: 100, Volume: 1000,
		}
	}
	return bars
}

func TestFindSwingsKeepsMostExtreme(t *testing.T) {
	bars := flatBars(20)
	bars[10].High = 105
	bars[7].Low = 95

	high, low := FindSwings(bars, 10)
	if high == nil || high.Price != 105 || high.Index != 10 {
		t.Errorf("Expected swing high 105 at 10, got %+v", high)
	}
	// bar 13 also qualifies as a local low at 99; the deeper 95 must win
	if low == nil || low.Price != 95 || low.Index != 7 {
		t.Errorf("Expected swing low 95 at 7, got %+v", low)
	}
}

func TestFindBreakUp(t *testing.T) {
	bars := flatBars(21)
	bars[10].High = 105
	bars[20].Close = 106
	bars[20].High = 106.5

	brk := FindBreak(bars, 10)
	if brk == nil {
		t.Fatal("Expected an upward break")
	}
	if brk.Direction != market.Bull || brk.Level != 105 || brk.Index != 20 {
		t.Errorf("Unexpected break %+v", brk)
	}
	if math.Abs(brk.Strength-1.0/105) > 1e-12 {
		t.Errorf("Expected strength %f, got %f", 1.0/105, brk.Strength)
	}
}

func TestFindBreakDown(t *testing.T) {
	bars := flatBars(21)
	bars[9].Low = 96
	bars[20].Close = 95.5
	bars[20].Low = 95

	brk := FindBreak(bars, 10)
	if brk == nil || brk.Direction != market.Bear {
		t.Fatalf("Expected a downward break, got %+v", brk)
	}
	if brk.Strength >= 0 {
		t.Errorf("Downward break strength should be negative, got %f", brk.Strength)
	}
}

func TestFindBreakIgnoresLatestBarInSwings(t *testing.T) {
	bars := flatBars(21)
	// latest bar makes the high itself; it must not become the level it breaks
	bars[20].High = 110
	bars[20].Close = 100.5

	if brk := FindBreak(bars, 10); brk != nil {
		t.Errorf("Expected no break, got %+v", brk)
	}
}

func TestFindBreakNeedsHistory(t *testing.T) {
	bars := flatBars(20)
	bars[19].Close = 200
	if brk := FindBreak(bars, 10); brk != nil {
		t.Error("Should NOT detect a break with fewer than 21 bars")
	}
}

func TestFindGapBullish(t *testing.T) {
	bars := flatBars(6)
	bars[2] = market.Bar{Open: 100.1, High: 100.40, Low: 100.0, Close: 100.3}
	bars[3] = market.Bar{Open: 100.3, High: 100.9, Low: 100.3, Close: 100.8}
	bars[4] = market.Bar{Open: 100.8, High: 101.0, Low: 100.60, Close: 100.9}

	gap := FindGapAfterBreak(bars, 5, market.Bull, 0.0015)
	if gap == nil {
		t.Fatal("Expected bullish gap")
	}
	if gap.Low != 100.40 || gap.High != 100.60 || gap.Index != 2 {
		t.Errorf("Unexpected gap %+v", gap)
	}
	if math.Abs(gap.Mid-100.5) > 1e-9 {
		t.Errorf("Expected mid 100.5, got %f", gap.Mid)
	}

	if gap := FindGapAfterBreak(bars, 5, market.Bull, 0.003); gap != nil {
		t.Errorf("Gap below threshold returned: %+v", gap)
	}
}

func TestFindGapBearishFirstWins(t *testing.T) {
	bars := flatBars(8)
	bars[1] = market.Bar{High: 101, Low: 100.0, Open: 100.8, Close: 100.1}
	bars[3] = market.Bar{High: 99.5, Low: 99.0, Open: 99.4, Close: 99.1}
	// second qualifying triple starting at 3
	bars[5] = market.Bar{High: 98.0, Low: 97.0, Open: 97.9, Close: 97.2}

	gap := FindGapAfterBreak(bars, 6, market.Bear, 0.001)
	if gap == nil {
		t.Fatal("Expected bearish gap")
	}
	if gap.Index != 1 || gap.Low != 99.5 || gap.High != 100.0 {
		t.Errorf("Expected first triple [99.5,100] at 1, got %+v", gap)
	}
}

func TestFindGapNeverReturnsInvalidZone(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 500; trial++ {
		bars := make([]market.Bar, 12)
		price := 100.0
		for i := range bars {
			price += rng.Float64()*2 - 1
			lo := price - rng.Float64()
			hi := price + rng.Float64()
			bars[i] = market.Bar{Open: price, High: hi, Low: lo, Close: price}
		}
		min := rng.Float64() * 0.01
		for _, dir := range []market.Direction{market.Bull, market.Bear} {
			gap := FindGapAfterBreak(bars, 11, dir, min)
			if gap == nil {
				continue
			}
			if gap.High <= gap.Low {
				t.Fatalf("Invalid zone %+v", gap)
			}
			if gap.SizeFraction < min {
				t.Fatalf("Gap fraction %f below minimum %f", gap.SizeFraction, min)
			}
		}
	}
}

func TestDetectUsesFixedThreshold(t *testing.T) {
	bars := flatBars(21)
	bars[10].High = 105
	bars[15] = market.Bar{Open: 103, High: 104.9, Low: 102.8, Close: 104}
	bars[16] = market.Bar{Open: 104, High: 105.2, Low: 103.9, Close: 105.1}
	bars[17] = market.Bar{Open: 105.1, High: 106.5, Low: 105.0, Close: 106.4}
	bars[18] = market.Bar{Open: 106.4, High: 107, Low: 106.0, Close: 106.8}
	bars[19] = market.Bar{Open: 106.8, High: 107, Low: 106.2, Close: 106.5}
	bars[20] = market.Bar{Open: 106.5, High: 107.2, Low: 106.3, Close: 107}

	d := Detect(bars, DetectorConfig{SwingLookback: 10, FixedMinGap: 0.005})
	if d == nil {
		t.Fatal("Expected a detection")
	}
	if d.Break.Direction != market.Bull || d.Gap.Low != 105.2 || d.Gap.High != 106.0 {
		t.Errorf("Unexpected detection %+v", d)
	}
}
