// Package market holds the value types shared by the signal pipeline.
package market

import (
	"fmt"
	"time"
)

// Direction of a setup or position
type Direction string

const (
	Bull Direction = "bull"
	Bear Direction = "bear"
)

// Sign returns +1 for bull and -1 for bear
func (d Direction) Sign() float64 {
	if d == Bear {
		return -1
	}
	return 1
}

// Opposite returns the other direction
func (d Direction) Opposite() Direction {
	if d == Bear {
		return Bull
	}
	return Bear
}

// Valid reports whether d is a known direction
func (d Direction) Valid() bool {
	return d == Bull || d == Bear
}

// ParseDirection accepts bull/bear and the common aliases used by callers
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "bull", "up", "long", "BULL", "LONG":
		return Bull, nil
	case "bear", "down", "short", "BEAR", "SHORT":
		return Bear, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// Tick is a single trade print from the feed
type Tick struct {
	Symbol      string
	Price       float64
	Size        float64
	TimestampMs int64
}

// Time returns the tick timestamp
func (t Tick) Time() time.Time {
	return time.UnixMilli(t.TimestampMs).UTC()
}

// Bar is a fixed-duration OHLCV candle
type Bar struct {
	Symbol string    `json:"symbol"`
	Start  time.Time `json:"start"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Range is high minus low
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// Body is the absolute open/close distance
func (b Bar) Body() float64 {
	if b.Close >= b.Open {
		return b.Close - b.Open
	}
	return b.Open - b.Close
}

// UpperWick is the distance from the body top to the high
func (b Bar) UpperWick() float64 {
	top := b.Open
	if b.Close > top {
		top = b.Close
	}
	return b.High - top
}

// LowerWick is the distance from the low to the body bottom
func (b Bar) LowerWick() float64 {
	bottom := b.Open
	if b.Close < bottom {
		bottom = b.Close
	}
	return bottom - b.Low
}

// Bullish reports a close above the open
func (b Bar) Bullish() bool { return b.Close > b.Open }

// Bearish reports a close below the open
func (b Bar) Bearish() bool { return b.Close < b.Open }

// Overlaps reports whether the bar range intersects [low, high]
func (b Bar) Overlaps(low, high float64) bool {
	return b.Low <= high && b.High >= low
}

// Merge folds one trade into the bar
func (b *Bar) Merge(price, size float64) {
	if price > b.High {
		b.High = price
	}
	if price < b.Low {
		b.Low = price
	}
	b.Close = price
	b.Volume += size
}

// NewBar opens a bar seeded by a single trade
func NewBar(symbol string, start time.Time, price, size float64) Bar {
	return Bar{
		Symbol: symbol,
		Start:  start,
		Open:   price,
		High:   price,
		Low:    price,
		Close:  price,
		Volume: size,
	}
}
