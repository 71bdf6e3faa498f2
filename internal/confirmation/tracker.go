package confirmation

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sniper-trading-bot/internal/events"
	"sniper-trading-bot/internal/market"
	"sniper-trading-bot/internal/metrics"
	"sniper-trading-bot/internal/patterns"
)

// Status of an armed setup; transitions are waiting→confirmed or waiting→expired
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusConfirmed Status = "confirmed"
	StatusExpired   Status = "expired"
)

var (
	ErrAlreadyArmed    = errors.New("setup already armed for symbol and direction")
	ErrArmedCapReached = errors.New("armed setup cap reached")
	ErrAlreadyResolved = errors.New("setup already resolved")
	ErrInvalidSetup    = errors.New("invalid setup")
)

// ArmedSetup is a gap waiting for a confirmation candle
type ArmedSetup struct {
	ID         string                  `json:"id"`
	Symbol     string                  `json:"symbol"`
	Direction  market.Direction        `json:"direction"`
	Gap        patterns.Gap            `json:"gap"`
	Break      patterns.StructureBreak `json:"break"`
	ArmedAt    time.Time               `json:"armed_at"` // start of the bar that armed it
	BarsWaited int                     `json:"bars_waited"`
	Status     Status                  `json:"status"`
	ResolvedAt time.Time               `json:"resolved_at,omitempty"`
}

// Confirmation is produced exactly once per confirmed setup
type Confirmation struct {
	Setup ArmedSetup
	Bar   market.Bar
	Tier  Tier
	Entry float64
}

// Confirm moves a waiting setup to confirmed
func (s *ArmedSetup) Confirm(bar market.Bar, tier Tier) (Confirmation, error) {
	if s.Status != StatusWaiting {
		return Confirmation{}, fmt.Errorf("confirm %s: %w (status %s)", s.ID, ErrAlreadyResolved, s.Status)
	}
	s.Status = StatusConfirmed
	s.ResolvedAt = bar.Start
	return Confirmation{Setup: *s, Bar: bar, Tier: tier, Entry: bar.Close}, nil
}

// Expire moves a waiting setup to expired
func (s *ArmedSetup) Expire(at time.Time) error {
	if s.Status != StatusWaiting {
		return fmt.Errorf("expire %s: %w (status %s)", s.ID, ErrAlreadyResolved, s.Status)
	}
	s.Status = StatusExpired
	s.ResolvedAt = at
	return nil
}

// TrackerConfig configures the tracker
type TrackerConfig struct {
	MaxWaitBars int
	MaxArmed    int
}

type setupKey struct {
	symbol    string
	direction market.Direction
}

// Tracker owns every armed setup. One per (symbol, direction), first arrival wins.
type Tracker struct {
	mu     sync.Mutex
	config TrackerConfig
	setups map[setupKey]*ArmedSetup
	bus    events.Publisher
	logger zerolog.Logger
}

// NewTracker creates a tracker
func NewTracker(cfg TrackerConfig, bus events.Publisher, logger zerolog.Logger) *Tracker {
	if cfg.MaxWaitBars <= 0 {
		cfg.MaxWaitBars = 15
	}
	if cfg.MaxArmed <= 0 {
		cfg.MaxArmed = 20
	}
	if bus == nil {
		bus = events.Discard
	}
	return &Tracker{
		config: cfg,
		setups: make(map[setupKey]*ArmedSetup),
		bus:    bus,
		logger: logger.With().Str("component", "ConfirmationTracker").Logger(),
	}
}

// Arm registers a new setup for the gap. armedAt is the start of the break bar;
// only later bars count toward confirmation or timeout.
func (t *Tracker) Arm(symbol string, gap patterns.Gap, brk patterns.StructureBreak, armedAt time.Time) (ArmedSetup, error) {
	if symbol == "" || !gap.Direction.Valid() || gap.High <= gap.Low {
		return ArmedSetup{}, ErrInvalidSetup
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := setupKey{symbol: symbol, direction: gap.Direction}
	if existing, ok := t.setups[key]; ok {
		metrics.SetupEvents.WithLabelValues("duplicate").Inc()
		return *existing, ErrAlreadyArmed
	}
	if len(t.setups) >= t.config.MaxArmed {
		metrics.SetupEvents.WithLabelValues("capped").Inc()
		t.logger.Warn().Str("symbol", symbol).Int("armed", len(t.setups)).Msg("Armed cap reached, dropping setup")
		return ArmedSetup{}, ErrArmedCapReached
	}

	setup := &ArmedSetup{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		Direction: gap.Direction,
		Gap:       gap,
		Break:     brk,
		ArmedAt:   armedAt,
		Status:    StatusWaiting,
	}
	t.setups[key] = setup
	metrics.SetupEvents.WithLabelValues("armed").Inc()
	metrics.ArmedSetups.Set(float64(len(t.setups)))

	t.logger.Info().
		Str("setup_id", setup.ID).
		Str("symbol", symbol).
		Str("direction", string(gap.Direction)).
		Float64("zone_low", gap.Low).
		Float64("zone_high", gap.High).
		Msg("Setup armed")
	events.PublishSetupArmed(t.bus, setup.ID, symbol, string(gap.Direction), gap.Low, gap.High)
	return *setup, nil
}

// OnBar advances every waiting setup of the symbol by one sealed bar
func (t *Tracker) OnBar(symbol string, bar market.Bar) []Confirmation {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Confirmation
	for _, dir := range []market.Direction{market.Bull, market.Bear} {
		key := setupKey{symbol: symbol, direction: dir}
		setup, ok := t.setups[key]
		if !ok || !bar.Start.After(setup.ArmedAt) {
			continue
		}

		setup.BarsWaited++

		if bar.Overlaps(setup.Gap.Low, setup.Gap.High) {
			if tier := Classify(bar, dir); tier != TierNone {
				conf, err := setup.Confirm(bar, tier)
				if err != nil {
					t.logger.Error().Err(err).Str("setup_id", setup.ID).Msg("Confirmation rejected")
					delete(t.setups, key)
					continue
				}
				delete(t.setups, key)
				metrics.SetupEvents.WithLabelValues("confirmed").Inc()
				t.logger.Info().
					Str("setup_id", setup.ID).
					Str("symbol", symbol).
					Str("tier", string(tier)).
					Float64("entry", conf.Entry).
					Int("bars_waited", setup.BarsWaited).
					Msg("Setup confirmed")
				events.PublishSetupConfirmed(t.bus, setup.ID, symbol, string(dir), string(tier), conf.Entry, setup.BarsWaited)
				out = append(out, conf)
				continue
			}
		}

		if setup.BarsWaited >= t.config.MaxWaitBars {
			_ = setup.Expire(bar.Start)
			delete(t.setups, key)
			metrics.SetupEvents.WithLabelValues("expired").Inc()
			t.logger.Info().
				Str("setup_id", setup.ID).
				Str("symbol", symbol).
				Int("bars_waited", setup.BarsWaited).
				Msg("Setup expired")
			events.PublishSetupExpired(t.bus, setup.ID, symbol, string(dir), setup.BarsWaited)
		}
	}
	metrics.ArmedSetups.Set(float64(len(t.setups)))
	return out
}

// IsArmed reports whether the symbol has a waiting setup in direction
func (t *Tracker) IsArmed(symbol string, dir market.Direction) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.setups[setupKey{symbol: symbol, direction: dir}]
	return ok
}

// Active returns copies of every waiting setup ordered by symbol then direction
func (t *Tracker) Active() []ArmedSetup {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]ArmedSetup, 0, len(t.setups))
	for _, s := range t.setups {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Direction < out[j].Direction
	})
	return out
}

// Restore reloads waiting setups from a snapshot, honoring the cap
func (t *Tracker) Restore(setups []ArmedSetup) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	restored := 0
	for _, s := range setups {
		if s.Status != StatusWaiting || len(t.setups) >= t.config.MaxArmed {
			continue
		}
		key := setupKey{symbol: s.Symbol, direction: s.Direction}
		if _, ok := t.setups[key]; ok {
			continue
		}
		setup := s
		t.setups[key] = &setup
		restored++
	}
	metrics.ArmedSetups.Set(float64(len(t.setups)))
	return restored
}
