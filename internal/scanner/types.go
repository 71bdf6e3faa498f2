package scanner

import (
	"time"

	"sniper-trading-bot/internal/confluence"
	"sniper-trading-bot/internal/market"
	"sniper-trading-bot/internal/patterns"
	"sniper-trading-bot/internal/risk"
)

// Outcome of grading one confirmation
type Outcome string

const (
	OutcomeOpened      Outcome = "opened"
	OutcomeRejected    Outcome = "rejected"      // composer demoted below A-
	OutcomeOutOfWindow Outcome = "out_of_window" // confirmed outside the entry window
	OutcomeInvalidRisk Outcome = "invalid_risk"  // levels could not be placed
	OutcomeOpenRefused Outcome = "open_refused"  // lifecycle manager said no
)

// SignalResult records what happened to one confirmed setup
type SignalResult struct {
	SetupID    string            `json:"setup_id"`
	Symbol     string            `json:"symbol"`
	Direction  market.Direction  `json:"direction"`
	Entry      float64           `json:"entry"`
	Levels     risk.Levels       `json:"levels"`
	Grade      confluence.Result `json:"grade"`
	Outcome    Outcome           `json:"outcome"`
	PositionID string            `json:"position_id,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	At         time.Time         `json:"at"`
}

// ScanResult aggregates one scan cycle
type ScanResult struct {
	ScanID         string         `json:"scan_id"`
	StartTime      time.Time      `json:"start_time"`
	EndTime        time.Time      `json:"end_time"`
	Duration       time.Duration  `json:"duration"`
	SymbolsScanned int            `json:"symbols_scanned"`
	BarsProcessed  int            `json:"bars_processed"`
	Armed          int            `json:"armed"`
	Signals        []SignalResult `json:"signals"`
}

// ScannerConfig holds scanner configuration
type ScannerConfig struct {
	Enabled       bool
	ScanInterval  time.Duration
	WorkerCount   int
	EnrichTimeout time.Duration
	ATRPeriod     int
	RecentSignals int // how many SignalResults to keep for the API
	Window        market.Window
	Detector      patterns.DetectorConfig
	Alignment     confluence.AlignmentConfig
	Levels        risk.LevelsConfig
}

// DefaultScannerConfig returns a 5 s cycle with 8 workers inside 09:40-15:45 ET
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{
		Enabled:       true,
		ScanInterval:  5 * time.Second,
		WorkerCount:   8,
		EnrichTimeout: 2 * time.Second,
		ATRPeriod:     14,
		RecentSignals: 100,
		Window: market.Window{
			Start: market.Clock{Hour: 9, Minute: 40},
			End:   market.Clock{Hour: 15, Minute: 45},
		},
		Detector:  patterns.DetectorConfig{SwingLookback: patterns.DefaultSwingLookback},
		Alignment: confluence.DefaultAlignmentConfig(),
		Levels:    risk.LevelsConfig{Mode: risk.StopModeGap, GapBuffer: 0.20},
	}
}
