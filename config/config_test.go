package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.AggregatorConfig.SpikeThreshold != 0.10 {
		t.Errorf("Expected spike threshold 0.10, got %f", cfg.AggregatorConfig.SpikeThreshold)
	}
	if cfg.ConfirmationConfig.MaxWaitBars != 15 {
		t.Errorf("Expected max wait 15 bars, got %d", cfg.ConfirmationConfig.MaxWaitBars)
	}
	if cfg.FeedConfig.ReconnectDelay != 5*time.Second {
		t.Errorf("Expected reconnect delay 5s, got %s", cfg.FeedConfig.ReconnectDelay)
	}
	if cfg.RiskConfig.StopMode != "gap" {
		t.Errorf("Expected gap stop mode, got %s", cfg.RiskConfig.StopMode)
	}
}

func TestLoadFromFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"risk":{"stop_mode":"atr","max_contracts":20},"feed":{"symbols":["AAPL","MSFT"]}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RISK_MAX_CONTRACTS", "6")
	t.Setenv("FEED_SYMBOLS", "nvda, tsla ,")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if cfg.RiskConfig.StopMode != "atr" {
		t.Errorf("Expected atr stop mode from file, got %s", cfg.RiskConfig.StopMode)
	}
	if cfg.RiskConfig.MaxContracts != 6 {
		t.Errorf("Expected env override 6 contracts, got %d", cfg.RiskConfig.MaxContracts)
	}
	if len(cfg.FeedConfig.Symbols) != 2 || cfg.FeedConfig.Symbols[0] != "NVDA" || cfg.FeedConfig.Symbols[1] != "TSLA" {
		t.Errorf("Expected [NVDA TSLA], got %v", cfg.FeedConfig.Symbols)
	}
	// untouched defaults survive a partial file
	if cfg.AggregatorConfig.FlushInterval != 10*time.Second {
		t.Errorf("Expected default flush interval, got %s", cfg.AggregatorConfig.FlushInterval)
	}
}

func TestValidateRejectsUnknownStopMode(t *testing.T) {
	cfg := Default()
	cfg.RiskConfig.StopMode = "percent"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for unknown stop mode")
	}
}

// TestValidateContractBounds tests that odd or inverted contract bounds are rejected
func TestValidateContractBounds(t *testing.T) {
	cfg := Default()
	if cfg.AggregatorConfig.ReanchorTicks != 5 {
		t.Errorf("Expected default reanchor ticks 5, got %d", cfg.AggregatorConfig.ReanchorTicks)
	}
	cfg.RiskConfig.MinContracts = 3
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for an odd min_contracts")
	}

	cfg = Default()
	cfg.RiskConfig.MinContracts = 4
	cfg.RiskConfig.MaxContracts = 2
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for max_contracts below min_contracts")
	}
}

func TestInvalidJSONFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("Expected parse error")
	}
}

func TestDSN(t *testing.T) {
	db := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: 5432, Database: "d", SSLMode: "disable"}
	if got := db.DSN(); got != "postgres://u:p@h:5432/d?sslmode=disable" {
		t.Errorf("Unexpected DSN %s", got)
	}
}
