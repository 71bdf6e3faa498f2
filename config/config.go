package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	FeedConfig         FeedConfig         `json:"feed"`
	AggregatorConfig   AggregatorConfig   `json:"aggregator"`
	DetectorConfig     DetectorConfig     `json:"detector"`
	ConfirmationConfig ConfirmationConfig `json:"confirmation"`
	ScannerConfig      ScannerConfig      `json:"scanner"`
	RiskConfig         RiskConfig         `json:"risk"`
	SessionConfig      SessionConfig      `json:"session"`
	CircuitConfig      CircuitConfig      `json:"circuit_breaker"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	NotificationConfig NotificationConfig `json:"notifications"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	ServerConfig       ServerConfig       `json:"server"`
	AuthConfig         AuthConfig         `json:"auth"`
	VaultConfig        VaultConfig        `json:"vault"`
}

// FeedConfig configures the websocket trade stream
type FeedConfig struct {
	URL                    string        `json:"url"`
	APIKey                 string        `json:"api_key"`
	Symbols                []string      `json:"symbols"`
	MaxSymbolsPerSubscribe int           `json:"max_symbols_per_subscribe"`
	ReconnectDelay         time.Duration `json:"reconnect_delay"`
	DialTimeout            time.Duration `json:"dial_timeout"`
}

// AggregatorConfig configures tick to bar aggregation
type AggregatorConfig struct {
	BarInterval    time.Duration `json:"bar_interval"`
	FlushInterval  time.Duration `json:"flush_interval"`
	SpikeThreshold float64       `json:"spike_threshold"`
	ReanchorTicks  int           `json:"reanchor_ticks"`
	MaxPrice       float64       `json:"max_price"`
	HistoryBars    int           `json:"history_bars"`
}

// DetectorConfig configures break and gap detection
type DetectorConfig struct {
	SwingLookback      int     `json:"swing_lookback"`
	FixedMinGap        float64 `json:"fixed_min_gap"` // 0 means adaptive
	AverageVolumeBars  int     `json:"average_volume_bars"`
	InstitutionalRatio float64 `json:"institutional_ratio"`
	OpeningRangeMins   int     `json:"opening_range_minutes"`
}

// ConfirmationConfig configures the armed setup tracker
type ConfirmationConfig struct {
	MaxWaitBars int `json:"max_wait_bars"`
	MaxArmed    int `json:"max_armed"`
}

type ScannerConfig struct {
	Enabled        bool          `json:"enabled"`
	ScanInterval   time.Duration `json:"scan_interval"`
	WorkerCount    int           `json:"worker_count"`
	EnrichTimeout  time.Duration `json:"enrich_timeout"`
	SnapshotPeriod time.Duration `json:"snapshot_period"`
}

// RiskConfig configures sizing and stop placement
type RiskConfig struct {
	AccountBalance     float64 `json:"account_balance"`
	ContractMultiplier float64 `json:"contract_multiplier"`
	MaxContracts       int     `json:"max_contracts"`
	MinContracts       int     `json:"min_contracts"`
	StopMode           string  `json:"stop_mode"` // "gap" or "atr"
	GapStopBuffer      float64 `json:"gap_stop_buffer"`
	MinConfidence      float64 `json:"min_confidence"`
	MaxOpenPositions   int     `json:"max_open_positions"`
}

// SessionConfig holds exchange-local session times as HH:MM
type SessionConfig struct {
	EntryStart string `json:"entry_start"`
	EntryEnd   string `json:"entry_end"`
	ForceClose string `json:"force_close"`
}

type CircuitConfig struct {
	Enabled              bool    `json:"enabled"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	MaxDailyLoss         float64 `json:"max_daily_loss"`
}

type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_conns"`
}

// RedisConfig holds Redis configuration for state snapshots and enrichment
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

type NotificationConfig struct {
	Enabled  bool           `json:"enabled"`
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

type LoggingConfig struct {
	Level       string `json:"level"`
	Output      string `json:"output"`
	JSONFormat  bool   `json:"json_format"`
	IncludeFile bool   `json:"include_file"`
}

type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Host            string `json:"host"`
	Port            int    `json:"port"`
	AllowedOrigins  string `json:"allowed_origins"`
	ShutdownTimeout int    `json:"shutdown_timeout"`
}

// AuthConfig protects the admin endpoints
type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"jwt_secret"`
	AdminUser           string        `json:"admin_user"`
	AdminPasswordHash   string        `json:"admin_password_hash"` // bcrypt
	AccessTokenDuration time.Duration `json:"access_token_duration"`
}

type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`
	SecretPath string `json:"secret_path"`
}

// Default returns a configuration with every default filled in
func Default() *Config {
	return &Config{
		FeedConfig: FeedConfig{
			URL:                    "wss://ws.eodhistoricaldata.com/ws/us",
			MaxSymbolsPerSubscribe: 50,
			ReconnectDelay:         5 * time.Second,
			DialTimeout:            10 * time.Second,
		},
		AggregatorConfig: AggregatorConfig{
			BarInterval:    time.Minute,
			FlushInterval:  10 * time.Second,
			SpikeThreshold: 0.10,
			ReanchorTicks:  5,
			MaxPrice:       100000,
			HistoryBars:    390,
		},
		DetectorConfig: DetectorConfig{
			SwingLookback:      10,
			AverageVolumeBars:  20,
			InstitutionalRatio: 3.0,
			OpeningRangeMins:   15,
		},
		ConfirmationConfig: ConfirmationConfig{
			MaxWaitBars: 15,
			MaxArmed:    20,
		},
		ScannerConfig: ScannerConfig{
			Enabled:        true,
			ScanInterval:   5 * time.Second,
			WorkerCount:    8,
			EnrichTimeout:  2 * time.Second,
			SnapshotPeriod: 30 * time.Second,
		},
		RiskConfig: RiskConfig{
			AccountBalance:     25000,
			ContractMultiplier: 100,
			MaxContracts:       10,
			MinContracts:       2,
			StopMode:           "gap",
			GapStopBuffer:      0.20,
			MinConfidence:      0.50,
			MaxOpenPositions:   5,
		},
		SessionConfig: SessionConfig{
			EntryStart: "09:40",
			EntryEnd:   "15:45",
			ForceClose: "15:55",
		},
		CircuitConfig: CircuitConfig{
			Enabled:              true,
			MaxConsecutiveLosses: 3,
			MaxDailyLoss:         1000,
		},
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "trader",
			Database: "sniper",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		RedisConfig: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
		ServerConfig: ServerConfig{
			Enabled:         true,
			Host:            "0.0.0.0",
			Port:            8080,
			AllowedOrigins:  "*",
			ShutdownTimeout: 10,
		},
		AuthConfig: AuthConfig{
			AdminUser:           "admin",
			AccessTokenDuration: 15 * time.Minute,
		},
		VaultConfig: VaultConfig{
			Address:    "http://localhost:8200",
			MountPath:  "secret",
			SecretPath: "sniper-bot/credentials",
		},
	}
}

// Load reads .env, then config.json, then applies environment overrides
func Load() (*Config, error) {
	return LoadFrom("config.json")
}

// LoadFrom is Load with an explicit config file path
func LoadFrom(filename string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := Default()
	if err := loadFromFile(filename, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Feed
	cfg.FeedConfig.URL = getEnvOrDefault("FEED_URL", cfg.FeedConfig.URL)
	cfg.FeedConfig.APIKey = getEnvOrDefault("FEED_API_KEY", cfg.FeedConfig.APIKey)
	if symbols := os.Getenv("FEED_SYMBOLS"); symbols != "" {
		cfg.FeedConfig.Symbols = splitSymbols(symbols)
	}
	cfg.FeedConfig.MaxSymbolsPerSubscribe = getEnvIntOrDefault("FEED_MAX_SYMBOLS_PER_SUBSCRIBE", cfg.FeedConfig.MaxSymbolsPerSubscribe)
	cfg.FeedConfig.ReconnectDelay = getEnvDurationOrDefault("FEED_RECONNECT_DELAY", cfg.FeedConfig.ReconnectDelay)

	// Aggregator
	cfg.AggregatorConfig.FlushInterval = getEnvDurationOrDefault("AGG_FLUSH_INTERVAL", cfg.AggregatorConfig.FlushInterval)
	cfg.AggregatorConfig.SpikeThreshold = getEnvFloatOrDefault("AGG_SPIKE_THRESHOLD", cfg.AggregatorConfig.SpikeThreshold)
	cfg.AggregatorConfig.ReanchorTicks = getEnvIntOrDefault("AGG_REANCHOR_TICKS", cfg.AggregatorConfig.ReanchorTicks)

	// Detector / confirmation
	cfg.DetectorConfig.SwingLookback = getEnvIntOrDefault("DETECTOR_SWING_LOOKBACK", cfg.DetectorConfig.SwingLookback)
	cfg.DetectorConfig.FixedMinGap = getEnvFloatOrDefault("DETECTOR_FIXED_MIN_GAP", cfg.DetectorConfig.FixedMinGap)
	cfg.ConfirmationConfig.MaxWaitBars = getEnvIntOrDefault("CONFIRM_MAX_WAIT_BARS", cfg.ConfirmationConfig.MaxWaitBars)
	cfg.ConfirmationConfig.MaxArmed = getEnvIntOrDefault("CONFIRM_MAX_ARMED", cfg.ConfirmationConfig.MaxArmed)

	// Scanner
	cfg.ScannerConfig.Enabled = getEnvBoolOrDefault("SCANNER_ENABLED", cfg.ScannerConfig.Enabled)
	cfg.ScannerConfig.ScanInterval = getEnvDurationOrDefault("SCANNER_INTERVAL", cfg.ScannerConfig.ScanInterval)
	cfg.ScannerConfig.WorkerCount = getEnvIntOrDefault("SCANNER_WORKERS", cfg.ScannerConfig.WorkerCount)

	// Risk
	cfg.RiskConfig.AccountBalance = getEnvFloatOrDefault("ACCOUNT_BALANCE", cfg.RiskConfig.AccountBalance)
	cfg.RiskConfig.MaxContracts = getEnvIntOrDefault("RISK_MAX_CONTRACTS", cfg.RiskConfig.MaxContracts)
	cfg.RiskConfig.StopMode = getEnvOrDefault("RISK_STOP_MODE", cfg.RiskConfig.StopMode)
	cfg.RiskConfig.MinConfidence = getEnvFloatOrDefault("RISK_MIN_CONFIDENCE", cfg.RiskConfig.MinConfidence)

	// Circuit breaker
	cfg.CircuitConfig.Enabled = getEnvBoolOrDefault("CIRCUIT_BREAKER_ENABLED", cfg.CircuitConfig.Enabled)
	cfg.CircuitConfig.MaxConsecutiveLosses = getEnvIntOrDefault("CIRCUIT_MAX_CONSECUTIVE_LOSSES", cfg.CircuitConfig.MaxConsecutiveLosses)

	// Database
	cfg.DatabaseConfig.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.DatabaseConfig.Enabled)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Database)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	// Redis
	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	// Notifications
	cfg.NotificationConfig.Enabled = getEnvBoolOrDefault("NOTIFICATIONS_ENABLED", cfg.NotificationConfig.Enabled)
	cfg.NotificationConfig.Telegram.Enabled = getEnvBoolOrDefault("TELEGRAM_ENABLED", cfg.NotificationConfig.Telegram.Enabled)
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
	cfg.NotificationConfig.Discord.Enabled = getEnvBoolOrDefault("DISCORD_ENABLED", cfg.NotificationConfig.Discord.Enabled)
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)

	// Logging
	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
	cfg.LoggingConfig.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.LoggingConfig.IncludeFile)

	// Server
	cfg.ServerConfig.Enabled = getEnvBoolOrDefault("WEB_ENABLED", cfg.ServerConfig.Enabled)
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	cfg.ServerConfig.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.ServerConfig.AllowedOrigins)

	// Auth
	cfg.AuthConfig.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.AuthConfig.Enabled)
	cfg.AuthConfig.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.AuthConfig.JWTSecret)
	cfg.AuthConfig.AdminUser = getEnvOrDefault("AUTH_ADMIN_USER", cfg.AuthConfig.AdminUser)
	cfg.AuthConfig.AdminPasswordHash = getEnvOrDefault("AUTH_ADMIN_PASSWORD_HASH", cfg.AuthConfig.AdminPasswordHash)
	cfg.AuthConfig.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", cfg.AuthConfig.AccessTokenDuration)

	// Vault
	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)
}

// Validate rejects configurations the pipeline cannot run with
func (c *Config) Validate() error {
	if c.AggregatorConfig.SpikeThreshold <= 0 {
		return fmt.Errorf("aggregator spike_threshold must be positive")
	}
	if c.AggregatorConfig.BarInterval <= 0 {
		return fmt.Errorf("aggregator bar_interval must be positive")
	}
	if c.DetectorConfig.SwingLookback < 2 {
		return fmt.Errorf("detector swing_lookback must be at least 2")
	}
	if c.ConfirmationConfig.MaxWaitBars <= 0 || c.ConfirmationConfig.MaxArmed <= 0 {
		return fmt.Errorf("confirmation max_wait_bars and max_armed must be positive")
	}
	if c.RiskConfig.MinContracts%2 != 0 || c.RiskConfig.MaxContracts%2 != 0 {
		return fmt.Errorf("risk min_contracts and max_contracts must be even, got %d and %d", c.RiskConfig.MinContracts, c.RiskConfig.MaxContracts)
	}
	if c.RiskConfig.MaxContracts < c.RiskConfig.MinContracts {
		return fmt.Errorf("risk max_contracts %d below min_contracts %d", c.RiskConfig.MaxContracts, c.RiskConfig.MinContracts)
	}
	if c.RiskConfig.StopMode != "gap" && c.RiskConfig.StopMode != "atr" {
		return fmt.Errorf("risk stop_mode must be gap or atr, got %q", c.RiskConfig.StopMode)
	}
	if c.FeedConfig.MaxSymbolsPerSubscribe <= 0 {
		return fmt.Errorf("feed max_symbols_per_subscribe must be positive")
	}
	if c.AuthConfig.Enabled && c.AuthConfig.JWTSecret == "" {
		return fmt.Errorf("auth enabled without jwt_secret")
	}
	return nil
}

// DSN builds the Postgres connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

func loadFromFile(filename string, cfg *Config) error {
	file, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	if err := json.Unmarshal(file, cfg); err != nil {
		return fmt.Errorf("error parsing config file: %w", err)
	}

	return nil
}

func splitSymbols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
