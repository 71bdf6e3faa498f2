// Package database persists bars, positions and trades in PostgreSQL and keeps
// hot pipeline state in Redis.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// DSN builds the libpq style connection string
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger = logger.With().Str("component", "database").Logger()
	logger.Info().Str("database", cfg.Database).Msg("Connected to PostgreSQL")
	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

// Ping checks connectivity
func (db *DB) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS bars (
		symbol VARCHAR(16) NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		open DOUBLE PRECISION NOT NULL,
		high DOUBLE PRECISION NOT NULL,
		low DOUBLE PRECISION NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		volume DOUBLE PRECISION NOT NULL,
		sealed BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at TIMESTAMPTZ DEFAULT NOW(),
		PRIMARY KEY (symbol, start_time)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bars_start_time ON bars(start_time)`,

	`CREATE TABLE IF NOT EXISTS positions (
		id UUID PRIMARY KEY,
		setup_id VARCHAR(64),
		symbol VARCHAR(16) NOT NULL,
		direction VARCHAR(4) NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		stop_price DOUBLE PRECISION NOT NULL,
		original_stop DOUBLE PRECISION NOT NULL,
		target1 DOUBLE PRECISION NOT NULL,
		target2 DOUBLE PRECISION NOT NULL,
		total_contracts INTEGER NOT NULL,
		remaining_contracts INTEGER NOT NULL,
		realized_pnl NUMERIC(18, 4) NOT NULL DEFAULT 0,
		status VARCHAR(10) NOT NULL,
		target1_hit BOOLEAN NOT NULL DEFAULT FALSE,
		confidence DOUBLE PRECISION NOT NULL,
		grade VARCHAR(8) NOT NULL,
		opened_at TIMESTAMPTZ NOT NULL,
		closed_at TIMESTAMPTZ,
		exit_price DOUBLE PRECISION,
		exit_reason VARCHAR(16),
		updated_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status)`,
	`CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions(symbol)`,

	`CREATE TABLE IF NOT EXISTS partial_exits (
		id SERIAL PRIMARY KEY,
		position_id UUID NOT NULL REFERENCES positions(id) ON DELETE CASCADE,
		symbol VARCHAR(16) NOT NULL,
		direction VARCHAR(4) NOT NULL,
		contracts INTEGER NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		pnl NUMERIC(18, 4) NOT NULL,
		reason VARCHAR(16) NOT NULL,
		exited_at TIMESTAMPTZ NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS trades (
		position_id UUID PRIMARY KEY,
		setup_id VARCHAR(64),
		symbol VARCHAR(16) NOT NULL,
		direction VARCHAR(4) NOT NULL,
		entry_price DOUBLE PRECISION NOT NULL,
		exit_price DOUBLE PRECISION NOT NULL,
		total_contracts INTEGER NOT NULL,
		pnl NUMERIC(18, 4) NOT NULL,
		reason VARCHAR(16) NOT NULL,
		grade VARCHAR(8) NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		opened_at TIMESTAMPTZ NOT NULL,
		closed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_closed_at ON trades(closed_at)`,
}

// RunMigrations creates the schema
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Int("statements", len(migrations)).Msg("Running database migrations")
	for i, stmt := range migrations {
		if _, err := db.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}
	db.logger.Info().Msg("Database migrations completed")
	return nil
}
