package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	return uuid.New().String()
}

type ctxKey struct{}

// FromContext retrieves the logger attached to ctx, or the default logger
func FromContext(ctx context.Context) zerolog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(zerolog.Logger); ok {
		return l
	}
	return Default()
}

// NewContext attaches the logger to ctx
func NewContext(ctx context.Context, l zerolog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// SymbolContext creates a logger context for per-symbol work
func SymbolContext(l zerolog.Logger, symbol string) zerolog.Logger {
	return l.With().Str("symbol", symbol).Logger()
}

// SetupContext creates a logger context for an armed setup
func SetupContext(l zerolog.Logger, setupID, symbol, direction string) zerolog.Logger {
	return l.With().
		Str("setup_id", setupID).
		Str("symbol", symbol).
		Str("direction", direction).
		Logger()
}

// PositionContext creates a logger context for position operations
func PositionContext(l zerolog.Logger, positionID, symbol, direction string, entryPrice float64) zerolog.Logger {
	return l.With().
		Str("position_id", positionID).
		Str("symbol", symbol).
		Str("direction", direction).
		Float64("entry_price", entryPrice).
		Logger()
}
