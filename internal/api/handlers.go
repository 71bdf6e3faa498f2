package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"sniper-trading-bot/internal/auth"
	"sniper-trading-bot/internal/confluence"
	"sniper-trading-bot/internal/feed"
	"sniper-trading-bot/internal/positions"
)

// handleHealth reports liveness and the state of the backing stores
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.bot.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "degraded",
			"error":     err.Error(),
			"timestamp": time.Now().UTC(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

// handleStatus returns the bot status
func (s *Server) handleStatus(c *gin.Context) {
	status := s.bot.Status()
	status["ws_clients"] = s.hub.ClientCount()
	successResponse(c, status)
}

// handleGetPositions returns open positions
func (s *Server) handleGetPositions(c *gin.Context) {
	successResponse(c, s.bot.OpenPositions())
}

// handleGetClosedPositions returns recently closed positions held in memory
func (s *Server) handleGetClosedPositions(c *gin.Context) {
	successResponse(c, s.bot.ClosedPositions())
}

// handleGetTrades returns persisted trade history
func (s *Server) handleGetTrades(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	trades, err := s.bot.RecentTrades(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusServiceUnavailable, err.Error())
		return
	}
	successResponse(c, trades)
}

// handleGetSetups returns setups waiting for confirmation
func (s *Server) handleGetSetups(c *gin.Context) {
	successResponse(c, s.bot.ArmedSetups())
}

// handleGetSignals returns the latest graded signals and their outcomes
func (s *Server) handleGetSignals(c *gin.Context) {
	successResponse(c, s.bot.RecentSignals())
}

// handleGetSymbols returns the subscribed symbols
func (s *Server) handleGetSymbols(c *gin.Context) {
	successResponse(c, s.bot.Symbols())
}

type addSymbolsRequest struct {
	Symbols []string `json:"symbols" binding:"required"`
}

// handleAddSymbols subscribes additional symbols at runtime
func (s *Server) handleAddSymbols(c *gin.Context) {
	var req addSymbolsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	var symbols []string
	for _, sym := range req.Symbols {
		if sym = feed.NormalizeSymbol(sym); sym != "" {
			symbols = append(symbols, sym)
		}
	}
	if len(symbols) == 0 {
		errorResponse(c, http.StatusBadRequest, "No valid symbols")
		return
	}

	added := s.bot.AddSymbols(symbols...)
	s.logger.Info().
		Str("admin", c.GetString(auth.ContextKeyUsername)).
		Strs("added", added).
		Msg("Symbols added via API")
	successResponse(c, gin.H{"added": added, "symbols": s.bot.Symbols()})
}

// handleClosePosition closes an open position at the last price
func (s *Server) handleClosePosition(c *gin.Context) {
	id := c.Param("id")
	pos, err := s.bot.ClosePosition(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, positions.ErrPositionNotFound):
			errorResponse(c, http.StatusNotFound, err.Error())
		case errors.Is(err, positions.ErrPositionClosed):
			errorResponse(c, http.StatusConflict, err.Error())
		default:
			errorResponse(c, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.logger.Info().
		Str("admin", c.GetString(auth.ContextKeyUsername)).
		Str("position_id", id).
		Msg("Position closed via API")
	successResponse(c, pos)
}

// handlePublishAnalytics stores the IV rank / GEX / UOA bundle for a symbol
func (s *Server) handlePublishAnalytics(c *gin.Context) {
	if s.analytics == nil {
		errorResponse(c, http.StatusServiceUnavailable, "Analytics store not configured")
		return
	}

	symbol := feed.NormalizeSymbol(c.Param("symbol"))
	if symbol == "" {
		errorResponse(c, http.StatusBadRequest, "Symbol required")
		return
	}

	var bundle confluence.Analytics
	if err := c.ShouldBindJSON(&bundle); err != nil {
		errorResponse(c, http.StatusBadRequest, "Invalid request: "+err.Error())
		return
	}

	if err := s.analytics.Publish(c.Request.Context(), symbol, bundle, s.config.AnalyticsTTL); err != nil {
		errorResponse(c, http.StatusInternalServerError, err.Error())
		return
	}
	successResponse(c, gin.H{"symbol": symbol})
}

// handleLogin issues an admin token, rate limited per client IP
func (s *Server) handleLogin(c *gin.Context) {
	if !s.authEnabled {
		errorResponse(c, http.StatusNotFound, "Authentication disabled")
		return
	}
	if !s.loginLimiter.Allow(strings.TrimSpace(c.ClientIP())) {
		errorResponse(c, http.StatusTooManyRequests, "Too many login attempts")
		return
	}
	auth.LoginHandler(s.authService)(c)
}

// handleResetCircuit re-enables trading after a circuit breaker trip
func (s *Server) handleResetCircuit(c *gin.Context) {
	stats := s.bot.ResetCircuit()
	s.logger.Warn().Str("admin", c.GetString(auth.ContextKeyUsername)).Msg("Circuit breaker reset")
	successResponse(c, stats)
}
