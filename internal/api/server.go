// Package api serves pipeline status, admin actions and the live event stream over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"sniper-trading-bot/internal/auth"
	"sniper-trading-bot/internal/confirmation"
	"sniper-trading-bot/internal/confluence"
	"sniper-trading-bot/internal/events"
	"sniper-trading-bot/internal/metrics"
	"sniper-trading-bot/internal/positions"
	"sniper-trading-bot/internal/scanner"
)

// RateLimiter provides simple in-memory rate limiting per key
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int           // max requests
	window   time.Duration // time window
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// BotAPI is what the bot exposes to the API
type BotAPI interface {
	Status() map[string]interface{}
	OpenPositions() []positions.Position
	ClosedPositions() []positions.Position
	ArmedSetups() []confirmation.ArmedSetup
	RecentSignals() []scanner.SignalResult
	RecentTrades(ctx context.Context, limit int) ([]positions.TradeRecord, error)
	Symbols() []string
	AddSymbols(symbols ...string) []string
	ClosePosition(ctx context.Context, id string) (positions.Position, error)
	ResetCircuit() map[string]interface{}
	Health(ctx context.Context) error
}

// AnalyticsPublisher stores the options analytics bundle read by the enrichers
type AnalyticsPublisher interface {
	Publish(ctx context.Context, symbol string, a confluence.Analytics, ttl time.Duration) error
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
	AllowedOrigins []string
	AnalyticsTTL   time.Duration
}

// Server represents the HTTP API server
type Server struct {
	router       *gin.Engine
	httpServer   *http.Server
	config       ServerConfig
	bot          BotAPI
	analytics    AnalyticsPublisher
	authService  *auth.Service
	authEnabled  bool
	hub          *WSHub
	loginLimiter *RateLimiter
	logger       zerolog.Logger
}

// NewServer creates a new API server. authService and analytics may be nil.
func NewServer(
	config ServerConfig,
	bot BotAPI,
	eventBus *events.EventBus,
	authService *auth.Service,
	analytics AnalyticsPublisher,
	logger zerolog.Logger,
) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	}
	if config.AnalyticsTTL <= 0 {
		config.AnalyticsTTL = 24 * time.Hour
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	switch {
	case len(config.AllowedOrigins) == 0:
		corsConfig.AllowOrigins = []string{"http://localhost:5173"}
		corsConfig.AllowCredentials = true
	case config.AllowedOrigins[0] == "*":
		corsConfig.AllowAllOrigins = true
	default:
		corsConfig.AllowOrigins = config.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:       router,
		config:       config,
		bot:          bot,
		analytics:    analytics,
		authService:  authService,
		authEnabled:  authService != nil,
		loginLimiter: NewRateLimiter(10, time.Minute),
		logger:       logger.With().Str("component", "API").Logger(),
	}
	router.Use(s.requestLogger())

	s.hub = NewWSHub(s.logger)
	go s.hub.Run()
	if eventBus != nil {
		eventBus.SubscribeAll(s.hub.BroadcastEvent)
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))
	s.router.GET("/ws", s.handleWebSocket)

	s.router.POST("/api/auth/login", s.handleLogin)
	s.router.GET("/api/auth/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"auth_enabled": s.authEnabled})
	})

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/positions", s.handleGetPositions)
		api.GET("/positions/closed", s.handleGetClosedPositions)
		api.GET("/trades", s.handleGetTrades)
		api.GET("/setups", s.handleGetSetups)
		api.GET("/signals", s.handleGetSignals)
		api.GET("/symbols", s.handleGetSymbols)
	}

	admin := s.router.Group("/api")
	if s.authEnabled {
		admin.Use(auth.Middleware(s.authService.JWT()))
	}
	{
		admin.POST("/symbols", s.handleAddSymbols)
		admin.POST("/positions/:id/close", s.handleClosePosition)
		admin.POST("/analytics/:symbol", s.handlePublishAnalytics)
		admin.POST("/circuit/reset", s.handleResetCircuit)
	}
}

// requestLogger logs each request through zerolog
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics" {
			return
		}
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}

// Handler returns the router for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Bool("auth", s.authEnabled).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	s.hub.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
