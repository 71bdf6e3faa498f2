package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"sniper-trading-bot/config"
	"sniper-trading-bot/internal/api"
	"sniper-trading-bot/internal/auth"
	"sniper-trading-bot/internal/bot"
	"sniper-trading-bot/internal/database"
	"sniper-trading-bot/internal/events"
	"sniper-trading-bot/internal/logging"
	"sniper-trading-bot/internal/notification"
	"sniper-trading-bot/internal/vault"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "main",
	})
	logging.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Overlay secrets from Vault
	if cfg.VaultConfig.Enabled {
		applyVaultSecrets(ctx, cfg, logger)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration")
	}

	eventBus := events.NewEventBus()
	notifyManager := newNotificationManager(cfg, logger)

	// Initialize database
	var db *database.DB
	if cfg.DatabaseConfig.Enabled {
		db, err = database.NewDB(ctx, database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
			MaxConns: int32(cfg.DatabaseConfig.MaxConns),
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to connect to database")
		}
		defer db.Close()

		if err := db.RunMigrations(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to run migrations")
		}
	}

	// Initialize Redis; the client is kept even when the first ping fails
	var redisClient *redis.Client
	if cfg.RedisConfig.Enabled {
		redisClient, err = database.NewRedisClient(ctx, database.RedisConfig{
			Address:  cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, continuing with in-memory state")
		}
		defer redisClient.Close()
	}

	sniper, err := bot.New(ctx, cfg, bot.Deps{
		DB:       db,
		Redis:    redisClient,
		Notifier: notifyManager,
		Bus:      eventBus,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize bot")
	}

	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = newServer(cfg, sniper, eventBus, redisClient, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Fatal().Err(err).Msg("Failed to start web server")
			}
		}()
	}

	if err := sniper.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start bot")
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Shutting down")

	timeout := time.Duration(cfg.ServerConfig.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
	defer shutdownCancel()

	if server != nil {
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Error shutting down web server")
		}
	}
	sniper.Stop()
	cancel()

	logger.Info().Msg("Shutdown complete")
}

func applyVaultSecrets(ctx context.Context, cfg *config.Config, logger zerolog.Logger) {
	client, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Vault client")
	}
	if err := client.HealthCheck(ctx); err != nil {
		logger.Warn().Err(err).Msg("Vault unhealthy, using local configuration")
		return
	}
	secrets, err := client.Secrets(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to read Vault secrets, using local configuration")
		return
	}
	secrets.Apply(cfg)
	logger.Info().Str("path", cfg.VaultConfig.SecretPath).Msg("Secrets loaded from Vault")
}

func newNotificationManager(cfg *config.Config, logger zerolog.Logger) *notification.Manager {
	nc := cfg.NotificationConfig
	manager := notification.NewManager(nc.Enabled, logger)
	if !nc.Enabled {
		return manager
	}

	if nc.Telegram.Enabled {
		manager.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
			BotToken: nc.Telegram.BotToken,
			ChatID:   nc.Telegram.ChatID,
			Enabled:  nc.Telegram.Enabled,
		}))
		logger.Info().Msg("Telegram notifications enabled")
	}
	if nc.Discord.Enabled {
		manager.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
			WebhookURL: nc.Discord.WebhookURL,
			Enabled:    nc.Discord.Enabled,
		}))
		logger.Info().Msg("Discord notifications enabled")
	}
	return manager
}

func newServer(cfg *config.Config, sniper *bot.Bot, bus *events.EventBus, redisClient *redis.Client, logger zerolog.Logger) *api.Server {
	var authService *auth.Service
	if cfg.AuthConfig.Enabled {
		jwtManager := auth.NewJWTManager(cfg.AuthConfig.JWTSecret, cfg.AuthConfig.AccessTokenDuration)
		authService = auth.NewService(jwtManager, cfg.AuthConfig.AdminUser, cfg.AuthConfig.AdminPasswordHash, logger)
	} else {
		logger.Warn().Msg("Admin API authentication disabled")
	}

	var analytics api.AnalyticsPublisher
	if redisClient != nil {
		analytics = database.NewRedisAnalytics(redisClient)
	}

	var origins []string
	for _, o := range strings.Split(cfg.ServerConfig.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return api.NewServer(api.ServerConfig{
		Port:           cfg.ServerConfig.Port,
		Host:           cfg.ServerConfig.Host,
		ProductionMode: true,
		AllowedOrigins: origins,
	}, sniper, bus, authService, analytics, logger)
}
