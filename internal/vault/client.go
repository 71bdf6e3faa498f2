// Package vault loads service secrets from a HashiCorp Vault KV v2 mount.
package vault

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"sniper-trading-bot/config"
)

var ErrSecretNotFound = errors.New("secret not found")

// Secrets are the values the service may keep out of its config file
type Secrets struct {
	FeedAPIKey        string `json:"feed_api_key"`
	JWTSecret         string `json:"jwt_secret"`
	DiscordWebhookURL string `json:"discord_webhook_url"`
	TelegramBotToken  string `json:"telegram_bot_token"`
	DatabasePassword  string `json:"database_password"`
	RedisPassword     string `json:"redis_password"`
}

// Client wraps the HashiCorp Vault client
type Client struct {
	client *api.Client
	config config.VaultConfig
	mu     sync.RWMutex
	cached *Secrets
}

// NewClient creates a new Vault client
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, config: cfg}, nil
}

// Enabled reports whether the client talks to a Vault server
func (c *Client) Enabled() bool {
	return c.config.Enabled && c.client != nil
}

func (c *Client) dataPath() string {
	return fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
}

// Secrets reads the service secret, caching the first successful read
func (c *Client) Secrets(ctx context.Context) (*Secrets, error) {
	c.mu.RLock()
	if c.cached != nil {
		s := *c.cached
		c.mu.RUnlock()
		return &s, nil
	}
	c.mu.RUnlock()

	if !c.Enabled() {
		return nil, fmt.Errorf("vault disabled: %w", ErrSecretNotFound)
	}

	secret, err := c.client.Logical().ReadWithContext(ctx, c.dataPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("%s: %w", c.dataPath(), ErrSecretNotFound)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format at %s", c.dataPath())
	}

	s := &Secrets{
		FeedAPIKey:        getString(data, "feed_api_key"),
		JWTSecret:         getString(data, "jwt_secret"),
		DiscordWebhookURL: getString(data, "discord_webhook_url"),
		TelegramBotToken:  getString(data, "telegram_bot_token"),
		DatabasePassword:  getString(data, "database_password"),
		RedisPassword:     getString(data, "redis_password"),
	}

	c.mu.Lock()
	c.cached = s
	c.mu.Unlock()

	out := *s
	return &out, nil
}

// Apply overlays every non-empty secret onto cfg
func (s *Secrets) Apply(cfg *config.Config) {
	if s.FeedAPIKey != "" {
		cfg.FeedConfig.APIKey = s.FeedAPIKey
	}
	if s.JWTSecret != "" {
		cfg.AuthConfig.JWTSecret = s.JWTSecret
	}
	if s.DiscordWebhookURL != "" {
		cfg.NotificationConfig.Discord.WebhookURL = s.DiscordWebhookURL
	}
	if s.TelegramBotToken != "" {
		cfg.NotificationConfig.Telegram.BotToken = s.TelegramBotToken
	}
	if s.DatabasePassword != "" {
		cfg.DatabaseConfig.Password = s.DatabasePassword
	}
	if s.RedisPassword != "" {
		cfg.RedisConfig.Password = s.RedisPassword
	}
}

// HealthCheck checks if Vault is healthy
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}
	return nil
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
