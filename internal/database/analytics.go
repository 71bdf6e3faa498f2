package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sniper-trading-bot/internal/confluence"
)

// AnalyticsKeyPrefix prefixes the per-symbol options analytics bundle
const AnalyticsKeyPrefix = "sniper:analytics:"

// RedisAnalytics reads options analytics published by external jobs
type RedisAnalytics struct {
	client *redis.Client
}

// NewRedisAnalytics creates an analytics source
func NewRedisAnalytics(client *redis.Client) *RedisAnalytics {
	return &RedisAnalytics{client: client}
}

// Analytics implements confluence.AnalyticsSource
func (r *RedisAnalytics) Analytics(ctx context.Context, symbol string) (confluence.Analytics, error) {
	data, err := r.client.Get(ctx, AnalyticsKeyPrefix+symbol).Bytes()
	if errors.Is(err, redis.Nil) {
		return confluence.Analytics{}, confluence.ErrNoData
	}
	if err != nil {
		return confluence.Analytics{}, fmt.Errorf("analytics %s: %w", symbol, err)
	}

	var a confluence.Analytics
	if err := json.Unmarshal(data, &a); err != nil {
		return confluence.Analytics{}, fmt.Errorf("decode analytics %s: %w", symbol, err)
	}
	return a, nil
}

// Publish stores an analytics bundle for symbol
func (r *RedisAnalytics) Publish(ctx context.Context, symbol string, a confluence.Analytics, ttl time.Duration) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode analytics %s: %w", symbol, err)
	}
	if err := r.client.Set(ctx, AnalyticsKeyPrefix+symbol, data, ttl).Err(); err != nil {
		return fmt.Errorf("publish analytics %s: %w", symbol, err)
	}
	return nil
}
