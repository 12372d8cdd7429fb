package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/cart-pricebreaks/internal/config"
	"github.com/noah-isme/cart-pricebreaks/internal/obs"
	"github.com/noah-isme/cart-pricebreaks/internal/ratelimit"
	"github.com/noah-isme/cart-pricebreaks/internal/transform"
)

// Dependencies holds the services shared by the HTTP router.
type Dependencies struct {
	Redis          *redis.Client
	Limiter        ratelimit.Limiter
	HTTPMetrics    *obs.HTTPMetrics
	PricingMetrics *obs.PricingMetrics
	Engine         *transform.Engine
	Cache          *transform.ResultCache
}

// NewDependencies connects optional infrastructure and builds the pricing engine.
// Without REDIS_URL the rate limiter falls back to process memory and the
// result cache stays off.
func NewDependencies(ctx context.Context, cfg *config.Config, logger zerolog.Logger, reg prometheus.Registerer) (*Dependencies, error) {
	deps := &Dependencies{}

	if cfg.RedisURL != "" {
		client, err := NewRedis(ctx, cfg.RedisURL, cfg.MetricsEnabled, logger)
		if err != nil {
			return nil, err
		}
		deps.Redis = client
		deps.Limiter = ratelimit.RedisLimiter{Client: client, Prefix: "ratelimit:"}
		if cfg.ResultCacheTTL > 0 {
			deps.Cache = transform.NewResultCache(client, cfg.ResultCacheTTL, "")
		}
	} else {
		deps.Limiter = ratelimit.NewMemoryLimiter()
	}

	if cfg.MetricsEnabled {
		deps.HTTPMetrics = obs.NewHTTPMetrics(cfg.MetricsNamespace, obs.ParseBucketsCSV(cfg.MetricsBuckets), reg)
		deps.PricingMetrics = obs.NewPricingMetrics(cfg.MetricsNamespace, reg)
	}

	engine, err := transform.NewEngine(transform.Config{
		Keys:             cfg.MetafieldKeys(),
		MerchandiseTypes: cfg.MerchandiseTypes,
		Logger:           logger.With().Str("component", "pricing").Logger(),
		Metrics:          deps.PricingMetrics,
	})
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("initialise pricing engine: %w", err)
	}
	deps.Engine = engine
	return deps, nil
}

// NewRedis parses url, instruments the client and verifies connectivity.
func NewRedis(ctx context.Context, url string, withMetrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if withMetrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Close releases the Redis connection if one was opened.
func (d *Dependencies) Close() error {
	if d == nil || d.Redis == nil {
		return nil
	}
	return d.Redis.Close()
}
