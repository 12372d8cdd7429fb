package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/cart-pricebreaks/internal/metafield"
)

// disabledKey turns off an optional metafield lookup.
const disabledKey = "-"

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string

	PriceBreaksNamespace string
	PriceBreaksKey       string
	SurchargeNamespace   string
	SurchargeKey         string
	MerchandiseTypes     []string

	ResultCacheTTL  time.Duration
	RateLimitMax    int
	RateLimitWindow time.Duration
	BodyLimitBytes  int64
	SecurityHeaders bool

	LogFormat            string
	LogLevel             string
	MetricsNamespace     string
	MetricsEnabled       bool
	MetricsBuckets       string
	TracingEnabled       bool
	TracingExporter      string
	OTLPEndpoint         string
	TracingSamplingRatio float64
	ReadyRedisTimeout    time.Duration
	PprofEnabled         bool
	PprofUser            string
	PprofPass            string
}

// Load reads configuration from environment variables and optional .env files
// and validates the server settings.
func Load() (*Config, error) {
	cfg, err := read()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadRunner reads configuration for the one-shot runner. Server-only
// settings are read but not validated.
func LoadRunner() (*Config, error) {
	return read()
}

func read() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		PriceBreaksNamespace: valueOrDefault(k.String("PRICEBREAKS_NAMESPACE"), "custom"),
		PriceBreaksKey:       valueOrDefault(k.String("PRICEBREAKS_KEY"), "pricebreaks"),
		SurchargeNamespace:   valueOrDefault(k.String("SURCHARGE_NAMESPACE"), "zakeke"),
		SurchargeKey:         valueOrDefault(k.String("SURCHARGE_KEY"), "price"),
		MerchandiseTypes:     splitAndTrim(valueOrDefault(k.String("PRICEABLE_MERCHANDISE_TYPES"), "ProductVariant")),

		ResultCacheTTL:  parseDuration(k.String("RESULT_CACHE_TTL"), "0s"),
		RateLimitMax:    parseInt(k.String("RATE_LIMIT_MAX"), 600),
		RateLimitWindow: parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
		BodyLimitBytes:  int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		SecurityHeaders: parseBoolDefault(k.String("SECURITY_HEADERS"), true),

		LogFormat:            valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		LogLevel:             valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		MetricsNamespace:     valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "pricebreaks"),
		MetricsEnabled:       parseBoolDefault(k.String("OBS_ENABLE_PROMETHEUS"), true),
		MetricsBuckets:       k.String("OBS_METRICS_BUCKETS_MS"),
		TracingEnabled:       parseBoolDefault(k.String("OBS_ENABLE_TRACING"), false),
		TracingExporter:      valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp"),
		OTLPEndpoint:         strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
		TracingSamplingRatio: parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1.0),
		ReadyRedisTimeout:    parseDuration(k.String("HEALTH_READY_REDIS_TIMEOUT"), "300ms"),
		PprofEnabled:         parseBoolDefault(k.String("OBS_ENABLE_PPROF"), false),
		PprofUser:            strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_USER")),
		PprofPass:            strings.TrimSpace(k.String("SECURE_PPROF_BASIC_AUTH_PASS")),
	}
	return cfg, nil
}

// Validate checks the settings the HTTP server depends on.
func (c *Config) Validate() error {
	if c.TracingSamplingRatio <= 0 || c.TracingSamplingRatio > 1 {
		return errors.New("OBS_TRACING_SAMPLING_RATIO must be within (0, 1]")
	}
	if c.RateLimitMax < 0 {
		return errors.New("RATE_LIMIT_MAX must not be negative")
	}
	if c.ResultCacheTTL > 0 && c.RedisURL == "" {
		return errors.New("RESULT_CACHE_TTL requires REDIS_URL")
	}
	return nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// MetafieldKeys returns the metafields the engine reads. Setting
// SURCHARGE_KEY to "-" disables the surcharge lookup.
func (c *Config) MetafieldKeys() metafield.Keys {
	keys := metafield.Keys{
		PriceBreaks: metafield.Ref{Namespace: c.PriceBreaksNamespace, Key: c.PriceBreaksKey},
	}
	if c.SurchargeKey != disabledKey && c.SurchargeNamespace != disabledKey {
		keys.Surcharge = metafield.Ref{Namespace: c.SurchargeNamespace, Key: c.SurchargeKey}
	}
	return keys
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}

func parseFloat(value string, fallback float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	return loadWithEnv(env, Load)
}

func loadWithEnv(env map[string]string, load func() (*Config, error)) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
