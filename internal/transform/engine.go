package transform

import (
	"context"
	"errors"
	"strings"
	"time"

	validator "github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/cart-pricebreaks/internal/metafield"
	"github.com/noah-isme/cart-pricebreaks/internal/obs"
)

// DefaultMerchandiseType is the merchandise kind that carries variant pricing.
const DefaultMerchandiseType = "ProductVariant"

// Config configures the Engine dependencies.
type Config struct {
	Keys             metafield.Keys
	MerchandiseTypes []string
	Logger           zerolog.Logger
	Metrics          *obs.PricingMetrics
	Validate         *validator.Validate
}

// Engine applies quantity-break pricing to cart snapshots. It holds no
// per-run state and is safe for concurrent use.
type Engine struct {
	keys     metafield.Keys
	kinds    map[string]struct{}
	logger   zerolog.Logger
	metrics  *obs.PricingMetrics
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewEngine constructs an Engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Keys.PriceBreaks.IsZero() {
		return nil, errors.New("transform engine: price-break metafield is required")
	}
	kinds := make(map[string]struct{}, len(cfg.MerchandiseTypes))
	for _, kind := range cfg.MerchandiseTypes {
		if trimmed := strings.TrimSpace(kind); trimmed != "" {
			kinds[trimmed] = struct{}{}
		}
	}
	if len(kinds) == 0 {
		kinds[DefaultMerchandiseType] = struct{}{}
	}
	validate := cfg.Validate
	if validate == nil {
		validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return &Engine{
		keys:     cfg.Keys,
		kinds:    kinds,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		validate: validate,
		tracer:   otel.Tracer("github.com/noah-isme/cart-pricebreaks/internal/transform"),
	}, nil
}

// Run evaluates every cart line and returns the price overrides in line
// order. It never fails: bad lines are skipped and a fault outside the line
// loop yields an empty result.
func (e *Engine) Run(ctx context.Context, input *Input) (result FunctionResult) {
	start := time.Now()
	_, span := e.tracer.Start(ctx, "cart_transform.run")
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("cart transform aborted")
			span.SetStatus(codes.Error, "fatal fault")
			result = Empty()
		}
		e.metrics.ObserveRun(len(result.Operations), time.Since(start))
	}()

	if input != nil && input.Cart != nil && input.Cart.decodeErr != nil {
		e.logger.Warn().Err(input.Cart.decodeErr).Msg("cart lines unreadable")
	}
	if input == nil || input.Cart == nil || len(input.Cart.Lines) == 0 {
		e.logger.Debug().Msg("no cart lines found")
		return Empty()
	}

	lines := input.Cart.Lines
	span.SetAttributes(attribute.Int("cart.lines", len(lines)))
	result = Empty()
	for _, line := range lines {
		d := e.Evaluate(line)
		e.logDecision(line, d)
		e.metrics.ObserveLine(string(d.Outcome))
		if d.Operation != nil {
			result.Operations = append(result.Operations, *d.Operation)
		}
	}
	span.SetAttributes(attribute.Int("cart.operations", len(result.Operations)))

	evt := e.logger.Info().Int("lines", len(lines)).Int("operations", len(result.Operations))
	if len(result.Operations) > 0 && e.logger.GetLevel() <= zerolog.DebugLevel {
		evt = evt.Interface("first_operation", result.Operations[0])
	}
	evt.Msg("cart transform complete")
	return result
}
