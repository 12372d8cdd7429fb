package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/noah-isme/cart-pricebreaks/internal/app"
	"github.com/noah-isme/cart-pricebreaks/internal/config"
	"github.com/noah-isme/cart-pricebreaks/internal/health"
	"github.com/noah-isme/cart-pricebreaks/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger, prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
	stop()
	if err != nil {
		logger.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}

// run serves until ctx is cancelled or the listener fails. Dependencies and
// the tracer are released before it returns.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger, reg prometheus.Registerer, gatherer prometheus.Gatherer) error {
	if cfg.TracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "cart-pricebreaks",
			Endpoint:      cfg.OTLPEndpoint,
			Exporter:      cfg.TracingExporter,
			SamplingRatio: cfg.TracingSamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			cfg.TracingEnabled = false
		} else {
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	deps, err := app.NewDependencies(ctx, cfg, logger, reg)
	if err != nil {
		return fmt.Errorf("initialise dependencies: %w", err)
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           app.NewRouter(cfg, deps, logger, gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		<-ctx.Done()
		health.SetReady(false)
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("shutdown server")
		}
	}()

	logger.Info().
		Str("addr", srv.Addr).
		Bool("redis", deps.Redis != nil).
		Bool("result_cache", deps.Cache.Enabled()).
		Str("pricebreaks_metafield", cfg.MetafieldKeys().PriceBreaks.String()).
		Msg("server starting")
	serveErr := srv.ListenAndServe()
	cancel()
	<-drained
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", serveErr)
	}
	logger.Info().Msg("server stopped")
	return nil
}
