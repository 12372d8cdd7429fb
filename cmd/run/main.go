package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/noah-isme/cart-pricebreaks/internal/config"
	"github.com/noah-isme/cart-pricebreaks/internal/obs"
	"github.com/noah-isme/cart-pricebreaks/internal/transform"
)

func main() {
	cfg, err := config.LoadRunner()
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
		os.Exit(2)
	}
	os.Exit(run(context.Background(), cfg, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run reads one cart-transform input document and writes the result.
// Logs go to stderr so stdout carries only the result.
func run(ctx context.Context, cfg *config.Config, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(stderr)
	inputPath := fs.String("input", "", "read input JSON from this file instead of stdin")
	pretty := fs.Bool("pretty", false, "indent the result JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := obs.NewLoggerTo(stderr, cfg.LogFormat, cfg.LogLevel).With().
		Str("component", "run").
		Str("run_id", uuid.NewString()).
		Logger()

	src := stdin
	if *inputPath != "" {
		f, err := os.Open(*inputPath)
		if err != nil {
			logger.Error().Err(err).Str("path", *inputPath).Msg("open input")
			return 1
		}
		defer f.Close()
		src = f
	}

	var input transform.Input
	if err := json.NewDecoder(src).Decode(&input); err != nil {
		logger.Error().Err(err).Msg("decode input")
		return 1
	}

	engine, err := transform.NewEngine(transform.Config{
		Keys:             cfg.MetafieldKeys(),
		MerchandiseTypes: cfg.MerchandiseTypes,
		Logger:           logger,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise pricing engine")
		return 1
	}

	result := engine.Run(ctx, &input)

	enc := json.NewEncoder(stdout)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(result); err != nil {
		logger.Error().Err(err).Msg("write result")
		return 1
	}
	return 0
}
