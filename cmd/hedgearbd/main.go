// Command hedgearbd runs one configured hedge-arbitrage pair: it monitors
// two venues, opens short-A/long-B when the cross-venue spread clears the
// open threshold, and closes on the reverse spread.
//
// Exit codes: 0 on normal shutdown, 1 on configuration failure, 2 on a
// fatal unwind failure (unhedged residual requiring human intervention).
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"hedgearb/config"
	"hedgearb/engine"
	"hedgearb/executor"
)

func main() {
	var (
		configPath     = flag.String("config", "config.yaml", "path to the YAML pair configuration")
		envFile        = flag.String("env-file", "", "optional .env file loaded before config")
		pairID         = flag.String("pair", "", "pair id from the config's pairs map (required)")
		quantity       = flag.String("quantity", "", "override trade quantity")
		openThreshold  = flag.Float64("open-threshold", 0, "override open threshold pct")
		closeThreshold = flag.Float64("close-threshold", 0, "override close threshold pct")
		monitorOnly    = flag.Bool("monitor-only", false, "evaluate signals without touching money")
		logLevel       = flag.String("log-level", "", "trace|debug|info|warn|error (overrides config)")
	)
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	if *pairID == "" {
		logger.Error().Msg("-pair is required")
		os.Exit(1)
	}

	file, err := config.Load(*configPath, *envFile)
	if err != nil {
		logger.Error().Err(err).Msg("configuration failed")
		os.Exit(1)
	}

	level := file.LogLevel
	if *logLevel != "" {
		level = *logLevel
	}
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	if level != "" {
		if parsed, err := zerolog.ParseLevel(level); err == nil {
			logger = logger.Level(parsed)
		}
	}

	ov := engine.Overrides{MonitorOnly: *monitorOnly}
	if *quantity != "" {
		q, err := decimal.NewFromString(*quantity)
		if err != nil || !q.IsPositive() {
			logger.Error().Str("quantity", *quantity).Msg("invalid quantity override")
			os.Exit(1)
		}
		ov.Quantity = q
	}
	if *openThreshold != 0 {
		ov.OpenThreshold = decimal.NewFromFloat(*openThreshold)
	}
	if *closeThreshold != 0 {
		ov.CloseThreshold = decimal.NewFromFloat(*closeThreshold)
	}

	eng, err := engine.New(file, logger)
	if err != nil {
		logger.Error().Err(err).Msg("engine init failed")
		os.Exit(1)
	}
	defer eng.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := eng.RunPair(ctx, *pairID, ov); err != nil {
		if errors.Is(err, executor.ErrFatalUnwind) {
			logger.Error().Err(err).Msg("fatal unwind failure, terminating")
			os.Exit(2)
		}
		if ctx.Err() != nil {
			return
		}
		logger.Error().Err(err).Msg("pair stopped with error")
		os.Exit(1)
	}
}
