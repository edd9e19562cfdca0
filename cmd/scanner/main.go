// Command scanner runs the options spread scanning engine: it loads
// configuration, wires the upstream gateway, coordinator, and tick engine
// together, and serves the REST/websocket API until interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/optionscan/engine/api"
	"github.com/optionscan/engine/internal/config"
	"github.com/optionscan/engine/internal/coordinator"
	"github.com/optionscan/engine/internal/engine"
	"github.com/optionscan/engine/internal/gateway"
	"github.com/optionscan/engine/internal/history"
	"github.com/optionscan/engine/internal/metrics"
	"github.com/optionscan/engine/internal/presets"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", "", "path to the scanner's YAML config file")
	authToken := flag.String("auth-token", os.Getenv("SCANNER_AUTH_TOKEN"), "bearer token accepted for the preset endpoints")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zerolog.New(os.Stderr).With().Timestamp().Logger().Fatal().Err(err).Msg("failed to load config")
	}

	logger := newLogger(cfg)
	logger.Info().Str("config_path", *configPath).Msg("starting scanner")

	gw := gateway.New(cfg.Gateway.BaseURL, cfg.Gateway.Timeout)
	coll := metrics.New()

	coord := coordinator.New(gw, coordinator.Config{
		Workers:                cfg.Coordinator.Workers,
		MaxInFlight:            cfg.Coordinator.MaxConcurrent,
		QueueCapacity:          cfg.Coordinator.QueueCapacity,
		CoalesceWindow:         cfg.Coordinator.CoalesceWindow,
		MaxSymbolsPerCall:      cfg.Coordinator.MaxSymbolsPerCall,
		HealthPollEvery:        cfg.Coordinator.HealthPollInterval,
		MaxFailures:            cfg.Circuit.MaxFailures,
		ResetTimeout:           cfg.Circuit.ResetTimeout,
		AdaptiveBackpressure:   cfg.Coordinator.AdaptiveBackpressure,
		QueueThresholdLow:      cfg.Coordinator.QueueThresholdLow,
		QueueThresholdMedium:   cfg.Coordinator.QueueThresholdMedium,
		QueueThresholdHigh:     cfg.Coordinator.QueueThresholdHigh,
		QueueThresholdCritical: cfg.Coordinator.QueueThresholdCritical,
	}, logger)
	coord.SetMetrics(coll)

	eng := engine.New(coord, coll, logger)
	hist := history.New()

	kv := presets.NewInMemoryKV()
	presetStore := presets.NewStore(kv)
	if err := presets.SeedNamedPresets(context.Background(), presetStore); err != nil {
		logger.Warn().Err(err).Msg("failed to seed named presets")
	}

	var auth presets.Authenticator
	if *authToken != "" {
		auth = presets.NewStaticBearerAuth(*authToken)
	} else {
		auth = presets.NewStaticBearerAuth()
	}

	srv := api.NewServer(cfg.Server, eng, presetStore, auth, hist, coll, logger)
	srv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx, cfg.Server.DrainTimeout)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.DrainTimeout)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
	}

	coord.Stop(cfg.Server.DrainTimeout)
	coll.Stop()

	logger.Info().Msg("scanner stopped")
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	if cfg.Log.Pretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	return logger
}
