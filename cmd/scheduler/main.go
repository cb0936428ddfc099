package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"

	"harvestflow/internal/app"
	"harvestflow/internal/config"
	"harvestflow/internal/logging"
	"harvestflow/internal/signals"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup("info", logging.FormatConsole)
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signals.NotifyContext(context.Background())
	defer stop()

	s, err := app.NewScheduler(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("start scheduler")
	}

	runErr := s.Run(ctx)
	if err := s.Close(); err != nil {
		log.Warn().Err(err).Msg("close scheduler")
	}
	if runErr != nil {
		log.Error().Err(runErr).Msg("scheduler failed")
		stop()
		os.Exit(1)
	}
	log.Info().Msg("scheduler stopped")
}
