package main

import (
	"context"
	"flag"
	"os"

	"github.com/rs/zerolog/log"

	"harvestflow/internal/app"
	"harvestflow/internal/config"
	"harvestflow/internal/logging"
	"harvestflow/internal/signals"
)

func main() {
	var (
		addr        = flag.String("addr", "", "HTTP bind address (overrides API_ADDR, \"off\" disables)")
		concurrency = flag.Int("concurrency", 0, "number of executors (overrides WORKER_CONCURRENCY)")
		debug       = flag.Bool("debug", false, "expose /debug/pprof")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Setup("info", logging.FormatConsole)
		log.Fatal().Err(err).Msg("load config")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if *addr != "" {
		cfg.APIAddr = *addr
	}
	if *concurrency > 0 {
		cfg.Concurrency = *concurrency
	}

	ctx, stop := signals.NotifyContext(context.Background())
	defer stop()

	w, err := app.NewWorker(ctx, cfg, *debug)
	if err != nil {
		log.Fatal().Err(err).Msg("start worker")
	}

	log.Info().Int("tasks", len(w.Registry.Names())).Str("broker", cfg.BrokerURL).Msg("worker ready")
	runErr := w.Run(ctx)
	if err := w.Close(); err != nil {
		log.Warn().Err(err).Msg("close worker")
	}
	if runErr != nil {
		log.Error().Err(runErr).Msg("worker failed")
		stop()
		os.Exit(1)
	}
	log.Info().Msg("worker stopped")
}
