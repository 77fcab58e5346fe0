// dmworker serves fit requests over NATS.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/domino14/dirimult/config"
	"github.com/domino14/dirimult/worker"
)

func main() {
	// Set up logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load engine config from flags and DIRIMULT_* environment variables
	engineConfig := config.DefaultConfig()
	if err := engineConfig.Load(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if engineConfig.GetBool(config.ConfigDebug) {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Interface("config", engineConfig.SanitizedSettings()).Msg("loaded config")

	// Create worker config
	workerConfig := worker.DefaultWorkerConfig()
	workerConfig.EngineConfig = &engineConfig
	workerConfig.NatsURL = engineConfig.GetString(config.ConfigNatsURL)
	workerConfig.Subject = engineConfig.GetString(config.ConfigNatsSubject)
	workerConfig.CacheFraction = engineConfig.GetFloat64(config.ConfigCacheFraction)

	log.Info().
		Str("nats-url", workerConfig.NatsURL).
		Str("subject", workerConfig.Subject).
		Msg("starting fit worker")

	// Create worker
	w := worker.NewFitWorker(workerConfig)

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	// Run the worker
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		log.Fatal().Err(err).Msg("worker failed")
	}

	log.Info().Msg("fit worker stopped")
}
