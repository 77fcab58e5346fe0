package worker

import (
	"os"
	"time"

	"github.com/domino14/dirimult/config"
)

// WorkerConfig holds configuration for the fit worker
type WorkerConfig struct {
	// NATS server the worker connects to
	NatsURL string

	// Subject the worker subscribes to for fit requests
	Subject string

	// Hard deadline for a single fit
	RequestTimeout time.Duration

	// Fraction of system memory reserved for the response cache
	CacheFraction float64

	// Engine configuration (tolerance, iterations, threads, confidence)
	EngineConfig *config.Config
}

// DefaultWorkerConfig creates a WorkerConfig with default values
func DefaultWorkerConfig() *WorkerConfig {
	cfg := config.DefaultConfig()
	return &WorkerConfig{
		NatsURL:        cfg.GetString(config.ConfigNatsURL),
		Subject:        cfg.GetString(config.ConfigNatsSubject),
		RequestTimeout: getEnvDuration("DIRIMULT_WORKER_REQUEST_TIMEOUT", time.Minute),
		CacheFraction:  cfg.GetFloat64(config.ConfigCacheFraction),
		EngineConfig:   &cfg,
	}
}

// getEnvDuration gets a duration from an environment variable or returns a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
