// The lambda command hosts the fit handler on AWS Lambda. Clients submit a
// FitEvent asynchronously (see worker.LambdaClient) and the serialized
// FitResponse is published on the event's NATS reply channel.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/domino14/dirimult/config"
	"github.com/domino14/dirimult/worker"
)

var cfg *config.Config
var nc *nats.Conn
var fw *worker.FitWorker

func HandleRequest(ctx context.Context, evt worker.FitEvent) (string, error) {
	// Return something but we have to block till we're done.

	logger := log.With().
		Str("requestID", evt.Request.ID).
		Logger()

	payload, err := json.Marshal(evt.Request)
	if err != nil {
		return "", err
	}
	data := fw.Handle(payload)

	var resp worker.FitResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		logger.Warn().Str("error", resp.Error).Msg("fit-request-failed")
	}

	if evt.ReplyChannel != "" {
		logger.Info().Msg("fit-done-sending-via-nats")
		err = retry.Do(
			func() error {
				_, err := nc.Request(evt.ReplyChannel, data, 3*time.Second)
				if err != nil {
					return err
				}
				// We're just waiting for an acknowledgement. The actual
				// data doesn't matter.
				return nil
			},
			retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
				logger.Err(err).Uint("n", n).
					Msg("did-not-receive-ack-try-again")
				return retry.BackOffDelay(n, err, config)
			}),
		)
		if err != nil {
			logger.Err(err).Msg("fit-reply-failed")
		}
	}
	logger.Info().Msg("exiting-fn")
	if resp.Error != "" {
		return "", fmt.Errorf("fit failed: %s", resp.Error)
	}
	return fmt.Sprintf("fit %s: %d iterations, converged=%v",
		resp.ID, resp.Diagnostics.Iterations, resp.Diagnostics.Converged), nil
}

func main() {
	c := config.DefaultConfig()
	cfg = &c
	if err := cfg.Load(nil); err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	log.Info().Msgf("Loaded config: %v", cfg.SanitizedSettings())
	if cfg.GetBool(config.ConfigDebug) {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	workerConfig := worker.DefaultWorkerConfig()
	workerConfig.EngineConfig = cfg
	fw = worker.NewFitWorker(workerConfig)

	var err error
	nc, err = nats.Connect(cfg.GetString(config.ConfigNatsURL))
	if err != nil {
		log.Fatal().AnErr("natsConnectErr", err).Msg(":(")
	}

	lambda.Start(HandleRequest)
}
