// Package worker serves Dirichlet-multinomial fits over NATS. Requests and
// responses are JSON; Handle is the transport-free core so the same logic
// backs the NATS subscriber, the Lambda handler, and tests.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/cespare/xxhash"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/domino14/dirimult/config"
	"github.com/domino14/dirimult/dirmult"
)

// FitRequest is one unit of work: a count table plus fit options. Zero
// options mean the worker's defaults.
type FitRequest struct {
	ID               string    `json:"id"`
	Categories       []string  `json:"categories"`
	Entities         []string  `json:"entities,omitempty"`
	Rows             [][]int   `json:"rows"`
	Tolerance        float64   `json:"tolerance,omitempty"`
	MaxIterations    int       `json:"max_iterations,omitempty"`
	Weights          []float64 `json:"weights,omitempty"`
	IncludeEstimates bool      `json:"include_estimates,omitempty"`
}

// FitResponse mirrors FitRequest. On failure only ID and Error are set.
type FitResponse struct {
	ID             string                  `json:"id"`
	Alpha          []float64               `json:"alpha,omitempty"`
	Diagnostics    *dirmult.FitDiagnostics `json:"diagnostics,omitempty"`
	ParameterTable []dirmult.ParameterRow  `json:"parameter_table,omitempty"`
	Estimates      [][]float64             `json:"estimates,omitempty"`
	Scores         []float64               `json:"scores,omitempty"`
	Error          string                  `json:"error,omitempty"`
}

// FitWorker processes fit requests and memoizes responses keyed by the
// request payload hash.
type FitWorker struct {
	cfg   *WorkerConfig
	cache *responseCache
}

// NewFitWorker creates a worker with its response cache sized from the
// configured memory fraction.
func NewFitWorker(cfg *WorkerConfig) *FitWorker {
	w := &FitWorker{cfg: cfg, cache: &responseCache{}}
	w.cache.reset(cfg.CacheFraction)
	return w
}

func errorResponse(id, message string, err error) []byte {
	msg := message
	if err != nil {
		msg = fmt.Sprintf("%s: %s", msg, err.Error())
	}
	out, _ := json.Marshal(&FitResponse{ID: id, Error: msg})
	return out
}

// Handle runs one request and returns the serialized response. It never
// returns an empty slice; failures come back in the response Error field.
func (w *FitWorker) Handle(data []byte) []byte {
	key := xxhash.Sum64(data)
	if resp, ok := w.cache.get(key); ok {
		log.Debug().Uint64("key", key).Msg("cache-hit")
		return resp
	}

	var req FitRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errorResponse("", "could not parse request", err)
	}
	cm, err := dirmult.NewCountMatrix(req.Categories, req.Entities, req.Rows)
	if err != nil {
		return errorResponse(req.ID, "bad count table", err)
	}
	if len(req.Weights) > 0 && len(req.Weights) != cm.NumCategories() {
		return errorResponse(req.ID, "bad weights",
			fmt.Errorf("%w: have %d weights for %d categories",
				dirmult.ErrWeightLength, len(req.Weights), cm.NumCategories()))
	}

	est := dirmult.NewEstimator()
	est.SetTolerance(req.Tolerance)
	est.SetMaxIterations(req.MaxIterations)
	est.SetThreads(w.cfg.EngineConfig.GetInt(config.ConfigThreads))

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.RequestTimeout)
	defer cancel()

	model, err := est.Fit(ctx, cm)
	if err != nil {
		return errorResponse(req.ID, "fit failed", err)
	}
	diag := model.Diagnostics()
	resp := &FitResponse{
		ID:             req.ID,
		Alpha:          model.Alpha(),
		Diagnostics:    &diag,
		ParameterTable: model.ParameterTable(w.cfg.EngineConfig.GetFloat64(config.ConfigConfidence)),
	}
	if req.IncludeEstimates || len(req.Weights) > 0 {
		ests, err := dirmult.ShrinkAll(ctx, cm, model)
		if err != nil {
			return errorResponse(req.ID, "shrink failed", err)
		}
		if req.IncludeEstimates {
			resp.Estimates = ests
		}
		if len(req.Weights) > 0 {
			scores := make([]float64, len(ests))
			for i, est := range ests {
				// Weight length was validated above.
				scores[i], _ = dirmult.WeightedScore(est, req.Weights)
			}
			resp.Scores = scores
		}
	}

	out, err := json.Marshal(resp)
	if err != nil {
		return errorResponse(req.ID, "could not marshal response", err)
	}
	w.cache.put(key, out)
	return out
}

// Run connects to NATS and serves fit requests until ctx is cancelled.
func (w *FitWorker) Run(ctx context.Context) error {
	nc, err := w.connect()
	if err != nil {
		return err
	}
	defer nc.Close()

	sub, err := nc.Subscribe(w.cfg.Subject, func(m *nats.Msg) {
		log.Info().Int("bytes", len(m.Data)).Msg("recv-request")
		m.Respond(w.Handle(m.Data))
	})
	if err != nil {
		return err
	}
	nc.Flush()
	if err := nc.LastError(); err != nil {
		return err
	}
	log.Info().Str("subject", w.cfg.Subject).Str("url", nc.ConnectedUrlRedacted()).
		Msg("listening")

	<-ctx.Done()
	sub.Drain()
	return ctx.Err()
}

func (w *FitWorker) connect() (*nats.Conn, error) {
	var nc *nats.Conn
	err := retry.Do(
		func() error {
			var cerr error
			nc, cerr = nats.Connect(w.cfg.NatsURL)
			return cerr
		},
		retry.DelayType(func(n uint, err error, config *retry.Config) time.Duration {
			log.Err(err).Uint("n", n).Msg("nats-connect-failed-try-again")
			return retry.BackOffDelay(n, err, config)
		}),
	)
	return nc, err
}
