// Package inference wraps the per-signal predictive models behind one
// request/result contract. Models run concurrently per batch; an absent or
// failing model degrades to a neutral zero-confidence result instead of
// failing the batch.
package inference

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Request struct {
	Model    ModelKind
	Features map[string]float64
}

type Result struct {
	Model          ModelKind
	Classification string
	Confidence     float64
	RiskScore      float64
	Latency        time.Duration
	Available      bool
}

type Engine struct {
	models map[ModelKind]Model
	budget time.Duration
	logger *slog.Logger
}

func NewEngine(models map[ModelKind]Model, budget time.Duration, logger *slog.Logger) *Engine {
	if models == nil {
		models = make(map[ModelKind]Model)
	}
	return &Engine{models: models, budget: budget, logger: logger}
}

// Infer runs a single model. Unknown model kinds return the neutral result.
func (e *Engine) Infer(ctx context.Context, req Request) Result {
	m, ok := e.models[req.Model]
	if !ok {
		return Result{Model: req.Model, Classification: "unavailable"}
	}
	start := time.Now()
	classification, confidence, risk, err := m.Infer(req.Features)
	latency := time.Since(start)
	if err != nil {
		if e.logger != nil {
			e.logger.Warn("model inference failed", "model", req.Model, "err", err)
		}
		return Result{Model: req.Model, Classification: "unavailable", Latency: latency}
	}
	if e.logger != nil && e.budget > 0 && latency > e.budget {
		e.logger.Warn("model over latency budget", "model", req.Model, "latency", latency, "budget", e.budget)
	}
	return Result{
		Model:          req.Model,
		Classification: classification,
		Confidence:     confidence,
		RiskScore:      risk,
		Latency:        latency,
		Available:      true,
	}
}

// InferBatch runs all requests concurrently and waits for every result.
// Results come back in request order.
func (e *Engine) InferBatch(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			results[i] = e.Infer(ctx, req)
		}(i, req)
	}
	wg.Wait()
	return results
}

func (e *Engine) Has(kind ModelKind) bool {
	_, ok := e.models[kind]
	return ok
}
