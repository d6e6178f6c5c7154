// Package enrich wraps the external prediction/scoring collaborator.
package enrich

import (
	"context"
	"log/slog"
	"time"

	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/core/stats"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/metrics"
)

// Predictor is the external scoring black box. Input is a finished
// aggregation result; output is an opaque predictions object. Calls may be
// slow or fail; the enricher bounds them.
type Predictor interface {
	Predict(ctx context.Context, result *stats.Result) (map[string]interface{}, error)
}

// Enricher attaches predictions to aggregation results with a hard timeout.
// Enrichment failure degrades the result, it never blocks feature delivery:
// the result flows on without predictions and with EnrichFailed set.
type Enricher struct {
	predictor Predictor
	timeout   time.Duration
	jobName   string
}

// New creates an enricher. A nil predictor disables enrichment entirely.
func New(predictor Predictor, timeout time.Duration, jobName string) *Enricher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Enricher{predictor: predictor, timeout: timeout, jobName: jobName}
}

// Enrich mutates result in place, attaching predictions or the degradation
// flag. Always returns the result; never returns an error to the pipeline.
func (e *Enricher) Enrich(ctx context.Context, result *stats.Result) *stats.Result {
	if e.predictor == nil {
		return result
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		predictions map[string]interface{}
		err         error
	}
	done := make(chan outcome, 1)
	go func() {
		p, err := e.predictor.Predict(callCtx, result)
		done <- outcome{predictions: p, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			e.degrade(result, out.err)
			return result
		}
		result.Predictions = out.predictions
		return result
	case <-callCtx.Done():
		e.degrade(result, callCtx.Err())
		return result
	}
}

func (e *Enricher) degrade(result *stats.Result, err error) {
	result.Predictions = nil
	result.EnrichFailed = true
	metrics.EnrichFailed(e.jobName)
	slog.Warn("[Enrich] Prediction collaborator failed, emitting without predictions",
		"job", e.jobName,
		"subject_id", result.SubjectID,
		"window_start", result.WindowStart,
		"error", err)
}
