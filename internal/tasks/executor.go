package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/odm/internal/metrics"
)

// Outcomes recorded per processed attempt
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
	OutcomeUnknown   = "unknown"
)

// errUnknownKind marks jobs nobody can handle; they are never retried
var errUnknownKind = errors.New("unknown job kind")

// executor runs one attempt of a job, shared by the pool and the redis queue
type executor struct {
	handlers *Handlers
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// attempt runs the handler once, recovering panics. The returned outcome tells the
// caller whether to retry.
func (e *executor) attempt(ctx context.Context, job *Job) (outcome string, err error) {
	start := time.Now()
	job.Attempts++

	logger := e.logger.With(
		zap.String("job", job.ID.String()),
		zap.String("kind", job.Kind),
		zap.Int("attempt", job.Attempts),
		zap.Int("max_attempts", job.MaxAttempts))

	defer func() {
		e.metrics.ObserveTask(job.Kind, outcome, time.Since(start))
	}()

	handler, err := e.handlers.Get(job.Kind)
	if err != nil {
		logger.Error("dropping job", zap.Error(err))
		return OutcomeUnknown, errors.Join(errUnknownKind, err)
	}

	err = run(ctx, handler, job.Payload)
	if err == nil {
		logger.Debug("job completed", zap.Duration("took", time.Since(start)))
		job.Error = ""
		return OutcomeSucceeded, nil
	}

	job.Error = err.Error()
	if job.IsRetryable() {
		logger.Warn("job failed, retrying", zap.Error(err))
		return OutcomeRetried, err
	}
	logger.Error("job exceeded max attempts", zap.Error(err))
	return OutcomeFailed, err
}

func run(ctx context.Context, handler Handler, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler: %v", r)
		}
	}()
	return handler(ctx, payload)
}
