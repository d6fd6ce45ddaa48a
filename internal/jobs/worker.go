package jobs

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/reviewpulse/reviewpulse/internal/clock"
	"github.com/reviewpulse/reviewpulse/internal/metrics"
)

// Worker consumes one queue and executes job attempts under the kind's
// retry contract: per-attempt timeout, backoff re-enqueue while attempts
// remain, and the failure hook on final exhaustion.
type Worker struct {
	queue    Queue
	registry *Registry
	specs    map[Kind]Spec
	clock    clock.Clock
	logger   *zap.Logger
}

// NewWorker constructs a Worker.
func NewWorker(queue Queue, registry *Registry, specs map[Kind]Spec, clk clock.Clock, logger *zap.Logger) *Worker {
	if specs == nil {
		specs = DefaultSpecs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		registry: registry,
		specs:    specs,
		clock:    clk,
		logger:   logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job Job) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	spec, ok := w.specs[job.Kind]
	if !ok {
		w.logger.Error("no spec for job kind", zap.String("kind", string(job.Kind)), zap.String("job_id", job.ID.String()))
		metrics.ObserveJob(string(job.Kind), "dropped")
		return
	}
	h, ok := w.registry.Get(job.Kind)
	if !ok {
		w.logger.Error("no handler registered for job kind", zap.String("kind", string(job.Kind)), zap.String("job_id", job.ID.String()))
		metrics.ObserveJob(string(job.Kind), "dropped")
		return
	}

	err := w.runAttempt(ctx, h, job, spec)
	if err == nil {
		metrics.ObserveJob(string(job.Kind), "succeeded")
		return
	}

	w.logger.Warn("job attempt failed",
		zap.String("kind", string(job.Kind)),
		zap.String("job_id", job.ID.String()),
		zap.Int("attempt", job.Attempt),
		zap.Int("max_tries", spec.MaxTries),
		zap.Error(err),
	)

	if job.Attempt < spec.MaxTries {
		retry := job
		retry.Attempt++
		retry.RunAt = w.clock.Now().Add(spec.Delay(job.Attempt))
		if enqErr := w.queue.Enqueue(ctx, retry); enqErr != nil {
			w.logger.Error("retry enqueue failed",
				zap.String("kind", string(job.Kind)),
				zap.String("job_id", job.ID.String()),
				zap.Error(enqErr),
			)
		} else {
			metrics.ObserveJobRetry(string(job.Kind))
			return
		}
	}

	metrics.ObserveJob(string(job.Kind), "failed")
	if hook, ok := h.(FailureHook); ok {
		hook.Failed(ctx, job, err)
	}
}

// runAttempt applies the per-attempt timeout and converts handler panics
// into errors so a bad payload cannot take down the pool.
func (w *Worker) runAttempt(ctx context.Context, h Handler, job Job, spec Spec) (err error) {
	attemptCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("job handler panic",
				zap.String("kind", string(job.Kind)),
				zap.String("job_id", job.ID.String()),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Run(attemptCtx, job)
}
