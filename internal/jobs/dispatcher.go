package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reviewpulse/reviewpulse/internal/clock"
)

// Pool pairs a queue with its worker count.
type Pool struct {
	Queue   Queue
	Workers int
}

// Dispatcher routes new jobs onto the queue their kind belongs to and fans
// worker pools out over all queues.
type Dispatcher struct {
	registry *Registry
	specs    map[Kind]Spec
	pools    map[string]Pool
	clock    clock.Clock
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher over the given pools, keyed by queue
// name.
func NewDispatcher(registry *Registry, specs map[Kind]Spec, pools map[string]Pool, clk clock.Clock, logger *zap.Logger) *Dispatcher {
	if specs == nil {
		specs = DefaultSpecs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		registry: registry,
		specs:    specs,
		pools:    pools,
		clock:    clk,
		logger:   logger,
	}
}

// Enqueue marshals the payload and submits a fresh job (attempt 1) to the
// kind's queue, optionally delayed.
func (d *Dispatcher) Enqueue(ctx context.Context, kind Kind, payload any, delay time.Duration) (uuid.UUID, error) {
	spec, ok := d.specs[kind]
	if !ok {
		return uuid.Nil, fmt.Errorf("unknown job kind %q", kind)
	}
	pool, ok := d.pools[spec.Queue]
	if !ok {
		return uuid.Nil, fmt.Errorf("no pool for queue %q", spec.Queue)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal payload: %w", err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate job id: %w", err)
	}
	now := d.clock.Now()
	job := Job{
		ID:         id,
		Kind:       kind,
		Payload:    data,
		Attempt:    1,
		RunAt:      now.Add(delay),
		EnqueuedAt: now,
	}
	if err := pool.Queue.Enqueue(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	d.logger.Debug("job enqueued",
		zap.String("kind", string(kind)),
		zap.String("job_id", id.String()),
		zap.Duration("delay", delay),
	)
	return id, nil
}

// Run starts all worker pools and blocks until the context finishes and
// every worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for name, pool := range d.pools {
		for i := 0; i < pool.Workers; i++ {
			wg.Add(1)
			w := NewWorker(pool.Queue, d.registry, d.specs, d.clock, d.logger.With(zap.String("queue", name)))
			go func() {
				defer wg.Done()
				w.Run(ctx)
			}()
		}
	}
	<-ctx.Done()
	wg.Wait()
}

// Close closes all queues.
func (d *Dispatcher) Close() {
	for _, pool := range d.pools {
		pool.Queue.Close()
	}
}
