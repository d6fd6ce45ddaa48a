// Package jobs implements the queued-job infrastructure: the job envelope,
// the per-kind retry contract, the handler registry, worker pools, and the
// dispatcher that routes jobs onto named queues. Each job family runs on its
// own queue so backlog or failure in one cannot starve another. All job state
// travels inside the payload; nothing is shared in process memory between
// executions.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind identifies a job handler.
type Kind string

// Supported job kinds.
const (
	KindTriggerScrape         Kind = "trigger_scrape"
	KindPollProgress          Kind = "poll_progress"
	KindProcessResults        Kind = "process_results"
	KindRunAnalysisPipeline   Kind = "run_analysis_pipeline"
	KindRunPriceAnalysis      Kind = "run_price_analysis"
	KindScrapeProductMetadata Kind = "scrape_product_metadata"
)

// Named queues. One worker pool per queue.
const (
	QueueScraping = "scraping"
	QueueAnalysis = "analysis"
	QueuePricing  = "pricing"
	QueueMetadata = "metadata"
)

// ErrQueueClosed is returned by Dequeue once a queue has been closed and
// drained.
var ErrQueueClosed = errors.New("queue closed")

// Spec is the retry contract for one job kind: which queue it runs on, how
// many attempts it gets, the per-attempt wall-clock timeout, and the delay
// schedule between attempts.
type Spec struct {
	Queue    string
	MaxTries int
	Timeout  time.Duration
	Backoff  []time.Duration
}

// Delay returns the wait before the attempt following the given (1-based)
// failed attempt. Past the end of the schedule the last entry repeats.
func (s Spec) Delay(attempt int) time.Duration {
	if len(s.Backoff) == 0 {
		return 0
	}
	if attempt <= len(s.Backoff) {
		return s.Backoff[attempt-1]
	}
	return s.Backoff[len(s.Backoff)-1]
}

// DefaultSpecs returns the production retry contract. These values are part
// of the service's external behavioral surface and must not drift.
func DefaultSpecs() map[Kind]Spec {
	return map[Kind]Spec{
		KindTriggerScrape: {
			Queue:    QueueScraping,
			MaxTries: 3,
			Timeout:  60 * time.Second,
			Backoff:  []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second},
		},
		KindPollProgress: {
			Queue:    QueueScraping,
			MaxTries: 10,
			Timeout:  60 * time.Second,
			Backoff:  []time.Duration{30 * time.Second},
		},
		KindProcessResults: {
			Queue:    QueueScraping,
			MaxTries: 3,
			Timeout:  300 * time.Second,
			Backoff:  []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second},
		},
		KindRunAnalysisPipeline: {
			Queue:    QueueAnalysis,
			MaxTries: 3,
			Timeout:  360 * time.Second,
			Backoff:  []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second},
		},
		KindRunPriceAnalysis: {
			Queue:    QueuePricing,
			MaxTries: 2,
			Timeout:  120 * time.Second,
			Backoff:  []time.Duration{30 * time.Second, 60 * time.Second},
		},
		KindScrapeProductMetadata: {
			Queue:    QueueMetadata,
			MaxTries: 3,
			Timeout:  120 * time.Second,
		},
	}
}

// Job is the queue envelope. Payloads are self-contained JSON so that no
// cross-job state lives in process memory.
type Job struct {
	ID         uuid.UUID       `json:"id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	RunAt      time.Time       `json:"run_at"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Handler executes one job attempt. Returning an error triggers the kind's
// retry policy; returning nil completes the job.
type Handler interface {
	Run(ctx context.Context, job Job) error
}

// FailureHook is implemented by handlers that need to observe final
// exhaustion, after the last attempt has failed.
type FailureHook interface {
	Failed(ctx context.Context, job Job, err error)
}

// Queue is a named delayed work queue.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Dequeue(ctx context.Context) (Job, error)
	Close()
}

// Enqueuer submits new jobs. Handlers depend on this narrow interface to
// chain follow-up jobs without reaching into the dispatcher.
type Enqueuer interface {
	Enqueue(ctx context.Context, kind Kind, payload any, delay time.Duration) (uuid.UUID, error)
}

// UnmarshalPayload decodes a job's payload into v.
func UnmarshalPayload(job Job, v any) error {
	return json.Unmarshal(job.Payload, v)
}
