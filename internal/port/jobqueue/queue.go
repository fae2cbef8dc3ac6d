// Package jobqueue defines the job queue port: an at-least-once queue with
// addressable jobs, delayed delivery, bounded retries with backoff, and
// bounded retention of finished jobs.
package jobqueue

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateJob is returned by Add when a job with the same ID is still
// waiting, delayed or active. Callers that coalesce work treat this as
// success.
var ErrDuplicateJob = errors.New("jobqueue: duplicate job id")

// State is the lifecycle state of a job.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Options controls scheduling, retries and retention for one job.
type Options struct {
	Delay            time.Duration
	Attempts         int           // total attempts including the first; 0 means 1
	Backoff          time.Duration // initial backoff, doubled per retry
	RemoveOnComplete Retention
	RemoveOnFail     Retention
}

// Retention bounds how many finished jobs of a kind are kept, and for how long.
type Retention struct {
	Count int
	Age   time.Duration
}

// Job is a handle on an enqueued job.
type Job interface {
	ID() string
	Data() []byte
	State(ctx context.Context) (State, error)
	Remove(ctx context.Context) error
}

// Stats summarizes queue depth per state.
type Stats struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Handler processes one job. A non-nil error triggers a retry while
// attempts remain, then the job lands in failed.
type Handler func(ctx context.Context, job Job) error

// Queue is the port interface for a named job queue.
type Queue interface {
	// Add enqueues a job under the given ID. Adding an ID that already
	// exists in an unfinished state returns ErrDuplicateJob.
	Add(ctx context.Context, jobID string, data []byte, opts Options) (Job, error)

	// GetJob returns a handle for the given ID, or nil if unknown.
	GetJob(ctx context.Context, jobID string) (Job, error)

	// Stats reports queue depth per state.
	Stats(ctx context.Context) (Stats, error)

	// Close releases queue resources.
	Close() error
}

// Worker consumes a queue with bounded concurrency.
type Worker interface {
	// Start begins consuming until ctx is canceled.
	Start(ctx context.Context, handler Handler) error

	// Close stops consuming and waits for in-flight jobs.
	Close() error
}
