// Package messagequeue defines the message queue port for events exchanged
// with the enrichment subsystem.
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Close shuts down the queue connection.
	Close() error
}

// Subjects used by the sourcing core.
const (
	// SubjectEnrichmentCompleted is published by the enrichment subsystem
	// when a candidate's enrichment session finishes. It triggers a
	// coalesced rerank of every completed request containing the candidate.
	SubjectEnrichmentCompleted = "enrichment.completed"
)
