// Package enrichment defines the port into the candidate enrichment
// subsystem.
package enrichment

import "context"

// Priority bands for enrichment sessions: 10-29 rank-driven, 30-39
// in-output discovered reserve, 40-49 discovered orphans, 50 stale refresh.
// Always clamped to [1,99].
const (
	PriorityRankBase          = 10
	PriorityDiscoveredReserve = 30
	PriorityDiscoveredOrphan  = 40
	PriorityStaleRefresh      = 50
	PriorityMin               = 1
	PriorityMax               = 99
)

// Sessions is the port interface for enqueuing enrichment work.
type Sessions interface {
	// CreateSession enqueues an enrichment session for the candidate,
	// deduped by the subsystem against already queued or running sessions
	// for the same tenant and candidate. Returns false when deduped.
	CreateSession(ctx context.Context, tenantID, candidateID string, priority int) (bool, error)
}
