// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/vantahire/signal/internal/domain/candidate"
	"github.com/vantahire/signal/internal/domain/sourcing"
)

// CandidateUpsert carries one discovered profile for upsert. Hints must
// already be sanitized; the store applies the replace-when-strictly-better
// rule against any existing row.
type CandidateUpsert struct {
	ProfileURL     string
	ProfileHandle  string
	CaptureSource  string
	SearchProvider string
	SearchQuery    string
	SearchTitle    string
	SearchSnippet  string
	SearchMeta     *candidate.SearchMeta
	NameHint       string
	HeadlineHint   string
	LocationHint   string
	CompanyHint    string
}

// PoolCandidate pairs a candidate with its latest snapshots under the
// active track filter.
type PoolCandidate struct {
	Candidate candidate.Candidate
	Snapshots []candidate.Snapshot
}

// Store is the port interface for database operations. All queries are
// tenant-scoped.
type Store interface {
	// Sourcing requests
	CreateRequest(ctx context.Context, tenantID string, req sourcing.CreateRequest) (*sourcing.Request, error)
	GetRequest(ctx context.Context, tenantID, id string) (*sourcing.Request, error)
	UpdateRequestStatus(ctx context.Context, tenantID, id string, status sourcing.Status) error
	CompleteRequest(ctx context.Context, tenantID, id string, result sourcing.OrchestratorResult, diags sourcing.Diagnostics) error
	FailRequest(ctx context.Context, tenantID, id string, diags sourcing.Diagnostics) error
	RecordCallbackAttempt(ctx context.Context, tenantID, id string, lastError string) error
	SetCallbackOutcome(ctx context.Context, tenantID, id string, status sourcing.Status) error
	ListSweepableRequests(ctx context.Context, tenantID string, olderThan time.Time, limit int) ([]sourcing.Request, error)
	SetLastRerankedAt(ctx context.Context, tenantID, id string, at time.Time) error

	// Candidates and snapshots
	ListPoolCandidates(ctx context.Context, tenantID string, tracks []candidate.Track, limit int) ([]PoolCandidate, error)
	GetCandidatesWithSnapshots(ctx context.Context, tenantID string, ids []string, tracks []candidate.Track) ([]PoolCandidate, error)
	ListKnownHandles(ctx context.Context, tenantID string) (map[string]string, error)
	UpsertDiscoveredCandidate(ctx context.Context, tenantID string, up CandidateUpsert) (*candidate.Candidate, bool, error)

	// Sourcing output rows
	ReplaceSourcingCandidates(ctx context.Context, tenantID, requestID string, rows []sourcing.Candidate) error
	ListSourcingCandidates(ctx context.Context, tenantID, requestID string) ([]sourcing.Candidate, error)
	UpdateSourcingRanks(ctx context.Context, tenantID, requestID string, rows []sourcing.Candidate, rerankedAt time.Time) error
	ListCompletedRequestIDsContaining(ctx context.Context, tenantID, candidateID string) ([]string, error)

	// Novelty
	ListRecentlyExposedCandidateIDs(ctx context.Context, tenantID, roleFamily, city string, since time.Time) (map[string]struct{}, error)

	// Telemetry
	InsertQueryTelemetry(ctx context.Context, tenantID string, row sourcing.QueryRunTelemetry) error
}
