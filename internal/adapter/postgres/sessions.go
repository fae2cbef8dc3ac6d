package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Sessions implements enrichment.Sessions over the shared enrichment_sessions
// table. The enrichment subsystem consumes the rows; this side only enqueues.
type Sessions struct {
	pool *pgxpool.Pool
}

func NewSessions(pool *pgxpool.Pool) *Sessions {
	return &Sessions{pool: pool}
}

// CreateSession enqueues an enrichment session, deduped against sessions
// already queued or running for the same tenant and candidate. Returns false
// when an open session already exists.
func (s *Sessions) CreateSession(ctx context.Context, tenantID, candidateID string, priority int) (bool, error) {
	// The partial unique index on open sessions makes the dedup atomic.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO enrichment_sessions (id, tenant_id, candidate_id, priority, status)
		 VALUES ($1, $2, $3, $4, 'queued')
		 ON CONFLICT (tenant_id, candidate_id) WHERE status IN ('queued', 'running')
		 DO NOTHING`,
		uuid.NewString(), tenantID, candidateID, priority)
	if err != nil {
		return false, fmt.Errorf("create enrichment session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
