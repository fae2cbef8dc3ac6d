package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vantahire/signal/internal/domain/sourcing"
	"github.com/vantahire/signal/internal/ranking"
	"github.com/vantahire/signal/internal/requirements"
)

// ReplaceSourcingCandidates atomically replaces the ranked output of a
// request: delete-all then batch insert in one transaction.
func (s *Store) ReplaceSourcingCandidates(ctx context.Context, tenantID, requestID string, rows []sourcing.Candidate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`DELETE FROM sourcing_candidates WHERE tenant_id = $1 AND request_id = $2`,
		tenantID, requestID)
	if err != nil {
		return fmt.Errorf("clear sourcing candidates: %w", err)
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		breakdown, err := json.Marshal(row.FitBreakdown)
		if err != nil {
			return fmt.Errorf("marshal fit breakdown: %w", err)
		}
		batch.Queue(
			`INSERT INTO sourcing_candidates
			     (tenant_id, request_id, candidate_id, fit_score, fit_breakdown,
			      source_type, enrichment_status, rank)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			tenantID, requestID, row.CandidateID, row.FitScore, breakdown,
			row.SourceType, row.EnrichmentStatus, row.Rank)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert sourcing candidates: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) ListSourcingCandidates(ctx context.Context, tenantID, requestID string) ([]sourcing.Candidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT request_id, candidate_id, fit_score, fit_breakdown, source_type, enrichment_status, rank
		 FROM sourcing_candidates
		 WHERE tenant_id = $1 AND request_id = $2
		 ORDER BY rank ASC`,
		tenantID, requestID)
	if err != nil {
		return nil, fmt.Errorf("list sourcing candidates: %w", err)
	}
	defer rows.Close()

	var out []sourcing.Candidate
	for rows.Next() {
		var (
			row       sourcing.Candidate
			breakdown []byte
		)
		err := rows.Scan(&row.RequestID, &row.CandidateID, &row.FitScore, &breakdown,
			&row.SourceType, &row.EnrichmentStatus, &row.Rank)
		if err != nil {
			return nil, fmt.Errorf("scan sourcing candidate: %w", err)
		}
		if err := json.Unmarshal(breakdown, &row.FitBreakdown); err != nil {
			return nil, fmt.Errorf("unmarshal fit breakdown: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// UpdateSourcingRanks rewrites fit scores, breakdowns, enrichment statuses
// and ranks in one transaction. sourceType is deliberately not in the UPDATE
// list. The request's last_reranked_at moves in the same transaction.
func (s *Store) UpdateSourcingRanks(ctx context.Context, tenantID, requestID string, rows []sourcing.Candidate, rerankedAt time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, row := range rows {
		breakdown, err := json.Marshal(row.FitBreakdown)
		if err != nil {
			return fmt.Errorf("marshal fit breakdown: %w", err)
		}
		batch.Queue(
			`UPDATE sourcing_candidates
			 SET fit_score = $1, fit_breakdown = $2, enrichment_status = $3, rank = $4
			 WHERE tenant_id = $5 AND request_id = $6 AND candidate_id = $7`,
			row.FitScore, breakdown, row.EnrichmentStatus, row.Rank,
			tenantID, requestID, row.CandidateID)
	}
	batch.Queue(
		`UPDATE sourcing_requests SET last_reranked_at = $1, updated_at = now()
		 WHERE id = $2 AND tenant_id = $3`,
		rerankedAt, requestID, tenantID)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("update sourcing ranks: %w", err)
	}
	return tx.Commit(ctx)
}

// ListCompletedRequestIDsContaining returns the completed (or already
// called-back) requests whose output includes the candidate.
func (s *Store) ListCompletedRequestIDsContaining(ctx context.Context, tenantID, candidateID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT sc.request_id
		 FROM sourcing_candidates sc
		 JOIN sourcing_requests sr ON sr.id = sc.request_id AND sr.tenant_id = sc.tenant_id
		 WHERE sc.tenant_id = $1 AND sc.candidate_id = $2 AND sr.status = ANY($3)`,
		tenantID, candidateID,
		[]string{string(sourcing.StatusComplete), string(sourcing.StatusCallbackSent)})
	if err != nil {
		return nil, fmt.Errorf("list requests containing candidate: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan request id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListRecentlyExposedCandidateIDs returns the candidates surfaced in prior
// requests for the same role family and city inside the lookback window.
// City matching uses the normalized job-context location.
func (s *Store) ListRecentlyExposedCandidateIDs(ctx context.Context, tenantID, roleFamily, city string, since time.Time) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT sc.candidate_id, sr.job_context
		 FROM sourcing_candidates sc
		 JOIN sourcing_requests sr ON sr.id = sc.request_id AND sr.tenant_id = sc.tenant_id
		 WHERE sc.tenant_id = $1 AND sr.created_at >= $2 AND sr.status <> $3`,
		tenantID, since, sourcing.StatusFailed)
	if err != nil {
		return nil, fmt.Errorf("list exposed candidates: %w", err)
	}
	defer rows.Close()

	// Role-family and city live inside the job context blob, so the key
	// match happens here rather than in SQL.
	out := make(map[string]struct{})
	contexts := make(map[string]bool)
	for rows.Next() {
		var candidateID string
		var raw []byte
		if err := rows.Scan(&candidateID, &raw); err != nil {
			return nil, fmt.Errorf("scan exposed candidate: %w", err)
		}
		key := string(raw)
		match, seen := contexts[key]
		if !seen {
			match = contextMatchesKey(raw, roleFamily, city)
			contexts[key] = match
		}
		if match {
			out[candidateID] = struct{}{}
		}
	}
	return out, rows.Err()
}

func contextMatchesKey(rawContext []byte, roleFamily, city string) bool {
	var jc sourcing.JobContext
	if err := json.Unmarshal(rawContext, &jc); err != nil {
		return false
	}
	reqs := requirements.Build(jc)
	return reqs.RoleFamily == roleFamily && ranking.PrimaryCity(reqs.Location) == city
}

// InsertQueryTelemetry records one executed discovery query.
func (s *Store) InsertQueryTelemetry(ctx context.Context, tenantID string, row sourcing.QueryRunTelemetry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO query_run_telemetry
		     (tenant_id, request_id, phase, query, provider, used_fallback_provider,
		      result_count, accepted_count, cumulative_discovered, latency_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		tenantID, row.RequestID, row.Phase, row.Query, row.Provider, row.UsedFallbackProvider,
		row.ResultCount, row.AcceptedCount, row.CumulativeDiscovered, row.LatencyMs, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert query telemetry: %w", err)
	}
	return nil
}
