package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vantahire/signal/internal/domain/sourcing"
)

const requestColumns = `id, tenant_id, external_job_id, callback_url, job_context, status,
	diagnostics, result_count, queries_executed, quality_gate_triggered, enriched_count,
	callback_attempts, last_callback_error, completed_at, last_reranked_at, created_at, updated_at`

func (s *Store) CreateRequest(ctx context.Context, tenantID string, req sourcing.CreateRequest) (*sourcing.Request, error) {
	jc, err := json.Marshal(req.JobContext)
	if err != nil {
		return nil, fmt.Errorf("marshal job context: %w", err)
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO sourcing_requests (id, tenant_id, external_job_id, callback_url, job_context, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+requestColumns,
		uuid.NewString(), tenantID, req.ExternalJobID, req.CallbackURL, jc, sourcing.StatusQueued)

	out, err := scanRequest(row)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return &out, nil
}

func (s *Store) GetRequest(ctx context.Context, tenantID, id string) (*sourcing.Request, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM sourcing_requests WHERE id = $1 AND tenant_id = $2`,
		id, tenantID)

	out, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get request %s: %w", id, err)
	}
	return &out, nil
}

func (s *Store) UpdateRequestStatus(ctx context.Context, tenantID, id string, status sourcing.Status) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sourcing_requests SET status = $1, updated_at = now()
		 WHERE id = $2 AND tenant_id = $3`,
		status, id, tenantID)
	if err != nil {
		return fmt.Errorf("update request status: %w", err)
	}
	return nil
}

// CompleteRequest merges the run diagnostics onto whatever the row already
// holds, then flips the request to complete with its summary counters.
func (s *Store) CompleteRequest(ctx context.Context, tenantID, id string, result sourcing.OrchestratorResult, diags sourcing.Diagnostics) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var raw []byte
	err = tx.QueryRow(ctx,
		`SELECT diagnostics FROM sourcing_requests
		 WHERE id = $1 AND tenant_id = $2 FOR UPDATE`,
		id, tenantID).Scan(&raw)
	if err != nil {
		return fmt.Errorf("lock request %s: %w", id, err)
	}

	merged, err := mergeDiagnostics(raw, diags)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE sourcing_requests
		 SET status = $1, diagnostics = $2, result_count = $3, queries_executed = $4,
		     quality_gate_triggered = $5, completed_at = now(), updated_at = now()
		 WHERE id = $6 AND tenant_id = $7`,
		sourcing.StatusComplete, merged, result.ResultCount, result.QueriesExecuted,
		result.QualityGate.Triggered, id, tenantID)
	if err != nil {
		return fmt.Errorf("complete request %s: %w", id, err)
	}
	return tx.Commit(ctx)
}

func (s *Store) FailRequest(ctx context.Context, tenantID, id string, diags sourcing.Diagnostics) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var raw []byte
	err = tx.QueryRow(ctx,
		`SELECT diagnostics FROM sourcing_requests
		 WHERE id = $1 AND tenant_id = $2 FOR UPDATE`,
		id, tenantID).Scan(&raw)
	if err != nil {
		return fmt.Errorf("lock request %s: %w", id, err)
	}

	merged, err := mergeDiagnostics(raw, diags)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE sourcing_requests
		 SET status = $1, diagnostics = $2, updated_at = now()
		 WHERE id = $3 AND tenant_id = $4`,
		sourcing.StatusFailed, merged, id, tenantID)
	if err != nil {
		return fmt.Errorf("fail request %s: %w", id, err)
	}
	return tx.Commit(ctx)
}

func (s *Store) RecordCallbackAttempt(ctx context.Context, tenantID, id string, lastError string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sourcing_requests
		 SET callback_attempts = callback_attempts + 1, last_callback_error = $1, updated_at = now()
		 WHERE id = $2 AND tenant_id = $3`,
		nullIfEmpty(lastError), id, tenantID)
	if err != nil {
		return fmt.Errorf("record callback attempt: %w", err)
	}
	return nil
}

func (s *Store) SetCallbackOutcome(ctx context.Context, tenantID, id string, status sourcing.Status) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sourcing_requests SET status = $1, updated_at = now()
		 WHERE id = $2 AND tenant_id = $3`,
		status, id, tenantID)
	if err != nil {
		return fmt.Errorf("set callback outcome: %w", err)
	}
	return nil
}

// ListSweepableRequests returns callback_failed requests old enough for the
// re-delivery sweeper, oldest first.
func (s *Store) ListSweepableRequests(ctx context.Context, tenantID string, olderThan time.Time, limit int) ([]sourcing.Request, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+requestColumns+` FROM sourcing_requests
		 WHERE tenant_id = $1 AND status = $2 AND updated_at < $3
		 ORDER BY updated_at ASC
		 LIMIT $4`,
		tenantID, sourcing.StatusCallbackFailed, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list sweepable requests: %w", err)
	}
	defer rows.Close()

	var out []sourcing.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (s *Store) SetLastRerankedAt(ctx context.Context, tenantID, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sourcing_requests SET last_reranked_at = $1, updated_at = now()
		 WHERE id = $2 AND tenant_id = $3`,
		at, id, tenantID)
	if err != nil {
		return fmt.Errorf("set last reranked at: %w", err)
	}
	return nil
}

// mergeDiagnostics overlays incoming diagnostics onto the stored blob so
// subsections written earlier in the lifecycle survive completion.
func mergeDiagnostics(stored []byte, incoming sourcing.Diagnostics) ([]byte, error) {
	var base sourcing.Diagnostics
	if len(stored) > 0 {
		if err := json.Unmarshal(stored, &base); err != nil {
			return nil, fmt.Errorf("unmarshal stored diagnostics: %w", err)
		}
	}
	base.Merge(incoming)
	out, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("marshal diagnostics: %w", err)
	}
	return out, nil
}

func scanRequest(row scannable) (sourcing.Request, error) {
	var (
		req         sourcing.Request
		jc          []byte
		diags       []byte
		lastCbErr   *string
		completedAt *time.Time
		rerankedAt  *time.Time
	)
	err := row.Scan(
		&req.ID, &req.TenantID, &req.ExternalJobID, &req.CallbackURL, &jc, &req.Status,
		&diags, &req.ResultCount, &req.QueriesExecuted, &req.QualityGateTriggered, &req.EnrichedCount,
		&req.CallbackAttempts, &lastCbErr, &completedAt, &rerankedAt, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return sourcing.Request{}, err
	}
	if err := json.Unmarshal(jc, &req.JobContext); err != nil {
		return sourcing.Request{}, fmt.Errorf("unmarshal job context: %w", err)
	}
	if len(diags) > 0 {
		if err := json.Unmarshal(diags, &req.Diagnostics); err != nil {
			return sourcing.Request{}, fmt.Errorf("unmarshal diagnostics: %w", err)
		}
	}
	if lastCbErr != nil {
		req.LastCallbackError = *lastCbErr
	}
	req.CompletedAt = completedAt
	req.LastRerankedAt = rerankedAt
	return req, nil
}
