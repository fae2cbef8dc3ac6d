package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vantahire/signal/internal/domain/candidate"
	"github.com/vantahire/signal/internal/hints"
	"github.com/vantahire/signal/internal/port/database"
)

const candidateColumns = `id, tenant_id, profile_url, profile_handle, capture_source,
	search_provider, search_query, search_title, search_snippet, search_meta,
	name_hint, headline_hint, location_hint, company_hint,
	enrichment_status, last_enriched_at, role_type, confidence_score, created_at, updated_at`

// ListPoolCandidates returns the most recently updated candidates with their
// snapshots under the track filter. Candidates without any snapshot are
// included; ranking scores them from hints alone.
func (s *Store) ListPoolCandidates(ctx context.Context, tenantID string, tracks []candidate.Track, limit int) ([]database.PoolCandidate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+candidateColumns+` FROM candidates
		 WHERE tenant_id = $1
		 ORDER BY updated_at DESC
		 LIMIT $2`,
		tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list pool candidates: %w", err)
	}
	defer rows.Close()

	pool, index, err := collectCandidates(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachSnapshots(ctx, pool, index, tracks); err != nil {
		return nil, err
	}
	return pool, nil
}

func (s *Store) GetCandidatesWithSnapshots(ctx context.Context, tenantID string, ids []string, tracks []candidate.Track) ([]database.PoolCandidate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+candidateColumns+` FROM candidates
		 WHERE tenant_id = $1 AND id = ANY($2)`,
		tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("get candidates: %w", err)
	}
	defer rows.Close()

	pool, index, err := collectCandidates(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachSnapshots(ctx, pool, index, tracks); err != nil {
		return nil, err
	}
	return pool, nil
}

func collectCandidates(rows pgx.Rows) ([]database.PoolCandidate, map[string]int, error) {
	var pool []database.PoolCandidate
	index := make(map[string]int)
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, nil, err
		}
		index[c.ID] = len(pool)
		pool = append(pool, database.PoolCandidate{Candidate: c})
	}
	return pool, index, rows.Err()
}

func (s *Store) attachSnapshots(ctx context.Context, pool []database.PoolCandidate, index map[string]int, tracks []candidate.Track) error {
	if len(pool) == 0 {
		return nil
	}
	ids := make([]string, len(pool))
	for i, pc := range pool {
		ids[i] = pc.Candidate.ID
	}
	trackNames := make([]string, len(tracks))
	for i, t := range tracks {
		trackNames[i] = string(t)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT candidate_id, track, skills_normalized, role_type, seniority_band,
		        location, activity_recency_days, computed_at, stale_after
		 FROM intelligence_snapshots
		 WHERE candidate_id = ANY($1) AND track = ANY($2)`,
		ids, trackNames)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var snap candidate.Snapshot
		err := rows.Scan(
			&snap.CandidateID, &snap.Track, &snap.SkillsNormalized, &snap.RoleType,
			&snap.SeniorityBand, &snap.Location, &snap.ActivityRecencyDays,
			&snap.ComputedAt, &snap.StaleAfter,
		)
		if err != nil {
			return fmt.Errorf("scan snapshot: %w", err)
		}
		if i, ok := index[snap.CandidateID]; ok {
			pool[i].Snapshots = append(pool[i].Snapshots, snap)
		}
	}
	return rows.Err()
}

// ListKnownHandles returns every profile handle the tenant has already seen,
// mapped to the candidate ID.
func (s *Store) ListKnownHandles(ctx context.Context, tenantID string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT profile_handle, id FROM candidates WHERE tenant_id = $1`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list known handles: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var handle, id string
		if err := rows.Scan(&handle, &id); err != nil {
			return nil, fmt.Errorf("scan handle: %w", err)
		}
		out[handle] = id
	}
	return out, rows.Err()
}

// UpsertDiscoveredCandidate inserts a newly discovered profile, or updates
// an existing row under the replace-when-strictly-better hint rule.
// searchMeta is replaced unconditionally. The bool reports whether the row
// is new to the tenant.
func (s *Store) UpsertDiscoveredCandidate(ctx context.Context, tenantID string, up database.CandidateUpsert) (*candidate.Candidate, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	meta, err := marshalSearchMeta(up.SearchMeta)
	if err != nil {
		return nil, false, err
	}

	row := tx.QueryRow(ctx,
		`SELECT `+candidateColumns+` FROM candidates
		 WHERE tenant_id = $1 AND profile_handle = $2 FOR UPDATE`,
		tenantID, up.ProfileHandle)
	existing, err := scanCandidate(row)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		inserted := tx.QueryRow(ctx,
			`INSERT INTO candidates (id, tenant_id, profile_url, profile_handle, capture_source,
			     search_provider, search_query, search_title, search_snippet, search_meta,
			     name_hint, headline_hint, location_hint, company_hint, enrichment_status)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			 RETURNING `+candidateColumns,
			uuid.NewString(), tenantID, up.ProfileURL, up.ProfileHandle, up.CaptureSource,
			up.SearchProvider, up.SearchQuery, up.SearchTitle, up.SearchSnippet, meta,
			nullIfEmpty(up.NameHint), nullIfEmpty(up.HeadlineHint),
			nullIfEmpty(up.LocationHint), nullIfEmpty(up.CompanyHint),
			candidate.EnrichmentPending)
		created, err := scanCandidate(inserted)
		if err != nil {
			return nil, false, fmt.Errorf("insert candidate: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, err
		}
		return &created, true, nil

	case err != nil:
		return nil, false, fmt.Errorf("load candidate for upsert: %w", err)
	}

	if hints.ShouldReplace(existing.NameHint, up.NameHint) {
		existing.NameHint = up.NameHint
	}
	if hints.ShouldReplace(existing.HeadlineHint, up.HeadlineHint) {
		existing.HeadlineHint = up.HeadlineHint
	}
	if hints.ShouldReplaceLocationHint(existing.LocationHint, up.LocationHint) {
		existing.LocationHint = up.LocationHint
	}
	if hints.ShouldReplaceCompanyHint(existing.CompanyHint, up.CompanyHint) {
		existing.CompanyHint = up.CompanyHint
	}
	existing.SearchMeta = up.SearchMeta

	_, err = tx.Exec(ctx,
		`UPDATE candidates
		 SET search_provider = $1, search_query = $2, search_title = $3, search_snippet = $4,
		     search_meta = $5, name_hint = $6, headline_hint = $7, location_hint = $8,
		     company_hint = $9, updated_at = now()
		 WHERE id = $10 AND tenant_id = $11`,
		up.SearchProvider, up.SearchQuery, up.SearchTitle, up.SearchSnippet, meta,
		nullIfEmpty(existing.NameHint), nullIfEmpty(existing.HeadlineHint),
		nullIfEmpty(existing.LocationHint), nullIfEmpty(existing.CompanyHint),
		existing.ID, tenantID)
	if err != nil {
		return nil, false, fmt.Errorf("update candidate %s: %w", existing.ID, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func marshalSearchMeta(meta *candidate.SearchMeta) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal search meta: %w", err)
	}
	return raw, nil
}

func scanCandidate(row scannable) (candidate.Candidate, error) {
	var (
		c        candidate.Candidate
		meta     []byte
		name     *string
		headline *string
		location *string
		company  *string
		enriched *time.Time
	)
	err := row.Scan(
		&c.ID, &c.TenantID, &c.ProfileURL, &c.ProfileHandle, &c.CaptureSource,
		&c.SearchProvider, &c.SearchQuery, &c.SearchTitle, &c.SearchSnippet, &meta,
		&name, &headline, &location, &company,
		&c.EnrichmentStatus, &enriched, &c.RoleType, &c.ConfidenceScore, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return candidate.Candidate{}, err
	}
	if len(meta) > 0 {
		c.SearchMeta = &candidate.SearchMeta{}
		if err := json.Unmarshal(meta, c.SearchMeta); err != nil {
			return candidate.Candidate{}, fmt.Errorf("unmarshal search meta: %w", err)
		}
	}
	if name != nil {
		c.NameHint = *name
	}
	if headline != nil {
		c.HeadlineHint = *headline
	}
	if location != nil {
		c.LocationHint = *location
	}
	if company != nil {
		c.CompanyHint = *company
	}
	c.LastEnrichedAt = enriched
	return c, nil
}
