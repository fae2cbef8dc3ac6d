package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/vantahire/signal/internal/config"
	"github.com/vantahire/signal/internal/domain/candidate"
	"github.com/vantahire/signal/internal/domain/sourcing"
	"github.com/vantahire/signal/internal/port/database"
	"github.com/vantahire/signal/internal/port/jobqueue"
	"github.com/vantahire/signal/internal/port/messagequeue"
	"github.com/vantahire/signal/internal/ranking"
	"github.com/vantahire/signal/internal/requirements"
)

// RerankQueue is the queue name for post-enrichment recompute jobs.
const RerankQueue = "sourcing-rerank"

// RerankJobPayload is the queue payload of one rerank job.
type RerankJobPayload struct {
	RequestID string `json:"request_id"`
	TenantID  string `json:"tenant_id"`
}

func rerankJobID(requestID string) string {
	return "rerank:" + requestID
}

// RerankStore is the slice of the database port the reranker needs.
type RerankStore interface {
	GetRequest(ctx context.Context, tenantID, id string) (*sourcing.Request, error)
	ListCompletedRequestIDsContaining(ctx context.Context, tenantID, candidateID string) ([]string, error)
	ListSourcingCandidates(ctx context.Context, tenantID, requestID string) ([]sourcing.Candidate, error)
	GetCandidatesWithSnapshots(ctx context.Context, tenantID string, ids []string, tracks []candidate.Track) ([]database.PoolCandidate, error)
	UpdateSourcingRanks(ctx context.Context, tenantID, requestID string, rows []sourcing.Candidate, rerankedAt time.Time) error
}

// Reranker schedules and executes full re-rankings of completed requests
// after enrichment lands new snapshots. Scheduling coalesces bursts: one
// delayed job per request, addressed by a stable job ID.
type Reranker struct {
	store  RerankStore
	queue  jobqueue.Queue
	cfg    config.Sourcing
	logger *slog.Logger
	now    func() time.Time
}

func NewReranker(store RerankStore, queue jobqueue.Queue, cfg config.Sourcing, logger *slog.Logger) *Reranker {
	return &Reranker{
		store:  store,
		queue:  queue,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// HandleEvent consumes enrichment.completed messages and schedules a rerank
// for every completed request that contains the enriched candidate.
func (r *Reranker) HandleEvent(ctx context.Context, subject string, data []byte) error {
	if !r.cfg.RerankAfterEnrichment {
		return nil
	}
	var ev messagequeue.EnrichmentCompletedPayload
	if err := json.Unmarshal(data, &ev); err != nil {
		r.logger.Error("enrichment event payload invalid", "subject", subject, "error", err)
		return nil
	}
	if ev.TenantID == "" || ev.CandidateID == "" {
		return nil
	}

	requestIDs, err := r.store.ListCompletedRequestIDsContaining(ctx, ev.TenantID, ev.CandidateID)
	if err != nil {
		return fmt.Errorf("list requests containing candidate: %w", err)
	}
	for _, requestID := range requestIDs {
		if err := r.Schedule(ctx, ev.TenantID, requestID); err != nil {
			r.logger.Warn("rerank scheduling failed",
				"request_id", requestID, "error", err)
		}
	}
	return nil
}

// Schedule enqueues a delayed rerank for the request, coalescing with any
// rerank already pending for it.
func (r *Reranker) Schedule(ctx context.Context, tenantID, requestID string) error {
	jobID := rerankJobID(requestID)

	job, err := r.queue.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job != nil {
		state, err := job.State(ctx)
		if err != nil {
			return err
		}
		switch state {
		case jobqueue.StateWaiting, jobqueue.StateDelayed, jobqueue.StateActive:
			// A pending rerank will pick this completion up too.
			return nil
		default:
			if err := job.Remove(ctx); err != nil {
				return err
			}
		}
	}

	data, err := json.Marshal(RerankJobPayload{RequestID: requestID, TenantID: tenantID})
	if err != nil {
		return err
	}
	_, err = r.queue.Add(ctx, jobID, data, jobqueue.Options{
		Delay:    time.Duration(r.cfg.RerankDelayMs) * time.Millisecond,
		Attempts: 2,
		Backoff:  10 * time.Second,
		RemoveOnComplete: jobqueue.Retention{
			Count: 500,
			Age:   24 * time.Hour,
		},
		RemoveOnFail: jobqueue.Retention{
			Count: 2000,
			Age:   7 * 24 * time.Hour,
		},
	})
	if errors.Is(err, jobqueue.ErrDuplicateJob) {
		// A concurrent notifier won the add race.
		return nil
	}
	return err
}

// Handle is the jobqueue handler for the rerank queue. Idempotent: it
// recomputes the full ranking from the latest snapshots.
func (r *Reranker) Handle(ctx context.Context, job jobqueue.Job) error {
	var payload RerankJobPayload
	if err := json.Unmarshal(job.Data(), &payload); err != nil {
		r.logger.Error("rerank job payload invalid", "job_id", job.ID(), "error", err)
		return nil
	}
	return r.Rerank(ctx, payload.TenantID, payload.RequestID)
}

// Rerank reloads the request's output and re-scores it against the latest
// candidate snapshots, rewriting fit scores and ranks in one transaction.
// sourceType is never touched.
func (r *Reranker) Rerank(ctx context.Context, tenantID, requestID string) error {
	log := r.logger.With("request_id", requestID, "tenant_id", tenantID)

	req, err := r.store.GetRequest(ctx, tenantID, requestID)
	if err != nil {
		return fmt.Errorf("load request: %w", err)
	}
	if req == nil {
		log.Warn("rerank target request not found")
		return nil
	}
	if req.Status != sourcing.StatusComplete && req.Status != sourcing.StatusCallbackSent {
		log.Info("rerank skipped, request not complete", "status", req.Status)
		return nil
	}
	if req.JobContext.JDDigest == "" && req.JobContext.Title == "" && len(req.JobContext.Skills) == 0 {
		log.Warn("rerank skipped, job context empty")
		return nil
	}

	rows, err := r.store.ListSourcingCandidates(ctx, tenantID, requestID)
	if err != nil {
		return fmt.Errorf("load sourcing candidates: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}

	track := sourcing.TrackBlended
	if req.Diagnostics.TrackDecision != nil {
		track = req.Diagnostics.TrackDecision.Track
	}
	tracks := trackFilter(track)

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.CandidateID
	}
	pcs, err := r.store.GetCandidatesWithSnapshots(ctx, tenantID, ids, tracks)
	if err != nil {
		return fmt.Errorf("load candidates with snapshots: %w", err)
	}

	reqs := requirements.Build(req.JobContext)
	opts := ranking.Options{
		FitScoreEpsilon:     r.cfg.FitScoreEpsilon,
		LocationBoostWeight: r.cfg.LocationBoostWeight,
		Now:                 r.now(),
	}
	inputs := make([]ranking.Input, 0, len(pcs))
	for _, pc := range pcs {
		inputs = append(inputs, ranking.Input{
			Candidate: pc.Candidate,
			Snapshot:  selectSnapshot(pc.Snapshots, tracks),
		})
	}
	scored := ranking.Rank(inputs, reqs, opts)

	scoredByID := make(map[string]ranking.Scored, len(scored))
	for _, s := range scored {
		scoredByID[s.Candidate.ID] = s
	}

	// Rewrite scores in place; rows missing from the reload keep their
	// previous breakdown and only move by the comparator.
	type rescored struct {
		row    sourcing.Candidate
		scored ranking.Scored
	}
	updated := make([]rescored, len(rows))
	for i, row := range rows {
		u := rescored{row: row}
		if s, ok := scoredByID[row.CandidateID]; ok {
			u.row.FitScore = s.FitScore
			u.row.FitBreakdown = s.Breakdown
			u.row.EnrichmentStatus = s.Candidate.EnrichmentStatus
			u.scored = s
		} else {
			u.scored = ranking.Scored{
				FitScore:  row.FitScore,
				Breakdown: row.FitBreakdown,
			}
			u.scored.Candidate.ID = row.CandidateID
		}
		updated[i] = u
	}

	sort.SliceStable(updated, func(i, j int) bool {
		ti := tierOrder(updated[i].row.FitBreakdown.MatchTier)
		tj := tierOrder(updated[j].row.FitBreakdown.MatchTier)
		if ti != tj {
			return ti < tj
		}
		return ranking.CompareFitWithConfidence(updated[i].scored, updated[j].scored, r.cfg.FitScoreEpsilon) < 0
	})

	out := make([]sourcing.Candidate, len(updated))
	for i, u := range updated {
		u.row.Rank = i + 1
		out[i] = u.row
	}

	if err := r.store.UpdateSourcingRanks(ctx, tenantID, requestID, out, r.now()); err != nil {
		return fmt.Errorf("update sourcing ranks: %w", err)
	}
	log.Info("rerank applied", "rows", len(out))
	return nil
}

func tierOrder(t sourcing.MatchTier) int {
	if t == sourcing.TierStrict {
		return 0
	}
	return 1
}
