package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vantahire/signal/internal/callback"
	"github.com/vantahire/signal/internal/config"
	"github.com/vantahire/signal/internal/domain/sourcing"
	"github.com/vantahire/signal/internal/port/jobqueue"
	"github.com/vantahire/signal/internal/requirements"
)

// SourcingQueue is the queue name for orchestration jobs.
const SourcingQueue = "sourcing"

// SourcingJobPayload is the queue payload of one orchestration job.
type SourcingJobPayload struct {
	RequestID string `json:"request_id"`
	TenantID  string `json:"tenant_id"`
}

// SourcingJobOptions returns the scheduling defaults for orchestration jobs.
func SourcingJobOptions() jobqueue.Options {
	return jobqueue.Options{
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
	}
}

// WorkerStore is the slice of the database port the sourcing worker needs.
type WorkerStore interface {
	GetRequest(ctx context.Context, tenantID, id string) (*sourcing.Request, error)
	UpdateRequestStatus(ctx context.Context, tenantID, id string, status sourcing.Status) error
	CompleteRequest(ctx context.Context, tenantID, id string, result sourcing.OrchestratorResult, diags sourcing.Diagnostics) error
	FailRequest(ctx context.Context, tenantID, id string, diags sourcing.Diagnostics) error
}

// Classifier resolves a job context to a track decision.
type Classifier interface {
	Classify(ctx context.Context, jc sourcing.JobContext, req requirements.Requirements) sourcing.TrackDecision
}

// OrchestratorRunner runs the sourcing pipeline for one request.
type OrchestratorRunner interface {
	Run(ctx context.Context, req *sourcing.Request, decision sourcing.TrackDecision) (*Outcome, error)
}

// Deliverer posts the final callback for a request.
type Deliverer interface {
	Deliver(ctx context.Context, req *sourcing.Request, payload callback.Payload, updateStatus bool) error
}

// SourcingWorker consumes orchestration jobs: classify, orchestrate,
// persist the outcome and always attempt the callback.
type SourcingWorker struct {
	store        WorkerStore
	classifier   Classifier
	orchestrator OrchestratorRunner
	deliverer    Deliverer
	cfg          config.Sourcing
	logger       *slog.Logger
}

func NewSourcingWorker(
	store WorkerStore,
	classifier Classifier,
	orchestrator OrchestratorRunner,
	deliverer Deliverer,
	cfg config.Sourcing,
	logger *slog.Logger,
) *SourcingWorker {
	return &SourcingWorker{
		store:        store,
		classifier:   classifier,
		orchestrator: orchestrator,
		deliverer:    deliverer,
		cfg:          cfg,
		logger:       logger,
	}
}

// Handle is the jobqueue handler for the sourcing queue.
func (w *SourcingWorker) Handle(ctx context.Context, job jobqueue.Job) error {
	var payload SourcingJobPayload
	if err := json.Unmarshal(job.Data(), &payload); err != nil {
		// Malformed payloads never get better on retry.
		w.logger.Error("sourcing job payload invalid", "job_id", job.ID(), "error", err)
		return nil
	}
	return w.Process(ctx, payload.TenantID, payload.RequestID)
}

// Process runs one sourcing request end to end.
func (w *SourcingWorker) Process(ctx context.Context, tenantID, requestID string) error {
	log := w.logger.With("request_id", requestID, "tenant_id", tenantID)

	req, err := w.store.GetRequest(ctx, tenantID, requestID)
	if err != nil {
		return fmt.Errorf("load request: %w", err)
	}
	if req == nil {
		log.Error("sourcing request not found")
		return nil
	}
	switch req.Status {
	case sourcing.StatusComplete, sourcing.StatusCallbackSent:
		log.Info("request already processed, skipping", "status", req.Status)
		return nil
	}

	if err := w.store.UpdateRequestStatus(ctx, tenantID, requestID, sourcing.StatusProcessing); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	reqs := requirements.Build(req.JobContext)
	decision := w.classifier.Classify(ctx, req.JobContext, reqs)
	log.Info("track resolved",
		"track", decision.Track,
		"confidence", decision.Confidence,
		"method", decision.Method,
	)

	out, runErr := w.orchestrator.Run(ctx, req, decision)
	if runErr != nil {
		log.Error("orchestration failed", "error", runErr)
		w.fail(ctx, req, decision, runErr)
		return runErr
	}

	diags := req.Diagnostics
	diags.TrackDecision = &decision
	diags.Orchestrator = &out.Result
	diags.Discovery = &out.Discovery
	if err := w.store.CompleteRequest(ctx, tenantID, requestID, out.Result, diags); err != nil {
		log.Error("completing request failed", "error", err)
		w.fail(ctx, req, decision, err)
		return err
	}

	req.Status = sourcing.StatusComplete
	req.ResultCount = out.Result.ResultCount

	payload := callback.Payload{
		Version:        1,
		RequestID:      req.ID,
		ExternalJobID:  req.ExternalJobID,
		Status:         w.finalStatus(out.Result),
		CandidateCount: out.Result.ResultCount,
	}
	if err := w.deliverer.Deliver(ctx, req, payload, true); err != nil {
		// The request itself succeeded; the sweeper owns re-delivery.
		log.Warn("callback delivery exhausted", "error", err)
	}
	return nil
}

// finalStatus grades the outcome: a run that produced fewer candidates than
// the good-enough floor reports partial.
func (w *SourcingWorker) finalStatus(res sourcing.OrchestratorResult) callback.PayloadStatus {
	if res.ResultCount < w.cfg.MinGoodEnough {
		return callback.PayloadPartial
	}
	return callback.PayloadComplete
}

// fail transitions the request to failed, keeping the track decision in its
// diagnostics, and attempts a failure callback.
func (w *SourcingWorker) fail(ctx context.Context, req *sourcing.Request, decision sourcing.TrackDecision, cause error) {
	diags := req.Diagnostics
	diags.TrackDecision = &decision
	if err := w.store.FailRequest(ctx, req.TenantID, req.ID, diags); err != nil {
		w.logger.Error("marking request failed", "request_id", req.ID, "error", err)
	}

	payload := callback.Payload{
		Version:       1,
		RequestID:     req.ID,
		ExternalJobID: req.ExternalJobID,
		Status:        callback.PayloadFailed,
		Error:         cause.Error(),
	}
	if err := w.deliverer.Deliver(ctx, req, payload, false); err != nil {
		w.logger.Warn("failure callback delivery exhausted",
			"request_id", req.ID, "error", err)
	}
}
