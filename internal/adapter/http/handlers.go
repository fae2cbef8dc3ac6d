// Package http provides the thin inbound HTTP surface of the sourcing
// workers: request intake, the manual enrichment-completion trigger and the
// health endpoint. Authentication sits in front of this service; the tenant
// arrives pre-resolved in the X-Tenant-ID header.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/vantahire/signal/internal/domain/sourcing"
	"github.com/vantahire/signal/internal/port/jobqueue"
	"github.com/vantahire/signal/internal/port/messagequeue"
	"github.com/vantahire/signal/internal/service"
)

const maxBodyBytes = 1 << 20

// tenantHeader carries the caller's tenant, resolved by the auth layer in
// front of this service.
const tenantHeader = "X-Tenant-ID"

// RequestStore is the slice of the database port the intake handler needs.
type RequestStore interface {
	CreateRequest(ctx context.Context, tenantID string, req sourcing.CreateRequest) (*sourcing.Request, error)
}

// EnrichmentNotifier receives enrichment-completion events; the HTTP
// trigger shares the NATS consumer's entry point.
type EnrichmentNotifier interface {
	HandleEvent(ctx context.Context, subject string, data []byte) error
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	store     RequestStore
	sourcingQ jobqueue.Queue
	rerankQ   jobqueue.Queue
	notifier  EnrichmentNotifier
	logger    *slog.Logger
}

func NewHandlers(store RequestStore, sourcingQ, rerankQ jobqueue.Queue, notifier EnrichmentNotifier, logger *slog.Logger) *Handlers {
	return &Handlers{
		store:     store,
		sourcingQ: sourcingQ,
		rerankQ:   rerankQ,
		notifier:  notifier,
		logger:    logger,
	}
}

// CreateSourcingRequest accepts a new sourcing job: persist the queued row,
// then enqueue the orchestration job under the request's ID.
func (h *Handlers) CreateSourcingRequest(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get(tenantHeader)
	if !requireField(w, tenantID, tenantHeader+" header") {
		return
	}

	body, ok := readJSON[sourcing.CreateRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, body.ExternalJobID, "external_job_id") {
		return
	}
	if !requireField(w, body.CallbackURL, "callback_url") {
		return
	}
	if u, err := url.Parse(body.CallbackURL); err != nil || u.Scheme == "" || u.Host == "" {
		writeError(w, http.StatusBadRequest, "callback_url must be an absolute URL")
		return
	}

	req, err := h.store.CreateRequest(r.Context(), tenantID, body)
	if err != nil {
		h.logger.Error("creating sourcing request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create request")
		return
	}

	payload, err := json.Marshal(service.SourcingJobPayload{
		RequestID: req.ID,
		TenantID:  tenantID,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue request")
		return
	}
	if _, err := h.sourcingQ.Add(r.Context(), req.ID, payload, service.SourcingJobOptions()); err != nil {
		h.logger.Error("enqueueing sourcing job failed", "request_id", req.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue request")
		return
	}

	writeJSON(w, http.StatusCreated, req)
}

// EnrichmentCompleted is the manual trigger mirroring the NATS event: it
// feeds the same rerank scheduling path.
func (h *Handlers) EnrichmentCompleted(w http.ResponseWriter, r *http.Request) {
	body, ok := readJSON[messagequeue.EnrichmentCompletedPayload](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if !requireField(w, body.TenantID, "tenant_id") {
		return
	}
	if !requireField(w, body.CandidateID, "candidate_id") {
		return
	}

	data, err := json.Marshal(body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process event")
		return
	}
	if err := h.notifier.HandleEvent(r.Context(), messagequeue.SubjectEnrichmentCompleted, data); err != nil {
		h.logger.Error("enrichment event handling failed", "candidate_id", body.CandidateID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process event")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// Health reports process liveness with per-queue depths.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	type health struct {
		Status string                    `json:"status"`
		Queues map[string]jobqueue.Stats `json:"queues"`
	}
	out := health{Status: "ok", Queues: make(map[string]jobqueue.Stats, 2)}

	for name, q := range map[string]jobqueue.Queue{
		service.SourcingQueue: h.sourcingQ,
		service.RerankQueue:   h.rerankQ,
	} {
		stats, err := q.Stats(r.Context())
		if err != nil {
			h.logger.Warn("queue stats unavailable", "queue", name, "error", err)
			out.Status = "degraded"
			continue
		}
		out.Queues[name] = stats
	}
	writeJSON(w, http.StatusOK, out)
}
