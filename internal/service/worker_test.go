package service

import (
	"context"
	"errors"
	"testing"

	"github.com/vantahire/signal/internal/callback"
	"github.com/vantahire/signal/internal/domain/sourcing"
	"github.com/vantahire/signal/internal/requirements"
)

type fakeWorkerStore struct {
	request *sourcing.Request

	statusUpdates []sourcing.Status
	completed     *sourcing.Diagnostics
	failed        *sourcing.Diagnostics
	completeErr   error
}

func (f *fakeWorkerStore) GetRequest(_ context.Context, _, _ string) (*sourcing.Request, error) {
	return f.request, nil
}

func (f *fakeWorkerStore) UpdateRequestStatus(_ context.Context, _, _ string, status sourcing.Status) error {
	f.statusUpdates = append(f.statusUpdates, status)
	return nil
}

func (f *fakeWorkerStore) CompleteRequest(_ context.Context, _, _ string, _ sourcing.OrchestratorResult, diags sourcing.Diagnostics) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completed = &diags
	return nil
}

func (f *fakeWorkerStore) FailRequest(_ context.Context, _, _ string, diags sourcing.Diagnostics) error {
	f.failed = &diags
	return nil
}

type fakeClassifier struct {
	decision sourcing.TrackDecision
	calls    int
}

func (f *fakeClassifier) Classify(_ context.Context, _ sourcing.JobContext, _ requirements.Requirements) sourcing.TrackDecision {
	f.calls++
	return f.decision
}

type fakeOrchRunner struct {
	outcome *Outcome
	err     error
	runs    int
}

func (f *fakeOrchRunner) Run(_ context.Context, _ *sourcing.Request, _ sourcing.TrackDecision) (*Outcome, error) {
	f.runs++
	return f.outcome, f.err
}

type delivery struct {
	payload      callback.Payload
	updateStatus bool
}

type fakeDeliverer struct {
	deliveries []delivery
	err        error
}

func (f *fakeDeliverer) Deliver(_ context.Context, _ *sourcing.Request, payload callback.Payload, updateStatus bool) error {
	f.deliveries = append(f.deliveries, delivery{payload, updateStatus})
	return f.err
}

func techDecision() sourcing.TrackDecision {
	return sourcing.TrackDecision{
		Track:      sourcing.TrackTech,
		Confidence: 0.9,
		Method:     sourcing.MethodDeterministic,
	}
}

func newTestWorker(store *fakeWorkerStore, runner *fakeOrchRunner, deliverer *fakeDeliverer) (*SourcingWorker, *fakeClassifier) {
	classifier := &fakeClassifier{decision: techDecision()}
	w := NewSourcingWorker(store, classifier, runner, deliverer, testSourcingConfig(), discard())
	return w, classifier
}

func TestProcessCompleteRequest(t *testing.T) {
	req := testRequestFor("tenant-1")
	req.Status = sourcing.StatusQueued
	store := &fakeWorkerStore{request: req}
	outcome := &Outcome{}
	outcome.Result.ResultCount = 80
	runner := &fakeOrchRunner{outcome: outcome}
	deliverer := &fakeDeliverer{}
	w, classifier := newTestWorker(store, runner, deliverer)

	if err := w.Process(context.Background(), "tenant-1", "req-1"); err != nil {
		t.Fatal(err)
	}

	if classifier.calls != 1 || runner.runs != 1 {
		t.Fatalf("classify=%d run=%d", classifier.calls, runner.runs)
	}
	if len(store.statusUpdates) != 1 || store.statusUpdates[0] != sourcing.StatusProcessing {
		t.Fatalf("status updates = %v", store.statusUpdates)
	}
	if store.completed == nil {
		t.Fatal("request never completed")
	}
	if store.completed.TrackDecision == nil || store.completed.TrackDecision.Track != sourcing.TrackTech {
		t.Fatal("track decision missing from completion diagnostics")
	}
	if store.completed.Orchestrator == nil || store.completed.Orchestrator.ResultCount != 80 {
		t.Fatal("orchestrator result missing from completion diagnostics")
	}

	if len(deliverer.deliveries) != 1 {
		t.Fatalf("deliveries = %d", len(deliverer.deliveries))
	}
	d := deliverer.deliveries[0]
	if d.payload.Status != callback.PayloadComplete {
		t.Fatalf("status = %s", d.payload.Status)
	}
	if d.payload.CandidateCount != 80 || d.payload.RequestID != "req-1" || d.payload.ExternalJobID != "job-1" {
		t.Fatalf("payload = %+v", d.payload)
	}
	if !d.updateStatus {
		t.Fatal("completion callback must update request status")
	}
}

func TestProcessPartialBelowGoodEnough(t *testing.T) {
	req := testRequestFor("tenant-1")
	req.Status = sourcing.StatusQueued
	store := &fakeWorkerStore{request: req}
	outcome := &Outcome{}
	outcome.Result.ResultCount = 12 // under the default good-enough floor of 30
	runner := &fakeOrchRunner{outcome: outcome}
	deliverer := &fakeDeliverer{}
	w, _ := newTestWorker(store, runner, deliverer)

	if err := w.Process(context.Background(), "tenant-1", "req-1"); err != nil {
		t.Fatal(err)
	}
	if deliverer.deliveries[0].payload.Status != callback.PayloadPartial {
		t.Fatalf("status = %s", deliverer.deliveries[0].payload.Status)
	}
	if store.completed == nil {
		t.Fatal("partial runs still complete the request")
	}
}

func TestProcessOrchestrationFailure(t *testing.T) {
	req := testRequestFor("tenant-1")
	req.Status = sourcing.StatusQueued
	store := &fakeWorkerStore{request: req}
	runner := &fakeOrchRunner{err: errors.New("pool load blew up")}
	deliverer := &fakeDeliverer{}
	w, _ := newTestWorker(store, runner, deliverer)

	err := w.Process(context.Background(), "tenant-1", "req-1")
	if err == nil {
		t.Fatal("want error so the job retries")
	}

	if store.failed == nil {
		t.Fatal("request not marked failed")
	}
	if store.failed.TrackDecision == nil {
		t.Fatal("failure diagnostics must keep the track decision")
	}
	if store.completed != nil {
		t.Fatal("failed run must not complete")
	}

	d := deliverer.deliveries[0]
	if d.payload.Status != callback.PayloadFailed {
		t.Fatalf("status = %s", d.payload.Status)
	}
	if d.payload.Error == "" {
		t.Fatal("failure payload carries the cause")
	}
	if d.updateStatus {
		t.Fatal("failure callback must not move the request to callback_sent")
	}
}

func TestProcessCompletePersistFailure(t *testing.T) {
	req := testRequestFor("tenant-1")
	req.Status = sourcing.StatusQueued
	store := &fakeWorkerStore{request: req, completeErr: errors.New("db down")}
	runner := &fakeOrchRunner{outcome: &Outcome{}}
	deliverer := &fakeDeliverer{}
	w, _ := newTestWorker(store, runner, deliverer)

	if err := w.Process(context.Background(), "tenant-1", "req-1"); err == nil {
		t.Fatal("want persist error surfaced for retry")
	}
	if store.failed == nil {
		t.Fatal("request not marked failed")
	}
}

func TestProcessSkipsAlreadyProcessed(t *testing.T) {
	for _, status := range []sourcing.Status{sourcing.StatusComplete, sourcing.StatusCallbackSent} {
		req := testRequestFor("tenant-1")
		req.Status = status
		store := &fakeWorkerStore{request: req}
		runner := &fakeOrchRunner{outcome: &Outcome{}}
		deliverer := &fakeDeliverer{}
		w, _ := newTestWorker(store, runner, deliverer)

		if err := w.Process(context.Background(), "tenant-1", "req-1"); err != nil {
			t.Fatal(err)
		}
		if runner.runs != 0 || len(deliverer.deliveries) != 0 {
			t.Fatalf("status %s: runs=%d deliveries=%d", status, runner.runs, len(deliverer.deliveries))
		}
	}
}

func TestProcessMissingRequest(t *testing.T) {
	store := &fakeWorkerStore{}
	runner := &fakeOrchRunner{outcome: &Outcome{}}
	w, _ := newTestWorker(store, runner, &fakeDeliverer{})

	if err := w.Process(context.Background(), "tenant-1", "req-gone"); err != nil {
		t.Fatal("missing request must not error into a retry loop")
	}
	if runner.runs != 0 {
		t.Fatal("runner must not run")
	}
}

func TestHandleMalformedPayload(t *testing.T) {
	store := &fakeWorkerStore{}
	runner := &fakeOrchRunner{outcome: &Outcome{}}
	w, _ := newTestWorker(store, runner, &fakeDeliverer{})

	job := &fakeJob{id: "j1", data: []byte("{not json")}
	if err := w.Handle(context.Background(), job); err != nil {
		t.Fatal("malformed payloads must be dropped, not retried")
	}
	if runner.runs != 0 {
		t.Fatal("runner must not run")
	}
}

func TestCallbackExhaustionDoesNotFailTheJob(t *testing.T) {
	req := testRequestFor("tenant-1")
	req.Status = sourcing.StatusQueued
	store := &fakeWorkerStore{request: req}
	runner := &fakeOrchRunner{outcome: &Outcome{}}
	deliverer := &fakeDeliverer{err: errors.New("receiver down")}
	w, _ := newTestWorker(store, runner, deliverer)

	if err := w.Process(context.Background(), "tenant-1", "req-1"); err != nil {
		t.Fatal("callback exhaustion is the sweeper's problem, not a job failure")
	}
	if store.completed == nil {
		t.Fatal("request must still complete")
	}
}
