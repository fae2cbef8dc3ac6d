package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/vantahire/signal/internal/config"
	"github.com/vantahire/signal/internal/domain/candidate"
	"github.com/vantahire/signal/internal/domain/sourcing"
	"github.com/vantahire/signal/internal/port/database"
	"github.com/vantahire/signal/internal/port/serp"
)

type fakeStore struct {
	known     map[string]string
	upserts   []database.CandidateUpsert
	telemetry []sourcing.QueryRunTelemetry
	nextID    int
}

func (f *fakeStore) ListKnownHandles(_ context.Context, _ string) (map[string]string, error) {
	if f.known == nil {
		f.known = map[string]string{}
	}
	return f.known, nil
}

func (f *fakeStore) UpsertDiscoveredCandidate(_ context.Context, tenantID string, up database.CandidateUpsert) (*candidate.Candidate, bool, error) {
	f.upserts = append(f.upserts, up)
	f.nextID++
	return &candidate.Candidate{
		ID:               fmt.Sprintf("cand-%03d", f.nextID),
		TenantID:         tenantID,
		ProfileURL:       up.ProfileURL,
		ProfileHandle:    up.ProfileHandle,
		CaptureSource:    up.CaptureSource,
		LocationHint:     up.LocationHint,
		EnrichmentStatus: candidate.EnrichmentPending,
	}, true, nil
}

func (f *fakeStore) InsertQueryTelemetry(_ context.Context, _ string, row sourcing.QueryRunTelemetry) error {
	f.telemetry = append(f.telemetry, row)
	return nil
}

// fakeProvider returns a fixed number of profiles per query, numbered so
// every query yields fresh handles unless overlap is configured.
type fakeProvider struct {
	perQuery int
	overlap  bool
	fail     map[string]bool
	calls    int
}

func (f *fakeProvider) SearchProfiles(_ context.Context, query string, _ int) (*serp.SearchResult, error) {
	f.calls++
	if f.fail[query] {
		return nil, errors.New("serp 500")
	}
	res := &serp.SearchResult{ProviderUsed: "serper"}
	for i := 0; i < f.perQuery; i++ {
		n := i
		if !f.overlap {
			n = f.calls*100 + i
		}
		res.Results = append(res.Results, serp.ProfileSummary{
			ProfileURL: fmt.Sprintf("https://www.linkedin.com/in/person-%d", n),
			Title:      "Backend Engineer - Acme",
			Snippet:    "Python, Kubernetes",
			Location:   "Bangalore, India",
		})
	}
	return res, nil
}

func plan(strict, fallback int) Plan {
	p := Plan{}
	for i := 0; i < strict; i++ {
		p.Strict = append(p.Strict, fmt.Sprintf("site:linkedin.com/in strict query %d", i))
	}
	for i := 0; i < fallback; i++ {
		p.Fallback = append(p.Fallback, fmt.Sprintf("site:linkedin.com/in fallback query %d", i))
	}
	return p
}

func newRunner(store *fakeStore, provider serp.Provider) *Runner {
	return NewRunner(store, provider, config.Defaults().Sourcing, slog.New(slog.DiscardHandler))
}

func TestRunStopsAtTarget(t *testing.T) {
	store := &fakeStore{}
	r := newRunner(store, &fakeProvider{perQuery: 10})

	res := r.Run(context.Background(), "t1", "req1", plan(5, 5), 10, 25)

	if res.Telemetry.StoppedReason != sourcing.StopTargetReached {
		t.Fatalf("stoppedReason = %s", res.Telemetry.StoppedReason)
	}
	if len(res.Candidates) < 25 {
		t.Fatalf("discovered = %d", len(res.Candidates))
	}
	if res.Telemetry.UsedQueries != 3 {
		t.Fatalf("usedQueries = %d", res.Telemetry.UsedQueries)
	}
}

func TestRunStopsOnBudget(t *testing.T) {
	store := &fakeStore{}
	r := newRunner(store, &fakeProvider{perQuery: 1})

	res := r.Run(context.Background(), "t1", "req1", plan(5, 5), 2, 100)

	if res.Telemetry.StoppedReason != sourcing.StopBudgetExhausted {
		t.Fatalf("stoppedReason = %s", res.Telemetry.StoppedReason)
	}
	if res.Telemetry.UsedQueries != 2 {
		t.Fatalf("usedQueries = %d", res.Telemetry.UsedQueries)
	}
}

func TestRunCompletesAllQueries(t *testing.T) {
	store := &fakeStore{}
	r := newRunner(store, &fakeProvider{perQuery: 5})

	res := r.Run(context.Background(), "t1", "req1", plan(2, 1), 10, 100)

	if res.Telemetry.StoppedReason != sourcing.StopCompletedQueries {
		t.Fatalf("stoppedReason = %s", res.Telemetry.StoppedReason)
	}
	if res.Telemetry.ExecutedStrict != 2 || res.Telemetry.ExecutedFallback != 1 {
		t.Fatalf("telemetry = %+v", res.Telemetry)
	}
	if len(store.telemetry) != 3 {
		t.Fatalf("telemetry rows = %d", len(store.telemetry))
	}
}

func TestRunEmptyPlan(t *testing.T) {
	store := &fakeStore{}
	r := newRunner(store, &fakeProvider{})

	res := r.Run(context.Background(), "t1", "req1", Plan{}, 10, 100)
	if res.Telemetry.StoppedReason != sourcing.StopNoQueries {
		t.Fatalf("stoppedReason = %s", res.Telemetry.StoppedReason)
	}
}

func TestRunShiftsOnLowStrictYield(t *testing.T) {
	store := &fakeStore{}
	// Every query returns the same handles: only the first yields accepts.
	provider := &fakeProvider{perQuery: 1, overlap: true}
	r := newRunner(store, provider)

	res := r.Run(context.Background(), "t1", "req1", plan(8, 2), 20, 100)

	// Defaults need 4 strict attempts; with 1 accept over 4 queries the
	// yield is 0.25 < 0.34 and the run shifts to fallback.
	if res.Telemetry.ExecutedStrict != 4 {
		t.Fatalf("executedStrict = %d", res.Telemetry.ExecutedStrict)
	}
	if res.Telemetry.ExecutedFallback != 2 {
		t.Fatalf("executedFallback = %d", res.Telemetry.ExecutedFallback)
	}
}

func TestRunStopsOnLowFallbackYield(t *testing.T) {
	// All returned handles are already known, so every query yields zero.
	store := &fakeStore{known: map[string]string{"person-0": "existing"}}
	provider := &fakeProvider{perQuery: 1, overlap: true}
	r := newRunner(store, provider)

	res := r.Run(context.Background(), "t1", "req1", plan(0, 8), 20, 100)

	if res.Telemetry.StoppedReason != sourcing.StopFallbackLowYield {
		t.Fatalf("stoppedReason = %s", res.Telemetry.StoppedReason)
	}
	if res.Telemetry.ExecutedFallback != 4 {
		t.Fatalf("executedFallback = %d", res.Telemetry.ExecutedFallback)
	}
}

func TestQueryFailureRecordsEmptyTelemetryAndContinues(t *testing.T) {
	store := &fakeStore{}
	p := plan(2, 0)
	provider := &fakeProvider{perQuery: 3, fail: map[string]bool{p.Strict[0]: true}}
	r := newRunner(store, provider)

	res := r.Run(context.Background(), "t1", "req1", p, 10, 100)

	if len(store.telemetry) != 2 {
		t.Fatalf("telemetry rows = %d", len(store.telemetry))
	}
	if store.telemetry[0].ResultCount != 0 || store.telemetry[0].AcceptedCount != 0 {
		t.Fatalf("failed query telemetry = %+v", store.telemetry[0])
	}
	if len(res.Candidates) != 3 {
		t.Fatalf("discovered = %d", len(res.Candidates))
	}
}

func TestKnownHandlesAreSkipped(t *testing.T) {
	store := &fakeStore{known: map[string]string{"person-0": "existing"}}
	provider := &fakeProvider{perQuery: 2, overlap: true} // person-0, person-1
	r := newRunner(store, provider)

	res := r.Run(context.Background(), "t1", "req1", plan(1, 0), 10, 100)

	if len(res.Candidates) != 1 {
		t.Fatalf("discovered = %d", len(res.Candidates))
	}
	if res.Candidates[0].ProfileHandle != "person-1" {
		t.Fatalf("handle = %s", res.Candidates[0].ProfileHandle)
	}
}

func TestUpsertCarriesSanitizedHints(t *testing.T) {
	store := &fakeStore{}
	r := newRunner(store, &fakeProvider{perQuery: 1})

	r.Run(context.Background(), "t1", "req1", plan(1, 0), 10, 100)

	up := store.upserts[0]
	if up.CaptureSource != "sourcing" {
		t.Fatalf("captureSource = %s", up.CaptureSource)
	}
	if up.LocationHint != "Bangalore, India" {
		t.Fatalf("locationHint = %q", up.LocationHint)
	}
	if up.SearchMeta == nil || up.SearchMeta.LocationText != "Bangalore, India" {
		t.Fatalf("searchMeta = %+v", up.SearchMeta)
	}
}

func TestHandleFromURL(t *testing.T) {
	cases := []struct{ in, want string }{
		{"https://www.linkedin.com/in/jane-doe-123/", "jane-doe-123"},
		{"https://linkedin.com/in/JaneDoe?trk=profile", "janedoe"},
		{"https://in.linkedin.com/in/jane/overlay/photo", "jane"},
		{"https://example.com/jane", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := HandleFromURL(tc.in); got != tc.want {
			t.Errorf("HandleFromURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
