package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/vantahire/signal/internal/config"
	"github.com/vantahire/signal/internal/domain/sourcing"
	"github.com/vantahire/signal/internal/requirements"
)

func fullReq() requirements.Requirements {
	return requirements.Build(sourcing.JobContext{
		Title:    "Senior Backend Engineer",
		JDDigest: `{"topSkills":["python","kubernetes","postgresql"],"roleFamily":"backend"}`,
		Location: "Bangalore, India",
	})
}

func TestDeterministicPlanFull(t *testing.T) {
	plan := BuildDeterministicPlan(fullReq(), 12)

	if len(plan.Strict) == 0 || len(plan.Fallback) == 0 {
		t.Fatalf("plan = %+v", plan)
	}
	first := plan.Strict[0]
	for _, want := range []string{sitePrefix, "backend", `"Bangalore, India"`, "python", "kubernetes", "postgresql"} {
		if !strings.Contains(first, want) {
			t.Fatalf("first strict query %q missing %q", first, want)
		}
	}
	for _, q := range append(plan.Strict, plan.Fallback...) {
		if !strings.HasPrefix(q, sitePrefix) {
			t.Fatalf("query missing site prefix: %q", q)
		}
		if len(q) > maxQueryLen {
			t.Fatalf("query over length cap: %q", q)
		}
	}
}

func TestPlanDeduplicatesAcrossPhases(t *testing.T) {
	plan := BuildDeterministicPlan(fullReq(), 12)

	seen := map[string]struct{}{}
	for _, q := range append(plan.Strict, plan.Fallback...) {
		key := strings.ToLower(q)
		if _, dup := seen[key]; dup {
			t.Fatalf("duplicate query: %q", q)
		}
		seen[key] = struct{}{}
	}
}

func TestPlanWithoutLocationHasNoStrict(t *testing.T) {
	req := requirements.Build(sourcing.JobContext{
		Title:  "Backend Engineer",
		Skills: []string{"python"},
	})
	plan := BuildDeterministicPlan(req, 12)
	if len(plan.Strict) != 0 {
		t.Fatalf("strict = %v", plan.Strict)
	}
	if len(plan.Fallback) == 0 {
		t.Fatal("expected fallback queries")
	}
}

func TestRemoteLocationTreatedAsAbsent(t *testing.T) {
	req := requirements.Build(sourcing.JobContext{Title: "Backend Engineer", Location: "Remote"})
	plan := BuildDeterministicPlan(req, 12)
	if len(plan.Strict) != 0 {
		t.Fatalf("strict = %v", plan.Strict)
	}
}

func TestPlanCapsPerPhase(t *testing.T) {
	plan := BuildDeterministicPlan(fullReq(), 2)
	if len(plan.Strict) > 2 || len(plan.Fallback) > 2 {
		t.Fatalf("plan over cap: %d strict, %d fallback", len(plan.Strict), len(plan.Fallback))
	}
}

type fakeQueryGen struct {
	resp  queryGenResponse
	err   error
	calls int
}

func (f *fakeQueryGen) GenerateObject(_ context.Context, _, _ string, out any) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	raw, _ := json.Marshal(f.resp)
	return json.Unmarshal(raw, out)
}

func hybridCfg() config.Sourcing {
	cfg := config.Defaults().Sourcing
	cfg.QueryGenMode = "hybrid"
	return cfg
}

func TestHybridMergesOntoDeterministic(t *testing.T) {
	gen := &fakeQueryGen{resp: queryGenResponse{
		StrictQueries:   []string{`backend architect "Bangalore"`},
		FallbackQueries: []string{"backend architect"},
	}}
	p := NewPlanner(hybridCfg(), gen, slog.New(slog.DiscardHandler))

	plan := p.Plan(context.Background(), fullReq(), 12)

	if !plan.HybridUsed {
		t.Fatal("expected hybrid plan")
	}
	if !strings.Contains(plan.Strict[0], "backend architect") {
		t.Fatalf("llm strict query must come first: %q", plan.Strict[0])
	}
	det := BuildDeterministicPlan(fullReq(), 12)
	if len(plan.Strict) < len(det.Strict) {
		t.Fatal("deterministic strict queries must survive the merge")
	}
}

func TestHybridFailureFallsBackToDeterministic(t *testing.T) {
	gen := &fakeQueryGen{err: errors.New("provider down")}
	p := NewPlanner(hybridCfg(), gen, slog.New(slog.DiscardHandler))

	plan := p.Plan(context.Background(), fullReq(), 12)

	if plan.HybridUsed {
		t.Fatal("failed hybrid generation must not mark the plan hybrid")
	}
	if gen.calls != 2 {
		t.Fatalf("gen calls = %d, want attempt plus one retry", gen.calls)
	}
	det := BuildDeterministicPlan(fullReq(), 12)
	if len(plan.Strict) != len(det.Strict) || len(plan.Fallback) != len(det.Fallback) {
		t.Fatal("expected the deterministic plan")
	}
}

func TestHybridTimeoutDoesNotRetry(t *testing.T) {
	gen := &fakeQueryGen{err: context.DeadlineExceeded}
	p := NewPlanner(hybridCfg(), gen, slog.New(slog.DiscardHandler))

	p.Plan(context.Background(), fullReq(), 12)
	if gen.calls != 1 {
		t.Fatalf("gen calls = %d", gen.calls)
	}
}

func TestDeterministicModeNeverCallsLLM(t *testing.T) {
	gen := &fakeQueryGen{}
	p := NewPlanner(config.Defaults().Sourcing, gen, slog.New(slog.DiscardHandler))
	p.Plan(context.Background(), fullReq(), 12)
	if gen.calls != 0 {
		t.Fatalf("gen calls = %d", gen.calls)
	}
}

func TestDiscoverySkillTermsWidensWithConceptForms(t *testing.T) {
	req := requirements.Requirements{TopSkills: []string{"microservices"}}
	terms := DiscoverySkillTerms(req, 3)
	if len(terms) < 2 || terms[0] != "microservices" {
		t.Fatalf("terms = %v", terms)
	}
}
