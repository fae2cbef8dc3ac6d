// Package discovery builds and executes SERP query plans that surface new
// candidate profiles. Plans have two phases: strict (location-targeted)
// queries first, broader fallback queries second.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vantahire/signal/internal/config"
	"github.com/vantahire/signal/internal/port/llm"
	"github.com/vantahire/signal/internal/requirements"
)

const (
	sitePrefix  = "site:linkedin.com/in"
	maxQueryLen = 240
)

// Plan is a two-phase, deduplicated list of SERP queries.
type Plan struct {
	Strict   []string
	Fallback []string

	// HybridUsed records whether LLM-generated queries were merged in.
	HybridUsed bool
}

// Total is the number of queries across both phases.
func (p Plan) Total() int { return len(p.Strict) + len(p.Fallback) }

// Planner builds query plans, optionally merging LLM-generated queries onto
// the deterministic plan when query_gen_mode is hybrid.
type Planner struct {
	cfg    config.Sourcing
	gen    llm.Generator
	logger *slog.Logger
}

func NewPlanner(cfg config.Sourcing, gen llm.Generator, logger *slog.Logger) *Planner {
	return &Planner{cfg: cfg, gen: gen, logger: logger}
}

// Plan builds the query plan for the requirements, capped at maxQueries per
// phase. Hybrid generation failures degrade to the deterministic plan.
func (p *Planner) Plan(ctx context.Context, req requirements.Requirements, maxQueries int) Plan {
	det := BuildDeterministicPlan(req, maxQueries)
	if p.cfg.QueryGenMode != "hybrid" || p.gen == nil {
		return det
	}

	gen, err := p.generateQueries(ctx, req, maxQueries)
	if err != nil {
		p.logger.Warn("hybrid query generation failed, using deterministic plan", "error", err)
		return det
	}

	merged := Plan{HybridUsed: true}
	strictSeen := map[string]struct{}{}
	merged.Strict = appendQueries(merged.Strict, strictSeen, gen.StrictQueries, maxQueries)
	merged.Strict = appendQueries(merged.Strict, strictSeen, det.Strict, maxQueries)

	fallbackSeen := map[string]struct{}{}
	for k := range strictSeen {
		fallbackSeen[k] = struct{}{}
	}
	merged.Fallback = appendQueries(merged.Fallback, fallbackSeen, gen.FallbackQueries, maxQueries)
	merged.Fallback = appendQueries(merged.Fallback, fallbackSeen, det.Fallback, maxQueries)
	return merged
}

// BuildDeterministicPlan composes the fixed strict/fallback query templates
// from whatever the requirements provide. Order matters: stronger, more
// targeted queries come first in each phase.
func BuildDeterministicPlan(req requirements.Requirements, maxQueries int) Plan {
	family := req.RoleFamily
	title := req.Title
	location := ""
	if req.HasLocation() {
		location = req.Location
	}
	skills := DiscoverySkillTerms(req, 3)
	top2 := skills
	if len(top2) > 2 {
		top2 = top2[:2]
	}

	var strict []string
	if location != "" {
		if family != "" && len(skills) >= 3 {
			strict = append(strict, composeQuery(family, quoted(location), joinTerms(skills)))
		}
		if family != "" && len(top2) >= 1 {
			strict = append(strict, composeQuery(family, quoted(location), joinTerms(top2)))
		}
		if title != "" {
			strict = append(strict, composeQuery(quoted(title), quoted(location)))
		}
		if family != "" && len(skills) == 0 {
			strict = append(strict, composeQuery(family, quoted(location)))
		}
	}

	var fallback []string
	if family != "" && len(skills) >= 1 {
		fallback = append(fallback, composeQuery(family, joinTerms(skills)))
	}
	if title != "" {
		fallback = append(fallback, composeQuery(quoted(title)))
		if len(skills) >= 1 {
			fallback = append(fallback, composeQuery(quoted(title), joinTerms(skills)))
		}
	}
	if len(skills) >= 1 {
		fallback = append(fallback, composeQuery(joinTerms(skills)))
	}
	if family != "" {
		if len(top2) >= 1 {
			fallback = append(fallback, composeQuery(family, joinTerms(top2)))
		}
		fallback = append(fallback, composeQuery(family))
	}
	if location != "" {
		fallback = append(fallback, composeQuery(quoted(location)))
	}

	plan := Plan{}
	seen := map[string]struct{}{}
	plan.Strict = appendQueries(plan.Strict, seen, strict, maxQueries)
	plan.Fallback = appendQueries(plan.Fallback, seen, fallback, maxQueries)
	return plan
}

// DiscoverySkillTerms returns up to n skill terms for query composition,
// widening single skills with one concept surface form each when the top
// skills alone leave room.
func DiscoverySkillTerms(req requirements.Requirements, n int) []string {
	var terms []string
	seen := map[string]struct{}{}
	for _, skill := range req.TopSkills {
		if len(terms) == n {
			return terms
		}
		if _, ok := seen[skill]; ok {
			continue
		}
		seen[skill] = struct{}{}
		terms = append(terms, skill)
	}
	if len(terms) == len(req.TopSkills) {
		// Room left over: widen with concept forms of what we have.
		for _, skill := range req.TopSkills {
			for _, form := range requirements.SkillSurfaceForms(skill)[1:] {
				if len(terms) == n {
					return terms
				}
				if len(form) <= 2 {
					continue
				}
				if _, ok := seen[form]; ok {
					continue
				}
				seen[form] = struct{}{}
				terms = append(terms, form)
			}
		}
	}
	return terms
}

// queryGenResponse is the structured object the LLM returns in hybrid mode.
type queryGenResponse struct {
	StrictQueries   []string `json:"strict_queries"`
	FallbackQueries []string `json:"fallback_queries"`
}

const queryGenSystemPrompt = `You generate web search queries to find candidate profiles on linkedin.com/in for a job. Return a JSON object {"strict_queries": [...], "fallback_queries": [...]}. Strict queries must target the job's location; fallback queries drop the location constraint. Keep each query under 200 characters. Do not include the site: operator; it is added by the caller.`

// generateQueries makes one attempt plus retries, each bounded by the query
// generation timeout. Timeouts never retry.
func (p *Planner) generateQueries(ctx context.Context, req requirements.Requirements, maxQueries int) (*queryGenResponse, error) {
	prompt := queryGenPrompt(req, maxQueries)
	timeout := time.Duration(p.cfg.QueryGroqTimeoutMs) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= p.cfg.QueryGroqMaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		var resp queryGenResponse
		err := p.gen.GenerateObject(callCtx, queryGenSystemPrompt, prompt, &resp)
		cancel()

		if err == nil {
			clip(&resp.StrictQueries, maxQueries)
			clip(&resp.FallbackQueries, maxQueries)
			return &resp, nil
		}
		lastErr = err
		if errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}
	return nil, lastErr
}

func queryGenPrompt(req requirements.Requirements, maxQueries int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job title: %s\n", req.Title)
	fmt.Fprintf(&b, "Role family: %s\n", req.RoleFamily)
	fmt.Fprintf(&b, "Location: %s\n", req.Location)
	fmt.Fprintf(&b, "Top skills: %s\n", strings.Join(req.TopSkills, ", "))
	fmt.Fprintf(&b, "Return at most %d queries per phase.\n", maxQueries)
	return b.String()
}

func clip(qs *[]string, n int) {
	if len(*qs) > n {
		*qs = (*qs)[:n]
	}
}

// composeQuery joins non-empty parts under the site prefix and clips the
// result to the provider's safe length.
func composeQuery(parts ...string) string {
	fields := []string{sitePrefix}
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			fields = append(fields, part)
		}
	}
	q := strings.Join(fields, " ")
	if len(q) > maxQueryLen {
		q = strings.TrimSpace(q[:maxQueryLen])
	}
	return q
}

func quoted(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return `"` + s + `"`
}

func joinTerms(terms []string) string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if strings.ContainsRune(t, ' ') {
			t = quoted(t)
		}
		out = append(out, t)
	}
	return strings.Join(out, " ")
}

// appendQueries normalizes, deduplicates case-insensitively and caps the
// destination phase at maxQueries.
func appendQueries(dst []string, seen map[string]struct{}, queries []string, maxQueries int) []string {
	for _, q := range queries {
		if len(dst) == maxQueries {
			break
		}
		q = normalizeQuery(q)
		if q == "" || q == sitePrefix {
			continue
		}
		key := strings.ToLower(q)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		dst = append(dst, q)
	}
	return dst
}

// normalizeQuery collapses whitespace, guarantees the site prefix and clips
// to the maximum length.
func normalizeQuery(q string) string {
	q = strings.Join(strings.Fields(q), " ")
	if q == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(q), sitePrefix) {
		q = sitePrefix + " " + q
	}
	if len(q) > maxQueryLen {
		q = strings.TrimSpace(q[:maxQueryLen])
	}
	return q
}
