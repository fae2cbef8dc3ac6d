package discovery

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/vantahire/signal/internal/config"
	"github.com/vantahire/signal/internal/domain/candidate"
	"github.com/vantahire/signal/internal/domain/sourcing"
	"github.com/vantahire/signal/internal/hints"
	"github.com/vantahire/signal/internal/port/database"
	"github.com/vantahire/signal/internal/port/serp"
)

const resultsPerQuery = 20

// Store is the slice of the database port the runner needs.
type Store interface {
	ListKnownHandles(ctx context.Context, tenantID string) (map[string]string, error)
	UpsertDiscoveredCandidate(ctx context.Context, tenantID string, up database.CandidateUpsert) (*candidate.Candidate, bool, error)
	InsertQueryTelemetry(ctx context.Context, tenantID string, row sourcing.QueryRunTelemetry) error
}

// RunResult is the outcome of one discovery run.
type RunResult struct {
	Candidates []candidate.Candidate
	Telemetry  sourcing.DiscoveryTelemetry
}

// Runner executes a query plan against the SERP provider and upserts every
// newly seen profile as a pending candidate.
type Runner struct {
	store    Store
	provider serp.Provider
	cfg      config.Sourcing
	logger   *slog.Logger
	now      func() time.Time
}

func NewRunner(store Store, provider serp.Provider, cfg config.Sourcing, logger *slog.Logger) *Runner {
	return &Runner{
		store:    store,
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Run executes the plan under the query budget, stopping early on target,
// budget exhaustion or low yield. Individual query failures log a warning,
// record an empty telemetry row and move on.
func (r *Runner) Run(ctx context.Context, tenantID, requestID string, plan Plan, maxQueries, target int) RunResult {
	res := RunResult{
		Telemetry: sourcing.DiscoveryTelemetry{
			PlannedStrict:   len(plan.Strict),
			PlannedFallback: len(plan.Fallback),
			QueryGenMode:    r.cfg.QueryGenMode,
			HybridUsed:      plan.HybridUsed,
		},
	}
	if plan.Total() == 0 {
		res.Telemetry.StoppedReason = sourcing.StopNoQueries
		return res
	}

	seen, err := r.store.ListKnownHandles(ctx, tenantID)
	if err != nil {
		r.logger.Error("loading known handles failed, skipping discovery",
			"tenant_id", tenantID,
			"error", err,
		)
		res.Telemetry.StoppedReason = sourcing.StopNoQueries
		return res
	}

	tel := &res.Telemetry
	phase := sourcing.PhaseStrict
	queries := plan.Strict
	idx := 0

	for {
		if idx == len(queries) {
			if phase == sourcing.PhaseStrict {
				phase = sourcing.PhaseFallback
				queries = plan.Fallback
				idx = 0
				continue
			}
			if tel.StoppedReason == "" {
				tel.StoppedReason = sourcing.StopCompletedQueries
			}
			return res
		}
		if tel.UsedQueries == maxQueries {
			tel.StoppedReason = sourcing.StopBudgetExhausted
			return res
		}

		accepted := r.runQuery(ctx, tenantID, requestID, phase, queries[idx], seen, &res)
		idx++
		tel.UsedQueries++
		if phase == sourcing.PhaseStrict {
			tel.ExecutedStrict++
			tel.AcceptedStrict += accepted
		} else {
			tel.ExecutedFallback++
			tel.AcceptedFallback += accepted
		}

		if len(res.Candidates) >= target {
			tel.StoppedReason = sourcing.StopTargetReached
			return res
		}
		if phase == sourcing.PhaseStrict && r.strictYieldLow(tel) && len(plan.Fallback) > 0 {
			// Low strict yield: shift the remaining budget to fallback.
			tel.StoppedReason = sourcing.StopStrictLowYield
			phase = sourcing.PhaseFallback
			queries = plan.Fallback
			idx = 0
			continue
		}
		if phase == sourcing.PhaseFallback && r.fallbackYieldLow(tel) {
			tel.StoppedReason = sourcing.StopFallbackLowYield
			return res
		}
	}
}

func (r *Runner) strictYieldLow(tel *sourcing.DiscoveryTelemetry) bool {
	if tel.ExecutedStrict < r.cfg.AdaptiveMinStrictAtt {
		return false
	}
	yield := float64(tel.AcceptedStrict) / float64(tel.ExecutedStrict)
	return yield < r.cfg.AdaptiveStrictMinYield
}

func (r *Runner) fallbackYieldLow(tel *sourcing.DiscoveryTelemetry) bool {
	if tel.ExecutedFallback < r.cfg.AdaptiveMinFallbackAtt {
		return false
	}
	yield := float64(tel.AcceptedFallback) / float64(tel.ExecutedFallback)
	return yield < r.cfg.AdaptiveFallbackMinYield
}

// runQuery executes one SERP query, upserts unseen profiles and records a
// telemetry row. Returns the number of accepted candidates.
func (r *Runner) runQuery(ctx context.Context, tenantID, requestID string, phase sourcing.QueryPhase, query string, seen map[string]string, res *RunResult) int {
	start := r.now()
	row := sourcing.QueryRunTelemetry{
		RequestID: requestID,
		Phase:     phase,
		Query:     query,
		CreatedAt: start.UTC(),
	}

	sr, err := r.provider.SearchProfiles(ctx, query, resultsPerQuery)
	if err != nil {
		r.logger.Warn("serp query failed",
			"request_id", requestID,
			"phase", phase,
			"error", err,
		)
		row.LatencyMs = r.now().Sub(start).Milliseconds()
		r.insertTelemetry(ctx, tenantID, row)
		return 0
	}

	row.Provider = sr.ProviderUsed
	row.UsedFallbackProvider = sr.UsedFallback
	row.ResultCount = len(sr.Results)

	accepted := 0
	for _, profile := range sr.Results {
		handle := HandleFromURL(profile.ProfileURL)
		if handle == "" {
			continue
		}
		if _, ok := seen[handle]; ok {
			continue
		}

		cand, _, err := r.store.UpsertDiscoveredCandidate(ctx, tenantID, buildUpsert(profile, sr.ProviderUsed, query, handle))
		if err != nil {
			r.logger.Warn("candidate upsert failed",
				"tenant_id", tenantID,
				"profile_handle", handle,
				"error", err,
			)
			continue
		}
		seen[handle] = cand.ID
		res.Candidates = append(res.Candidates, *cand)
		accepted++
	}

	row.AcceptedCount = accepted
	row.CumulativeDiscovered = len(res.Candidates)
	row.LatencyMs = r.now().Sub(start).Milliseconds()
	r.insertTelemetry(ctx, tenantID, row)
	return accepted
}

func (r *Runner) insertTelemetry(ctx context.Context, tenantID string, row sourcing.QueryRunTelemetry) {
	if err := r.store.InsertQueryTelemetry(ctx, tenantID, row); err != nil {
		r.logger.Warn("query telemetry insert failed",
			"request_id", row.RequestID,
			"error", err,
		)
	}
}

// buildUpsert sanitizes the profile's hints into a candidate upsert. The
// store applies the replace-when-strictly-better rule against existing rows.
func buildUpsert(p serp.ProfileSummary, provider, query, handle string) database.CandidateUpsert {
	up := database.CandidateUpsert{
		ProfileURL:     p.ProfileURL,
		ProfileHandle:  handle,
		CaptureSource:  "sourcing",
		SearchProvider: provider,
		SearchQuery:    query,
		SearchTitle:    p.Title,
		SearchSnippet:  p.Snippet,
	}

	if name := hints.Normalize(p.Name); name != "" && !hints.IsNoisy(name) {
		up.NameHint = name
	}
	if headline := hints.Normalize(p.Headline); headline != "" && !hints.IsNoisy(headline) {
		up.HeadlineHint = headline
	}
	if loc := hints.Normalize(p.Location); loc != "" && hints.IsLikelyLocationHint(loc) {
		up.LocationHint = loc
	}

	if p.LocaleCountry != "" || p.ResultAgeDays != nil || p.Location != "" {
		up.SearchMeta = &candidate.SearchMeta{
			LocaleCountry: p.LocaleCountry,
			ResultAgeDays: p.ResultAgeDays,
			LocationText:  p.Location,
		}
	}
	return up
}

// HandleFromURL extracts the stable profile handle from a linkedin.com/in
// URL. Unparseable URLs yield "".
func HandleFromURL(profileURL string) string {
	u := strings.ToLower(strings.TrimSpace(profileURL))
	i := strings.Index(u, "linkedin.com/in/")
	if i < 0 {
		return ""
	}
	rest := u[i+len("linkedin.com/in/"):]
	for _, sep := range []byte{'?', '#'} {
		if j := strings.IndexByte(rest, sep); j >= 0 {
			rest = rest[:j]
		}
	}
	rest = strings.Trim(rest, "/")
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return rest
}
