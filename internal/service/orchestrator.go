// Package service wires the sourcing pipeline together: the orchestrator
// that assembles a request's ranked output, the queue workers around it,
// and the post-enrichment rerank.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/vantahire/signal/internal/budget"
	"github.com/vantahire/signal/internal/config"
	"github.com/vantahire/signal/internal/discovery"
	"github.com/vantahire/signal/internal/domain/candidate"
	"github.com/vantahire/signal/internal/domain/sourcing"
	"github.com/vantahire/signal/internal/port/database"
	"github.com/vantahire/signal/internal/port/enrichment"
	"github.com/vantahire/signal/internal/ranking"
	"github.com/vantahire/signal/internal/requirements"
)

// poolLimit caps how many recently-updated candidates one run considers.
const poolLimit = 5000

// OrchestratorStore is the slice of the database port the orchestrator needs.
type OrchestratorStore interface {
	ListPoolCandidates(ctx context.Context, tenantID string, tracks []candidate.Track, limit int) ([]database.PoolCandidate, error)
	ReplaceSourcingCandidates(ctx context.Context, tenantID, requestID string, rows []sourcing.Candidate) error
	ListRecentlyExposedCandidateIDs(ctx context.Context, tenantID, roleFamily, city string, since time.Time) (map[string]struct{}, error)
}

// Planner produces the discovery query plan.
type Planner interface {
	Plan(ctx context.Context, req requirements.Requirements, maxQueries int) discovery.Plan
}

// DiscoveryRunner executes a plan under a query budget.
type DiscoveryRunner interface {
	Run(ctx context.Context, tenantID, requestID string, plan discovery.Plan, maxQueries, target int) discovery.RunResult
}

// BudgetGuard reserves SERP queries against the per-tenant daily cap.
type BudgetGuard interface {
	Reserve(ctx context.Context, tenantID string, want int) budget.Reservation
	Release(ctx context.Context, res budget.Reservation, usedQueries int)
}

// Outcome bundles the diagnostics of one orchestration run.
type Outcome struct {
	Result    sourcing.OrchestratorResult
	Discovery sourcing.DiscoveryTelemetry
}

// Orchestrator runs the full sourcing pipeline for one request: pool load,
// rank, quality gate, discovery, two-tier assembly, novelty suppression,
// persistence and enrichment enqueue.
type Orchestrator struct {
	store    OrchestratorStore
	planner  Planner
	runner   DiscoveryRunner
	guard    BudgetGuard
	sessions enrichment.Sessions
	cfg      config.Sourcing
	logger   *slog.Logger
	now      func() time.Time
}

func NewOrchestrator(
	store OrchestratorStore,
	planner Planner,
	runner DiscoveryRunner,
	guard BudgetGuard,
	sessions enrichment.Sessions,
	cfg config.Sourcing,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:    store,
		planner:  planner,
		runner:   runner,
		guard:    guard,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// row is one assembled output position before persistence.
type row struct {
	scored  ranking.Scored
	source  sourcing.SourceType
	demoted bool // strict row moved to expanded by the fit floor
}

// Run executes the pipeline and persists the assembled list. The returned
// outcome carries every diagnostic the request row records on completion.
func (o *Orchestrator) Run(ctx context.Context, req *sourcing.Request, decision sourcing.TrackDecision) (*Outcome, error) {
	out := &Outcome{}
	res := &out.Result
	res.Track = decision.Track

	reqs := requirements.Build(req.JobContext)
	targetCount := o.cfg.TargetCount
	now := o.now()
	opts := ranking.Options{
		FitScoreEpsilon:     o.cfg.FitScoreEpsilon,
		LocationBoostWeight: o.cfg.LocationBoostWeight,
		Now:                 now,
	}

	if targetCount <= 0 {
		if err := o.store.ReplaceSourcingCandidates(ctx, req.TenantID, req.ID, nil); err != nil {
			return nil, fmt.Errorf("persist empty output: %w", err)
		}
		return out, nil
	}

	// Pool load under the track filter.
	tracks := trackFilter(decision.Track)
	pool, err := o.store.ListPoolCandidates(ctx, req.TenantID, tracks, poolLimit)
	if err != nil {
		return nil, fmt.Errorf("load candidate pool: %w", err)
	}
	res.PoolCount = len(pool)

	inputs := make([]ranking.Input, 0, len(pool))
	for _, pc := range pool {
		inputs = append(inputs, ranking.Input{
			Candidate: pc.Candidate,
			Snapshot:  selectSnapshot(pc.Snapshots, tracks),
		})
	}
	scored := ranking.Rank(inputs, reqs, opts)

	targetCountry := ranking.CountryOfText(reqs.Location)
	scored = o.countryGuard(scored, targetCountry, res)
	res.ScoredPoolCount = len(scored)

	res.QualityGate = o.qualityGate(scored, reqs)

	// Discovery sizing and execution.
	discTarget, reason := o.discoveryTarget(scored, res.QualityGate, reqs, targetCount)
	res.DiscoveryTarget = discTarget
	res.DiscoveryReason = reason

	var discScored []ranking.Scored
	if discTarget > 0 {
		discovered := o.runDiscovery(ctx, req, reqs, res.QualityGate.Triggered, discTarget, out)
		discInputs := make([]ranking.Input, 0, len(discovered))
		for _, c := range discovered {
			discInputs = append(discInputs, ranking.Input{Candidate: c})
		}
		discScored = ranking.Rank(discInputs, reqs, opts)
	}
	res.DiscoveredCount = len(discScored)
	res.QueriesExecuted = out.Discovery.UsedQueries

	assembled, leftovers := o.assemble(scored, discScored, targetCount, res)
	assembled = o.suppressNovelty(ctx, req.TenantID, assembled, leftovers, reqs, res)

	rows := buildRows(req.ID, assembled)
	if err := o.store.ReplaceSourcingCandidates(ctx, req.TenantID, req.ID, rows); err != nil {
		return nil, fmt.Errorf("persist sourcing candidates: %w", err)
	}

	res.ResultCount = len(rows)
	for _, r := range assembled {
		if r.scored.Breakdown.MatchTier == sourcing.TierStrict {
			res.StrictResultCount++
		}
		if r.source == sourcing.SourceDiscovered {
			res.DiscoveredInOutput++
		}
	}

	o.enqueueEnrichment(ctx, req.TenantID, assembled, discScored, scored, targetCountry, res)
	return out, nil
}

// trackFilter maps a decision onto snapshot tracks, tech-first for blended.
func trackFilter(t sourcing.Track) []candidate.Track {
	switch t {
	case sourcing.TrackTech:
		return []candidate.Track{candidate.TrackTech}
	case sourcing.TrackNonTech:
		return []candidate.Track{candidate.TrackNonTech}
	default:
		return []candidate.Track{candidate.TrackTech, candidate.TrackNonTech}
	}
}

// selectSnapshot picks the first snapshot matching the filter order.
func selectSnapshot(snaps []candidate.Snapshot, tracks []candidate.Track) *candidate.Snapshot {
	for _, track := range tracks {
		for i := range snaps {
			if snaps[i].Track == track {
				return &snaps[i]
			}
		}
	}
	return nil
}

// countryGuard drops pool candidates whose location clearly belongs to a
// different country. Candidates with no location at all are kept; their
// SERP-meta locale is only a drop signal when explicitly enabled.
func (o *Orchestrator) countryGuard(scored []ranking.Scored, targetCountry string, res *sourcing.OrchestratorResult) []ranking.Scored {
	if !o.cfg.CountryGuardEnabled || targetCountry == "" {
		return scored
	}
	kept := scored[:0]
	for _, s := range scored {
		loc := scoredLocation(s)
		if loc != "" {
			if c := ranking.CountryOfText(loc); c != "" && c != targetCountry {
				res.CountryGuardDropped++
				continue
			}
			kept = append(kept, s)
			continue
		}

		meta := s.Candidate.SearchMeta
		if meta == nil || meta.LocaleCountry == "" {
			kept = append(kept, s)
			continue
		}
		if !o.cfg.CountryGuardSerpLocaleEnabled {
			res.CountryGuardSerpSkips++
			kept = append(kept, s)
			continue
		}
		if strings.ToLower(meta.LocaleCountry) != targetCountry {
			res.CountryGuardDropped++
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

func scoredLocation(s ranking.Scored) string {
	if s.Snapshot != nil && s.Snapshot.Location != "" {
		return s.Snapshot.Location
	}
	return s.Candidate.LocationHint
}

// qualityGate evaluates the compound pool-quality check over the top-K of
// the scored pool.
func (o *Orchestrator) qualityGate(scored []ranking.Scored, reqs requirements.Requirements) sourcing.QualityGateReport {
	k := o.cfg.QualityTopK
	if k > len(scored) {
		k = len(scored)
	}
	report := sourcing.QualityGateReport{TopK: k}
	if k == 0 {
		report.Triggered = true
		return report
	}

	var sum float64
	for _, s := range scored[:k] {
		sum += s.FitScore
		if s.FitScore >= o.cfg.QualityThreshold {
			report.CountAboveThreshold++
		}
		if s.Breakdown.MatchTier == sourcing.TierStrict {
			report.StrictTopKCount++
		}
	}
	report.AvgFitTopK = sum / float64(k)
	report.StrictCoverageRate = float64(report.StrictTopKCount) / float64(k)

	withLocation := 0
	for _, s := range scored {
		if scoredLocation(s) != "" {
			withLocation++
		}
	}
	report.LocationHintCover = float64(withLocation) / float64(len(scored))

	minCountAbove := o.cfg.QualityMinCountAbove
	if minCountAbove > k {
		minCountAbove = k
	}
	minStrict := o.cfg.MinStrictMatchesBeforeExpand
	if minStrict > k {
		minStrict = k
	}
	strictDeficient := reqs.HasLocation() && report.StrictTopKCount < minStrict
	locationDeficient := reqs.HasLocation() && report.LocationHintCover < o.cfg.LocationCoverageFloor

	report.Triggered = report.AvgFitTopK < o.cfg.QualityMinAvgFit ||
		report.CountAboveThreshold < minCountAbove ||
		strictDeficient ||
		locationDeficient
	return report
}

// discoveryTarget sizes the discovery run and names what drove it.
func (o *Orchestrator) discoveryTarget(scored []ranking.Scored, gate sourcing.QualityGateReport, reqs requirements.Requirements, targetCount int) (int, string) {
	poolDeficit := targetCount - len(scored)
	if poolDeficit < 0 {
		poolDeficit = 0
	}

	strictCount := 0
	for _, s := range scored {
		if s.Breakdown.MatchTier == sourcing.TierStrict {
			strictCount++
		}
	}
	strictDeficit := 0
	if reqs.HasLocation() {
		strictDeficit = o.cfg.MinStrictMatchesBeforeExpand - strictCount
		if strictDeficit < 0 {
			strictDeficit = 0
		}
	}

	qualityShare := 0
	if gate.Triggered {
		qualityShare = int(o.cfg.MinDiscoveryShareLowQuality * float64(targetCount))
	}

	want := poolDeficit
	if qualityShare > want {
		want = qualityShare
	}
	if strictDeficit > want {
		want = strictDeficit
	}
	if o.cfg.MinDiscoveryPerRun > want {
		want = o.cfg.MinDiscoveryPerRun
	}

	ceiling := int(o.cfg.MaxDiscoveryShare * float64(targetCount))
	if want > ceiling {
		want = ceiling
	}

	var reason string
	switch {
	case want <= 0:
		reason = ""
	case poolDeficit > 0 && gate.Triggered:
		reason = sourcing.ReasonDeficitAndLowQual
	case poolDeficit > 0:
		reason = sourcing.ReasonPoolDeficit
	case gate.Triggered:
		reason = sourcing.ReasonLowQualityPool
	default:
		reason = sourcing.ReasonMinimumDiscovery
	}
	return want, reason
}

// runDiscovery reserves budget, plans and runs the SERP discovery phase.
func (o *Orchestrator) runDiscovery(ctx context.Context, req *sourcing.Request, reqs requirements.Requirements, gateTriggered bool, target int, out *Outcome) []candidate.Candidate {
	want := o.cfg.MaxSerpQueries
	if gateTriggered {
		want *= clampMultiplier(o.cfg.DynamicQueryMultiplier)
	}

	resv := o.guard.Reserve(ctx, req.TenantID, want)
	if !resv.Allowed {
		out.Discovery.SkippedReason = resv.SkippedReason
		o.logger.Info("discovery skipped",
			"request_id", req.ID,
			"reason", resv.SkippedReason,
		)
		return nil
	}

	plan := o.planner.Plan(ctx, reqs, resv.MaxQueries)
	run := o.runner.Run(ctx, req.TenantID, req.ID, plan, resv.MaxQueries, target)
	run.Telemetry.ReservedQueries = resv.ReservedQueries
	o.guard.Release(ctx, resv, run.Telemetry.UsedQueries)

	out.Discovery = run.Telemetry
	return run.Candidates
}

func clampMultiplier(m int) int {
	if m < 1 {
		return 1
	}
	if m > 5 {
		return 5
	}
	return m
}

// assemble builds the two-tier output: discovered reserve at top, strict
// pool (post-demotion, with rescue), expanded pool, then the remaining
// discovered fill. Strict rows always precede expanded rows. The second
// return value is the unused tail, in fill order, for novelty backfill.
func (o *Orchestrator) assemble(scored, discScored []ranking.Scored, targetCount int, res *sourcing.OrchestratorResult) (assembled, leftovers []row) {
	// Promotion-qualified discovered: strict-tier and above the fit floor.
	var qualified, restDisc []ranking.Scored
	for _, d := range discScored {
		if d.Breakdown.MatchTier == sourcing.TierStrict && d.FitScore >= o.cfg.DiscoveredPromotionMinFit {
			qualified = append(qualified, d)
		} else {
			restDisc = append(restDisc, d)
		}
	}
	res.PromotionQualified = len(qualified)

	reserve := o.cfg.MinDiscoveredInOutput
	if reserve > len(discScored) {
		reserve = len(discScored)
	}
	if reserve > targetCount {
		reserve = targetCount
	}

	promoted := len(qualified)
	if promoted > reserve {
		promoted = reserve
	}
	for _, d := range qualified[:promoted] {
		assembled = append(assembled, row{scored: d, source: sourcing.SourceDiscovered})
	}
	leftoverQualified := qualified[promoted:]
	remainingReserve := reserve - promoted
	poolFillLimit := targetCount - remainingReserve

	// Split the pool by tier, demoting weak strict candidates. The expanded
	// slice keeps the global score order, demoted rows flagged in place.
	var strict, expanded []row
	for _, s := range scored {
		r := row{scored: s, source: poolSource(s.Candidate)}
		if s.Breakdown.MatchTier != sourcing.TierStrict {
			expanded = append(expanded, r)
			continue
		}
		if s.FitScore < o.cfg.BestMatchesMinFitScore {
			res.StrictDemotedCount++
			if m := s.Breakdown.LocationMatch; m == sourcing.LocationCityExact || m == sourcing.LocationCityAlias {
				res.DemotedStrictWithCity++
			}
			r.scored.Breakdown.MatchTier = sourcing.TierExpanded
			r.demoted = true
			expanded = append(expanded, r)
			continue
		}
		strict = append(strict, r)
	}

	// Rescue: when demotion empties the strict tier, reinstate the best of
	// the demoted rather than ship an all-expanded page.
	if len(strict) == 0 && res.StrictDemotedCount > 0 {
		res.ExpansionReason = sourcing.ExpansionStrictLowQuality
		if o.cfg.StrictRescueCount > 0 {
			remaining := expanded[:0]
			for _, r := range expanded {
				if r.demoted &&
					res.StrictRescuedCount < o.cfg.StrictRescueCount &&
					r.scored.FitScore >= o.cfg.StrictRescueMinFitScore {
					r.scored.Breakdown.MatchTier = sourcing.TierStrict
					r.demoted = false
					strict = append(strict, r)
					res.StrictRescuedCount++
					res.StrictDemotedCount--
					continue
				}
				remaining = append(remaining, r)
			}
			expanded = remaining
		}
	}

	for _, r := range strict {
		if len(assembled) >= poolFillLimit {
			leftovers = append(leftovers, r)
			continue
		}
		assembled = append(assembled, r)
	}
	for _, r := range expanded {
		if len(assembled) >= poolFillLimit {
			leftovers = append(leftovers, r)
			continue
		}
		assembled = append(assembled, r)
	}

	// Remaining discovered fill to target, qualified first. Rows that kept a
	// strict tier but were not promoted land below expanded rows, so they
	// are recorded as expanded to keep the tier ordering honest.
	fill := append(append([]ranking.Scored{}, leftoverQualified...), restDisc...)
	for _, d := range fill {
		d.Breakdown.MatchTier = sourcing.TierExpanded
		r := row{scored: d, source: sourcing.SourceDiscovered}
		if len(assembled) >= targetCount {
			leftovers = append(leftovers, r)
			continue
		}
		assembled = append(assembled, r)
	}
	return assembled, leftovers
}

func poolSource(c candidate.Candidate) sourcing.SourceType {
	if c.EnrichmentStatus == candidate.EnrichmentCompleted {
		return sourcing.SourcePoolEnriched
	}
	return sourcing.SourcePool
}

// suppressNovelty removes recently-exposed low-fit expanded rows so fresh
// requests do not keep resurfacing the same middle of the pack, backfilling
// from the unused tail of the assembly.
func (o *Orchestrator) suppressNovelty(ctx context.Context, tenantID string, assembled, leftovers []row, reqs requirements.Requirements, res *sourcing.OrchestratorResult) []row {
	if !o.cfg.NoveltyEnabled || reqs.RoleFamily == "" || len(assembled) == 0 {
		return assembled
	}

	since := o.now().AddDate(0, 0, -o.cfg.NoveltyWindowDays)
	city := ranking.PrimaryCity(reqs.Location)
	exposed, err := o.store.ListRecentlyExposedCandidateIDs(ctx, tenantID, reqs.RoleFamily, city, since)
	if err != nil {
		o.logger.Warn("novelty lookup failed, skipping suppression", "error", err)
		return assembled
	}
	if len(exposed) == 0 {
		return assembled
	}

	threshold := topDecileFit(assembled)
	suppressible := func(r row) bool {
		if r.scored.Breakdown.MatchTier != sourcing.TierExpanded {
			return false
		}
		if _, ok := exposed[r.scored.Candidate.ID]; !ok {
			return false
		}
		return r.scored.FitScore < threshold
	}

	target := len(assembled)
	kept := assembled[:0]
	for _, r := range assembled {
		if suppressible(r) {
			res.NoveltySuppressed++
			continue
		}
		kept = append(kept, r)
	}

	// Backfilled rows land at the bottom, so any strict leftover is
	// recorded as expanded to preserve the tier ordering.
	for _, r := range leftovers {
		if len(kept) >= target {
			break
		}
		if suppressible(r) {
			continue
		}
		r.scored.Breakdown.MatchTier = sourcing.TierExpanded
		kept = append(kept, r)
	}
	return kept
}

// topDecileFit is the fit score a row must reach to sit in the top 10% of
// the assembled set.
func topDecileFit(assembled []row) float64 {
	scores := make([]float64, len(assembled))
	for i, r := range assembled {
		scores[i] = r.scored.FitScore
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(scores)))
	k := len(scores) / 10
	if k >= len(scores) {
		k = len(scores) - 1
	}
	return scores[k]
}

// buildRows turns the assembled order into persisted rows with 1-based
// contiguous ranks.
func buildRows(requestID string, assembled []row) []sourcing.Candidate {
	rows := make([]sourcing.Candidate, len(assembled))
	for i, r := range assembled {
		rows[i] = sourcing.Candidate{
			RequestID:        requestID,
			CandidateID:      r.scored.Candidate.ID,
			FitScore:         r.scored.FitScore,
			FitBreakdown:     r.scored.Breakdown,
			SourceType:       r.source,
			EnrichmentStatus: r.scored.Candidate.EnrichmentStatus,
			Rank:             i + 1,
		}
	}
	return rows
}

// enqueueEnrichment submits enrichment sessions in four priority bands:
// rank-driven top of the output, in-output discovered reserve, discovered
// orphans, and stale snapshot refreshes.
func (o *Orchestrator) enqueueEnrichment(ctx context.Context, tenantID string, assembled []row, discScored, poolScored []ranking.Scored, targetCountry string, res *sourcing.OrchestratorResult) {
	queued := make(map[string]struct{})
	remaining := o.cfg.JobMaxEnrich

	submit := func(candidateID string, priority int) bool {
		if remaining <= 0 {
			return false
		}
		if _, ok := queued[candidateID]; ok {
			return false
		}
		created, err := o.sessions.CreateSession(ctx, tenantID, candidateID, clampPriority(priority))
		if err != nil {
			o.logger.Warn("enrichment enqueue failed",
				"candidate_id", candidateID, "error", err)
			return false
		}
		queued[candidateID] = struct{}{}
		if !created {
			return false
		}
		remaining--
		return true
	}

	// Rank band: top-N unenriched, priority tracking the rank, nudged by
	// SERP evidence.
	enqueued := 0
	for i, r := range assembled {
		if enqueued >= o.cfg.InitialEnrichCount {
			break
		}
		if r.scored.Candidate.EnrichmentStatus == candidate.EnrichmentCompleted {
			continue
		}
		priority := enrichment.PriorityRankBase + i + serpAdjust(r.scored.Candidate, targetCountry)
		if submit(r.scored.Candidate.ID, priority) {
			res.EnrichQueuedCount++
			enqueued++
		}
	}

	// Discovered reserve band: unenriched discovered rows in the output.
	reserve := 0
	for _, r := range assembled {
		if reserve >= o.cfg.DiscoveredEnrichReserve {
			break
		}
		if r.source != sourcing.SourceDiscovered ||
			r.scored.Candidate.EnrichmentStatus == candidate.EnrichmentCompleted {
			continue
		}
		if submit(r.scored.Candidate.ID, enrichment.PriorityDiscoveredReserve+reserve) {
			res.EnrichQueuedCount++
			reserve++
		}
	}

	// Orphan band: discovered this run but not assembled.
	inOutput := make(map[string]struct{}, len(assembled))
	for _, r := range assembled {
		inOutput[r.scored.Candidate.ID] = struct{}{}
	}
	orphans := 0
	for _, d := range discScored {
		if orphans >= o.cfg.DiscoveredOrphanEnrichReserve {
			break
		}
		if _, ok := inOutput[d.Candidate.ID]; ok {
			continue
		}
		if submit(d.Candidate.ID, enrichment.PriorityDiscoveredOrphan+orphans) {
			res.EnrichQueuedCount++
			orphans++
		}
	}

	// Stale refresh band: pool snapshots past their staleness horizon.
	now := o.now()
	stale := 0
	for _, s := range poolScored {
		if stale >= o.cfg.StaleRefreshMaxPerRun {
			break
		}
		if s.Snapshot == nil || s.Snapshot.Fresh(now) {
			continue
		}
		if submit(s.Candidate.ID, enrichment.PriorityStaleRefresh) {
			res.StaleRefreshQueued++
			stale++
		}
	}
}

// serpAdjust nudges enrichment priority on SERP evidence: fresh results and
// location-consistent candidates are enriched sooner.
func serpAdjust(c candidate.Candidate, targetCountry string) int {
	meta := c.SearchMeta
	if meta == nil {
		return 0
	}
	adj := 0
	if meta.ResultAgeDays != nil {
		switch age := *meta.ResultAgeDays; {
		case age <= 30:
			adj -= 3
		case age <= 90:
			adj--
		case age > 365:
			adj += 2
		}
	}
	if targetCountry != "" {
		metaCountry := strings.ToLower(meta.LocaleCountry)
		if metaCountry == "" {
			metaCountry = ranking.CountryOfText(meta.LocationText)
		}
		switch {
		case metaCountry == targetCountry:
			adj -= 4
		case metaCountry != "":
			adj += 4
		}
	}
	return adj
}

func clampPriority(p int) int {
	if p < enrichment.PriorityMin {
		return enrichment.PriorityMin
	}
	if p > enrichment.PriorityMax {
		return enrichment.PriorityMax
	}
	return p
}
