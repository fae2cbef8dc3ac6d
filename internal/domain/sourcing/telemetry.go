package sourcing

import "time"

// QueryPhase labels which half of a discovery plan a query belongs to.
type QueryPhase string

const (
	PhaseStrict   QueryPhase = "strict"
	PhaseFallback QueryPhase = "fallback"
)

// Discovery stop reasons.
const (
	StopTargetReached       = "target_reached"
	StopBudgetExhausted     = "budget_exhausted"
	StopCompletedQueries    = "completed_queries"
	StopNoQueries           = "no_queries"
	StopStrictLowYield      = "strict_low_yield_shifted"
	StopFallbackLowYield    = "fallback_low_yield_stopped"
	SkipCapGuardUnavailable = "cap_guard_unavailable"
	SkipDailyCapReached     = "daily_serp_cap_reached"
)

// QueryRunTelemetry is one persisted row per executed discovery query.
type QueryRunTelemetry struct {
	RequestID            string     `json:"request_id"`
	Phase                QueryPhase `json:"phase"`
	Query                string     `json:"query"`
	Provider             string     `json:"provider"`
	UsedFallbackProvider bool       `json:"used_fallback_provider"`
	ResultCount          int        `json:"result_count"`
	AcceptedCount        int        `json:"accepted_count"`
	CumulativeDiscovered int        `json:"cumulative_discovered"`
	LatencyMs            int64      `json:"latency_ms"`
	CreatedAt            time.Time  `json:"created_at"`
}

// DiscoveryTelemetry summarizes a discovery run for diagnostics.
type DiscoveryTelemetry struct {
	PlannedStrict    int    `json:"planned_strict"`
	PlannedFallback  int    `json:"planned_fallback"`
	ExecutedStrict   int    `json:"executed_strict"`
	ExecutedFallback int    `json:"executed_fallback"`
	AcceptedStrict   int    `json:"accepted_strict"`
	AcceptedFallback int    `json:"accepted_fallback"`
	ReservedQueries  int    `json:"reserved_queries"`
	UsedQueries      int    `json:"used_queries"`
	QueryGenMode     string `json:"query_gen_mode"`
	HybridUsed       bool   `json:"hybrid_used"`
	StoppedReason    string `json:"stopped_reason,omitempty"`
	SkippedReason    string `json:"skipped_reason,omitempty"`
}

// QualityGateReport carries the compound pool-quality check results.
type QualityGateReport struct {
	Triggered           bool    `json:"triggered"`
	TopK                int     `json:"top_k"`
	AvgFitTopK          float64 `json:"avg_fit_top_k"`
	CountAboveThreshold int     `json:"count_above_threshold"`
	StrictTopKCount     int     `json:"strict_top_k_count"`
	StrictCoverageRate  float64 `json:"strict_coverage_rate"`
	LocationHintCover   float64 `json:"location_hint_coverage"`
}

// OrchestratorResult is the diagnostics summary of one orchestration run.
type OrchestratorResult struct {
	Track                 Track             `json:"track"`
	PoolCount             int               `json:"pool_count"`
	ScoredPoolCount       int               `json:"scored_pool_count"`
	QualityGate           QualityGateReport `json:"quality_gate"`
	DiscoveryReason       string            `json:"discovery_reason,omitempty"`
	DiscoveryTarget       int               `json:"discovery_target"`
	DiscoveredCount       int               `json:"discovered_count"`
	PromotionQualified    int               `json:"promotion_qualified_count"`
	StrictDemotedCount    int               `json:"strict_demoted_count"`
	DemotedStrictWithCity int               `json:"demoted_strict_with_city_match"`
	StrictRescuedCount    int               `json:"strict_rescued_count"`
	ExpansionReason       string            `json:"expansion_reason,omitempty"`
	NoveltySuppressed     int               `json:"novelty_suppressed_count"`
	CountryGuardDropped   int               `json:"country_guard_dropped_count"`
	CountryGuardSerpSkips int               `json:"country_guard_serp_locale_skipped_count"`
	ResultCount           int               `json:"result_count"`
	StrictResultCount     int               `json:"strict_result_count"`
	DiscoveredInOutput    int               `json:"discovered_in_output"`
	QueriesExecuted       int               `json:"queries_executed"`
	EnrichQueuedCount     int               `json:"enrich_queued_count"`
	StaleRefreshQueued    int               `json:"stale_refresh_queued_count"`
}

// Reasons recorded for why discovery ran and why the tier expanded.
const (
	ReasonPoolDeficit         = "pool_deficit"
	ReasonLowQualityPool      = "low_quality_pool"
	ReasonDeficitAndLowQual   = "deficit_and_low_quality"
	ReasonMinimumDiscovery    = "minimum_discovery_floor"
	ExpansionStrictLowQuality = "strict_low_quality"
)
