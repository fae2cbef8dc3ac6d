package sourcing

import "github.com/vantahire/signal/internal/domain/candidate"

// SourceType records how a candidate entered the output. Immutable after
// creation: rerank never reclassifies a row.
type SourceType string

const (
	SourcePool         SourceType = "pool"
	SourcePoolEnriched SourceType = "pool_enriched"
	SourceDiscovered   SourceType = "discovered"
)

// MatchTier is the hard strict/expanded partition of the output. It orders
// ranks; it never contributes to the fit score.
type MatchTier string

const (
	TierStrict   MatchTier = "strict_location"
	TierExpanded MatchTier = "expanded_location"
)

// LocationMatchType refines how a candidate's location matched the target.
type LocationMatchType string

const (
	LocationCityExact   LocationMatchType = "city_exact"
	LocationCityAlias   LocationMatchType = "city_alias"
	LocationCountryOnly LocationMatchType = "country_only"
	LocationNone        LocationMatchType = "none"
)

// DataConfidence grades how much signal backed a candidate's score.
type DataConfidence string

const (
	ConfidenceHigh   DataConfidence = "high"
	ConfidenceMedium DataConfidence = "medium"
	ConfidenceLow    DataConfidence = "low"
)

// FitBreakdown carries the component scores behind a fit score.
type FitBreakdown struct {
	SkillScore       float64           `json:"skill_score"`
	RoleScore        float64           `json:"role_score"`
	SeniorityScore   float64           `json:"seniority_score"`
	FreshnessScore   float64           `json:"freshness_score"`
	SkillScoreMethod string            `json:"skill_score_method"` // "snapshot" | "text_fallback"
	MatchTier        MatchTier         `json:"match_tier"`
	LocationMatch    LocationMatchType `json:"location_match_type"`
	DataConfidence   DataConfidence    `json:"data_confidence"`
}

// Candidate is one row in the ranked output of a request.
// (request_id, candidate_id) is unique; ranks are a 1-based contiguous
// permutation within a request.
type Candidate struct {
	RequestID        string                     `json:"request_id"`
	CandidateID      string                     `json:"candidate_id"`
	FitScore         float64                    `json:"fit_score"`
	FitBreakdown     FitBreakdown               `json:"fit_breakdown"`
	SourceType       SourceType                 `json:"source_type"`
	EnrichmentStatus candidate.EnrichmentStatus `json:"enrichment_status"`
	Rank             int                        `json:"rank"`
}
