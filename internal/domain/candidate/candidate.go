// Package candidate defines the Candidate domain entity and its derived
// intelligence snapshots.
package candidate

import "time"

// EnrichmentStatus represents the state of a candidate's enrichment.
type EnrichmentStatus string

const (
	EnrichmentPending    EnrichmentStatus = "pending"
	EnrichmentInProgress EnrichmentStatus = "in_progress"
	EnrichmentCompleted  EnrichmentStatus = "completed"
	EnrichmentFailed     EnrichmentStatus = "failed"
)

// Track identifies which classifier track a snapshot was computed under.
type Track string

const (
	TrackTech    Track = "tech"
	TrackNonTech Track = "non_tech"
)

// SearchMeta carries provider-reported facts about the SERP result that
// produced this candidate. Used for enrichment priority adjustment and as a
// weak locale signal for the country guard.
type SearchMeta struct {
	LocaleCountry string `json:"locale_country,omitempty"`
	ResultAgeDays *int   `json:"result_age_days,omitempty"`
	LocationText  string `json:"location_text,omitempty"`
}

// Candidate is a person identified by a stable profile handle on the target
// social platform. (tenant_id, profile_handle) is unique.
type Candidate struct {
	ID             string `json:"id"`
	TenantID       string `json:"tenant_id"`
	ProfileURL     string `json:"profile_url"`
	ProfileHandle  string `json:"profile_handle"`
	CaptureSource  string `json:"capture_source,omitempty"`
	SearchProvider string `json:"search_provider,omitempty"`
	SearchQuery    string `json:"search_query,omitempty"`
	SearchTitle    string `json:"search_title,omitempty"`
	SearchSnippet  string `json:"search_snippet,omitempty"`

	SearchMeta *SearchMeta `json:"search_meta,omitempty"`

	NameHint     string `json:"name_hint,omitempty"`
	HeadlineHint string `json:"headline_hint,omitempty"`
	LocationHint string `json:"location_hint,omitempty"`
	CompanyHint  string `json:"company_hint,omitempty"`

	EnrichmentStatus EnrichmentStatus `json:"enrichment_status"`
	LastEnrichedAt   *time.Time       `json:"last_enriched_at,omitempty"`
	RoleType         string           `json:"role_type,omitempty"`
	ConfidenceScore  float64          `json:"confidence_score"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot holds derived, cached facts about a candidate under one track.
// Written by the enrichment subsystem; read-only for the sourcing core.
type Snapshot struct {
	CandidateID         string    `json:"candidate_id"`
	Track               Track     `json:"track"`
	SkillsNormalized    []string  `json:"skills_normalized"`
	RoleType            string    `json:"role_type,omitempty"`
	SeniorityBand       string    `json:"seniority_band,omitempty"`
	Location            string    `json:"location,omitempty"`
	ActivityRecencyDays *int      `json:"activity_recency_days,omitempty"`
	ComputedAt          time.Time `json:"computed_at"`
	StaleAfter          time.Time `json:"stale_after"`
}

// Fresh reports whether the snapshot is still within its staleness horizon.
// A stale snapshot remains usable for ranking, only at lower confidence.
func (s *Snapshot) Fresh(now time.Time) bool {
	return !s.StaleAfter.Before(now)
}
