// Package sourcing defines the sourcing request, its ranked output rows and
// the diagnostics recorded along the way.
package sourcing

import "time"

// Status represents the lifecycle state of a sourcing request.
type Status string

const (
	StatusQueued         Status = "queued"
	StatusProcessing     Status = "processing"
	StatusComplete       Status = "complete"
	StatusCallbackSent   Status = "callback_sent"
	StatusCallbackFailed Status = "callback_failed"
	StatusFailed         Status = "failed"
)

// JobContext is the structured job description attached to a request.
type JobContext struct {
	JDDigest         string   `json:"jd_digest"`
	Title            string   `json:"title,omitempty"`
	Skills           []string `json:"skills,omitempty"`
	GoodToHaveSkills []string `json:"good_to_have_skills,omitempty"`
	Location         string   `json:"location,omitempty"`
	ExperienceYears  *float64 `json:"experience_years,omitempty"`
	Education        string   `json:"education,omitempty"`
	TrackHint        string   `json:"track_hint,omitempty"` // "tech" | "non_tech" | "auto" | ""
}

// Request is one caller-initiated sourcing job.
type Request struct {
	ID            string      `json:"id"`
	TenantID      string      `json:"tenant_id"`
	ExternalJobID string      `json:"external_job_id"`
	CallbackURL   string      `json:"callback_url"`
	JobContext    JobContext  `json:"job_context"`
	Status        Status      `json:"status"`
	Diagnostics   Diagnostics `json:"diagnostics"`

	ResultCount          int        `json:"result_count"`
	QueriesExecuted      int        `json:"queries_executed"`
	QualityGateTriggered bool       `json:"quality_gate_triggered"`
	EnrichedCount        int        `json:"enriched_count"`
	CallbackAttempts     int        `json:"callback_attempts"`
	LastCallbackError    string     `json:"last_callback_error,omitempty"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	LastRerankedAt       *time.Time `json:"last_reranked_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateRequest holds the fields needed to create a new sourcing request.
type CreateRequest struct {
	ExternalJobID string     `json:"external_job_id"`
	CallbackURL   string     `json:"callback_url"`
	JobContext    JobContext `json:"job_context"`
}
