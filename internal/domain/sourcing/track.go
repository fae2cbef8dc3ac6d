package sourcing

import "time"

// Track is the resolved job classification.
type Track string

const (
	TrackTech    Track = "tech"
	TrackNonTech Track = "non_tech"
	TrackBlended Track = "blended"
)

// ClassifyMethod records which path produced a TrackDecision.
type ClassifyMethod string

const (
	MethodDeterministic     ClassifyMethod = "deterministic"
	MethodGroq              ClassifyMethod = "groq"
	MethodDeterministicGroq ClassifyMethod = "deterministic+groq"
)

// DeterministicSignals holds the raw output of the keyword scorer, kept for
// telemetry even when an explicit hint or the LLM decided the track.
type DeterministicSignals struct {
	MatchedTech        []string `json:"matched_tech,omitempty"`
	MatchedNonTech     []string `json:"matched_non_tech,omitempty"`
	TechRaw            float64  `json:"tech_raw"`
	NonTechRaw         float64  `json:"non_tech_raw"`
	TechScore          float64  `json:"tech_score"`
	NonTechScore       float64  `json:"non_tech_score"`
	Margin             float64  `json:"margin"`
	StrongTechCount    int      `json:"strong_tech_count"`
	StrongNonTechCount int      `json:"strong_non_tech_count"`
	RoleFamilySignal   bool     `json:"role_family_signal"`
}

// GroqResult is the LLM sub-result of a classification, when consulted.
type GroqResult struct {
	Track         Track    `json:"track"`
	Confidence    float64  `json:"confidence"`
	Reasons       []string `json:"reasons,omitempty"`
	AmbiguityFlag bool     `json:"ambiguity_flag"`
	Cached        bool     `json:"cached"`
}

// TrackDecision is the resolved classification stored inside diagnostics.
type TrackDecision struct {
	Track             Track                `json:"track"`
	Confidence        float64              `json:"confidence"`
	Method            ClassifyMethod       `json:"method"`
	ClassifierVersion string               `json:"classifier_version"`
	Signals           DeterministicSignals `json:"signals"`
	Groq              *GroqResult          `json:"groq,omitempty"`
	HintUsed          string               `json:"hint_used,omitempty"`
	ResolvedAt        time.Time            `json:"resolved_at"`
}
