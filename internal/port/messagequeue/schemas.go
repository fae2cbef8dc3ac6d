package messagequeue

// EnrichmentCompletedPayload is the schema for enrichment.completed messages.
type EnrichmentCompletedPayload struct {
	TenantID    string `json:"tenant_id"`
	CandidateID string `json:"candidate_id"`
}
