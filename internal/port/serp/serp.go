// Package serp defines the SERP provider port for profile discovery.
package serp

import "context"

// ProfileSummary is one profile result returned by a SERP provider.
type ProfileSummary struct {
	ProfileURL string `json:"profile_url"`
	Title      string `json:"title,omitempty"`
	Snippet    string `json:"snippet,omitempty"`
	Name       string `json:"name,omitempty"`
	Headline   string `json:"headline,omitempty"`
	Location   string `json:"location,omitempty"`

	// Provider-reported metadata, when available.
	LocaleCountry string `json:"locale_country,omitempty"`
	ResultAgeDays *int   `json:"result_age_days,omitempty"`
}

// SearchResult is the full outcome of one SERP query.
type SearchResult struct {
	Results      []ProfileSummary
	ProviderUsed string
	UsedFallback bool
}

// Provider is the port interface for profile search.
type Provider interface {
	// SearchProfiles runs one query and returns up to limit profile results.
	SearchProfiles(ctx context.Context, query string, limit int) (*SearchResult, error)
}
