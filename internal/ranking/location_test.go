package ranking

import (
	"testing"

	"github.com/vantahire/signal/internal/domain/sourcing"
	"github.com/vantahire/signal/internal/requirements"
)

func locReq(target string) requirements.Requirements {
	return requirements.Requirements{Location: target}
}

func TestClassifyLocation(t *testing.T) {
	cases := []struct {
		name      string
		target    string
		candidate string
		tier      sourcing.MatchTier
		match     sourcing.LocationMatchType
	}{
		{"no target", "", "Bangalore", sourcing.TierStrict, sourcing.LocationNone},
		{"remote target", "Remote", "Bangalore", sourcing.TierStrict, sourcing.LocationNone},
		{"no candidate location", "Bangalore, India", "", sourcing.TierExpanded, sourcing.LocationNone},
		{"noisy candidate location", "Bangalore, India", "n/a", sourcing.TierExpanded, sourcing.LocationNone},
		{"city exact", "Bangalore, India", "Bangalore, Karnataka", sourcing.TierStrict, sourcing.LocationCityExact},
		{"city alias", "Bangalore, India", "Bengaluru, Karnataka", sourcing.TierStrict, sourcing.LocationCityAlias},
		{"alias in target", "Bengaluru, India", "Bangalore", sourcing.TierStrict, sourcing.LocationCityAlias},
		{"greater area wrapper", "Greater Mumbai Area, India", "Mumbai", sourcing.TierStrict, sourcing.LocationCityExact},
		{"country only with city target", "Bangalore, India", "Pune, India", sourcing.TierExpanded, sourcing.LocationCountryOnly},
		{"country-only target", "India", "Hyderabad, India", sourcing.TierStrict, sourcing.LocationCountryOnly},
		{"different country", "Bangalore, India", "Berlin, Germany", sourcing.TierExpanded, sourcing.LocationNone},
		{"nyc alias", "New York, USA", "NYC", sourcing.TierStrict, sourcing.LocationCityAlias},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tier, match := ClassifyLocation(locReq(tc.target), tc.candidate)
			if tier != tc.tier || match != tc.match {
				t.Fatalf("got %s/%s, want %s/%s", tier, match, tc.tier, tc.match)
			}
		})
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	for _, s := range []string{"Bengaluru, India", "Greater NYC Area", "São Paulo!", "  Mumbai  "} {
		once := applyCityAliases(normalizeLocation(s))
		twice := applyCityAliases(normalizeLocation(once))
		if once != twice {
			t.Fatalf("canonicalization not idempotent for %q: %q vs %q", s, once, twice)
		}
	}
}

func TestPrimaryCity(t *testing.T) {
	cases := map[string]string{
		"Bangalore, India":           "bangalore",
		"Greater Mumbai Area":        "mumbai",
		"New York Metropolitan Area": "new york",
		"India":                      "",
	}
	for in, want := range cases {
		if got := PrimaryCity(in); got != want {
			t.Errorf("PrimaryCity(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCountryOf(t *testing.T) {
	cases := map[string]string{
		"bangalore india":        "in",
		"new york united states": "us",
		"london uk":              "gb",
		"nowhere special":        "",
	}
	for in, want := range cases {
		if got := CountryOf(in); got != want {
			t.Errorf("CountryOf(%q) = %q, want %q", in, got, want)
		}
	}
}
