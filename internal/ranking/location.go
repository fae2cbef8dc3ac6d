package ranking

import (
	"strings"

	"github.com/vantahire/signal/internal/domain/sourcing"
	"github.com/vantahire/signal/internal/hints"
	"github.com/vantahire/signal/internal/requirements"
)

// cityAliases rewrites alternate city spellings onto one canonical form.
var cityAliases = map[string]string{
	"bengaluru":     "bangalore",
	"bombay":        "mumbai",
	"nyc":           "new york",
	"new york city": "new york",
	"sf":            "san francisco",
	"gurugram":      "gurgaon",
}

// countryTokens maps country name variants onto an ISO-ish canonical code.
var countryTokens = map[string]string{
	"india":                "in",
	"united states":        "us",
	"usa":                  "us",
	"us":                   "us",
	"america":              "us",
	"united kingdom":       "gb",
	"uk":                   "gb",
	"england":              "gb",
	"canada":               "ca",
	"germany":              "de",
	"france":               "fr",
	"australia":            "au",
	"singapore":            "sg",
	"netherlands":          "nl",
	"ireland":              "ie",
	"uae":                  "ae",
	"united arab emirates": "ae",
	"brazil":               "br",
	"japan":                "jp",
	"poland":               "pl",
	"spain":                "es",
	"mexico":               "mx",
	"philippines":          "ph",
	"pakistan":             "pk",
	"nigeria":              "ng",
	"israel":               "il",
}

// ClassifyLocation partitions a candidate into the strict or expanded tier
// relative to the target location, with the match type that got it there.
//
// No meaningful target location means everyone is strict. A candidate with
// no usable location is expanded. Otherwise both sides are canonicalized
// and compared city-first, then by country-token overlap.
func ClassifyLocation(req requirements.Requirements, candidateLoc string) (sourcing.MatchTier, sourcing.LocationMatchType) {
	if !req.HasLocation() {
		return sourcing.TierStrict, sourcing.LocationNone
	}
	candidateLoc = strings.TrimSpace(candidateLoc)
	if candidateLoc == "" || hints.IsNoisy(candidateLoc) {
		return sourcing.TierExpanded, sourcing.LocationNone
	}

	targetRaw := normalizeLocation(req.Location)
	candRaw := normalizeLocation(candidateLoc)
	targetCanon := applyCityAliases(targetRaw)
	candCanon := applyCityAliases(candRaw)

	city := PrimaryCity(req.Location)
	if city != "" && containsPhrase(candCanon, applyCityAliases(city)) {
		// city_exact only when the pre-alias forms also match.
		if containsPhrase(candRaw, city) {
			return sourcing.TierStrict, sourcing.LocationCityExact
		}
		return sourcing.TierStrict, sourcing.LocationCityAlias
	}

	targetCountry := CountryOf(targetCanon)
	candCountry := CountryOf(candCanon)
	if targetCountry != "" && targetCountry == candCountry {
		if city == "" {
			return sourcing.TierStrict, sourcing.LocationCountryOnly
		}
		return sourcing.TierExpanded, sourcing.LocationCountryOnly
	}
	return sourcing.TierExpanded, sourcing.LocationNone
}

// PrimaryCity extracts the canonical-cased city from a location's first
// comma segment, stripping "greater X area/region/metropolitan" wrappers.
func PrimaryCity(location string) string {
	seg := location
	if i := strings.IndexByte(seg, ','); i >= 0 {
		seg = seg[:i]
	}
	seg = normalizeLocation(seg)
	seg = strings.TrimPrefix(seg, "greater ")
	for _, suffix := range []string{" metropolitan area", " metropolitan region", " metro area", " area", " region", " metropolitan"} {
		seg = strings.TrimSuffix(seg, suffix)
	}
	seg = strings.TrimSpace(seg)
	if _, isCountry := countryTokens[seg]; isCountry {
		return ""
	}
	return seg
}

// CountryOf returns the canonical country code found in a normalized
// location string, or "" when none is recognizable.
func CountryOf(normalized string) string {
	// Longest variants first so "united arab emirates" wins over "uae"-less
	// partials; phrase containment keeps "usa" from matching inside words.
	best := ""
	bestLen := 0
	for token, code := range countryTokens {
		if len(token) > bestLen && containsPhrase(normalized, token) {
			best = code
			bestLen = len(token)
		}
	}
	return best
}

// CountryOfText derives the country code from raw location text.
func CountryOfText(raw string) string {
	return CountryOf(applyCityAliases(normalizeLocation(raw)))
}

// normalizeLocation lowercases and strips punctuation down to word-and-space.
func normalizeLocation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func applyCityAliases(normalized string) string {
	out := normalized
	for alias, canon := range cityAliases {
		out = replacePhrase(out, alias, canon)
	}
	return out
}

// containsPhrase reports whether phrase occurs in text on word boundaries.
func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	for i := 0; i+len(phrase) <= len(text); {
		j := strings.Index(text[i:], phrase)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(phrase)
		leftOK := start == 0 || text[start-1] == ' '
		rightOK := end == len(text) || text[end] == ' '
		if leftOK && rightOK {
			return true
		}
		i = start + 1
	}
	return false
}

func replacePhrase(text, phrase, with string) string {
	words := strings.Split(text, " ")
	phraseWords := strings.Split(phrase, " ")
	var out []string
	for i := 0; i < len(words); {
		if i+len(phraseWords) <= len(words) && equalSlice(words[i:i+len(phraseWords)], phraseWords) {
			out = append(out, with)
			i += len(phraseWords)
			continue
		}
		out = append(out, words[i])
		i++
	}
	return strings.Join(out, " ")
}

func equalSlice(a, b []string) bool {
	for i := range b {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
