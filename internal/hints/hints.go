// Package hints quality-scores and sanitizes the name/headline/location/
// company hints captured from SERP results, for both persistence and
// ranking. Replacement is monotone: an existing hint is only overwritten by
// a strictly better one.
package hints

import (
	"regexp"
	"strings"
)

// placeholders are values scrapers emit when a field is absent.
var placeholders = map[string]struct{}{
	"na": {}, "n/a": {}, "unknown": {}, "none": {}, "null": {}, "-": {},
	"nil": {}, "tbd": {}, "...": {},
}

var urlish = regexp.MustCompile(`(?i)(https?://|www\.|\.com\b|\.io\b|\.in\b/)`)

// bioWords reject text that reads like a profile summary rather than a
// location or company name.
var bioWords = []string{
	"experience", "years", "degree", "bachelor", "master", "phd",
	"engineer", "developer", "manager", "director", "analyst",
	"consultant", "specialist", "lead", "intern", "student",
	"passionate", "skilled", "working",
}

// knownCountries and knownCities anchor the location-hint heuristics.
var knownCountries = []string{
	"india", "united states", "usa", "united kingdom", "uk", "canada",
	"germany", "france", "australia", "singapore", "netherlands", "ireland",
	"israel", "japan", "brazil", "mexico", "spain", "poland", "uae",
	"united arab emirates", "switzerland", "sweden",
}

var knownCities = []string{
	"bangalore", "bengaluru", "mumbai", "bombay", "delhi", "hyderabad",
	"chennai", "pune", "gurgaon", "gurugram", "noida", "kolkata",
	"new york", "nyc", "san francisco", "sf", "seattle", "austin", "boston",
	"chicago", "los angeles", "london", "berlin", "munich", "paris",
	"amsterdam", "dublin", "toronto", "vancouver", "sydney", "melbourne",
	"tokyo", "tel aviv", "dubai", "zurich", "stockholm", "remote",
}

// cityStatePattern matches "City, XX" style hints.
var cityStatePattern = regexp.MustCompile(`^[A-Za-z .'-]+,\s*[A-Za-z]{2,}`)

// Normalize trims s and returns "" when nothing remains.
func Normalize(s string) string {
	return strings.TrimSpace(s)
}

// IsNoisy reports whether s carries no usable signal: placeholders,
// ellipses, URL-ish text, or platform boilerplate.
func IsNoisy(s string) bool {
	t := strings.ToLower(Normalize(s))
	if t == "" {
		return true
	}
	if _, ok := placeholders[t]; ok {
		return true
	}
	if strings.Contains(t, "…") || strings.Contains(t, "...") {
		return true
	}
	if urlish.MatchString(t) {
		return true
	}
	if strings.Contains(t, "linkedin") {
		return true
	}
	if strings.Contains(t, "view") && strings.Contains(t, "profile") {
		return true
	}
	return false
}

// QualityScore returns 0 for noisy/empty hints, else the word count clamped
// to [1,4]. More words generally means more specific capture.
func QualityScore(s string) int {
	if IsNoisy(s) {
		return 0
	}
	words := len(strings.Fields(Normalize(s)))
	if words < 1 {
		return 0
	}
	if words > 4 {
		return 4
	}
	return words
}

// ShouldReplace reports whether incoming is strictly better than existing.
func ShouldReplace(existing, incoming string) bool {
	return QualityScore(incoming) > QualityScore(existing)
}

// IsLikelyLocationHint rejects bio-shaped text and requires either a known
// city/country token or a "City, XX" comma pattern.
func IsLikelyLocationHint(s string) bool {
	t := strings.ToLower(Normalize(s))
	if t == "" || IsNoisy(s) {
		return false
	}
	if len(strings.Fields(t)) > 6 {
		return false
	}
	for _, w := range bioWords {
		if containsWord(t, w) {
			return false
		}
	}
	for _, c := range knownCities {
		if strings.Contains(t, c) {
			return true
		}
	}
	for _, c := range knownCountries {
		if containsWord(t, c) {
			return true
		}
	}
	return cityStatePattern.MatchString(Normalize(s))
}

// LocationHintQualityScore grades a location hint:
// 3 = city plus state/country, 2 = city (or region/area indicator),
// 1 = country only, 0 = not a location.
func LocationHintQualityScore(s string) int {
	if !IsLikelyLocationHint(s) {
		return 0
	}
	t := strings.ToLower(Normalize(s))

	hasCity := false
	for _, c := range knownCities {
		if strings.Contains(t, c) {
			hasCity = true
			break
		}
	}
	hasCountry := false
	for _, c := range knownCountries {
		if containsWord(t, c) {
			hasCountry = true
			break
		}
	}

	switch {
	case hasCity && (hasCountry || strings.Contains(t, ",")):
		return 3
	case hasCity, strings.Contains(t, "region"), strings.Contains(t, "area"):
		return 2
	case hasCountry:
		return 1
	default:
		// Matched only via the "City, XX" pattern.
		return 2
	}
}

// ShouldReplaceLocationHint uses the location-specific score.
func ShouldReplaceLocationHint(existing, incoming string) bool {
	return LocationHintQualityScore(incoming) > LocationHintQualityScore(existing)
}

// IsLikelyCompanyHint accepts short text free of bio words.
func IsLikelyCompanyHint(s string) bool {
	t := strings.ToLower(Normalize(s))
	if t == "" || IsNoisy(s) {
		return false
	}
	if len(strings.Fields(t)) > 5 {
		return false
	}
	for _, w := range bioWords {
		if containsWord(t, w) {
			return false
		}
	}
	return true
}

// CompanyHintQualityScore is QualityScore gated on company shape.
func CompanyHintQualityScore(s string) int {
	if !IsLikelyCompanyHint(s) {
		return 0
	}
	return QualityScore(s)
}

// ShouldReplaceCompanyHint uses the company-specific score.
func ShouldReplaceCompanyHint(existing, incoming string) bool {
	return CompanyHintQualityScore(incoming) > CompanyHintQualityScore(existing)
}

func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		leftOK := start == 0 || !isWordChar(text[start-1])
		rightOK := end == len(text) || !isWordChar(text[end])
		if leftOK && rightOK {
			return true
		}
		idx = start + 1
	}
}

func isWordChar(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
