// Package ranking scores candidates against normalized job requirements.
// Scoring is a pure function: equal inputs produce byte-identical output.
// Location never contributes to the fit score; it is a hard tier gate.
package ranking

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/vantahire/signal/internal/domain/candidate"
	"github.com/vantahire/signal/internal/domain/sourcing"
	"github.com/vantahire/signal/internal/requirements"
)

// Fixed component weights, summing to 1.
const (
	weightSkill     = 0.45
	weightRole      = 0.15
	weightSeniority = 0.25
	weightFreshness = 0.15
)

const (
	SkillMethodSnapshot     = "snapshot"
	SkillMethodTextFallback = "text_fallback"
)

// Options tunes the ranker per run. LocationBoostWeight is accepted for
// config compatibility but location is gated, never scored.
type Options struct {
	FitScoreEpsilon     float64
	LocationBoostWeight float64

	// Now fixes the reference time for freshness and staleness. Zero means
	// time.Now; tests pin it for reproducible output.
	Now time.Time
}

// Input pairs a candidate with its selected intelligence snapshot, if any.
type Input struct {
	Candidate candidate.Candidate
	Snapshot  *candidate.Snapshot
}

// Scored is one ranked candidate with its fit breakdown.
type Scored struct {
	Input
	FitScore  float64
	Breakdown sourcing.FitBreakdown
}

// Rank scores every input against the requirements and returns the results
// sorted descending by fit with the epsilon/confidence tie-break.
func Rank(inputs []Input, req requirements.Requirements, opts Options) []Scored {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	scored := make([]Scored, 0, len(inputs))
	for _, in := range inputs {
		scored = append(scored, score(in, req, opts.Now))
	}
	SortByFit(scored, opts.FitScoreEpsilon)
	return scored
}

func score(in Input, req requirements.Requirements, now time.Time) Scored {
	skill, skillMethod := skillScore(in, req)
	role := roleScore(in, req)
	seniority := seniorityScore(in, req)
	freshness := freshnessScore(in, now)

	tier, locMatch := ClassifyLocation(req, candidateLocation(in))

	s := Scored{
		Input: in,
		FitScore: weightSkill*skill +
			weightRole*role +
			weightSeniority*seniority +
			weightFreshness*freshness,
		Breakdown: sourcing.FitBreakdown{
			SkillScore:       skill,
			RoleScore:        role,
			SeniorityScore:   seniority,
			FreshnessScore:   freshness,
			SkillScoreMethod: skillMethod,
			MatchTier:        tier,
			LocationMatch:    locMatch,
			DataConfidence:   dataConfidence(in, now),
		},
	}
	return s
}

// skillScore is 0.8·overlap + 0.2·domainMatch when a target domain is set,
// plain overlap otherwise. Snapshot skills are preferred; candidates without
// a snapshot fall back to scanning hint/search text for skill surface forms.
func skillScore(in Input, req requirements.Requirements) (float64, string) {
	if len(req.TopSkills) == 0 {
		return 0, SkillMethodSnapshot
	}

	var overlap float64
	method := SkillMethodSnapshot
	if in.Snapshot != nil && len(in.Snapshot.SkillsNormalized) > 0 {
		overlap = snapshotOverlap(in.Snapshot.SkillsNormalized, req.TopSkills)
	} else {
		overlap = textOverlap(candidateTextBag(in.Candidate), req.TopSkills)
		method = SkillMethodTextFallback
	}

	if req.Domain == "" {
		return overlap, method
	}
	var domainMatch float64
	if domainHit(in, req.Domain) {
		domainMatch = 1
	}
	return 0.8*overlap + 0.2*domainMatch, method
}

func snapshotOverlap(snapshotSkills, topSkills []string) float64 {
	have := make(map[string]struct{}, len(snapshotSkills))
	for _, s := range snapshotSkills {
		have[requirements.CanonicalizeSkill(s)] = struct{}{}
	}
	matched := 0
	for _, want := range topSkills {
		if _, ok := have[want]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(topSkills))
}

// shortFormAllowlist holds the purely-alphabetic surface forms of length ≤2
// that are still safe to match in free text.
var shortFormAllowlist = map[string]struct{}{
	"ts": {}, "js": {}, "go": {}, "pg": {},
}

var (
	formRegexMu sync.Mutex
	formRegexes = map[string]*regexp.Regexp{}
)

func formRegex(form string) *regexp.Regexp {
	formRegexMu.Lock()
	defer formRegexMu.Unlock()
	if re, ok := formRegexes[form]; ok {
		return re
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(form) + `\b`)
	formRegexes[form] = re
	return re
}

func isAlphabetic(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}

func textOverlap(bag string, topSkills []string) float64 {
	matched := 0
	for _, skill := range topSkills {
		for _, form := range requirements.SkillSurfaceForms(skill) {
			if len(form) <= 2 && isAlphabetic(form) {
				if _, ok := shortFormAllowlist[form]; !ok {
					continue
				}
			}
			if formRegex(form).MatchString(bag) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(topSkills))
}

func domainHit(in Input, domain string) bool {
	bag := candidateTextBag(in.Candidate)
	if in.Snapshot != nil && in.Snapshot.RoleType != "" {
		bag += " " + strings.ToLower(in.Snapshot.RoleType)
	}
	return formRegex(strings.ToLower(domain)).MatchString(bag)
}

// roleScore compares the target role family against the family detected on
// the candidate's headline or search title.
func roleScore(in Input, req requirements.Requirements) float64 {
	if req.RoleFamily == "" {
		return 0.5
	}
	detected := candidateRoleFamily(in)
	switch {
	case detected == "":
		return 0.3
	case detected == req.RoleFamily:
		return 1.0
	case adjacentFamilies(detected, req.RoleFamily):
		return 0.7
	default:
		return 0.1
	}
}

// adjacentFamilies treats fullstack as near-match for frontend and backend.
func adjacentFamilies(a, b string) bool {
	if a == requirements.FamilyFullstack {
		return b == requirements.FamilyFrontend || b == requirements.FamilyBackend
	}
	if b == requirements.FamilyFullstack {
		return a == requirements.FamilyFrontend || a == requirements.FamilyBackend
	}
	return false
}

func candidateRoleFamily(in Input) string {
	if in.Snapshot != nil && in.Snapshot.RoleType != "" {
		if fam := requirements.RoleFamilyFromText(in.Snapshot.RoleType); fam != "" {
			return fam
		}
	}
	if fam := requirements.RoleFamilyFromText(in.Candidate.HeadlineHint); fam != "" {
		return fam
	}
	return requirements.RoleFamilyFromText(in.Candidate.SearchTitle)
}

func seniorityScore(in Input, req requirements.Requirements) float64 {
	if req.SeniorityLevel == "" {
		return 0.5
	}
	band := candidateSeniority(in)
	if band == "" {
		return 0.3
	}
	switch requirements.SeniorityDistance(req.SeniorityLevel, band) {
	case 0:
		return 1.0
	case 1:
		return 0.5
	default:
		return 0
	}
}

func candidateSeniority(in Input) string {
	if in.Snapshot != nil && in.Snapshot.SeniorityBand != "" {
		return strings.ToLower(in.Snapshot.SeniorityBand)
	}
	if band := requirements.SeniorityFromText(in.Candidate.HeadlineHint); band != "" {
		return band
	}
	return requirements.SeniorityFromText(in.Candidate.SearchTitle)
}

// freshnessScore buckets the age of the candidate's best evidence.
func freshnessScore(in Input, now time.Time) float64 {
	var at *time.Time
	if in.Snapshot != nil {
		t := in.Snapshot.ComputedAt
		at = &t
	} else if in.Candidate.LastEnrichedAt != nil {
		at = in.Candidate.LastEnrichedAt
	}
	if at == nil {
		return 0.1
	}
	age := now.Sub(*at)
	switch {
	case age <= 30*24*time.Hour:
		return 1.0
	case age <= 90*24*time.Hour:
		return 0.7
	case age <= 180*24*time.Hour:
		return 0.4
	default:
		return 0.1
	}
}

// dataConfidence grades the evidence behind the score: a fresh snapshot is
// high, a stale one medium, text-only low.
func dataConfidence(in Input, now time.Time) sourcing.DataConfidence {
	if in.Snapshot == nil {
		return sourcing.ConfidenceLow
	}
	if in.Snapshot.Fresh(now) {
		return sourcing.ConfidenceHigh
	}
	return sourcing.ConfidenceMedium
}

// candidateLocation is the best location text we have for a candidate.
func candidateLocation(in Input) string {
	if in.Snapshot != nil && in.Snapshot.Location != "" {
		return in.Snapshot.Location
	}
	return in.Candidate.LocationHint
}

func candidateTextBag(c candidate.Candidate) string {
	return strings.ToLower(strings.Join([]string{
		c.HeadlineHint, c.SearchTitle, c.SearchSnippet,
	}, " "))
}
