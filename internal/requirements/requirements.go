// Package requirements normalizes a job's structured digest into the
// requirements the ranker and discovery planner consume.
package requirements

import (
	"encoding/json"
	"strings"

	"github.com/vantahire/signal/internal/domain/sourcing"
)

// maxTopSkills bounds the merged skill list.
const maxTopSkills = 12

// Requirements is the normalized view of a job context.
type Requirements struct {
	Title           string
	TopSkills       []string
	SeniorityLevel  string
	Domain          string
	RoleFamily      string
	Location        string
	ExperienceYears *float64
}

// digest is the structured jdDigest shape. Parsed best-effort; any failure
// falls back to token splitting.
type digest struct {
	TopSkills      []string `json:"topSkills"`
	SeniorityLevel string   `json:"seniorityLevel"`
	Domain         string   `json:"domain"`
	RoleFamily     string   `json:"roleFamily"`
}

// Build parses the job context into normalized requirements. jdDigest is
// parsed as structured JSON when possible, else split on comma/semicolon
// tokens. Skills from the digest, explicit skills and good-to-have skills
// are merged, canonicalized, deduped and clipped to 12.
func Build(jc sourcing.JobContext) Requirements {
	req := Requirements{
		Title:           strings.TrimSpace(jc.Title),
		Location:        strings.TrimSpace(jc.Location),
		ExperienceYears: jc.ExperienceYears,
	}

	var digestSkills []string
	var d digest
	if err := json.Unmarshal([]byte(jc.JDDigest), &d); err == nil {
		digestSkills = d.TopSkills
		req.SeniorityLevel = strings.ToLower(strings.TrimSpace(d.SeniorityLevel))
		req.Domain = strings.ToLower(strings.TrimSpace(d.Domain))
		req.RoleFamily = strings.ToLower(strings.TrimSpace(d.RoleFamily))
	} else {
		digestSkills = splitTokens(jc.JDDigest)
	}

	req.TopSkills = mergeSkills(digestSkills, jc.Skills, jc.GoodToHaveSkills)

	if req.SeniorityLevel == "" {
		req.SeniorityLevel = SeniorityFromText(req.Title)
	}
	if req.RoleFamily == "" {
		req.RoleFamily = RoleFamilyFromText(req.Title)
	}

	return req
}

// HasLocation reports whether the requirements carry a meaningful location
// constraint.
func (r Requirements) HasLocation() bool {
	loc := strings.ToLower(strings.TrimSpace(r.Location))
	switch loc {
	case "", "remote", "anywhere", "global", "worldwide":
		return false
	}
	return true
}

func mergeSkills(groups ...[]string) []string {
	seen := make(map[string]struct{})
	var merged []string
	for _, group := range groups {
		for _, s := range group {
			canon := CanonicalizeSkill(s)
			if canon == "" {
				continue
			}
			if _, ok := seen[canon]; ok {
				continue
			}
			seen[canon] = struct{}{}
			merged = append(merged, canon)
			if len(merged) == maxTopSkills {
				return merged
			}
		}
	}
	return merged
}

// splitTokens splits unstructured digest text on commas and semicolons,
// dropping tokens too long to be skill names.
func splitTokens(s string) []string {
	var tokens []string
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '\n'
	}) {
		tok = strings.TrimSpace(tok)
		if tok == "" || len(strings.Fields(tok)) > 4 {
			continue
		}
		tokens = append(tokens, tok)
	}
	return tokens
}
