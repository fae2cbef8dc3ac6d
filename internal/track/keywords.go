package track

import (
	"regexp"
	"strings"
)

// keyword weights: 1.0 strong, 0.5 moderate.
const (
	weightStrong   = 1.0
	weightModerate = 0.5
)

type keyword struct {
	term   string
	weight float64
	re     *regexp.Regexp
}

// techKeywords and nonTechKeywords drive the deterministic scorer. Each
// entry is compiled once into a word-boundary regex.
var techKeywords = compile([]struct {
	term   string
	weight float64
}{
	{"python", weightStrong},
	{"java", weightStrong},
	{"javascript", weightStrong},
	{"typescript", weightStrong},
	{"golang", weightStrong},
	{"kubernetes", weightStrong},
	{"docker", weightStrong},
	{"aws", weightStrong},
	{"azure", weightStrong},
	{"microservices", weightStrong},
	{"microservice", weightStrong},
	{"postgresql", weightStrong},
	{"mysql", weightStrong},
	{"mongodb", weightStrong},
	{"redis", weightStrong},
	{"react", weightStrong},
	{"angular", weightStrong},
	{"node.js", weightStrong},
	{"nodejs", weightStrong},
	{"backend", weightStrong},
	{"frontend", weightStrong},
	{"fullstack", weightStrong},
	{"full stack", weightStrong},
	{"devops", weightStrong},
	{"machine learning", weightStrong},
	{"deep learning", weightStrong},
	{"terraform", weightStrong},
	{"graphql", weightStrong},
	{"kafka", weightStrong},
	{"rust", weightStrong},
	{"scala", weightStrong},
	{"distributed systems", weightStrong},
	{"data pipeline", weightStrong},
	{"sre", weightStrong},

	{"engineer", weightModerate},
	{"engineering", weightModerate},
	{"technical", weightModerate},
	{"software", weightModerate},
	{"api", weightModerate},
	{"apis", weightModerate},
	{"cloud", weightModerate},
	{"database", weightModerate},
	{"integration", weightModerate},
	{"architecture", weightModerate},
	{"infrastructure", weightModerate},
	{"automation", weightModerate},
	{"linux", weightModerate},
	{"scalable", weightModerate},
})

var nonTechKeywords = compile([]struct {
	term   string
	weight float64
}{
	{"sales", weightStrong},
	{"crm", weightStrong},
	{"salesforce", weightStrong},
	{"quota", weightStrong},
	{"negotiation", weightStrong},
	{"revenue", weightStrong},
	{"marketing", weightStrong},
	{"seo", weightStrong},
	{"recruiting", weightStrong},
	{"recruitment", weightStrong},
	{"talent acquisition", weightStrong},
	{"payroll", weightStrong},
	{"accounting", weightStrong},
	{"bookkeeping", weightStrong},
	{"account executive", weightStrong},
	{"business development", weightStrong},
	{"customer success", weightStrong},
	{"lead generation", weightStrong},
	{"cold calling", weightStrong},
	{"stakeholder", weightStrong},
	{"account management", weightStrong},
	{"brand", weightStrong},

	{"program manager", weightModerate},
	{"project manager", weightModerate},
	{"agile", weightModerate},
	{"budget", weightModerate},
	{"pipeline", weightModerate},
	{"forecasting", weightModerate},
	{"onboarding", weightModerate},
	{"communication", weightModerate},
	{"client", weightModerate},
	{"clients", weightModerate},
	{"partnership", weightModerate},
	{"campaign", weightModerate},
	{"accounts", weightModerate},
})

func compile(entries []struct {
	term   string
	weight float64
}) []keyword {
	kws := make([]keyword, 0, len(entries))
	for _, e := range entries {
		kws = append(kws, keyword{
			term:   e.term,
			weight: e.weight,
			re:     regexp.MustCompile(`\b` + regexp.QuoteMeta(e.term) + `\b`),
		})
	}
	return kws
}

// matchKeywords returns the matched terms, the summed weight and the count
// of strong matches for one keyword list against a lowercased text bag.
func matchKeywords(kws []keyword, text string) (matched []string, raw float64, strong int) {
	for _, kw := range kws {
		if kw.re.MatchString(text) {
			matched = append(matched, kw.term)
			raw += kw.weight
			if kw.weight >= weightStrong {
				strong++
			}
		}
	}
	return matched, raw, strong
}

// textBag builds the lowercased classification text from title, digest and
// skill lists.
func textBag(parts ...string) string {
	return strings.ToLower(strings.Join(parts, " "))
}
