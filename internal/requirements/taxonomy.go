package requirements

import "strings"

// Role families recognized from titles and headlines.
const (
	FamilyBackend   = "backend"
	FamilyFrontend  = "frontend"
	FamilyFullstack = "fullstack"
	FamilyData      = "data"
	FamilyDevops    = "devops"
	FamilyMobile    = "mobile"
	FamilyQA        = "qa"
	FamilyProduct   = "product"
	FamilyDesign    = "design"
	FamilySales     = "sales"
	FamilyMarketing = "marketing"
	FamilyHR        = "hr"
	FamilyFinance   = "finance"
)

// familyMarkers map phrase markers to a role family, checked in order so
// that more specific phrases win.
var familyMarkers = []struct {
	marker string
	family string
}{
	{"full stack", FamilyFullstack},
	{"fullstack", FamilyFullstack},
	{"full-stack", FamilyFullstack},
	{"front end", FamilyFrontend},
	{"frontend", FamilyFrontend},
	{"front-end", FamilyFrontend},
	{"back end", FamilyBackend},
	{"backend", FamilyBackend},
	{"back-end", FamilyBackend},
	{"data scientist", FamilyData},
	{"data engineer", FamilyData},
	{"machine learning", FamilyData},
	{"ml engineer", FamilyData},
	{"devops", FamilyDevops},
	{"site reliability", FamilyDevops},
	{"sre", FamilyDevops},
	{"platform engineer", FamilyDevops},
	{"android", FamilyMobile},
	{"ios developer", FamilyMobile},
	{"mobile developer", FamilyMobile},
	{"mobile engineer", FamilyMobile},
	{"qa engineer", FamilyQA},
	{"quality assurance", FamilyQA},
	{"test engineer", FamilyQA},
	{"sdet", FamilyQA},
	{"product manager", FamilyProduct},
	{"product owner", FamilyProduct},
	{"ux designer", FamilyDesign},
	{"ui designer", FamilyDesign},
	{"product designer", FamilyDesign},
	{"account executive", FamilySales},
	{"sales", FamilySales},
	{"business development", FamilySales},
	{"marketing", FamilyMarketing},
	{"growth", FamilyMarketing},
	{"recruiter", FamilyHR},
	{"talent acquisition", FamilyHR},
	{"human resources", FamilyHR},
	{"accountant", FamilyFinance},
	{"financial analyst", FamilyFinance},
	// Generic engineering markers last; they imply backend-leaning work
	// only when nothing more specific matched.
	{"software engineer", FamilyBackend},
	{"software developer", FamilyBackend},
}

// RoleFamilyFromText detects a role family from a title or headline.
// Returns "" when nothing matches.
func RoleFamilyFromText(s string) string {
	t := strings.ToLower(s)
	for _, m := range familyMarkers {
		if strings.Contains(t, m.marker) {
			return m.family
		}
	}
	return ""
}

// seniorityLadder is the fixed ordering used for adjacency scoring.
var seniorityLadder = []string{
	"intern", "junior", "mid", "senior", "staff", "principal", "director", "executive",
}

var seniorityMarkers = []struct {
	marker string
	level  string
}{
	{"intern", "intern"},
	{"trainee", "intern"},
	{"graduate", "junior"},
	{"junior", "junior"},
	{"entry level", "junior"},
	{"entry-level", "junior"},
	{"principal", "principal"},
	{"distinguished", "principal"},
	{"staff", "staff"},
	{"senior", "senior"},
	{"sr.", "senior"},
	{"sr ", "senior"},
	{"lead", "senior"},
	{"vp ", "executive"},
	{"vice president", "executive"},
	{"chief", "executive"},
	{"cto", "executive"},
	{"ceo", "executive"},
	{"head of", "director"},
	{"director", "director"},
}

// SeniorityFromText extracts a seniority band from a title or headline.
// Returns "" when nothing matches.
func SeniorityFromText(s string) string {
	t := strings.ToLower(s)
	for _, m := range seniorityMarkers {
		if strings.Contains(t, m.marker) {
			return m.level
		}
	}
	return ""
}

// SeniorityDistance returns the ladder distance between two bands, or -1
// when either band is unknown.
func SeniorityDistance(a, b string) int {
	ia, ib := ladderIndex(a), ladderIndex(b)
	if ia < 0 || ib < 0 {
		return -1
	}
	if ia > ib {
		return ia - ib
	}
	return ib - ia
}

func ladderIndex(level string) int {
	for i, l := range seniorityLadder {
		if l == level {
			return i
		}
	}
	return -1
}
