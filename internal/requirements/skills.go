package requirements

import "strings"

// skillAliases rewrites common skill spellings onto one canonical form.
var skillAliases = map[string]string{
	"nodejs":              "node.js",
	"node":                "node.js",
	"k8s":                 "kubernetes",
	"ts":                  "typescript",
	"js":                  "javascript",
	"golang":              "go",
	"py":                  "python",
	"postgres":            "postgresql",
	"pg":                  "postgresql",
	"mongo":               "mongodb",
	"reactjs":             "react",
	"react.js":            "react",
	"vuejs":               "vue",
	"vue.js":              "vue",
	"dotnet":              ".net",
	"c sharp":             "c#",
	"csharp":              "c#",
	"ml":                  "machine learning",
	"ai":                  "artificial intelligence",
	"gcp":                 "google cloud",
	"amazon web services": "aws",
	"ci/cd":               "cicd",
	"ci cd":               "cicd",
	"tf":                  "terraform",
	"es":                  "elasticsearch",
	"elastic search":      "elasticsearch",
}

// conceptForms expands a canonical skill into the surface forms it appears
// under in free text. Used by the ranker's text-fallback path and by
// discovery query expansion.
var conceptForms = map[string][]string{
	"microservices":           {"microservice", "micro services", "service oriented", "soa"},
	"kubernetes":              {"k8s"},
	"node.js":                 {"nodejs", "node"},
	"typescript":              {"ts"},
	"javascript":              {"js"},
	"postgresql":              {"postgres", "pg"},
	"machine learning":        {"ml", "deep learning"},
	"artificial intelligence": {"ai", "genai", "generative ai"},
	"aws":                     {"amazon web services"},
	"google cloud":            {"gcp"},
	"cicd":                    {"ci/cd", "continuous integration", "continuous delivery"},
	"terraform":               {"tf", "infrastructure as code", "iac"},
	"distributed systems":     {"distributed computing"},
	"rest":                    {"restful", "rest api", "rest apis"},
	"go":                      {"golang"},
	"elasticsearch":           {"elastic search"},
}

// CanonicalizeSkill lowercases, trims and rewrites s onto its canonical form.
func CanonicalizeSkill(s string) string {
	t := strings.ToLower(strings.TrimSpace(s))
	t = strings.Trim(t, ".,;")
	if t == "" {
		return ""
	}
	if canon, ok := skillAliases[t]; ok {
		return canon
	}
	return t
}

// SkillSurfaceForms returns the canonical form plus every alias and concept
// form under which the skill appears in free text.
func SkillSurfaceForms(s string) []string {
	canon := CanonicalizeSkill(s)
	if canon == "" {
		return nil
	}

	seen := map[string]struct{}{canon: {}}
	forms := []string{canon}

	add := func(f string) {
		if _, ok := seen[f]; ok {
			return
		}
		seen[f] = struct{}{}
		forms = append(forms, f)
	}

	for alias, c := range skillAliases {
		if c == canon {
			add(alias)
		}
	}
	for _, f := range conceptForms[canon] {
		add(f)
	}
	return forms
}
