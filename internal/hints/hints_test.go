package hints

import "testing"

func TestNormalize(t *testing.T) {
	if got := Normalize("  Bangalore  "); got != "Bangalore" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
	if got := Normalize("   "); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestIsNoisy(t *testing.T) {
	noisy := []string{
		"", "  ", "n/a", "NA", "unknown", "none", "null", "-",
		"View John's profile", "linkedin.com/in/john", "https://example.com",
		"Senior Engineer at…", "truncated text...",
	}
	for _, s := range noisy {
		if !IsNoisy(s) {
			t.Errorf("expected noisy: %q", s)
		}
	}

	clean := []string{"Bangalore", "Acme Corp", "Jane Doe"}
	for _, s := range clean {
		if IsNoisy(s) {
			t.Errorf("expected clean: %q", s)
		}
	}
}

func TestQualityScore(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"n/a", 0},
		{"Bangalore", 1},
		{"Jane Doe", 2},
		{"Senior Staff Platform Architect", 4},
		{"one two three four five six", 4},
	}
	for _, c := range cases {
		if got := QualityScore(c.in); got != c.want {
			t.Errorf("QualityScore(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestShouldReplaceIsStrict(t *testing.T) {
	if !ShouldReplace("", "Jane Doe") {
		t.Fatal("empty should be replaced by real hint")
	}
	if ShouldReplace("Jane Doe", "John Roe") {
		t.Fatal("equal quality must not replace")
	}
	if ShouldReplace("Jane Doe", "n/a") {
		t.Fatal("noisy must never replace")
	}
}

// Replacement monotonicity: shouldReplace(a,b) implies score(b) > score(a)
// and b not noisy.
func TestReplacementMonotone(t *testing.T) {
	samples := []string{"", "n/a", "Bangalore", "Jane Doe", "Acme Corp Inc", "view profile"}
	for _, a := range samples {
		for _, b := range samples {
			if ShouldReplace(a, b) {
				if QualityScore(b) <= QualityScore(a) {
					t.Errorf("replace %q -> %q but score not strictly greater", a, b)
				}
				if IsNoisy(b) {
					t.Errorf("replace %q -> noisy %q", a, b)
				}
			}
		}
	}
}

func TestIsLikelyLocationHint(t *testing.T) {
	yes := []string{
		"Bangalore, India",
		"Bengaluru",
		"New York, NY",
		"Greater London Area",
		"Austin, TX",
		"India",
	}
	for _, s := range yes {
		if !IsLikelyLocationHint(s) {
			t.Errorf("expected location hint: %q", s)
		}
	}

	no := []string{
		"10 years of experience in java",
		"Senior Software Engineer",
		"Bachelor of Engineering",
		"Passionate about distributed systems and cloud",
		"n/a",
		"",
	}
	for _, s := range no {
		if IsLikelyLocationHint(s) {
			t.Errorf("expected rejection: %q", s)
		}
	}
}

func TestLocationHintQualityScore(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"Bangalore, India", 3},
		{"Bangalore, Karnataka", 3},
		{"Bengaluru", 2},
		{"Greater Seattle Area", 2},
		{"India", 1},
		{"Senior Engineer", 0},
		{"", 0},
	}
	for _, c := range cases {
		if got := LocationHintQualityScore(c.in); got != c.want {
			t.Errorf("LocationHintQualityScore(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestShouldReplaceLocationHint(t *testing.T) {
	if !ShouldReplaceLocationHint("India", "Bangalore, India") {
		t.Fatal("country-only should yield to city+country")
	}
	if ShouldReplaceLocationHint("Bangalore, India", "Pune") {
		t.Fatal("city+country must not yield to bare city")
	}
}

func TestCompanyHint(t *testing.T) {
	if !IsLikelyCompanyHint("Acme Corp") {
		t.Fatal("short company name accepted")
	}
	if IsLikelyCompanyHint("Senior Engineer at large company with experience") {
		t.Fatal("bio-shaped text rejected")
	}
	if !ShouldReplaceCompanyHint("", "Acme Corp") {
		t.Fatal("empty yields to company name")
	}
}
