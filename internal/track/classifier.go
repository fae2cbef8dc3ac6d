// Package track classifies a job into tech / non_tech / blended using a
// deterministic keyword scorer with an LLM fallback for low-confidence
// calls. Classification never fails: every error path degrades to a
// deterministic decision.
package track

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/vantahire/signal/internal/config"
	"github.com/vantahire/signal/internal/domain/sourcing"
	"github.com/vantahire/signal/internal/port/cache"
	"github.com/vantahire/signal/internal/port/llm"
	"github.com/vantahire/signal/internal/requirements"
)

// fallbackConfidence is the confidence of the tech default when the scorer
// has no signal or an unexpected error occurs.
const fallbackConfidence = 0.30

// techFamilies are role families that count as a tech signal (+2.0 raw).
var techFamilies = map[string]struct{}{
	requirements.FamilyBackend:   {},
	requirements.FamilyFrontend:  {},
	requirements.FamilyFullstack: {},
	requirements.FamilyData:      {},
	requirements.FamilyDevops:    {},
	requirements.FamilyMobile:    {},
	requirements.FamilyQA:        {},
}

// groqResponse is the structured object the LLM must return. Blended is
// never offered: the model picks a side and the merge rules decide.
type groqResponse struct {
	Track         string   `json:"track"` // "tech" | "non_tech"
	Confidence    float64  `json:"confidence"`
	Reasons       []string `json:"reasons"`
	AmbiguityFlag bool     `json:"ambiguity_flag"`
}

const groqSystemPrompt = `You classify job descriptions into exactly one of two tracks: "tech" (software, data, infrastructure and adjacent engineering roles) or "non_tech" (sales, marketing, HR, finance, operations and other business roles). Respond with a JSON object: {"track": "tech"|"non_tech", "confidence": 0..1, "reasons": [up to 5 short strings], "ambiguity_flag": bool}. Never invent a third track.`

// Classifier resolves the track of a job context.
type Classifier struct {
	cfg     config.Track
	gen     llm.Generator // nil disables the LLM fallback
	cache   cache.Cache   // nil disables caching
	breaker *Breaker
	logger  *slog.Logger
	now     func() time.Time
}

// NewClassifier creates a track classifier. gen, cache and breaker may each
// be nil; the classifier degrades to deterministic-only.
func NewClassifier(cfg config.Track, gen llm.Generator, c cache.Cache, breaker *Breaker, logger *slog.Logger) *Classifier {
	return &Classifier{
		cfg:     cfg,
		gen:     gen,
		cache:   c,
		breaker: breaker,
		logger:  logger,
		now:     time.Now,
	}
}

// Classify resolves a TrackDecision for the job context. It never returns
// an error: any unexpected failure yields the tech/0.30 deterministic
// default with empty signals.
func (c *Classifier) Classify(ctx context.Context, jc sourcing.JobContext, req requirements.Requirements) (decision sourcing.TrackDecision) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("track classification panicked", "panic", r)
			decision = c.fallbackDecision()
		}
	}()

	signals := c.score(jc, req)

	// Explicit hint short-circuits the decision; signals are still kept
	// for telemetry.
	hint := strings.ToLower(strings.TrimSpace(jc.TrackHint))
	if hint == string(sourcing.TrackTech) || hint == string(sourcing.TrackNonTech) {
		return sourcing.TrackDecision{
			Track:             sourcing.Track(hint),
			Confidence:        1.0,
			Method:            sourcing.MethodDeterministic,
			ClassifierVersion: c.cfg.ClassifierVersion,
			Signals:           signals,
			HintUsed:          hint,
			ResolvedAt:        c.now().UTC(),
		}
	}

	det := c.decide(signals)
	det.ClassifierVersion = c.cfg.ClassifierVersion
	det.ResolvedAt = c.now().UTC()

	if det.Confidence >= c.cfg.LowConfThreshold || !c.cfg.GroqEnabled || c.gen == nil {
		return det
	}

	g, ok := c.groqClassify(ctx, jc, req)
	if !ok {
		return det
	}
	return c.merge(det, g)
}

// score runs the deterministic keyword scorer over the job text bag.
func (c *Classifier) score(jc sourcing.JobContext, req requirements.Requirements) sourcing.DeterministicSignals {
	bag := textBag(
		jc.Title,
		jc.JDDigest,
		strings.Join(jc.Skills, " "),
		strings.Join(jc.GoodToHaveSkills, " "),
	)

	matchedTech, techRaw, strongTech := matchKeywords(techKeywords, bag)
	matchedNonTech, nonTechRaw, strongNonTech := matchKeywords(nonTechKeywords, bag)

	_, roleSignal := techFamilies[req.RoleFamily]
	if roleSignal {
		techRaw += 2.0
	}

	sig := sourcing.DeterministicSignals{
		MatchedTech:        matchedTech,
		MatchedNonTech:     matchedNonTech,
		TechRaw:            techRaw,
		NonTechRaw:         nonTechRaw,
		StrongTechCount:    strongTech,
		StrongNonTechCount: strongNonTech,
		RoleFamilySignal:   roleSignal,
	}

	total := techRaw + nonTechRaw
	if total > 0 {
		sig.TechScore = techRaw / total
		sig.NonTechScore = nonTechRaw / total
		sig.Margin = math.Abs(sig.TechScore - sig.NonTechScore)
	}
	return sig
}

// decide maps deterministic signals onto a decision.
func (c *Classifier) decide(sig sourcing.DeterministicSignals) sourcing.TrackDecision {
	d := sourcing.TrackDecision{
		Method:  sourcing.MethodDeterministic,
		Signals: sig,
	}

	total := sig.TechRaw + sig.NonTechRaw
	if total == 0 {
		d.Track = sourcing.TrackTech
		d.Confidence = fallbackConfidence
		return d
	}

	marginConf := math.Min(0.99, 0.6+0.8*sig.Margin)

	switch {
	case sig.StrongTechCount >= 5 && sig.StrongNonTechCount == 0:
		d.Track = sourcing.TrackTech
		d.Confidence = math.Max(0.95, marginConf)
	case sig.StrongNonTechCount >= 5 && sig.StrongTechCount == 0:
		d.Track = sourcing.TrackNonTech
		d.Confidence = math.Max(0.95, marginConf)
	case sig.Margin < c.cfg.BlendThreshold:
		d.Track = sourcing.TrackBlended
		d.Confidence = 0.5 + sig.Margin
	case sig.TechScore > sig.NonTechScore:
		d.Track = sourcing.TrackTech
		d.Confidence = marginConf
	default:
		d.Track = sourcing.TrackNonTech
		d.Confidence = marginConf
	}
	return d
}

// groqClassify consults the LLM through cache and breaker. Returns false
// when no usable result was obtained.
func (c *Classifier) groqClassify(ctx context.Context, jc sourcing.JobContext, req requirements.Requirements) (sourcing.GroqResult, bool) {
	key := c.cacheKey(jc)

	if c.cache != nil {
		if raw, found, err := c.cache.Get(ctx, key); err == nil && found {
			var g sourcing.GroqResult
			if err := json.Unmarshal(raw, &g); err == nil {
				g.Cached = true
				return g, true
			}
		}
	}

	if !c.breaker.Allow(ctx) {
		c.logger.Info("classifier breaker open, skipping llm")
		return sourcing.GroqResult{}, false
	}

	resp, err := c.callGroq(ctx, jc, req)
	if err != nil {
		c.logger.Warn("groq classification failed", "error", err)
		return sourcing.GroqResult{}, false
	}

	g := sourcing.GroqResult{
		Track:         sourcing.Track(resp.Track),
		Confidence:    clamp01(resp.Confidence),
		Reasons:       resp.Reasons,
		AmbiguityFlag: resp.AmbiguityFlag,
	}
	if len(g.Reasons) > 5 {
		g.Reasons = g.Reasons[:5]
	}
	if g.Track != sourcing.TrackTech && g.Track != sourcing.TrackNonTech {
		return sourcing.GroqResult{}, false
	}

	if c.cache != nil {
		if raw, err := json.Marshal(g); err == nil {
			ttl := time.Duration(c.cfg.GroqCacheTTLDays) * 24 * time.Hour
			_ = c.cache.Set(ctx, key, raw, ttl)
		}
	}
	return g, true
}

// callGroq makes one attempt plus up to GroqMaxRetries retries. Each call
// is bounded by GroqTimeoutMs; timeouts never retry. Every failed call
// counts toward the breaker.
func (c *Classifier) callGroq(ctx context.Context, jc sourcing.JobContext, req requirements.Requirements) (*groqResponse, error) {
	prompt := c.buildPrompt(jc, req)
	timeout := time.Duration(c.cfg.GroqTimeoutMs) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= c.cfg.GroqMaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		var resp groqResponse
		err := c.gen.GenerateObject(callCtx, groqSystemPrompt, prompt, &resp)
		cancel()

		if err == nil {
			return &resp, nil
		}
		lastErr = err
		c.breaker.RecordFailure(ctx)
		if errors.Is(err, context.DeadlineExceeded) {
			break
		}
	}
	return nil, lastErr
}

// merge applies the deterministic/LLM merge rules.
func (c *Classifier) merge(det sourcing.TrackDecision, g sourcing.GroqResult) sourcing.TrackDecision {
	out := det
	out.Method = sourcing.MethodDeterministicGroq
	out.Groq = &g

	var leaning sourcing.Track
	if det.Track != sourcing.TrackBlended {
		leaning = det.Track
	}

	switch {
	case leaning != "" && g.Track == leaning && g.Confidence >= 0.60:
		out.Track = g.Track
		out.Confidence = math.Max(det.Confidence, g.Confidence)
	case det.Track == sourcing.TrackBlended && g.Confidence >= 0.80:
		out.Track = g.Track
		out.Confidence = g.Confidence
	case leaning != "" && g.Track != leaning:
		// Disagreement never flips the deterministic leaning.
		out.Track = sourcing.TrackBlended
	}
	return out
}

// cacheKey is the classifier version plus the first 16 hex chars of
// SHA-256(title | sorted skills | jdDigest[:500]).
func (c *Classifier) cacheKey(jc sourcing.JobContext) string {
	skills := append([]string(nil), jc.Skills...)
	sort.Strings(skills)

	digest := jc.JDDigest
	if len(digest) > 500 {
		digest = digest[:500]
	}

	h := sha256.Sum256([]byte(jc.Title + "|" + strings.Join(skills, ",") + "|" + digest))
	return fmt.Sprintf("track:groq:%s:%s", c.cfg.ClassifierVersion, hex.EncodeToString(h[:])[:16])
}

func (c *Classifier) buildPrompt(jc sourcing.JobContext, req requirements.Requirements) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n", jc.Title)
	fmt.Fprintf(&b, "Skills: %s\n", strings.Join(jc.Skills, ", "))
	if len(jc.GoodToHaveSkills) > 0 {
		fmt.Fprintf(&b, "Good to have: %s\n", strings.Join(jc.GoodToHaveSkills, ", "))
	}
	if req.RoleFamily != "" {
		fmt.Fprintf(&b, "Detected role family: %s\n", req.RoleFamily)
	}
	digest := jc.JDDigest
	if len(digest) > 1500 {
		digest = digest[:1500]
	}
	fmt.Fprintf(&b, "Job digest: %s\n", digest)
	return b.String()
}

func (c *Classifier) fallbackDecision() sourcing.TrackDecision {
	return sourcing.TrackDecision{
		Track:             sourcing.TrackTech,
		Confidence:        fallbackConfidence,
		Method:            sourcing.MethodDeterministic,
		ClassifierVersion: c.cfg.ClassifierVersion,
		ResolvedAt:        c.now().UTC(),
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
