package ranking

import (
	"sort"

	"github.com/vantahire/signal/internal/domain/sourcing"
)

var confidenceOrder = map[sourcing.DataConfidence]int{
	sourcing.ConfidenceHigh:   3,
	sourcing.ConfidenceMedium: 2,
	sourcing.ConfidenceLow:    1,
}

// CompareFitWithConfidence orders two scored candidates: fit descending,
// ties within epsilon broken by data confidence, then stable by candidate
// id. Returns a negative number when a sorts before b.
func CompareFitWithConfidence(a, b Scored, epsilon float64) int {
	diff := a.FitScore - b.FitScore
	if diff > epsilon {
		return -1
	}
	if diff < -epsilon {
		return 1
	}
	ca := confidenceOrder[a.Breakdown.DataConfidence]
	cb := confidenceOrder[b.Breakdown.DataConfidence]
	if ca != cb {
		return cb - ca
	}
	// Outside the epsilon tie-break, still honor the raw score so the
	// ordering stays a total order.
	if diff > 0 {
		return -1
	}
	if diff < 0 {
		return 1
	}
	if a.Candidate.ID < b.Candidate.ID {
		return -1
	}
	if a.Candidate.ID > b.Candidate.ID {
		return 1
	}
	return 0
}

// SortByFit sorts in place using CompareFitWithConfidence.
func SortByFit(scored []Scored, epsilon float64) {
	sort.SliceStable(scored, func(i, j int) bool {
		return CompareFitWithConfidence(scored[i], scored[j], epsilon) < 0
	})
}
