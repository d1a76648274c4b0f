// Package quality aggregates pass/fail quality checks into a single
// go/no-go signal. The engine records checks; this package only derives.
package quality

import "reportline/internal/domain"

type Summary struct {
	Total     int     `json:"total"`
	Passed    int     `json:"passed"`
	Failed    int     `json:"failed"`
	Critical  int     `json:"critical_failures"`
	AllPassed bool    `json:"all_passed"`
	MeanScore float64 `json:"mean_score"`
}

// AllPassed is true for an empty list or a list with no failures. The
// aggregate is always derived from the check list, never stored apart
// from it.
func AllPassed(checks []domain.QualityCheck) bool {
	for _, c := range checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Summarize folds the check list into counters and a mean score.
func Summarize(checks []domain.QualityCheck) Summary {
	s := Summary{Total: len(checks), AllPassed: true}
	var scoreSum float64
	for _, c := range checks {
		scoreSum += c.Score
		if c.Passed {
			s.Passed++
			continue
		}
		s.Failed++
		s.AllPassed = false
		if c.Severity == "critical" {
			s.Critical++
		}
	}
	if s.Total > 0 {
		s.MeanScore = scoreSum / float64(s.Total)
	}
	return s
}
