package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"reportline/internal/domain"
)

func check(name string, passed bool, severity string, score float64) domain.QualityCheck {
	return domain.QualityCheck{Name: name, Passed: passed, Severity: severity, Score: score}
}

func TestAllPassed(t *testing.T) {
	assert.True(t, AllPassed(nil), "empty list passes")
	assert.True(t, AllPassed([]domain.QualityCheck{
		check("completeness", true, "info", 1),
		check("freshness", true, "warning", 0.9),
	}))
	assert.False(t, AllPassed([]domain.QualityCheck{
		check("completeness", true, "info", 1),
		check("accuracy", false, "critical", 0.2),
	}))
}

func TestSummarize(t *testing.T) {
	s := Summarize([]domain.QualityCheck{
		check("completeness", true, "info", 1),
		check("accuracy", false, "critical", 0.5),
		check("freshness", false, "warning", 0.6),
	})
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Passed)
	assert.Equal(t, 2, s.Failed)
	assert.Equal(t, 1, s.Critical)
	assert.False(t, s.AllPassed)
	assert.InDelta(t, 0.7, s.MeanScore, 1e-9)

	empty := Summarize(nil)
	assert.True(t, empty.AllPassed)
	assert.Zero(t, empty.Total)
	assert.Zero(t, empty.MeanScore)
}
