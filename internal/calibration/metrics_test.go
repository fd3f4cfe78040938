package calibration

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-placement/internal/cefr"
	"github.com/mind-engage/mindengage-placement/internal/exam"
)

func lvl(l cefr.Level) *cefr.Level { return &l }

func responses(correct, total int, final *cefr.Level) []exam.CompletedResponse {
	out := make([]exam.CompletedResponse, total)
	for i := range out {
		out[i] = exam.CompletedResponse{
			Response:   exam.Response{Correct: i < correct, TimeTakenSec: 10},
			FinalLevel: final,
		}
	}
	return out
}

func TestComputeMetricsNoAttempts(t *testing.T) {
	m := ComputeMetrics(exam.Question{ID: 3, Level: cefr.B2}, nil)
	assert.True(t, m.NeedsReview)
	assert.Zero(t, m.TotalAttempts)
	assert.Zero(t, m.ConfidenceScore)
	assert.Nil(t, m.RecommendedLevel)
	assert.Equal(t, cefr.B2, m.ExpectedLevel)
}

func TestComputeMetricsThresholds(t *testing.T) {
	cases := []struct {
		name    string
		level   cefr.Level
		correct int
		total   int
		review  bool
		rec     *cefr.Level
	}{
		{"exactly 85 is fine", cefr.B1, 17, 20, false, nil},
		{"above 85 is too easy", cefr.B1, 18, 20, true, lvl(cefr.A2)},
		{"exactly 40 is fine", cefr.B1, 8, 20, false, nil},
		{"below 40 is too hard", cefr.B1, 7, 20, true, lvl(cefr.B2)},
		{"ten attempts never flag", cefr.B1, 10, 10, false, nil},
		{"eleven attempts can flag", cefr.B1, 11, 11, true, lvl(cefr.A2)},
		{"easy A1 stays", cefr.A1, 11, 11, false, nil},
		{"hard C2 flags without target", cefr.C2, 0, 11, true, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := ComputeMetrics(exam.Question{ID: 1, Level: tc.level}, responses(tc.correct, tc.total, lvl(cefr.B1)))
			assert.Equal(t, tc.review, m.NeedsReview)
			assert.Equal(t, tc.rec, m.RecommendedLevel)
			assert.Equal(t, tc.total, m.TotalAttempts)
		})
	}
}

func TestComputeMetricsConfidence(t *testing.T) {
	rs := append(responses(0, 2, lvl(cefr.A1)), responses(1, 2, lvl(cefr.C1))...)
	rs = append(rs, exam.CompletedResponse{Response: exam.Response{Correct: true, TimeTakenSec: 5}})

	m := ComputeMetrics(exam.Question{ID: 1, Level: cefr.B1}, rs)

	// A1 takers failing scores 1, C1 takers at half scores 0.5
	assert.Equal(t, 75.0, m.ConfidenceScore)
	assert.Equal(t, map[cefr.Level]int{cefr.A1: 2, cefr.C1: 2}, m.LevelsAttempted)
	assert.Equal(t, 5, m.TotalAttempts)
	assert.Equal(t, 2, m.CorrectAttempts)
	assert.Equal(t, 40.0, m.AccuracyRate)
	assert.Equal(t, 9.0, m.AvgTimeSec)
}

func TestComputeMetricsOnlyCancelledSessions(t *testing.T) {
	m := ComputeMetrics(exam.Question{ID: 1, Level: cefr.B1}, responses(1, 3, nil))
	assert.Equal(t, 3, m.TotalAttempts)
	assert.Empty(t, m.LevelsAttempted)
	assert.Zero(t, m.ConfidenceScore)
	assert.False(t, m.NeedsReview)
}

func TestComputeMetricsConfidenceBounds(t *testing.T) {
	for _, final := range cefr.Levels {
		for correct := 0; correct <= 12; correct += 3 {
			m := ComputeMetrics(exam.Question{ID: 1, Level: cefr.B2}, responses(correct, 12, lvl(final)))
			require.GreaterOrEqual(t, m.ConfidenceScore, 0.0)
			require.LessOrEqual(t, m.ConfidenceScore, 100.0)
		}
	}
}

func TestComputeMetricsRounding(t *testing.T) {
	m := ComputeMetrics(exam.Question{ID: 1, Level: cefr.B1}, responses(1, 3, lvl(cefr.B1)))
	assert.Equal(t, 33.33, m.AccuracyRate)
	assert.Equal(t, 33.33, m.ConfidenceScore)
}
