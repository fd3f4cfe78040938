package adaptive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-placement/internal/cefr"
	"github.com/mind-engage/mindengage-placement/internal/exam"
)

func responsesAt(level cefr.Level, correct, total int) []exam.Response {
	out := make([]exam.Response, 0, total)
	for i := 0; i < total; i++ {
		out = append(out, exam.Response{Level: level, Correct: i < correct, TimeTakenSec: 10})
	}
	return out
}

func TestResolveEmpty(t *testing.T) {
	res := Resolve(nil)
	assert.Equal(t, cefr.A1, res.DetectedLevel)
	assert.Equal(t, 50.0, res.Confidence)
	assert.Equal(t, 0.0, res.AccuracyPct)
	assert.Len(t, res.Breakdown, len(cefr.Levels))
}

func TestResolveHighestPassingLevelWins(t *testing.T) {
	var rs []exam.Response
	rs = append(rs, responsesAt(cefr.B2, 2, 2)...)
	rs = append(rs, responsesAt(cefr.C1, 2, 3)...)
	rs = append(rs, responsesAt(cefr.C2, 1, 1)...)

	res := Resolve(rs)
	assert.Equal(t, cefr.C1, res.DetectedLevel)
	assert.Equal(t, 66.67, res.Confidence)
	assert.Equal(t, 6, res.QuestionsAnswered)
	assert.Equal(t, 5, res.CorrectAnswers)
	assert.Equal(t, 83.33, res.AccuracyPct)
	assert.Equal(t, 60, res.TotalTimeSec)
	assert.Equal(t, LevelScore{Correct: 1, Total: 1, Accuracy: 100}, res.Breakdown[cefr.C2])
	assert.Equal(t, LevelScore{}, res.Breakdown[cefr.A1])
}

func TestResolveSixtyPercentIsEnough(t *testing.T) {
	res := Resolve(responsesAt(cefr.B1, 3, 5))
	assert.Equal(t, cefr.B1, res.DetectedLevel)
	assert.Equal(t, 60.0, res.Confidence)

	res = Resolve(responsesAt(cefr.B1, 1, 2))
	assert.Equal(t, cefr.A1, res.DetectedLevel)
	assert.Equal(t, 50.0, res.Confidence)
}

func TestResolveFallbackRegardlessOfSize(t *testing.T) {
	var rs []exam.Response
	for _, l := range cefr.Levels {
		rs = append(rs, responsesAt(l, 1, 4)...)
	}
	res := Resolve(rs)
	assert.Equal(t, cefr.A1, res.DetectedLevel)
	assert.Equal(t, 50.0, res.Confidence)
}

func TestResolveIsDeterministic(t *testing.T) {
	rs := append(responsesAt(cefr.A2, 2, 3), responsesAt(cefr.B1, 1, 3)...)
	first := Resolve(rs)
	second := Resolve(rs)
	require.Equal(t, first, second)
	assert.Equal(t, cefr.A2, first.DetectedLevel)
}
