// Package calibration checks whether bank questions behave like their assigned level.
package calibration

import (
	"math"

	"github.com/mind-engage/mindengage-placement/internal/cefr"
	"github.com/mind-engage/mindengage-placement/internal/exam"
)

const (
	// MinSample is the attempt count a question must exceed before it can be flagged.
	MinSample = 10

	tooEasyPct = 85
	tooHardPct = 40
)

// ComputeMetrics scores one question from responses in closed sessions.
// It is pure: the same input always gives the same record.
func ComputeMetrics(q exam.Question, responses []exam.CompletedResponse) exam.QuestionMetrics {
	m := exam.QuestionMetrics{
		QuestionID:      q.ID,
		ExpectedLevel:   q.Level,
		LevelsAttempted: map[cefr.Level]int{},
	}
	if len(responses) == 0 {
		m.NeedsReview = true
		return m
	}

	type tally struct{ correct, total int }
	byLevel := map[cefr.Level]*tally{}
	timeSum := 0
	for _, r := range responses {
		m.TotalAttempts++
		timeSum += r.TimeTakenSec
		if r.Correct {
			m.CorrectAttempts++
		}
		// cancelled sessions have no final level
		if r.FinalLevel == nil || !r.FinalLevel.Valid() {
			continue
		}
		t := byLevel[*r.FinalLevel]
		if t == nil {
			t = &tally{}
			byLevel[*r.FinalLevel] = t
		}
		t.total++
		if r.Correct {
			t.correct++
		}
	}

	m.AccuracyRate = round2(float64(m.CorrectAttempts) / float64(m.TotalAttempts) * 100)
	m.AvgTimeSec = round2(float64(timeSum) / float64(m.TotalAttempts))

	expected := q.Level.Index()
	var sum float64
	groups := 0
	for i, l := range cefr.Levels {
		t := byLevel[l]
		if t == nil {
			continue
		}
		m.LevelsAttempted[l] = t.total
		acc := float64(t.correct) / float64(t.total)
		if i < expected {
			acc = 1 - acc
		}
		sum += acc
		groups++
	}
	if groups > 0 {
		m.ConfidenceScore = round2(sum / float64(groups) * 100)
	}

	if m.TotalAttempts <= MinSample {
		return m
	}
	switch {
	case m.CorrectAttempts*100 > tooEasyPct*m.TotalAttempts:
		if !q.Level.IsBottom() {
			down := q.Level.Down()
			m.NeedsReview, m.RecommendedLevel = true, &down
		}
	case m.CorrectAttempts*100 < tooHardPct*m.TotalAttempts:
		m.NeedsReview = true
		if !q.Level.IsTop() {
			up := q.Level.Up()
			m.RecommendedLevel = &up
		}
	}
	return m
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round1(v float64) float64 { return math.Round(v*10) / 10 }
