package adaptive

import (
	"math"

	"github.com/mind-engage/mindengage-placement/internal/cefr"
	"github.com/mind-engage/mindengage-placement/internal/exam"
)

const (
	// A level is reached with at least two answers at 60% or better.
	minLevelAttempts   = 2
	passNumerator      = 3
	passDenominator    = 5
	fallbackConfidence = 50.0
)

type LevelScore struct {
	Correct  int     `json:"correct"`
	Total    int     `json:"total"`
	Accuracy float64 `json:"accuracy"`
}

type Result struct {
	DetectedLevel     cefr.Level                `json:"detected_level"`
	Confidence        float64                   `json:"confidence_score"`
	QuestionsAnswered int                       `json:"questions_answered"`
	CorrectAnswers    int                       `json:"correct_answers"`
	AccuracyPct       float64                   `json:"accuracy_percentage"`
	TotalTimeSec      int                       `json:"total_time_seconds"`
	Breakdown         map[cefr.Level]LevelScore `json:"level_breakdown"`
}

// Resolve turns a response history into a verdict. The highest level with
// enough passing answers wins; with none, the result is A1 at 50% confidence.
func Resolve(responses []exam.Response) Result {
	res := Result{Breakdown: make(map[cefr.Level]LevelScore, len(cefr.Levels))}
	for _, l := range cefr.Levels {
		res.Breakdown[l] = LevelScore{}
	}
	for _, r := range responses {
		res.QuestionsAnswered++
		res.TotalTimeSec += r.TimeTakenSec
		if r.Correct {
			res.CorrectAnswers++
		}
		sc, ok := res.Breakdown[r.Level]
		if !ok {
			continue
		}
		sc.Total++
		if r.Correct {
			sc.Correct++
		}
		res.Breakdown[r.Level] = sc
	}
	for l, sc := range res.Breakdown {
		if sc.Total > 0 {
			sc.Accuracy = round2(float64(sc.Correct) / float64(sc.Total) * 100)
			res.Breakdown[l] = sc
		}
	}
	if res.QuestionsAnswered > 0 {
		res.AccuracyPct = round2(float64(res.CorrectAnswers) / float64(res.QuestionsAnswered) * 100)
	}

	res.DetectedLevel, res.Confidence = cefr.A1, fallbackConfidence
	for i := len(cefr.Levels) - 1; i >= 0; i-- {
		sc := res.Breakdown[cefr.Levels[i]]
		if sc.Total >= minLevelAttempts && sc.Correct*passDenominator >= sc.Total*passNumerator {
			res.DetectedLevel = cefr.Levels[i]
			res.Confidence = round2(float64(sc.Correct) / float64(sc.Total) * 100)
			break
		}
	}
	return res
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
