package calibration

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mind-engage/mindengage-placement/internal/cefr"
	"github.com/mind-engage/mindengage-placement/internal/exam"
	"github.com/mind-engage/mindengage-placement/internal/metrics"
	"github.com/mind-engage/mindengage-placement/internal/platform/logger"
	syncx "github.com/mind-engage/mindengage-placement/internal/sync"
)

const (
	DefaultWorkers     = 4
	DefaultHistory     = 10
	DefaultMinAttempts = 10

	// MinPerTag is the smallest healthy bank slice per (level, skill).
	MinPerTag = 5

	wellCalibratedPct = 70
)

type Store interface {
	GetQuestion(ctx context.Context, id int64) (exam.Question, error)
	ListQuestionIDs(ctx context.Context) ([]int64, error)
	CountByTag(ctx context.Context) ([]exam.BankCount, error)
	CompletedResponsesForQuestion(ctx context.Context, questionID int64) ([]exam.CompletedResponse, error)
	exam.CalibrationStore
	exam.ReclassificationLog
}

type Analyzer struct {
	store   Store
	events  syncx.Appender
	log     *logger.Logger
	workers int
	now     func() time.Time
	tracer  trace.Tracer
	flight  singleflight.Group
}

type Option func(*Analyzer)

func WithEvents(a syncx.Appender) Option { return func(an *Analyzer) { an.events = a } }
func WithLogger(l *logger.Logger) Option { return func(an *Analyzer) { an.log = l } }
func WithClock(now func() time.Time) Option { return func(an *Analyzer) { an.now = now } }

// WithWorkers bounds the number of questions analyzed at once by Report.
func WithWorkers(n int) Option {
	return func(an *Analyzer) {
		if n > 0 {
			an.workers = n
		}
	}
}

func NewAnalyzer(store Store, opts ...Option) *Analyzer {
	a := &Analyzer{
		store:   store,
		workers: DefaultWorkers,
		now:     time.Now,
		tracer:  otel.Tracer("github.com/mind-engage/mindengage-placement/internal/calibration"),
	}
	for _, o := range opts {
		o(a)
	}
	a.log = logger.OrNop(a.log)
	return a
}

// Analyze computes the metrics of one question and optionally stores them.
// Concurrent calls for the same question share one computation.
func (a *Analyzer) Analyze(ctx context.Context, questionID int64, save bool) (exam.QuestionMetrics, error) {
	key := fmt.Sprintf("%d/%t", questionID, save)
	v, err, _ := a.flight.Do(key, func() (interface{}, error) {
		return a.analyze(ctx, questionID, save)
	})
	if err != nil {
		return exam.QuestionMetrics{}, err
	}
	m := v.(exam.QuestionMetrics)
	levels := make(map[cefr.Level]int, len(m.LevelsAttempted))
	for k, n := range m.LevelsAttempted {
		levels[k] = n
	}
	m.LevelsAttempted = levels
	return m, nil
}

func (a *Analyzer) analyze(ctx context.Context, questionID int64, save bool) (exam.QuestionMetrics, error) {
	q, err := a.store.GetQuestion(ctx, questionID)
	if err != nil {
		return exam.QuestionMetrics{}, err
	}
	responses, err := a.store.CompletedResponsesForQuestion(ctx, questionID)
	if err != nil {
		return exam.QuestionMetrics{}, fmt.Errorf("responses for question %d: %w", questionID, err)
	}
	m := ComputeMetrics(q, responses)
	m.CalculatedAt = a.now().Unix()
	if save {
		if err := a.store.UpsertMetrics(ctx, m); err != nil {
			return exam.QuestionMetrics{}, fmt.Errorf("save metrics %d: %w", questionID, err)
		}
	}
	return m, nil
}

// Report analyzes the whole bank. A question that cannot be analyzed is listed
// under Failures and does not stop the run.
func (a *Analyzer) Report(ctx context.Context, save bool) (rep exam.CalibrationReport, err error) {
	ctx, span := a.tracer.Start(ctx, "calibration.Report", trace.WithAttributes(attribute.Bool("save", save)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	started := time.Now()

	ids, err := a.store.ListQuestionIDs(ctx)
	if err != nil {
		return exam.CalibrationReport{}, fmt.Errorf("list questions: %w", err)
	}

	type outcome struct {
		m   exam.QuestionMetrics
		err error
	}
	results := make([]outcome, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, id := range ids {
		g.Go(func() error {
			m, err := a.Analyze(gctx, id, save)
			results[i] = outcome{m: m, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return exam.CalibrationReport{}, err
	}

	rep = exam.CalibrationReport{
		TotalQuestions:  len(ids),
		Misclassified:   []exam.FlaggedQuestion{},
		LevelAccuracy:   map[cefr.Level]float64{},
		Recommendations: []string{},
		GeneratedAt:     a.now().Unix(),
	}
	type tally struct{ total, accurate int }
	perLevel := map[cefr.Level]*tally{}
	for i, res := range results {
		if res.err != nil {
			a.log.Warn("question analysis failed", "question_id", ids[i], "error", res.err)
			rep.Failures = append(rep.Failures, exam.AnalysisFailure{QuestionID: ids[i], Error: res.err.Error()})
			continue
		}
		m := res.m
		t := perLevel[m.ExpectedLevel]
		if t == nil {
			t = &tally{}
			perLevel[m.ExpectedLevel] = t
		}
		t.total++
		if !m.NeedsReview {
			t.accurate++
			continue
		}
		rep.QuestionsNeedingReview++
		rep.Misclassified = append(rep.Misclassified, exam.FlaggedQuestion{
			QuestionID:       m.QuestionID,
			CurrentLevel:     m.ExpectedLevel,
			RecommendedLevel: m.RecommendedLevel,
			AccuracyRate:     m.AccuracyRate,
			ConfidenceScore:  m.ConfidenceScore,
			TotalAttempts:    m.TotalAttempts,
		})
	}
	sort.SliceStable(rep.Misclassified, func(i, j int) bool {
		x, y := rep.Misclassified[i], rep.Misclassified[j]
		if x.ConfidenceScore != y.ConfidenceScore {
			return x.ConfidenceScore < y.ConfidenceScore
		}
		return x.QuestionID < y.QuestionID
	})

	if rep.TotalQuestions > 0 && rep.QuestionsNeedingReview*5 > rep.TotalQuestions {
		pct := round1(float64(rep.QuestionsNeedingReview) / float64(rep.TotalQuestions) * 100)
		rep.Recommendations = append(rep.Recommendations,
			fmt.Sprintf("HIGH PRIORITY: %d questions (%s%%) need review", rep.QuestionsNeedingReview, formatPct(pct)))
	}
	for _, l := range cefr.Levels {
		t := perLevel[l]
		if t == nil {
			continue
		}
		acc := round2(float64(t.accurate) / float64(t.total) * 100)
		rep.LevelAccuracy[l] = acc
		if acc < wellCalibratedPct {
			rep.Recommendations = append(rep.Recommendations,
				fmt.Sprintf("Level %s has only %s%% well-calibrated questions - needs expert review", l, formatPct(acc)))
		}
	}
	if len(rep.Recommendations) == 0 {
		rep.Recommendations = append(rep.Recommendations, "Question bank is well-calibrated")
	}

	metrics.CalibrationFinished(started, rep.QuestionsNeedingReview, rep.TotalQuestions)
	span.SetAttributes(
		attribute.Int("questions.total", rep.TotalQuestions),
		attribute.Int("questions.flagged", rep.QuestionsNeedingReview),
	)

	if save {
		id, err := a.store.SaveReport(ctx, rep)
		if err != nil {
			return exam.CalibrationReport{}, fmt.Errorf("save report: %w", err)
		}
		rep.ID = id
		a.emit(ctx, syncx.TypeCalibrationReport, id, map[string]any{
			"report_id":                id,
			"total_questions":          rep.TotalQuestions,
			"questions_needing_review": rep.QuestionsNeedingReview,
		})
	}
	a.log.Info("calibration report",
		"total", rep.TotalQuestions, "flagged", rep.QuestionsNeedingReview,
		"failures", len(rep.Failures), "saved", save)
	return rep, nil
}

// History returns saved reports, newest first.
func (a *Analyzer) History(ctx context.Context, limit int) ([]exam.CalibrationReport, error) {
	if limit <= 0 {
		limit = DefaultHistory
	}
	return a.store.ListReports(ctx, limit)
}

// NeedingReview lists flagged questions with at least minAttempts attempts, least confident first.
func (a *Analyzer) NeedingReview(ctx context.Context, minAttempts int) ([]exam.ReviewItem, error) {
	if minAttempts < 0 {
		minAttempts = DefaultMinAttempts
	}
	items, err := a.store.QuestionsNeedingReview(ctx, minAttempts)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []exam.ReviewItem{}
	}
	return items, nil
}

type ReclassifyResult struct {
	exam.Reclassification
	Metrics *exam.QuestionMetrics `json:"updated_metrics,omitempty"`
}

// Reclassify moves a question to a new level, logs the change and re-scores it.
func (a *Analyzer) Reclassify(ctx context.Context, questionID int64, newLevel cefr.Level, by, reason string) (ReclassifyResult, error) {
	if !newLevel.Valid() {
		return ReclassifyResult{}, exam.NewValidationError(fmt.Sprintf("Invalid level: %s", newLevel))
	}
	if by == "" {
		by = "admin"
	}
	rec, err := a.store.ReclassifyQuestion(ctx, exam.Reclassification{
		QuestionID:     questionID,
		NewLevel:       newLevel,
		ReclassifiedBy: by,
		Reason:         reason,
	})
	if err != nil {
		return ReclassifyResult{}, err
	}
	res := ReclassifyResult{Reclassification: rec}
	if m, err := a.Analyze(ctx, questionID, true); err != nil {
		a.log.Warn("re-analysis after reclassification failed", "question_id", questionID, "error", err)
	} else {
		res.Metrics = &m
	}
	a.emit(ctx, syncx.TypeQuestionReclassified, questionID, map[string]any{
		"question_id": questionID,
		"old_level":   rec.OldLevel,
		"new_level":   rec.NewLevel,
		"by":          rec.ReclassifiedBy,
	})
	a.log.Info("question reclassified", "question_id", questionID, "from", rec.OldLevel, "to", rec.NewLevel, "by", by)
	return res, nil
}

func (a *Analyzer) ReclassificationHistory(ctx context.Context, questionID int64) ([]exam.Reclassification, error) {
	if _, err := a.store.GetQuestion(ctx, questionID); err != nil {
		return nil, err
	}
	hist, err := a.store.ReclassificationHistory(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if hist == nil {
		hist = []exam.Reclassification{}
	}
	return hist, nil
}

type Coverage struct {
	TotalQuestions  int                `json:"total_questions"`
	Distribution    []exam.BankCount   `json:"distribution"`
	LevelTotals     map[cefr.Level]int `json:"level_totals"`
	SkillTotals     map[cefr.Skill]int `json:"skill_totals"`
	Gaps            []string           `json:"gaps"`
	Recommendations []string           `json:"recommendations"`
}

// Coverage reports how the bank spreads over (level, skill) and where it is thin.
func (a *Analyzer) Coverage(ctx context.Context) (Coverage, error) {
	counts, err := a.store.CountByTag(ctx)
	if err != nil {
		return Coverage{}, err
	}
	c := Coverage{
		Distribution: counts,
		LevelTotals:  map[cefr.Level]int{},
		SkillTotals:  map[cefr.Skill]int{},
		Gaps:         []string{},
	}
	if c.Distribution == nil {
		c.Distribution = []exam.BankCount{}
	}
	type tag struct {
		l cefr.Level
		s cefr.Skill
	}
	byTag := map[tag]int{}
	for _, bc := range counts {
		c.TotalQuestions += bc.Count
		c.LevelTotals[bc.Level] += bc.Count
		c.SkillTotals[bc.Skill] += bc.Count
		byTag[tag{bc.Level, bc.Skill}] += bc.Count
	}
	for _, l := range cefr.Levels {
		for _, s := range cefr.Skills {
			if n := byTag[tag{l, s}]; n < MinPerTag {
				c.Gaps = append(c.Gaps, fmt.Sprintf("%s %s: only %d questions (need %d+ per level/skill)", l, s, n, MinPerTag))
			}
		}
	}
	if len(c.Gaps) > 0 {
		c.Recommendations = c.Gaps
	} else {
		c.Recommendations = []string{"Good coverage across all levels and skills"}
	}
	return c, nil
}

func (a *Analyzer) emit(ctx context.Context, typ string, id int64, data any) {
	if a.events == nil {
		return
	}
	if err := a.events.Append(ctx, typ, strconv.FormatInt(id, 10), data); err != nil {
		a.log.Warn("event append failed", "type", typ, "key", id, "error", err)
	}
}

func formatPct(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
