// Package assessment runs placement sessions on top of the adaptive engine.
// Every request rebuilds the engine from the stored response log.
package assessment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mind-engage/mindengage-placement/internal/adaptive"
	"github.com/mind-engage/mindengage-placement/internal/cefr"
	"github.com/mind-engage/mindengage-placement/internal/exam"
	"github.com/mind-engage/mindengage-placement/internal/metrics"
	"github.com/mind-engage/mindengage-placement/internal/platform/logger"
	syncx "github.com/mind-engage/mindengage-placement/internal/sync"
)

// Store is what a session needs from persistence.
type Store interface {
	adaptive.Bank
	GetQuestion(ctx context.Context, id int64) (exam.Question, error)
	exam.ResponseStore
	exam.SessionStore
	exam.StudentDirectory
}

type Service struct {
	store  Store
	events syncx.Appender
	log    *logger.Logger
	quota  int
	now    func() time.Time
	tracer trace.Tracer
}

type Option func(*Service)

func WithEvents(a syncx.Appender) Option { return func(s *Service) { s.events = a } }
func WithLogger(l *logger.Logger) Option { return func(s *Service) { s.log = l } }
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithQuota sets the questions per session; non-positive values keep the default.
func WithQuota(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.quota = n
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		quota:  adaptive.DefaultQuota,
		now:    time.Now,
		tracer: otel.Tracer("github.com/mind-engage/mindengage-placement/internal/assessment"),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = logger.OrNop(s.log)
	return s
}

type StartRequest struct {
	StudentID         int64            `json:"student_id" validate:"required,gt=0"`
	Kind              cefr.SessionKind `json:"assessment_type" validate:"omitempty,oneof=initial periodic_retest"`
	SelfReportedLevel *cefr.Level      `json:"self_reported_level,omitempty" validate:"omitempty,cefr_level"`
}

type StartResult struct {
	SessionID      int64         `json:"session_id"`
	Question       exam.Question `json:"question"`
	QuestionNumber int           `json:"question_number"`
	TotalQuestions int           `json:"total_questions"`
}

type SubmitRequest struct {
	SessionID    int64  `json:"session_id" validate:"required,gt=0"`
	QuestionID   int64  `json:"question_id" validate:"required,gt=0"`
	Answer       string `json:"student_answer" validate:"required"`
	TimeTakenSec int    `json:"time_taken_seconds" validate:"gte=0"`
}

type SubmitResult struct {
	Correct            bool           `json:"is_correct"`
	CorrectAnswer      string         `json:"correct_answer,omitempty"`
	Explanation        string         `json:"explanation,omitempty"`
	Complete           bool           `json:"assessment_complete"`
	NextQuestion       *exam.Question `json:"next_question,omitempty"`
	CurrentLevel       cefr.Level     `json:"current_level"`
	QuestionsRemaining int            `json:"questions_remaining"`
	Results            *Results       `json:"results,omitempty"`
}

type Results struct {
	SessionID         int64       `json:"session_id"`
	StudentID         int64       `json:"student_id"`
	SelfReportedLevel *cefr.Level `json:"self_reported_level,omitempty"`
	LevelDifference   *int        `json:"level_difference,omitempty"`
	CompletedAt       int64       `json:"completed_at"`
	adaptive.Result
}

func (s *Service) Start(ctx context.Context, req StartRequest) (res StartResult, err error) {
	ctx, span := s.tracer.Start(ctx, "assessment.Start", trace.WithAttributes(attribute.Int64("student.id", req.StudentID)))
	defer func() { endSpan(span, err) }()

	if req.Kind == "" {
		req.Kind = cefr.Initial
	}
	var problems []string
	if !req.Kind.Valid() {
		problems = append(problems, fmt.Sprintf("invalid assessment type: %s", req.Kind))
	}
	if req.SelfReportedLevel != nil && !req.SelfReportedLevel.Valid() {
		problems = append(problems, fmt.Sprintf("invalid self-reported level: %s", *req.SelfReportedLevel))
	}
	if len(problems) > 0 {
		return StartResult{}, exam.NewValidationError(problems...)
	}

	ok, err := s.store.StudentExists(ctx, req.StudentID)
	if err != nil {
		return StartResult{}, fmt.Errorf("lookup student %d: %w", req.StudentID, err)
	}
	if !ok {
		return StartResult{}, fmt.Errorf("student %d: %w", req.StudentID, exam.ErrNotFound)
	}

	sess, err := s.store.CreateSession(ctx, exam.Session{
		StudentID:    req.StudentID,
		Kind:         req.Kind,
		SelfReported: req.SelfReportedLevel,
	})
	if err != nil {
		return StartResult{}, err
	}
	span.SetAttributes(attribute.Int64("session.id", sess.ID))

	eng := adaptive.New(sess.ID, s.store, s.store, adaptive.WithQuota(s.quota))
	q, err := eng.SelectNext(ctx)
	if err == nil && q == nil {
		err = fmt.Errorf("session %d: %w", sess.ID, adaptive.ErrNoQuestionAvailable)
	}
	if err != nil {
		// a session without a first question would block the student
		if _, cerr := s.store.CancelSession(ctx, sess.ID); cerr != nil {
			s.log.Error("cancel unstartable session", "session_id", sess.ID, "error", cerr)
		}
		s.log.Error("warm-up selection failed", "session_id", sess.ID, "error", err)
		return StartResult{}, err
	}
	if err := s.store.SetPendingQuestion(ctx, sess.ID, &q.ID); err != nil {
		return StartResult{}, err
	}

	metrics.SessionStarted()
	s.log.Info("assessment started", "session_id", sess.ID, "student", req.StudentID, "kind", req.Kind)
	return StartResult{
		SessionID:      sess.ID,
		Question:       q.Public(),
		QuestionNumber: eng.QuestionsAsked(),
		TotalQuestions: eng.Quota(),
	}, nil
}

func (s *Service) SubmitAnswer(ctx context.Context, req SubmitRequest) (res SubmitResult, err error) {
	ctx, span := s.tracer.Start(ctx, "assessment.SubmitAnswer", trace.WithAttributes(
		attribute.Int64("session.id", req.SessionID),
		attribute.Int64("question.id", req.QuestionID),
	))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(req.Answer) == "" {
		return SubmitResult{}, exam.NewValidationError("answer cannot be empty")
	}
	sess, eng, err := s.restore(ctx, req.SessionID)
	if err != nil {
		return SubmitResult{}, err
	}
	q, err := s.store.GetQuestion(ctx, req.QuestionID)
	if err != nil {
		return SubmitResult{}, err
	}

	correct, err := eng.RecordResponse(ctx, q, req.Answer, req.TimeTakenSec)
	if err != nil {
		return SubmitResult{}, err
	}
	metrics.ResponseRecorded(correct)

	res = SubmitResult{Correct: correct}
	if !correct {
		res.CorrectAnswer, res.Explanation = q.CorrectAnswer, q.Explanation
	}

	if eng.Complete() {
		results, err := s.finish(ctx, sess, eng.Responses())
		if err != nil {
			return SubmitResult{}, err
		}
		res.Complete = true
		res.CurrentLevel = results.DetectedLevel
		res.Results = &results
		return res, nil
	}

	next, err := eng.SelectNext(ctx)
	if err != nil {
		s.log.Error("next selection failed", "session_id", sess.ID, "error", err)
		return SubmitResult{}, err
	}
	if err := s.store.SetPendingQuestion(ctx, sess.ID, &next.ID); err != nil {
		return SubmitResult{}, err
	}
	pub := next.Public()
	res.NextQuestion = &pub
	res.CurrentLevel = eng.CurrentLevel()
	res.QuestionsRemaining = eng.Remaining()
	return res, nil
}

// CurrentResult is the question a session is waiting on, or its results once
// the quota has been answered.
type CurrentResult struct {
	SessionID      int64          `json:"session_id"`
	Question       *exam.Question `json:"question,omitempty"`
	QuestionNumber int            `json:"question_number"`
	TotalQuestions int            `json:"total_questions"`
	CurrentLevel   cefr.Level     `json:"current_level"`
	Complete       bool           `json:"assessment_complete"`
	Results        *Results       `json:"results,omitempty"`
}

// Current returns the pending question of an open session. A session left
// without one after a failed selection gets a fresh selection, and a session
// whose quota is answered but which was never closed is finished here.
func (s *Service) Current(ctx context.Context, sessionID int64) (res CurrentResult, err error) {
	ctx, span := s.tracer.Start(ctx, "assessment.Current", trace.WithAttributes(attribute.Int64("session.id", sessionID)))
	defer func() { endSpan(span, err) }()

	sess, eng, err := s.restore(ctx, sessionID)
	if err != nil {
		return CurrentResult{}, err
	}
	res = CurrentResult{SessionID: sess.ID, TotalQuestions: eng.Quota()}

	if eng.Complete() {
		results, err := s.finish(ctx, sess, eng.Responses())
		if err != nil {
			return CurrentResult{}, err
		}
		res.Complete, res.Results = true, &results
		res.QuestionNumber, res.CurrentLevel = eng.QuestionsAsked(), results.DetectedLevel
		return res, nil
	}

	var q exam.Question
	if id, ok := eng.Pending(); ok {
		if q, err = s.store.GetQuestion(ctx, id); err != nil {
			return CurrentResult{}, err
		}
	} else {
		next, err := eng.SelectNext(ctx)
		if err == nil && next == nil {
			err = fmt.Errorf("session %d: %w", sess.ID, adaptive.ErrNoQuestionAvailable)
		}
		if err != nil {
			s.log.Error("reselection failed", "session_id", sess.ID, "error", err)
			return CurrentResult{}, err
		}
		if err := s.store.SetPendingQuestion(ctx, sess.ID, &next.ID); err != nil {
			return CurrentResult{}, err
		}
		s.log.Info("pending question reselected", "session_id", sess.ID, "question_id", next.ID)
		q = *next
	}
	pub := q.Public()
	res.Question = &pub
	res.QuestionNumber = eng.QuestionsAsked()
	res.CurrentLevel = eng.CurrentLevel()
	return res, nil
}

// Session returns the stored session row.
func (s *Service) Session(ctx context.Context, sessionID int64) (exam.Session, error) {
	return s.store.GetSession(ctx, sessionID)
}

// restore loads an open session and replays its engine.
func (s *Service) restore(ctx context.Context, sessionID int64) (exam.Session, *adaptive.Engine, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return exam.Session{}, nil, err
	}
	if sess.Closed() {
		return exam.Session{}, nil, fmt.Errorf("session %d: %w", sess.ID, exam.ErrSessionClosed)
	}
	history, err := s.store.ResponseHistory(ctx, sess.ID)
	if err != nil {
		return exam.Session{}, nil, fmt.Errorf("load history %d: %w", sess.ID, err)
	}
	eng, err := adaptive.Restore(sess.ID, s.store, s.store, history, sess.CurrentQuestionID, adaptive.WithQuota(s.quota))
	if err != nil {
		return exam.Session{}, nil, err
	}
	return sess, eng, nil
}

// finish resolves the verdict and closes the session. A concurrent finalizer loses with a conflict.
func (s *Service) finish(ctx context.Context, sess exam.Session, responses []exam.Response) (Results, error) {
	verdict := adaptive.Resolve(responses)
	done, err := s.store.CompleteSession(ctx, sess.ID, exam.Completion{
		Level:       verdict.DetectedLevel,
		Confidence:  verdict.Confidence,
		CompletedAt: s.now(),
	})
	if err != nil {
		return Results{}, err
	}
	metrics.SessionCompleted(verdict.DetectedLevel)
	s.emit(ctx, syncx.TypeAssessmentCompleted, done.ID, map[string]any{
		"session_id": done.ID,
		"student_id": done.StudentID,
		"level":      verdict.DetectedLevel,
		"confidence": verdict.Confidence,
	})
	s.log.Info("assessment completed", "session_id", done.ID, "level", verdict.DetectedLevel, "confidence", verdict.Confidence)
	return resultsFor(done, verdict), nil
}

func (s *Service) Results(ctx context.Context, sessionID int64) (Results, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Results{}, err
	}
	switch sess.Status() {
	case exam.StatusInProgress:
		return Results{}, fmt.Errorf("session %d is not completed yet: %w", sessionID, exam.ErrConflict)
	case exam.StatusCancelled:
		return Results{}, fmt.Errorf("session %d was cancelled: %w", sessionID, exam.ErrConflict)
	}
	history, err := s.store.ResponseHistory(ctx, sessionID)
	if err != nil {
		return Results{}, err
	}
	return resultsFor(sess, adaptive.Resolve(history)), nil
}

// History lists a student's sessions, newest first.
func (s *Service) History(ctx context.Context, studentID int64, limit int) ([]exam.Session, error) {
	ok, err := s.store.StudentExists(ctx, studentID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("student %d: %w", studentID, exam.ErrNotFound)
	}
	if limit <= 0 {
		limit = 10
	}
	return s.store.ListSessionsForStudent(ctx, studentID, limit)
}

func (s *Service) Cancel(ctx context.Context, sessionID int64) (exam.Session, error) {
	sess, err := s.store.CancelSession(ctx, sessionID)
	if err != nil {
		return exam.Session{}, err
	}
	metrics.SessionCancelled()
	s.emit(ctx, syncx.TypeAssessmentCancelled, sess.ID, map[string]any{
		"session_id":         sess.ID,
		"student_id":         sess.StudentID,
		"questions_answered": sess.QuestionsAnswered,
	})
	s.log.Info("assessment cancelled", "session_id", sess.ID)
	return sess, nil
}

func (s *Service) emit(ctx context.Context, typ string, id int64, data any) {
	if s.events == nil {
		return
	}
	if err := s.events.Append(ctx, typ, strconv.FormatInt(id, 10), data); err != nil {
		s.log.Warn("event append failed", "type", typ, "key", id, "error", err)
	}
}

func resultsFor(sess exam.Session, verdict adaptive.Result) Results {
	if sess.DetectedLevel != nil {
		verdict.DetectedLevel = *sess.DetectedLevel
	}
	if sess.Confidence != nil {
		verdict.Confidence = *sess.Confidence
	}
	var completed int64
	if sess.CompletedAt != nil {
		completed = *sess.CompletedAt
	}
	return Results{
		SessionID:         sess.ID,
		StudentID:         sess.StudentID,
		SelfReportedLevel: sess.SelfReported,
		LevelDifference:   sess.LevelDifference,
		CompletedAt:       completed,
		Result:            verdict,
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
