// Package adaptive drives a single placement session: it picks each question
// from the running performance and resolves the final level.
package adaptive

import (
	"context"
	"fmt"

	"github.com/mind-engage/mindengage-placement/internal/cefr"
	"github.com/mind-engage/mindengage-placement/internal/exam"
	"github.com/mind-engage/mindengage-placement/internal/grading"
)

const (
	DefaultQuota = 10
	WarmupLevel  = cefr.B1
	WarmupSkill  = cefr.Grammar
)

var (
	ErrNoQuestionAvailable = fmt.Errorf("no question available: %w", exam.ErrDataSufficiency)
	ErrOutOfOrder          = fmt.Errorf("selection and response out of order: %w", exam.ErrConflict)
)

// Bank is the part of the question bank the engine reads.
type Bank interface {
	RandomByTag(ctx context.Context, level cefr.Level, skill cefr.Skill, exclude []int64) (*exam.Question, error)
	RandomByLevel(ctx context.Context, level cefr.Level, exclude []int64) (*exam.Question, error)
}

// ResponseAppender persists answered questions. RecordAnswer must keep nothing
// when it fails, so a retry replays to the same state.
type ResponseAppender interface {
	RecordAnswer(ctx context.Context, r exam.Response) (exam.Response, error)
}

type State int

const (
	NotStarted State = iota
	InProgress
	Complete
	Cancelled
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case InProgress:
		return "in_progress"
	case Complete:
		return "complete"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type selection struct {
	questionID int64
	level      cefr.Level
}

// Engine is the state machine for one session. It is not safe for concurrent use;
// callers serialize SelectNext/RecordResponse pairs per session.
type Engine struct {
	sessionID int64
	bank      Bank
	store     ResponseAppender
	quota     int

	state     State
	level     cefr.Level
	cursor    int
	asked     int
	responses []exam.Response
	used      []int64
	pending   *selection
}

type Option func(*Engine)

// WithQuota overrides the number of questions per session.
func WithQuota(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.quota = n
		}
	}
}

func New(sessionID int64, bank Bank, store ResponseAppender, opts ...Option) *Engine {
	e := &Engine{
		sessionID: sessionID,
		bank:      bank,
		store:     store,
		quota:     DefaultQuota,
		level:     WarmupLevel,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) State() State { return e.state }
func (e *Engine) CurrentLevel() cefr.Level { return e.level }
func (e *Engine) QuestionsAsked() int { return e.asked }
func (e *Engine) Quota() int { return e.quota }
func (e *Engine) Remaining() int { return e.quota - e.asked }
func (e *Engine) Complete() bool { return e.state == Complete }
func (e *Engine) Responses() []exam.Response { return append([]exam.Response(nil), e.responses...) }

// Pending returns the question posed by the last selection if it is still unanswered.
func (e *Engine) Pending() (int64, bool) {
	if e.pending == nil {
		return 0, false
	}
	return e.pending.questionID, true
}

func (e *Engine) closed() bool { return e.state == Complete || e.state == Cancelled }

// SelectNext returns the next question, or nil once the quota is exhausted.
func (e *Engine) SelectNext(ctx context.Context) (*exam.Question, error) {
	if e.closed() {
		return nil, exam.ErrSessionClosed
	}
	if e.asked >= e.quota {
		return nil, nil
	}
	if e.pending != nil {
		return nil, ErrOutOfOrder
	}

	level, skill, cursor := WarmupLevel, WarmupSkill, e.cursor
	if e.asked > 0 {
		level = step(e.level, e.responses[len(e.responses)-1].Correct)
		skill = cefr.SkillAt(cursor)
		cursor++
	}

	q, err := e.fetch(ctx, level, skill)
	if err != nil {
		return nil, err
	}

	// state only moves once a question was found
	e.level, e.cursor = level, cursor
	e.asked++
	e.used = append(e.used, q.ID)
	e.pending = &selection{questionID: q.ID, level: level}
	e.state = InProgress
	return q, nil
}

func (e *Engine) fetch(ctx context.Context, level cefr.Level, skill cefr.Skill) (*exam.Question, error) {
	q, err := e.bank.RandomByTag(ctx, level, skill, e.used)
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: %w", level, skill, err)
	}
	if q != nil {
		return q, nil
	}
	q, err = e.bank.RandomByLevel(ctx, level, e.used)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", level, err)
	}
	if q == nil {
		return nil, fmt.Errorf("level %s: %w", level, ErrNoQuestionAvailable)
	}
	return q, nil
}

// RecordResponse grades and persists the answer to the pending question.
func (e *Engine) RecordResponse(ctx context.Context, q exam.Question, answer string, timeTakenSec int) (bool, error) {
	if e.closed() {
		return false, exam.ErrSessionClosed
	}
	if e.pending == nil {
		return false, ErrOutOfOrder
	}
	if q.ID != e.pending.questionID {
		return false, fmt.Errorf("question %d is not the pending question %d: %w", q.ID, e.pending.questionID, exam.ErrConflict)
	}
	if q.Level != e.pending.level {
		return false, fmt.Errorf("question %d is %s but was posed at %s: %w", q.ID, q.Level, e.pending.level, exam.ErrConflict)
	}
	if timeTakenSec < 0 {
		return false, exam.NewValidationError("time taken must be non-negative")
	}

	correct := grading.Match(answer, q.CorrectAnswer)
	saved, err := e.store.RecordAnswer(ctx, exam.Response{
		SessionID:    e.sessionID,
		QuestionID:   q.ID,
		Sequence:     len(e.responses) + 1,
		Answer:       answer,
		Correct:      correct,
		TimeTakenSec: timeTakenSec,
		Level:        e.pending.level,
		Skill:        q.Skill,
	})
	if err != nil {
		return false, fmt.Errorf("append response: %w", err)
	}

	e.responses = append(e.responses, saved)
	e.pending = nil
	if e.asked >= e.quota {
		e.state = Complete
	}
	return correct, nil
}

// Cancel closes the session without a verdict.
func (e *Engine) Cancel() error {
	if e.closed() {
		return exam.ErrSessionClosed
	}
	e.state = Cancelled
	e.pending = nil
	return nil
}

// Restore rebuilds an engine by replaying the stored history in sequence order.
// pendingID is the question shown but not yet answered, if any. A pendingID that
// already appears in history counts as answered.
func Restore(sessionID int64, bank Bank, store ResponseAppender, history []exam.Response, pendingID *int64, opts ...Option) (*Engine, error) {
	e := New(sessionID, bank, store, opts...)
	for i, r := range history {
		if r.Sequence != i+1 {
			return nil, fmt.Errorf("session %d: response %d has sequence %d", sessionID, i+1, r.Sequence)
		}
		if i > 0 {
			e.level = step(e.level, history[i-1].Correct)
			e.cursor++
		}
		if r.Level != e.level {
			return nil, fmt.Errorf("session %d: response %d posed at %s, replay gives %s", sessionID, r.Sequence, r.Level, e.level)
		}
		e.used = append(e.used, r.QuestionID)
	}
	e.responses = append([]exam.Response(nil), history...)
	e.asked = len(history)

	if pendingID != nil && e.asked < e.quota && !answered(history, *pendingID) {
		if e.asked > 0 {
			e.level = step(e.level, history[len(history)-1].Correct)
			e.cursor++
		}
		e.pending = &selection{questionID: *pendingID, level: e.level}
		e.used = append(e.used, *pendingID)
		e.asked++
	}

	switch {
	case len(e.responses) >= e.quota:
		e.state = Complete
	case e.asked > 0:
		e.state = InProgress
	}
	return e, nil
}

func answered(history []exam.Response, questionID int64) bool {
	for _, r := range history {
		if r.QuestionID == questionID {
			return true
		}
	}
	return false
}

func step(l cefr.Level, correct bool) cefr.Level {
	if correct {
		return l.Up()
	}
	return l.Down()
}
