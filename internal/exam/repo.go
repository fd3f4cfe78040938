package exam

import (
	"context"

	"github.com/mind-engage/mindengage-placement/internal/cefr"
)

// QuestionBank is the catalog of questions. The random lookups return (nil, nil)
// when nothing matches; exclude lists ids already used by the caller.
type QuestionBank interface {
	RandomByTag(ctx context.Context, level cefr.Level, skill cefr.Skill, exclude []int64) (*Question, error)
	RandomByLevel(ctx context.Context, level cefr.Level, exclude []int64) (*Question, error)
	GetQuestion(ctx context.Context, id int64) (Question, error)
	InsertQuestion(ctx context.Context, q Question) (int64, error)
	ListQuestionIDs(ctx context.Context) ([]int64, error)
	CountByTag(ctx context.Context) ([]BankCount, error)
}

type ResponseStore interface {
	// AppendResponse fails with ErrConflict if the (session, sequence) pair is taken.
	AppendResponse(ctx context.Context, r Response) (Response, error)
	// RecordAnswer appends r, bumps the session counters and clears the pending
	// question as one write. Nothing is kept if any part fails.
	RecordAnswer(ctx context.Context, r Response) (Response, error)
	// ResponseHistory is ordered by sequence.
	ResponseHistory(ctx context.Context, sessionID int64) ([]Response, error)
	CompletedResponsesForQuestion(ctx context.Context, questionID int64) ([]CompletedResponse, error)
}

type SessionStore interface {
	// CreateSession fails with ErrConflict while the student has an open session.
	CreateSession(ctx context.Context, s Session) (Session, error)
	GetSession(ctx context.Context, id int64) (Session, error)
	SetPendingQuestion(ctx context.Context, sessionID int64, questionID *int64) error
	// CompleteSession and CancelSession fail with ErrConflict if the session is already closed.
	CompleteSession(ctx context.Context, sessionID int64, c Completion) (Session, error)
	CancelSession(ctx context.Context, sessionID int64) (Session, error)
	ListSessionsForStudent(ctx context.Context, studentID int64, limit int) ([]Session, error)
}

type StudentDirectory interface {
	StudentExists(ctx context.Context, id int64) (bool, error)
}

type CalibrationStore interface {
	UpsertMetrics(ctx context.Context, m QuestionMetrics) error
	QuestionsNeedingReview(ctx context.Context, minAttempts int) ([]ReviewItem, error)
	SaveReport(ctx context.Context, r CalibrationReport) (int64, error)
	ListReports(ctx context.Context, limit int) ([]CalibrationReport, error)
}

type ReclassificationLog interface {
	// ReclassifyQuestion changes the level and records the history row together.
	ReclassifyQuestion(ctx context.Context, r Reclassification) (Reclassification, error)
	ReclassificationHistory(ctx context.Context, questionID int64) ([]Reclassification, error)
}

type ImportLog interface {
	CreateImport(ctx context.Context, rec ImportRecord) (int64, error)
	AppendImportError(ctx context.Context, importID int64, rowNum int, message string) error
	FinishImport(ctx context.Context, importID int64, successful, failed int) error
	ListImports(ctx context.Context, limit int) ([]ImportRecord, error)
}

// Store is everything the placement service persists.
type Store interface {
	QuestionBank
	ResponseStore
	SessionStore
	StudentDirectory
	CalibrationStore
	ReclassificationLog
	ImportLog
}
