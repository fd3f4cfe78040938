package exam

import (
	"time"

	"github.com/mind-engage/mindengage-placement/internal/cefr"
)

type Question struct {
	ID            int64             `json:"id"`
	Text          string            `json:"question_text"`
	Type          cefr.QuestionType `json:"question_type"`
	Level         cefr.Level        `json:"difficulty_level"`
	Skill         cefr.Skill        `json:"skill_focus"`
	Options       []string          `json:"options"`
	CorrectAnswer string            `json:"correct_answer,omitempty"`
	Explanation   string            `json:"explanation,omitempty"`

	// Branch hints are stored but selection is tag-driven and never reads them.
	NextIfCorrect   *int64 `json:"next_question_if_correct,omitempty"`
	NextIfIncorrect *int64 `json:"next_question_if_incorrect,omitempty"`

	AverageTimeSec *int   `json:"average_time_seconds,omitempty"`
	ImportID       *int64 `json:"imported_from_batch_id,omitempty"`
	CreatedAt      int64  `json:"created_at,omitempty"`
}

// Public strips the answer key and explanation before a question is shown to a test-taker.
func (q Question) Public() Question {
	q.CorrectAnswer = ""
	q.Explanation = ""
	return q
}

// Response is one answered question. Responses are never updated.
type Response struct {
	ID           int64      `json:"id"`
	SessionID    int64      `json:"session_id"`
	QuestionID   int64      `json:"question_id"`
	Sequence     int        `json:"sequence"`
	Answer       string     `json:"student_answer"`
	Correct      bool       `json:"is_correct"`
	TimeTakenSec int        `json:"time_taken_seconds"`
	Level        cefr.Level `json:"level_at_question"`
	Skill        cefr.Skill `json:"skill_at_question"`
	AnsweredAt   int64      `json:"answered_at"`
}

type SessionStatus string

const (
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusCancelled  SessionStatus = "cancelled"
)

type Session struct {
	ID                int64            `json:"id"`
	StudentID         int64            `json:"student_id"`
	Kind              cefr.SessionKind `json:"assessment_type"`
	StartedAt         int64            `json:"started_at"`
	CompletedAt       *int64           `json:"completed_at,omitempty"`
	DetectedLevel     *cefr.Level      `json:"final_detected_level,omitempty"`
	Confidence        *float64         `json:"confidence_score,omitempty"`
	SelfReported      *cefr.Level      `json:"self_reported_level,omitempty"`
	QuestionsAnswered int              `json:"questions_answered"`
	CorrectAnswers    int              `json:"correct_answers"`
	TotalTimeSec      int              `json:"total_time_seconds"`
	LevelDifference   *int             `json:"level_difference,omitempty"`
	CurrentQuestionID *int64           `json:"current_question_id,omitempty"`
}

func (s Session) Status() SessionStatus {
	switch {
	case s.CompletedAt == nil:
		return StatusInProgress
	case s.DetectedLevel == nil:
		return StatusCancelled
	default:
		return StatusCompleted
	}
}

func (s Session) Closed() bool { return s.CompletedAt != nil }

// Completion is the final verdict written when a session reaches its quota.
type Completion struct {
	Level       cefr.Level
	Confidence  float64
	CompletedAt time.Time
}

// CompletedResponse pairs a response with the final level of the session it belongs to.
// FinalLevel is nil for cancelled sessions.
type CompletedResponse struct {
	Response
	FinalLevel *cefr.Level
}

type QuestionMetrics struct {
	QuestionID       int64              `json:"question_id"`
	TotalAttempts    int                `json:"total_attempts"`
	CorrectAttempts  int                `json:"correct_attempts"`
	AccuracyRate     float64            `json:"accuracy_rate"`
	AvgTimeSec       float64            `json:"avg_time_seconds"`
	LevelsAttempted  map[cefr.Level]int `json:"student_levels_attempted"`
	ExpectedLevel    cefr.Level         `json:"expected_level"`
	RecommendedLevel *cefr.Level        `json:"recommended_level,omitempty"`
	ConfidenceScore  float64            `json:"confidence_score"`
	NeedsReview      bool               `json:"needs_review"`
	CalculatedAt     int64              `json:"last_calculated_at,omitempty"`
}

// ReviewItem is a stored metrics row joined with its question.
type ReviewItem struct {
	QuestionMetrics
	Question Question `json:"question"`
}

type FlaggedQuestion struct {
	QuestionID       int64       `json:"question_id"`
	CurrentLevel     cefr.Level  `json:"current_level"`
	RecommendedLevel *cefr.Level `json:"recommended_level,omitempty"`
	AccuracyRate     float64     `json:"accuracy_rate"`
	ConfidenceScore  float64     `json:"confidence_score"`
	TotalAttempts    int         `json:"total_attempts"`
}

type AnalysisFailure struct {
	QuestionID int64  `json:"question_id"`
	Error      string `json:"error"`
}

type CalibrationReport struct {
	ID                     int64                  `json:"report_id,omitempty"`
	TotalQuestions         int                    `json:"total_questions"`
	QuestionsNeedingReview int                    `json:"questions_needing_review"`
	Misclassified          []FlaggedQuestion      `json:"misclassified_questions"`
	LevelAccuracy          map[cefr.Level]float64 `json:"level_accuracy"`
	Recommendations        []string               `json:"recommendations"`
	Failures               []AnalysisFailure      `json:"failures,omitempty"`
	GeneratedAt            int64                  `json:"generated_at"`
}

type Reclassification struct {
	ID             int64      `json:"id"`
	QuestionID     int64      `json:"question_id"`
	OldLevel       cefr.Level `json:"old_level"`
	NewLevel       cefr.Level `json:"new_level"`
	ReclassifiedBy string     `json:"reclassified_by"`
	Reason         string     `json:"reason,omitempty"`
	ReclassifiedAt int64      `json:"reclassified_at"`
}

type ImportStatus string

const (
	ImportProcessing ImportStatus = "processing"
	ImportCompleted  ImportStatus = "completed"
)

type ImportRecord struct {
	ID                int64         `json:"id"`
	UploadedBy        string        `json:"uploaded_by"`
	TotalRows         int           `json:"total_rows"`
	SuccessfulImports int           `json:"successful_imports"`
	FailedImports     int           `json:"failed_imports"`
	Status            ImportStatus  `json:"import_status"`
	ArchiveKey        string        `json:"archive_key,omitempty"`
	CreatedAt         int64         `json:"created_at"`
	CompletedAt       *int64        `json:"completed_at,omitempty"`
	Errors            []ImportError `json:"errors"`
}

type ImportError struct {
	RowNum  int    `json:"row_num"`
	Message string `json:"error_message"`
}

// BankCount is the number of questions tagged with one (level, skill) pair.
type BankCount struct {
	Level cefr.Level `json:"difficulty_level"`
	Skill cefr.Skill `json:"skill_focus"`
	Count int        `json:"count"`
}
