package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mind-engage/mindengage-placement/internal/cefr"
	"github.com/mind-engage/mindengage-placement/internal/db"
)

type SQLStore struct {
	db     *sql.DB
	driver db.Driver
	now    func() time.Time
}

func NewSQLStore(h *sql.DB, driver db.Driver) *SQLStore {
	return &SQLStore{db: h, driver: driver, now: time.Now}
}

func (s *SQLStore) q(query string) string { return db.Rebind(s.driver, query) }

type scanner interface {
	Scan(dest ...any) error
}

// ---- question bank ----

const questionCols = `id, question_text, question_type, difficulty_level, skill_focus, options_json,
	correct_answer, explanation, next_question_if_correct, next_question_if_incorrect,
	average_time_seconds, imported_from_batch_id, created_at`

func scanQuestion(row scanner) (Question, error) {
	var q Question
	var opts, qType, level, skill string
	var nextOK, nextFail, avgTime, importID sql.NullInt64
	if err := row.Scan(&q.ID, &q.Text, &qType, &level, &skill, &opts,
		&q.CorrectAnswer, &q.Explanation, &nextOK, &nextFail, &avgTime, &importID, &q.CreatedAt); err != nil {
		return Question{}, err
	}
	q.Type, q.Level, q.Skill = cefr.QuestionType(qType), cefr.Level(level), cefr.Skill(skill)
	if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
		return Question{}, fmt.Errorf("question %d options: %w", q.ID, err)
	}
	if nextOK.Valid {
		q.NextIfCorrect = &nextOK.Int64
	}
	if nextFail.Valid {
		q.NextIfIncorrect = &nextFail.Int64
	}
	if avgTime.Valid {
		v := int(avgTime.Int64)
		q.AverageTimeSec = &v
	}
	if importID.Valid {
		q.ImportID = &importID.Int64
	}
	return q, nil
}

func (s *SQLStore) RandomByTag(ctx context.Context, level cefr.Level, skill cefr.Skill, exclude []int64) (*Question, error) {
	return s.randomQuestion(ctx, `difficulty_level=? AND skill_focus=?`, []any{string(level), string(skill)}, exclude)
}

func (s *SQLStore) RandomByLevel(ctx context.Context, level cefr.Level, exclude []int64) (*Question, error) {
	return s.randomQuestion(ctx, `difficulty_level=?`, []any{string(level)}, exclude)
}

func (s *SQLStore) randomQuestion(ctx context.Context, where string, args []any, exclude []int64) (*Question, error) {
	query := `SELECT ` + questionCols + ` FROM adaptive_assessment_questions WHERE ` + where
	if len(exclude) > 0 {
		query += ` AND id NOT IN (` + db.Placeholders(len(exclude)) + `)`
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	query += ` ORDER BY RANDOM() LIMIT 1`
	q, err := scanQuestion(s.db.QueryRowContext(ctx, s.q(query), args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *SQLStore) GetQuestion(ctx context.Context, id int64) (Question, error) {
	q, err := scanQuestion(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+questionCols+` FROM adaptive_assessment_questions WHERE id=?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return Question{}, fmt.Errorf("question %d: %w", id, ErrNotFound)
	}
	return q, err
}

func (s *SQLStore) InsertQuestion(ctx context.Context, q Question) (int64, error) {
	opts, err := json.Marshal(q.Options)
	if err != nil {
		return 0, err
	}
	var avg any
	if q.AverageTimeSec != nil {
		avg = *q.AverageTimeSec
	}
	var id int64
	err = s.db.QueryRowContext(ctx, s.q(`INSERT INTO adaptive_assessment_questions
		(question_text, question_type, difficulty_level, skill_focus, options_json, correct_answer,
		 explanation, next_question_if_correct, next_question_if_incorrect, average_time_seconds,
		 imported_from_batch_id, created_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?) RETURNING id`),
		q.Text, string(q.Type), string(q.Level), string(q.Skill), string(opts), q.CorrectAnswer,
		q.Explanation, nullInt64(q.NextIfCorrect), nullInt64(q.NextIfIncorrect), avg,
		nullInt64(q.ImportID), s.now().Unix()).Scan(&id)
	return id, err
}

func (s *SQLStore) ListQuestionIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM adaptive_assessment_questions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLStore) CountByTag(ctx context.Context) ([]BankCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT difficulty_level, skill_focus, COUNT(*)
		FROM adaptive_assessment_questions
		GROUP BY difficulty_level, skill_focus
		ORDER BY difficulty_level, skill_focus`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BankCount
	for rows.Next() {
		var level, skill string
		var c BankCount
		if err := rows.Scan(&level, &skill, &c.Count); err != nil {
			return nil, err
		}
		c.Level, c.Skill = cefr.Level(level), cefr.Skill(skill)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- responses ----

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) AppendResponse(ctx context.Context, r Response) (Response, error) {
	return s.insertResponse(ctx, s.db, r)
}

func (s *SQLStore) insertResponse(ctx context.Context, h rowQueryer, r Response) (Response, error) {
	if r.AnsweredAt == 0 {
		r.AnsweredAt = s.now().Unix()
	}
	err := h.QueryRowContext(ctx, s.q(`INSERT INTO assessment_responses
		(session_id, question_id, sequence, student_answer, is_correct, time_taken_seconds,
		 level_at_question, skill_at_question, answered_at)
		VALUES (?,?,?,?,?,?,?,?,?) RETURNING id`),
		r.SessionID, r.QuestionID, r.Sequence, r.Answer, r.Correct, r.TimeTakenSec,
		string(r.Level), string(r.Skill), r.AnsweredAt).Scan(&r.ID)
	if db.IsUniqueViolation(err) {
		return Response{}, fmt.Errorf("response %d/%d already recorded: %w", r.SessionID, r.Sequence, ErrConflict)
	}
	if err != nil {
		return Response{}, err
	}
	return r, nil
}

// RecordAnswer appends r, bumps the session counters and clears the pending
// question in one transaction.
func (s *SQLStore) RecordAnswer(ctx context.Context, r Response) (Response, error) {
	var saved Response
	err := db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		var completed sql.NullInt64
		err := tx.QueryRowContext(ctx, s.q(`SELECT completed_at FROM assessment_sessions WHERE id=?`),
			r.SessionID).Scan(&completed)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("session %d: %w", r.SessionID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if completed.Valid {
			return fmt.Errorf("session %d: %w", r.SessionID, ErrSessionClosed)
		}
		if saved, err = s.insertResponse(ctx, tx, r); err != nil {
			return err
		}
		inc := 0
		if r.Correct {
			inc = 1
		}
		res, err := tx.ExecContext(ctx, s.q(`UPDATE assessment_sessions
			SET questions_answered = questions_answered + 1,
			    correct_answers = correct_answers + ?,
			    total_time_seconds = total_time_seconds + ?,
			    current_question_id = NULL
			WHERE id=? AND completed_at IS NULL`), inc, r.TimeTakenSec, r.SessionID)
		if err != nil {
			return err
		}
		return expectOne(res, fmt.Errorf("session %d: %w", r.SessionID, ErrSessionClosed))
	})
	if err != nil {
		return Response{}, err
	}
	return saved, nil
}

const responseCols = `r.id, r.session_id, r.question_id, r.sequence, r.student_answer, r.is_correct,
	r.time_taken_seconds, r.level_at_question, r.skill_at_question, r.answered_at`

func scanResponse(row scanner, extra ...any) (Response, error) {
	var r Response
	var level, skill string
	dest := append([]any{&r.ID, &r.SessionID, &r.QuestionID, &r.Sequence, &r.Answer, &r.Correct,
		&r.TimeTakenSec, &level, &skill, &r.AnsweredAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Response{}, err
	}
	r.Level, r.Skill = cefr.Level(level), cefr.Skill(skill)
	return r, nil
}

func (s *SQLStore) ResponseHistory(ctx context.Context, sessionID int64) ([]Response, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+responseCols+`
		FROM assessment_responses r WHERE r.session_id=? ORDER BY r.sequence`), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Response
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) CompletedResponsesForQuestion(ctx context.Context, questionID int64) ([]CompletedResponse, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+responseCols+`, sess.final_detected_level
		FROM assessment_responses r
		JOIN assessment_sessions sess ON sess.id = r.session_id
		WHERE r.question_id=? AND sess.completed_at IS NOT NULL
		ORDER BY r.session_id, r.sequence`), questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CompletedResponse
	for rows.Next() {
		var final sql.NullString
		r, err := scanResponse(rows, &final)
		if err != nil {
			return nil, err
		}
		cr := CompletedResponse{Response: r}
		if final.Valid {
			l := cefr.Level(final.String)
			cr.FinalLevel = &l
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

// ---- sessions ----

func (s *SQLStore) StudentExists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT 1 FROM users WHERE id=?`), id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

const sessionCols = `id, student_id, assessment_type, started_at, completed_at, final_detected_level,
	confidence_score, self_reported_level, questions_answered, correct_answers, total_time_seconds,
	level_difference, current_question_id`

func scanSession(row scanner) (Session, error) {
	var out Session
	var kind string
	var completed, diff, pending sql.NullInt64
	var detected, selfReported sql.NullString
	var confidence sql.NullFloat64
	if err := row.Scan(&out.ID, &out.StudentID, &kind, &out.StartedAt, &completed, &detected,
		&confidence, &selfReported, &out.QuestionsAnswered, &out.CorrectAnswers, &out.TotalTimeSec,
		&diff, &pending); err != nil {
		return Session{}, err
	}
	out.Kind = cefr.SessionKind(kind)
	if completed.Valid {
		out.CompletedAt = &completed.Int64
	}
	if detected.Valid {
		l := cefr.Level(detected.String)
		out.DetectedLevel = &l
	}
	if confidence.Valid {
		out.Confidence = &confidence.Float64
	}
	if selfReported.Valid {
		l := cefr.Level(selfReported.String)
		out.SelfReported = &l
	}
	if diff.Valid {
		d := int(diff.Int64)
		out.LevelDifference = &d
	}
	if pending.Valid {
		out.CurrentQuestionID = &pending.Int64
	}
	return out, nil
}

func (s *SQLStore) CreateSession(ctx context.Context, in Session) (Session, error) {
	var self any
	if in.SelfReported != nil {
		self = string(*in.SelfReported)
	}
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`INSERT INTO assessment_sessions
		(student_id, assessment_type, started_at, self_reported_level)
		VALUES (?,?,?,?) RETURNING id`),
		in.StudentID, string(in.Kind), s.now().Unix(), self).Scan(&id)
	if db.IsUniqueViolation(err) {
		return Session{}, fmt.Errorf("student %d already has an open session: %w", in.StudentID, ErrConflict)
	}
	if err != nil {
		return Session{}, err
	}
	return s.GetSession(ctx, id)
}

func (s *SQLStore) GetSession(ctx context.Context, id int64) (Session, error) {
	out, err := scanSession(s.db.QueryRowContext(ctx,
		s.q(`SELECT `+sessionCols+` FROM assessment_sessions WHERE id=?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %d: %w", id, ErrNotFound)
	}
	return out, err
}

func (s *SQLStore) SetPendingQuestion(ctx context.Context, sessionID int64, questionID *int64) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE assessment_sessions SET current_question_id=? WHERE id=?`),
		nullInt64(questionID), sessionID)
	if err != nil {
		return err
	}
	return expectOne(res, fmt.Errorf("session %d: %w", sessionID, ErrNotFound))
}

func (s *SQLStore) CompleteSession(ctx context.Context, sessionID int64, c Completion) (Session, error) {
	err := db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		var self sql.NullString
		var completed sql.NullInt64
		err := tx.QueryRowContext(ctx, s.q(`SELECT self_reported_level, completed_at
			FROM assessment_sessions WHERE id=?`), sessionID).Scan(&self, &completed)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("session %d: %w", sessionID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if completed.Valid {
			return fmt.Errorf("session %d: %w", sessionID, ErrSessionClosed)
		}
		var diff any
		if self.Valid {
			diff = cefr.Level(self.String).Index() - c.Level.Index()
		}
		res, err := tx.ExecContext(ctx, s.q(`UPDATE assessment_sessions
			SET completed_at=?, final_detected_level=?, confidence_score=?, level_difference=?,
			    current_question_id=NULL
			WHERE id=? AND completed_at IS NULL`),
			c.CompletedAt.Unix(), string(c.Level), c.Confidence, diff, sessionID)
		if err != nil {
			return err
		}
		return expectOne(res, fmt.Errorf("session %d: %w", sessionID, ErrSessionClosed))
	})
	if err != nil {
		return Session{}, err
	}
	return s.GetSession(ctx, sessionID)
}

func (s *SQLStore) CancelSession(ctx context.Context, sessionID int64) (Session, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return Session{}, err
	}
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE assessment_sessions
		SET completed_at=?, current_question_id=NULL
		WHERE id=? AND completed_at IS NULL`), s.now().Unix(), sessionID)
	if err != nil {
		return Session{}, err
	}
	if err := expectOne(res, fmt.Errorf("session %d: %w", sessionID, ErrSessionClosed)); err != nil {
		return Session{}, err
	}
	return s.GetSession(ctx, sessionID)
}

func (s *SQLStore) ListSessionsForStudent(ctx context.Context, studentID int64, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+sessionCols+` FROM assessment_sessions
		WHERE student_id=? ORDER BY started_at DESC, id DESC LIMIT ?`), studentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func expectOne(res sql.Result, otherwise error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return otherwise
	}
	return nil
}

var _ Store = (*SQLStore)(nil)
