package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mind-engage/mindengage-placement/internal/cefr"
	"github.com/mind-engage/mindengage-placement/internal/db"
)

// ---- calibration metrics ----

func (s *SQLStore) UpsertMetrics(ctx context.Context, m QuestionMetrics) error {
	levels, err := json.Marshal(nonNilLevels(m.LevelsAttempted))
	if err != nil {
		return err
	}
	var rec any
	if m.RecommendedLevel != nil {
		rec = string(*m.RecommendedLevel)
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO question_validation_metrics
		(question_id, total_attempts, correct_attempts, accuracy_rate, avg_time_seconds,
		 student_levels_attempted, expected_level, recommended_level, confidence_score,
		 needs_review, last_calculated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT (question_id) DO UPDATE SET
		  total_attempts=EXCLUDED.total_attempts,
		  correct_attempts=EXCLUDED.correct_attempts,
		  accuracy_rate=EXCLUDED.accuracy_rate,
		  avg_time_seconds=EXCLUDED.avg_time_seconds,
		  student_levels_attempted=EXCLUDED.student_levels_attempted,
		  expected_level=EXCLUDED.expected_level,
		  recommended_level=EXCLUDED.recommended_level,
		  confidence_score=EXCLUDED.confidence_score,
		  needs_review=EXCLUDED.needs_review,
		  last_calculated_at=EXCLUDED.last_calculated_at`),
		m.QuestionID, m.TotalAttempts, m.CorrectAttempts, m.AccuracyRate, m.AvgTimeSec,
		string(levels), string(m.ExpectedLevel), rec, m.ConfidenceScore, m.NeedsReview, s.now().Unix())
	return err
}

func (s *SQLStore) QuestionsNeedingReview(ctx context.Context, minAttempts int) ([]ReviewItem, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT m.question_id, m.total_attempts, m.correct_attempts,
		  m.accuracy_rate, m.avg_time_seconds, m.student_levels_attempted, m.expected_level,
		  m.recommended_level, m.confidence_score, m.needs_review, m.last_calculated_at,
		  `+prefixed("q.", questionCols)+`
		FROM question_validation_metrics m
		JOIN adaptive_assessment_questions q ON q.id = m.question_id
		WHERE m.needs_review = ? AND m.total_attempts >= ?
		ORDER BY m.confidence_score ASC, m.question_id ASC`), true, minAttempts)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ReviewItem
	for rows.Next() {
		var it ReviewItem
		var levels, expected string
		var rec sql.NullString
		var q Question
		var opts, qType, qLevel, qSkill string
		var nextOK, nextFail, avgTime, importID sql.NullInt64
		if err := rows.Scan(&it.QuestionID, &it.TotalAttempts, &it.CorrectAttempts, &it.AccuracyRate,
			&it.AvgTimeSec, &levels, &expected, &rec, &it.ConfidenceScore, &it.NeedsReview, &it.CalculatedAt,
			&q.ID, &q.Text, &qType, &qLevel, &qSkill, &opts, &q.CorrectAnswer, &q.Explanation,
			&nextOK, &nextFail, &avgTime, &importID, &q.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(levels), &it.LevelsAttempted); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(opts), &q.Options); err != nil {
			return nil, err
		}
		it.ExpectedLevel = cefr.Level(expected)
		if rec.Valid {
			l := cefr.Level(rec.String)
			it.RecommendedLevel = &l
		}
		q.Type, q.Level, q.Skill = cefr.QuestionType(qType), cefr.Level(qLevel), cefr.Skill(qSkill)
		it.Question = q
		out = append(out, it)
	}
	return out, rows.Err()
}

// ---- calibration reports ----

func (s *SQLStore) SaveReport(ctx context.Context, r CalibrationReport) (int64, error) {
	mis, err := json.Marshal(nonNilFlagged(r.Misclassified))
	if err != nil {
		return 0, err
	}
	acc, err := json.Marshal(r.LevelAccuracy)
	if err != nil {
		return 0, err
	}
	recs, err := json.Marshal(r.Recommendations)
	if err != nil {
		return 0, err
	}
	fails := []byte("[]")
	if len(r.Failures) > 0 {
		if fails, err = json.Marshal(r.Failures); err != nil {
			return 0, err
		}
	}
	generated := r.GeneratedAt
	if generated == 0 {
		generated = s.now().Unix()
	}
	var id int64
	err = s.db.QueryRowContext(ctx, s.q(`INSERT INTO calibration_reports
		(total_questions, questions_needing_review, misclassified_json, level_accuracy_json,
		 recommendations_json, failures_json, generated_at)
		VALUES (?,?,?,?,?,?,?) RETURNING id`),
		r.TotalQuestions, r.QuestionsNeedingReview, string(mis), string(acc), string(recs),
		string(fails), generated).Scan(&id)
	return id, err
}

func (s *SQLStore) ListReports(ctx context.Context, limit int) ([]CalibrationReport, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, total_questions, questions_needing_review,
		  misclassified_json, level_accuracy_json, recommendations_json, failures_json, generated_at
		FROM calibration_reports ORDER BY generated_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CalibrationReport
	for rows.Next() {
		var r CalibrationReport
		var mis, acc, recs, fails string
		if err := rows.Scan(&r.ID, &r.TotalQuestions, &r.QuestionsNeedingReview, &mis, &acc, &recs,
			&fails, &r.GeneratedAt); err != nil {
			return nil, err
		}
		for _, f := range []struct {
			raw string
			dst any
		}{{mis, &r.Misclassified}, {acc, &r.LevelAccuracy}, {recs, &r.Recommendations}, {fails, &r.Failures}} {
			if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
				return nil, fmt.Errorf("report %d: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- reclassification ----

func (s *SQLStore) ReclassifyQuestion(ctx context.Context, r Reclassification) (Reclassification, error) {
	r.ReclassifiedAt = s.now().Unix()
	err := db.WithTx(ctx, s.db, nil, func(tx *sql.Tx) error {
		var old string
		err := tx.QueryRowContext(ctx, s.q(`SELECT difficulty_level FROM adaptive_assessment_questions WHERE id=?`),
			r.QuestionID).Scan(&old)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("question %d: %w", r.QuestionID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		r.OldLevel = cefr.Level(old)
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE adaptive_assessment_questions SET difficulty_level=? WHERE id=?`),
			string(r.NewLevel), r.QuestionID); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, s.q(`INSERT INTO question_reclassification_history
			(question_id, old_level, new_level, reclassified_by, reason, reclassified_at)
			VALUES (?,?,?,?,?,?) RETURNING id`),
			r.QuestionID, old, string(r.NewLevel), r.ReclassifiedBy, r.Reason, r.ReclassifiedAt).Scan(&r.ID)
	})
	if err != nil {
		return Reclassification{}, err
	}
	return r, nil
}

func (s *SQLStore) ReclassificationHistory(ctx context.Context, questionID int64) ([]Reclassification, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, question_id, old_level, new_level, reclassified_by,
		  reason, reclassified_at
		FROM question_reclassification_history
		WHERE question_id=? ORDER BY reclassified_at DESC, id DESC`), questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reclassification
	for rows.Next() {
		var r Reclassification
		var old, nw string
		if err := rows.Scan(&r.ID, &r.QuestionID, &old, &nw, &r.ReclassifiedBy, &r.Reason, &r.ReclassifiedAt); err != nil {
			return nil, err
		}
		r.OldLevel, r.NewLevel = cefr.Level(old), cefr.Level(nw)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ---- import log ----

func (s *SQLStore) CreateImport(ctx context.Context, rec ImportRecord) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`INSERT INTO question_import_history
		(uploaded_by, total_rows, import_status, archive_key, created_at)
		VALUES (?,?,?,?,?) RETURNING id`),
		rec.UploadedBy, rec.TotalRows, string(ImportProcessing), rec.ArchiveKey, s.now().Unix()).Scan(&id)
	return id, err
}

func (s *SQLStore) AppendImportError(ctx context.Context, importID int64, rowNum int, message string) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO question_import_errors (import_id, row_num, error_message)
		VALUES (?,?,?)`), importID, rowNum, message)
	return err
}

func (s *SQLStore) FinishImport(ctx context.Context, importID int64, successful, failed int) error {
	res, err := s.db.ExecContext(ctx, s.q(`UPDATE question_import_history
		SET successful_imports=?, failed_imports=?, import_status=?, completed_at=?
		WHERE id=?`), successful, failed, string(ImportCompleted), s.now().Unix(), importID)
	if err != nil {
		return err
	}
	return expectOne(res, fmt.Errorf("import %d: %w", importID, ErrNotFound))
}

func (s *SQLStore) ListImports(ctx context.Context, limit int) ([]ImportRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT id, uploaded_by, total_rows, successful_imports,
		  failed_imports, import_status, archive_key, created_at, completed_at
		FROM question_import_history ORDER BY created_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	var out []ImportRecord
	for rows.Next() {
		var rec ImportRecord
		var status string
		var completed sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.UploadedBy, &rec.TotalRows, &rec.SuccessfulImports,
			&rec.FailedImports, &status, &rec.ArchiveKey, &rec.CreatedAt, &completed); err != nil {
			rows.Close()
			return nil, err
		}
		rec.Status = ImportStatus(status)
		if completed.Valid {
			rec.CompletedAt = &completed.Int64
		}
		out = append(out, rec)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// errors are loaded after the outer cursor is released: sqlite runs on a single connection
	for i := range out {
		errs, err := s.importErrors(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Errors = errs
	}
	return out, nil
}

func (s *SQLStore) importErrors(ctx context.Context, importID int64) ([]ImportError, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT row_num, error_message FROM question_import_errors
		WHERE import_id=? ORDER BY row_num, id`), importID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []ImportError{}
	for rows.Next() {
		var e ImportError
		if err := rows.Scan(&e.RowNum, &e.Message); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func prefixed(prefix, cols string) string {
	out := make([]byte, 0, len(cols)*2)
	atStart := true
	for i := 0; i < len(cols); i++ {
		c := cols[i]
		isSpace := c == ' ' || c == '\n' || c == '\t' || c == ','
		if atStart && !isSpace {
			out = append(out, prefix...)
			atStart = false
		}
		if c == ',' {
			atStart = true
		}
		out = append(out, c)
	}
	return string(out)
}

func nonNilLevels(m map[cefr.Level]int) map[cefr.Level]int {
	if m == nil {
		return map[cefr.Level]int{}
	}
	return m
}

func nonNilFlagged(f []FlaggedQuestion) []FlaggedQuestion {
	if f == nil {
		return []FlaggedQuestion{}
	}
	return f
}
