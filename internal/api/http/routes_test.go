package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mind-engage/mindengage-placement/internal/assessment"
	auth "github.com/mind-engage/mindengage-placement/internal/auth/middleware"
	"github.com/mind-engage/mindengage-placement/internal/calibration"
	"github.com/mind-engage/mindengage-placement/internal/cefr"
	"github.com/mind-engage/mindengage-placement/internal/exam"
	"github.com/mind-engage/mindengage-placement/internal/importer"
	"github.com/mind-engage/mindengage-placement/internal/platform/logger"
	syncx "github.com/mind-engage/mindengage-placement/internal/sync"
)

type memUsers struct{ rows []auth.UserInput }

func (m *memUsers) FindByUsername(_ context.Context, name string) (auth.User, error) {
	return auth.User{}, fmt.Errorf("user %q: %w", name, exam.ErrNotFound)
}

func (m *memUsers) RoleOf(context.Context, int64) (string, error) { return "", exam.ErrNotFound }

func (m *memUsers) Upsert(_ context.Context, rows []auth.UserInput) (int, int, error) {
	m.rows = append(m.rows, rows...)
	return len(rows), 0, nil
}

func (m *memUsers) List(_ context.Context, role string) ([]auth.User, error) {
	out := []auth.User{}
	for i, r := range m.rows {
		if role == "" || r.Role == role {
			out = append(out, auth.User{ID: int64(i + 1), Username: r.Username, Role: r.Role})
		}
	}
	return out, nil
}

type server struct {
	h      http.Handler
	authn  *auth.AuthService
	store  *exam.MemoryStore
	users  *memUsers
	events *syncx.MemoryLog
}

func newServer(t *testing.T, stock bool) *server {
	t.Helper()
	st := exam.NewInMemoryStore()
	st.Seed(3)
	st.AddStudent(7)
	st.AddStudent(8)
	if stock {
		ctx := context.Background()
		for _, l := range cefr.Levels {
			for _, sk := range cefr.Skills {
				for i := 0; i < 2; i++ {
					_, err := st.InsertQuestion(ctx, exam.Question{
						Text: fmt.Sprintf("%s/%s/%d", l, sk, i), Type: cefr.MultipleChoice,
						Level: l, Skill: sk, Options: []string{"ok", "no"}, CorrectAnswer: "ok",
					})
					require.NoError(t, err)
				}
			}
		}
	}
	events := &syncx.MemoryLog{}
	users := &memUsers{}
	pw, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	a := auth.NewAuthService("test-secret", time.Hour)

	r := chi.NewRouter()
	Mount(r, Deps{
		Auth:     a,
		Users:    users,
		Admin:    auth.Admin{Username: "admin", PassHash: string(pw)},
		Sessions: assessment.NewService(st, assessment.WithEvents(events), assessment.WithLogger(logger.Nop())),
		Analyzer: calibration.NewAnalyzer(st, calibration.WithEvents(events), calibration.WithLogger(logger.Nop())),
		Importer: importer.New(st, importer.WithEvents(events), importer.WithLogger(logger.Nop())),
		Events:   events,
		Log:      logger.Nop(),
	})
	return &server{h: r, authn: a, store: st, users: users, events: events}
}

func (s *server) token(t *testing.T, sub, role string) string {
	t.Helper()
	tok, _, err := s.authn.IssueJWT(sub, role)
	require.NoError(t, err)
	return tok
}

func (s *server) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	s := newServer(t, false)

	rec := s.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, ServiceName, body["service"])

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/readyz", "", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/metrics", "", nil).Code)
}

func TestAPIRequiresToken(t *testing.T) {
	s := newServer(t, true)
	rec := s.do(t, http.MethodPost, "/api/assessment/start", "", map[string]any{})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeBody(t, rec)["error"])
}

func TestAdminLoginThenAccess(t *testing.T) {
	s := newServer(t, true)
	rec := s.do(t, http.MethodPost, "/auth/login", "", map[string]string{"username": "admin", "password": "s3cret"})
	require.Equal(t, http.StatusOK, rec.Code)
	tok, _ := decodeBody(t, rec)["access_token"].(string)
	require.NotEmpty(t, tok)

	rec = s.do(t, http.MethodGet, "/api/questions/stats", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2*len(cefr.Levels)*len(cefr.Skills), decodeBody(t, rec)["total_questions"])
}

func TestStudentTakesAssessment(t *testing.T) {
	s := newServer(t, true)
	tok := s.token(t, "7", "student")

	rec := s.do(t, http.MethodPost, "/api/assessment/start", tok, map[string]any{})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var start assessment.StartResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))
	assert.Equal(t, 1, start.QuestionNumber)
	assert.Equal(t, cefr.B1, start.Question.Level)
	assert.Empty(t, start.Question.CorrectAnswer)
	assert.NotContains(t, rec.Body.String(), "correct_answer")

	rec = s.do(t, http.MethodPost, "/api/assessment/submit-answer", tok, map[string]any{
		"session_id": start.SessionID, "question_id": start.Question.ID, "student_answer": "no",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["is_correct"])
	assert.Equal(t, "ok", body["correct_answer"])
	assert.Equal(t, false, body["assessment_complete"])

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/assessment/results/%d", start.SessionID), tok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_state", decodeBody(t, rec)["error"])

	rec = s.do(t, http.MethodPost, fmt.Sprintf("/api/assessment/cancel/%d", start.SessionID), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decodeBody(t, rec)["status"])

	rec = s.do(t, http.MethodGet, "/api/assessment/student/7/history", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["total"])
}

func TestStudentCannotActForOthers(t *testing.T) {
	s := newServer(t, true)
	tok := s.token(t, "7", "student")

	rec := s.do(t, http.MethodPost, "/api/assessment/start", tok, map[string]any{"student_id": 8})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/assessment/student/8/history", tok, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/validation/calibration-report", tok, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/users", tok, nil).Code)

	teacher := s.token(t, "teacher1", "teacher")
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/assessment/student/8/history", teacher, nil).Code)
}

func TestSessionRoutesCheckOwner(t *testing.T) {
	s := newServer(t, true)
	owner := s.token(t, "7", "student")
	other := s.token(t, "8", "student")

	rec := s.do(t, http.MethodPost, "/api/assessment/start", owner, map[string]any{})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var start assessment.StartResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))
	submit := map[string]any{"session_id": start.SessionID, "question_id": start.Question.ID, "student_answer": "ok"}

	rec = s.do(t, http.MethodPost, "/api/assessment/submit-answer", other, submit)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, fmt.Sprintf("/api/assessment/results/%d", start.SessionID), other, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, fmt.Sprintf("/api/assessment/current/%d", start.SessionID), other, nil).Code)
	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodPost, fmt.Sprintf("/api/assessment/cancel/%d", start.SessionID), other, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/assessment/cancel/9999", other, nil).Code)

	// the owner's session is untouched
	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/assessment/current/%d", start.SessionID), owner, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var cur assessment.CurrentResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cur))
	require.NotNil(t, cur.Question)
	assert.Equal(t, start.Question.ID, cur.Question.ID)
	assert.Equal(t, 1, cur.QuestionNumber)

	rec = s.do(t, http.MethodPost, "/api/assessment/submit-answer", owner, submit)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, true, decodeBody(t, rec)["is_correct"])

	teacher := s.token(t, "teacher1", "teacher")
	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/assessment/results/%d", start.SessionID), teacher, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubmitRejectsBlankAnswer(t *testing.T) {
	s := newServer(t, true)
	tok := s.token(t, "7", "student")
	rec := s.do(t, http.MethodPost, "/api/assessment/start", tok, map[string]any{})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var start assessment.StartResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &start))

	for _, answer := range []string{"", "   "} {
		rec = s.do(t, http.MethodPost, "/api/assessment/submit-answer", tok, map[string]any{
			"session_id": start.SessionID, "question_id": start.Question.ID, "student_answer": answer,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "answer %q", answer)
	}
}

func TestStartErrorsMapToStatus(t *testing.T) {
	s := newServer(t, false)
	admin := s.token(t, "admin", "admin")

	rec := s.do(t, http.MethodPost, "/api/assessment/start", admin, map[string]any{"student_id": 7})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "question_bank_insufficient", decodeBody(t, rec)["error"])

	rec = s.do(t, http.MethodPost, "/api/assessment/start", admin, map[string]any{"student_id": 99})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/assessment/start", admin, map[string]any{"student_id": 7, "self_reported_level": "Z1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "validation_failed", body["error"])
	assert.NotEmpty(t, body["details"])
}

func TestBulkImportAndCalibration(t *testing.T) {
	s := newServer(t, false)
	teacher := s.token(t, "teacher1", "teacher")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "bank.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("question_text,question_type,difficulty_level,skill_focus,option_1,option_2,correct_answer\n" +
		"Q one,multiple_choice,A1,grammar,a,b,a\n" +
		"Q two,multiple_choice,X9,grammar,a,b,a\n"))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("uploaded_by", "teacher1"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/validation/bulk-import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+teacher)
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res importer.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, 1, res.Successful)
	assert.Equal(t, 1, res.ValidationFailures)
	require.Len(t, res.ImportedIDs, 1)
	qid := res.ImportedIDs[0]

	rec = s.do(t, http.MethodGet, "/api/validation/import-history", teacher, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["total_imports"])

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/validation/question/%d?save_to_db=false", qid), teacher, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 0, decodeBody(t, rec)["total_attempts"])

	rec = s.do(t, http.MethodPut, fmt.Sprintf("/api/validation/reclassify/%d", qid), teacher, map[string]string{"new_level": "Q7"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPut, fmt.Sprintf("/api/validation/reclassify/%d", qid), teacher, map[string]string{"new_level": "A2", "reason": "too easy"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, fmt.Sprintf("/api/validation/reclassification-history/%d", qid), teacher, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["total_reclassifications"])

	rec = s.do(t, http.MethodGet, "/api/validation/calibration-report?save_to_db=false", teacher, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/api/validation/level-distribution", teacher, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decodeBody(t, rec)["total_questions"])

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/validation/question/abc", teacher, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/validation/question/999", teacher, nil).Code)
}

func TestBulkImportRejectsNonCSV(t *testing.T) {
	s := newServer(t, false)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "bank.xlsx")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("x"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/validation/bulk-import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+s.token(t, "admin", "admin"))
	rec := httptest.NewRecorder()
	s.h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateQuestionValidates(t *testing.T) {
	s := newServer(t, false)
	tok := s.token(t, "teacher1", "teacher")

	rec := s.do(t, http.MethodPost, "/api/questions/create", tok, map[string]any{
		"question_text": "Pick one", "question_type": "multiple_choice", "difficulty_level": "B2",
		"skill_focus": "reading", "options": []string{"x", "y"}, "correct_answer": "z",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Correct answer 'z' not found in options")

	rec = s.do(t, http.MethodPost, "/api/questions/create", tok, map[string]any{
		"question_text": "Pick one", "question_type": "multiple_choice", "difficulty_level": "B2",
		"skill_focus": "reading", "options": []string{"x", "y"}, "correct_answer": "y",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "B2", decodeBody(t, rec)["difficulty_level"])
}

func TestUsersBulkAndList(t *testing.T) {
	s := newServer(t, false)
	tok := s.token(t, "admin", "admin")

	rec := s.do(t, http.MethodPost, "/api/users/bulk", tok, []map[string]string{
		{"username": " ana ", "role": "Student", "password": "pw"},
		{"username": "tom", "role": "teacher", "password": "pw"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 2, decodeBody(t, rec)["inserted"])
	assert.Equal(t, "ana", s.users.rows[0].Username)
	assert.Equal(t, "student", s.users.rows[0].Role)

	rec = s.do(t, http.MethodGet, "/api/users?role=teacher", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got []auth.User
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "tom", got[0].Username)

	rec = s.do(t, http.MethodPost, "/api/users/bulk", tok, []map[string]string{{"username": "x", "role": "janitor"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReadUsersSniffsFormat(t *testing.T) {
	rows, err := readUsers(strings.NewReader("username,role,password\nana,student,pw\nbo,,\n"))
	require.NoError(t, err)
	assert.Equal(t, []auth.UserInput{{Username: "ana", Role: "student", Password: "pw"}, {Username: "bo"}}, rows)

	rows, err = readUsers(strings.NewReader("\n  [{\"username\":\"cy\"}]"))
	require.NoError(t, err)
	assert.Equal(t, []auth.UserInput{{Username: "cy"}}, rows)

	_, err = readUsers(strings.NewReader("name\nx\n"))
	assert.ErrorIs(t, err, exam.ErrValidation)
	_, err = readUsers(strings.NewReader(""))
	assert.ErrorIs(t, err, exam.ErrValidation)
}

func TestEventsFeed(t *testing.T) {
	s := newServer(t, true)
	require.NoError(t, s.events.Append(context.Background(), syncx.TypeQuestionsImported, "1", map[string]int{"n": 1}))
	require.NoError(t, s.events.Append(context.Background(), syncx.TypeCalibrationReport, "2", map[string]int{"n": 2}))

	admin := s.token(t, "admin", "admin")
	rec := s.do(t, http.MethodGet, "/api/events?since=1", admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["next"])
	assert.Len(t, body["events"], 1)

	assert.Equal(t, http.StatusForbidden, s.do(t, http.MethodGet, "/api/events", s.token(t, "t", "teacher"), nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/events?since=-1", admin, nil).Code)
}
