package http

import (
	"net/http"
	"strconv"

	"github.com/mind-engage/mindengage-placement/internal/apierr"
	"github.com/mind-engage/mindengage-placement/internal/assessment"
	"github.com/mind-engage/mindengage-placement/internal/exam"
	"github.com/mind-engage/mindengage-placement/internal/platform/logger"
	"github.com/mind-engage/mindengage-placement/internal/rbac"
)

type sessionView struct {
	exam.Session
	Status exam.SessionStatus `json:"status"`
}

// POST /api/assessment/start
func StartAssessmentHandler(svc *assessment.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req assessment.StartRequest
		if err := readJSON(w, r, &req); err != nil {
			fail(w, r, log, err)
			return
		}
		sub := rbac.SubjectFromContext(r.Context())
		if req.StudentID == 0 {
			req.StudentID, _ = strconv.ParseInt(sub, 10, 64)
		}
		if err := checkStruct(&req); err != nil {
			fail(w, r, log, err)
			return
		}
		// students may only test themselves
		if rbac.RoleFromContext(r.Context()) == "student" && strconv.FormatInt(req.StudentID, 10) != sub {
			apierr.Write(w, apierr.New(http.StatusForbidden, apierr.CodeForbidden, "cannot start a session for another student"))
			return
		}
		res, err := svc.Start(r.Context(), req)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

// POST /api/assessment/submit-answer
func SubmitAnswerHandler(svc *assessment.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req assessment.SubmitRequest
		if err := decode(w, r, &req); err != nil {
			fail(w, r, log, err)
			return
		}
		if err := authorizeSession(r, svc, req.SessionID); err != nil {
			fail(w, r, log, err)
			return
		}
		res, err := svc.SubmitAnswer(r.Context(), req)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /api/assessment/results/{sessionID}
func ResultsHandler(svc *assessment.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "sessionID")
		if err != nil {
			fail(w, r, log, err)
			return
		}
		if err := authorizeSession(r, svc, id); err != nil {
			fail(w, r, log, err)
			return
		}
		res, err := svc.Results(r.Context(), id)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /api/assessment/student/{studentID}/history?limit=
func HistoryHandler(svc *assessment.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "studentID")
		if err != nil {
			fail(w, r, log, err)
			return
		}
		limit, err := queryInt(r, "limit", 10)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		sessions, err := svc.History(r.Context(), id, limit)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		views := make([]sessionView, len(sessions))
		for i, s := range sessions {
			views[i] = sessionView{Session: s, Status: s.Status()}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"student_id":  id,
			"total":       len(views),
			"assessments": views,
		})
	}
}

// POST /api/assessment/cancel/{sessionID}
func CancelHandler(svc *assessment.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "sessionID")
		if err != nil {
			fail(w, r, log, err)
			return
		}
		if err := authorizeSession(r, svc, id); err != nil {
			fail(w, r, log, err)
			return
		}
		sess, err := svc.Cancel(r.Context(), id)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, sessionView{Session: sess, Status: sess.Status()})
	}
}

// GET /api/assessment/current/{sessionID}
func CurrentQuestionHandler(svc *assessment.Service, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "sessionID")
		if err != nil {
			fail(w, r, log, err)
			return
		}
		if err := authorizeSession(r, svc, id); err != nil {
			fail(w, r, log, err)
			return
		}
		res, err := svc.Current(r.Context(), id)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// authorizeSession lets the caller touch a session only if it is theirs,
// unless the role may act on every session.
func authorizeSession(r *http.Request, svc *assessment.Service, sessionID int64) error {
	if rbac.Can(r.Context(), "assessment:sessions-all") {
		return nil
	}
	sess, err := svc.Session(r.Context(), sessionID)
	if err != nil {
		return err
	}
	if strconv.FormatInt(sess.StudentID, 10) != rbac.SubjectFromContext(r.Context()) {
		return apierr.New(http.StatusForbidden, apierr.CodeForbidden, "session belongs to another student")
	}
	return nil
}
