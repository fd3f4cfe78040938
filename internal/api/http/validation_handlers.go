package http

import (
	"net/http"

	"github.com/mind-engage/mindengage-placement/internal/calibration"
	"github.com/mind-engage/mindengage-placement/internal/cefr"
	"github.com/mind-engage/mindengage-placement/internal/platform/logger"
	"github.com/mind-engage/mindengage-placement/internal/rbac"
)

// GET /api/validation/question/{questionID}?save_to_db=
func AnalyzeQuestionHandler(an *calibration.Analyzer, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "questionID")
		if err != nil {
			fail(w, r, log, err)
			return
		}
		save, err := queryBool(r, "save_to_db", true)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		m, err := an.Analyze(r.Context(), id, save)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

// GET /api/validation/calibration-report?save_to_db=
func CalibrationReportHandler(an *calibration.Analyzer, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		save, err := queryBool(r, "save_to_db", true)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		rep, err := an.Report(r.Context(), save)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, rep)
	}
}

// GET /api/validation/calibration-history?limit=
func CalibrationHistoryHandler(an *calibration.Analyzer, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit", calibration.DefaultHistory)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		reps, err := an.History(r.Context(), limit)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"total_reports": len(reps), "reports": reps})
	}
}

// GET /api/validation/questions-needing-review?min_attempts=
func NeedingReviewHandler(an *calibration.Analyzer, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		minAttempts, err := queryInt(r, "min_attempts", calibration.DefaultMinAttempts)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		items, err := an.NeedingReview(r.Context(), minAttempts)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"total": len(items), "questions": items})
	}
}

type reclassifyRequest struct {
	NewLevel       cefr.Level `json:"new_level" validate:"required,cefr_level"`
	ReclassifiedBy string     `json:"reclassified_by" validate:"max=100"`
	Reason         string     `json:"reason" validate:"max=1000"`
}

// PUT /api/validation/reclassify/{questionID}
func ReclassifyHandler(an *calibration.Analyzer, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "questionID")
		if err != nil {
			fail(w, r, log, err)
			return
		}
		var req reclassifyRequest
		if err := decode(w, r, &req); err != nil {
			fail(w, r, log, err)
			return
		}
		by := req.ReclassifiedBy
		if by == "" {
			by = rbac.SubjectFromContext(r.Context())
		}
		res, err := an.Reclassify(r.Context(), id, req.NewLevel, by, req.Reason)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /api/validation/reclassification-history/{questionID}
func ReclassificationHistoryHandler(an *calibration.Analyzer, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := idParam(r, "questionID")
		if err != nil {
			fail(w, r, log, err)
			return
		}
		hist, err := an.ReclassificationHistory(r.Context(), id)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"question_id":             id,
			"total_reclassifications": len(hist),
			"history":                 hist,
		})
	}
}

// GET /api/validation/level-distribution
func LevelDistributionHandler(an *calibration.Analyzer, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := an.Coverage(r.Context())
		if err != nil {
			fail(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}
