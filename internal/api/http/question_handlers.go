package http

import (
	"net/http"
	"strings"

	"github.com/mind-engage/mindengage-placement/internal/apierr"
	"github.com/mind-engage/mindengage-placement/internal/importer"
	"github.com/mind-engage/mindengage-placement/internal/platform/logger"
)

const maxUpload = 10 << 20

type createQuestionRequest struct {
	QuestionText  string   `json:"question_text" validate:"required"`
	QuestionType  string   `json:"question_type" validate:"required,question_type"`
	Level         string   `json:"difficulty_level" validate:"required,cefr_level"`
	Skill         string   `json:"skill_focus" validate:"required,cefr_skill"`
	Options       []string `json:"options" validate:"min=2,max=6"`
	CorrectAnswer string   `json:"correct_answer" validate:"required"`
	Explanation   string   `json:"explanation"`
}

// POST /api/questions/create
func CreateQuestionHandler(im *importer.Importer, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createQuestionRequest
		if err := decode(w, r, &req); err != nil {
			fail(w, r, log, err)
			return
		}
		q, err := im.CreateQuestion(r.Context(), importer.Row{
			QuestionText:  req.QuestionText,
			QuestionType:  req.QuestionType,
			Level:         req.Level,
			Skill:         req.Skill,
			Options:       req.Options,
			CorrectAnswer: req.CorrectAnswer,
			Explanation:   req.Explanation,
		})
		if err != nil {
			fail(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusCreated, q)
	}
}

// GET /api/questions/stats
func QuestionStatsHandler(im *importer.Importer, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := im.Stats(r.Context())
		if err != nil {
			fail(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// POST /api/validation/bulk-import (multipart: file, uploaded_by)
func BulkImportHandler(im *importer.Importer, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
		f, hdr, err := r.FormFile("file")
		if err != nil {
			apierr.Write(w, apierr.New(http.StatusBadRequest, apierr.CodeBadRequest, "file required"))
			return
		}
		defer f.Close()
		if !strings.HasSuffix(strings.ToLower(hdr.Filename), ".csv") {
			apierr.Write(w, apierr.New(http.StatusBadRequest, apierr.CodeBadRequest, "File must be a CSV"))
			return
		}
		by := r.FormValue("uploaded_by")
		res, err := im.ImportCSV(r.Context(), f, by)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /api/validation/import-history?limit=
func ImportHistoryHandler(im *importer.Importer, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := queryInt(r, "limit", importer.DefaultHistory)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		recs, err := im.History(r.Context(), limit)
		if err != nil {
			fail(w, r, log, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"total_imports": len(recs), "imports": recs})
	}
}
