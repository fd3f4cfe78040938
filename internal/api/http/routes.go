package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mind-engage/mindengage-placement/internal/assessment"
	auth "github.com/mind-engage/mindengage-placement/internal/auth/middleware"
	"github.com/mind-engage/mindengage-placement/internal/calibration"
	"github.com/mind-engage/mindengage-placement/internal/importer"
	"github.com/mind-engage/mindengage-placement/internal/platform/logger"
	"github.com/mind-engage/mindengage-placement/internal/rbac"
	syncx "github.com/mind-engage/mindengage-placement/internal/sync"
)

type Deps struct {
	Auth       *auth.AuthService
	Users      auth.UserStore
	Admin      auth.Admin
	Sessions   *assessment.Service
	Analyzer   *calibration.Analyzer
	Importer   *importer.Importer
	Events     syncx.Feed
	DB         Pinger
	Log        *logger.Logger
	RoleFromDB bool
}

// Mount registers every route on r.
func Mount(r chi.Router, d Deps) {
	log := logger.OrNop(d.Log)

	r.Get("/healthz", HealthHandler())
	r.Get("/readyz", ReadyHandler(d.DB))
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/auth/login", auth.LoginHandler(d.Auth, d.Users, d.Admin))

	r.Route("/api", func(pr chi.Router) {
		pr.Use(auth.JWTMiddleware(d.Auth))
		if d.RoleFromDB {
			pr.Use(auth.AttachRoleFromDB(d.Users, false))
		}

		pr.Route("/assessment", func(ar chi.Router) {
			ar.With(rbac.Require("assessment:take")).
				Post("/start", StartAssessmentHandler(d.Sessions, log))
			ar.With(rbac.Require("assessment:take")).
				Post("/submit-answer", SubmitAnswerHandler(d.Sessions, log))
			ar.With(rbac.Require("assessment:take")).
				Get("/current/{sessionID}", CurrentQuestionHandler(d.Sessions, log))
			ar.With(rbac.Require("assessment:view")).
				Get("/results/{sessionID}", ResultsHandler(d.Sessions, log))
			ar.With(rbac.RequireOwnerOr("assessment:history-all", ownsStudentParam)).
				Get("/student/{studentID}/history", HistoryHandler(d.Sessions, log))
			ar.With(rbac.Require("assessment:cancel")).
				Post("/cancel/{sessionID}", CancelHandler(d.Sessions, log))
		})

		pr.Route("/questions", func(qr chi.Router) {
			qr.With(rbac.Require("bank:write")).
				Post("/create", CreateQuestionHandler(d.Importer, log))
			qr.With(rbac.Require("bank:read")).
				Get("/stats", QuestionStatsHandler(d.Importer, log))
		})

		pr.Route("/validation", func(vr chi.Router) {
			vr.With(rbac.Require("bank:import")).
				Post("/bulk-import", BulkImportHandler(d.Importer, log))
			vr.With(rbac.Require("calibration:run")).
				Get("/question/{questionID}", AnalyzeQuestionHandler(d.Analyzer, log))
			vr.With(rbac.Require("calibration:run")).
				Get("/calibration-report", CalibrationReportHandler(d.Analyzer, log))
			vr.With(rbac.Require("calibration:view")).
				Get("/calibration-history", CalibrationHistoryHandler(d.Analyzer, log))
			vr.With(rbac.Require("calibration:view")).
				Get("/questions-needing-review", NeedingReviewHandler(d.Analyzer, log))
			vr.With(rbac.Require("bank:reclassify")).
				Put("/reclassify/{questionID}", ReclassifyHandler(d.Analyzer, log))
			vr.With(rbac.Require("calibration:view")).
				Get("/reclassification-history/{questionID}", ReclassificationHistoryHandler(d.Analyzer, log))
			vr.With(rbac.Require("bank:read")).
				Get("/level-distribution", LevelDistributionHandler(d.Analyzer, log))
			vr.With(rbac.Require("bank:read")).
				Get("/import-history", ImportHistoryHandler(d.Importer, log))
		})

		pr.With(rbac.Require("users:bulk_upsert")).
			Post("/users/bulk", BulkUpsertUsersHandler(d.Users, log))
		pr.With(rbac.Require("users:list")).
			Get("/users", ListUsersHandler(d.Users, log))

		if d.Events != nil {
			pr.With(rbac.Require("events:read")).
				Get("/events", EventsHandler(d.Events, log))
		}
	})
}

func ownsStudentParam(r *http.Request) bool {
	sub := rbac.SubjectFromContext(r.Context())
	return sub != "" && chi.URLParam(r, "studentID") == sub
}
