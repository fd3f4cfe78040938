package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	api "github.com/mind-engage/mindengage-placement/internal/api/http"
	"github.com/mind-engage/mindengage-placement/internal/assessment"
	auth "github.com/mind-engage/mindengage-placement/internal/auth/middleware"
	"github.com/mind-engage/mindengage-placement/internal/calibration"
	"github.com/mind-engage/mindengage-placement/internal/importer"
	"github.com/mind-engage/mindengage-placement/internal/storage"
	syncx "github.com/mind-engage/mindengage-placement/internal/sync"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the placement HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TraceStdout {
		shutdown, err := initTracing()
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	dbh, drv, store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer dbh.Close()

	blobs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		return err
	}
	events := syncx.NewEventRepo(dbh, drv)
	users := auth.NewSQLUsers(dbh, drv)
	authSvc := auth.NewAuthService(cfg.HMACSecret, cfg.TokenTTL)

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	api.Mount(r, api.Deps{
		Auth:  authSvc,
		Users: users,
		Admin: auth.Admin{Username: cfg.AdminUser, PassHash: cfg.AdminPassHash},
		Sessions: assessment.NewService(store,
			assessment.WithEvents(events), assessment.WithLogger(log.With("svc", "assessment")),
			assessment.WithQuota(cfg.SessionQuota)),
		Analyzer: calibration.NewAnalyzer(store,
			calibration.WithEvents(events), calibration.WithLogger(log.With("svc", "calibration")),
			calibration.WithWorkers(cfg.CalibrationWorkers)),
		Importer: importer.New(store,
			importer.WithBlobs(blobs), importer.WithEvents(events),
			importer.WithLogger(log.With("svc", "importer"))),
		Events:     events,
		DB:         dbh,
		Log:        log,
		RoleFromDB: cfg.AttachRoleFromDB,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr, "mode", cfg.Mode, "db", drv)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

// initTracing installs a tracer provider that pretty-prints spans to stdout.
func initTracing() (func(context.Context) error, error) {
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
