package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apihandler "github.com/maraichr/sheetflow/internal/api/handler"
	apimw "github.com/maraichr/sheetflow/internal/api/middleware"
	"github.com/maraichr/sheetflow/internal/progress"
)

// RouterDeps holds the collaborators the HTTP surface needs.
type RouterDeps struct {
	DB             apihandler.Pinger
	Queue          apihandler.Pinger
	Uploads        apihandler.UploadReader
	Intake         apihandler.Submitter
	Hub            *progress.Hub
	UploadDir      string
	MaxUploadBytes int64
}

func NewRouter(logger *slog.Logger, deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(apimw.Logger(logger))
	r.Use(apimw.CORS)
	r.Use(chimw.Recoverer)

	health := apihandler.NewHealthHandler(deps.DB, deps.Queue)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	if deps.Hub != nil {
		ws := apihandler.NewProgressHandler(logger, deps.Hub)
		r.Get("/ws", ws.ServeWS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apimw.Metrics)

		queries := apihandler.NewUploadQueryHandler(logger, deps.Uploads)
		r.Route("/uploads", func(r chi.Router) {
			r.Get("/", queries.List)
			if deps.Intake != nil {
				upload := apihandler.NewUploadHandler(logger, deps.Intake, deps.UploadDir, deps.MaxUploadBytes)
				r.Post("/", upload.Upload)
			}
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", queries.Get)
				r.Get("/errors", queries.Errors)
				r.Get("/chunks", queries.Chunks)
			})
		})
	})

	return r
}
