// Package api assembles the HTTP surface of the converter.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/dvloznov/statement-converter/internal/api/handlers"
	"github.com/dvloznov/statement-converter/internal/api/middleware"
	"github.com/dvloznov/statement-converter/internal/csvformat"
	"github.com/dvloznov/statement-converter/internal/jobs"
)

// MaxBodyBytes bounds request bodies. Statements are parsed in memory.
const MaxBodyBytes = 32 << 20

// Options configures NewRouter.
type Options struct {
	Log        zerolog.Logger
	CSVOptions csvformat.Options
	Publisher  jobs.Publisher
	JobStore   jobs.JobStore
}

// NewRouter returns the API handler with middleware applied.
func NewRouter(opts Options) http.Handler {
	statements := handlers.NewStatementsHandler(opts.CSVOptions)
	jobsHandler := handlers.NewJobsHandler(opts.Publisher, opts.JobStore)

	r := chi.NewRouter()
	r.Use(middleware.Recovery(opts.Log))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(opts.Log))
	r.Use(middleware.CORS)
	r.Use(chimw.RequestSize(MaxBodyBytes))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	r.Get("/health", handlers.HealthHandler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/formats", handlers.ListFormats)
		r.Post("/convert", statements.Convert)
		r.Post("/compare", statements.Compare)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", jobsHandler.CreateJob)
			r.Get("/", jobsHandler.ListJobs)
			r.Get("/{id}", jobsHandler.GetJob)
		})
	})

	return r
}
