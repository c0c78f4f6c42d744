package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	AllowedOrigins []string
	// RequestTimeout should exceed the search budget.
	RequestTimeout time.Duration
	AccessLog      bool
}

func NewRouter(h *Handlers, opts RouterOptions) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if opts.AccessLog {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Link"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/search", func(r chi.Router) {
			r.Post("/", h.Search)
			r.Post("/support", h.CheckSupport)
			r.Post("/url", h.BuildSearchURL)

			r.Post("/jobs", h.CreateJob)
			r.Get("/jobs", h.ListJobs)
			r.Get("/jobs/{jobID}", h.GetJob)
		})

		r.Route("/catalog", func(r chi.Router) {
			r.Get("/brands", h.ListBrands)
			r.Get("/brands/{brand}/models", h.ListModels)
		})

		r.Get("/stats", h.GetStats)
	})

	return r
}
