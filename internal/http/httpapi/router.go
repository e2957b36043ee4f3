package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/DavidJBarnes/wanly-api/internal/http/handlers"
	"github.com/DavidJBarnes/wanly-api/internal/middleware"
)

// Options tunes the router's middleware stack.
type Options struct {
	Logger         zerolog.Logger
	AllowedOrigins []string
	// Limiter, when set, applies per-IP rate limiting.
	Limiter        middleware.Limiter
	RequestTimeout time.Duration
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(opts.Logger),
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)
	if opts.Limiter != nil {
		r.Use(middleware.RateLimitWith(opts.Limiter, opts.Logger))
	}
	if opts.RequestTimeout > 0 {
		r.Use(chimw.Timeout(opts.RequestTimeout))
	}

	// Health
	r.Get("/v1/healthz", app.Health)

	// Owner-scoped queue management.
	r.Group(func(r chi.Router) {
		r.Use(middleware.Owner)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", app.CreateJob)
			r.Get("/", app.ListJobs)
			r.Put("/reorder", app.ReorderJobs)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/", app.GetJob)
				r.Patch("/", app.UpdateJob)
				r.Delete("/", app.DeleteJob)
				r.Post("/reopen", app.ReopenJob)
				r.Post("/segments", app.AddSegment)
			})
		})
		r.Get("/estimate", app.Estimate)
		r.Get("/stats", app.Stats)
	})

	// Worker protocol and segment maintenance.
	r.Route("/segments", func(r chi.Router) {
		r.Get("/next", app.NextSegment)
		r.Patch("/{segment_id}", app.UpdateSegment)
		r.Post("/{segment_id}/upload", app.UploadSegment)
		r.Post("/{segment_id}/retry", app.RetrySegment)
		r.Delete("/{segment_id}", app.DeleteSegment)
	})
	r.Get("/files", app.FetchFile)

	return r
}
