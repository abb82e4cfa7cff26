package httpapi

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"vidgen/internal/http/handlers"
	"vidgen/internal/middleware"
	"vidgen/internal/ratelimit"
)

type RouterOptions struct {
	Logger         zerolog.Logger
	DefaultLocale  string
	CountryLookup  middleware.CountryLookup
	SubmitLimiter  *ratelimit.Limiter
	AllowedOrigins []string
}

func NewRouter(app *handlers.App, opts RouterOptions) stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Identity)
	r.Use(middleware.I18N(opts.DefaultLocale, opts.CountryLookup))
	r.Use(middleware.Logger(opts.Logger))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(middleware.CORS(opts.AllowedOrigins))
	}

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/jobs", func(r chi.Router) {
		if opts.SubmitLimiter != nil {
			r.With(middleware.RateLimit(opts.SubmitLimiter)).Post("/", app.CreateJob)
		} else {
			r.Post("/", app.CreateJob)
		}
		r.Get("/", app.ListJobs)
		r.Get("/{job_id}", app.GetJob)
		r.Post("/{job_id}/cancel", app.CancelJob)
		r.Post("/{job_id}/retry", app.RetryJob)
		r.Get("/{job_id}/video", app.DownloadVideo)
	})

	r.Route("/v1/providers", func(r chi.Router) {
		r.Get("/", app.ListProviders)
		r.Get("/{provider_id}/models", app.ProviderModels)
		r.Get("/{provider_id}/health", app.ProviderHealthCheck)
	})

	return r
}
