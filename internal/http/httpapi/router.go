package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"genstudio/internal/http/handlers"
	"genstudio/internal/middleware"
)

type Options struct {
	JWTSecret       string
	WorkerSecret    string
	CORSOrigins     []string
	RateLimitPerMin int
	// Static serves persisted artifacts under /static/ when set.
	Static http.Handler
	Logger zerolog.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(opts.Logger),
		chimw.Recoverer,
		middleware.CORS(opts.CORSOrigins),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	if opts.Static != nil {
		r.Handle("/static/*", http.StripPrefix("/static/", opts.Static))
	}

	r.Post("/v1/webhooks/provider", app.ProviderWebhook)

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(opts.JWTSecret))
		r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))

		r.Route("/v1/generations", func(r chi.Router) {
			r.Post("/", app.GenerationsCreate)
			r.Get("/", app.GenerationsList)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", app.GenerationsGet)
				r.Post("/cancel", app.GenerationsCancel)
				r.Post("/finalize", app.GenerationsFinalize)
				r.Get("/stream", app.GenerationStream)
			})
		})
		r.Get("/v1/credits", app.CreditsBalance)
		r.Get("/v1/credits/transactions", app.CreditsHistory)
	})

	r.Route("/internal", func(r chi.Router) {
		r.Use(middleware.WorkerSecret(opts.WorkerSecret))
		r.Post("/generations", app.InternalGenerationsCreate)
		r.Post("/worker/tick", app.WorkerTick)
		r.Post("/worker/reclaim", app.WorkerReclaim)
	})

	return r
}
