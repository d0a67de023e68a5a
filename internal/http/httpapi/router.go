// Package httpapi wires middleware and handlers into the public router.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"server/internal/http/handlers"
	"server/internal/infra"
	"server/internal/middleware"
)

// NewRouter assembles the HTTP surface. Callback and payment webhooks sit
// outside the JWT group since the callers are machines, not users; they
// authenticate with their own secrets.
func NewRouter(app *handlers.App, cfg *infra.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(app.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/v1/healthz", app.Health)

	r.Post("/v1/callbacks/generation", app.GenerationCallback)
	r.Post("/v1/webhooks/payment", app.PaymentWebhook)

	r.Route("/v1/generations", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))

		r.With(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute)).
			Post("/", app.GenerationsCreate)
		r.Get("/", app.GenerationsList)
		r.Get("/stats", app.GenerationsStats)
		r.Post("/cleanup", app.GenerationsCleanup)
		r.Delete("/{id}", app.GenerationsDelete)
	})

	fileServer := http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StoragePath)))
	r.Get("/static/*", fileServer.ServeHTTP)

	return r
}
