package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"crowdfund/internal/http/handlers"
	"crowdfund/internal/infra"
	"crowdfund/internal/middleware"
)

// Options carries the cross-cutting settings the router needs.
type Options struct {
	JWTSecret       string
	JWTIssuer       string
	AllowedOrigins  []string
	RateLimitPerMin int
	CountryLookup   middleware.CountryLookup
	Logger          infra.Logger
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(opts.Logger),
		chimw.Recoverer,
		middleware.CORS(opts.AllowedOrigins),
		middleware.Country(opts.CountryLookup),
	)

	r.Get("/v1/healthz", app.Health)
	r.Get("/v1/openapi.json", app.OpenAPIJSON)
	r.Get("/v1/docs", app.OpenAPIDocs)

	// Processor callbacks are authenticated by signature, not bearer token.
	r.Post("/v1/webhooks/card", app.CardWebhook)

	auth := middleware.AuthJWT(opts.JWTSecret, opts.JWTIssuer)
	limit := opts.RateLimitPerMin
	if limit <= 0 {
		limit = 30
	}

	r.Route("/v1/projects", func(r chi.Router) {
		r.Get("/", app.ProjectsList)
		r.Get("/{id}", app.ProjectsGet)
		r.Get("/{id}/updates", app.ProjectUpdatesList)
		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Post("/", app.ProjectsCreate)
			r.Post("/{id}/updates", app.ProjectUpdatesCreate)
		})
	})

	r.Route("/v1/donations", func(r chi.Router) {
		r.Use(auth)
		r.Get("/mine", app.DonationsMine)
		r.Get("/{rail}/{ref}", app.DonationStatus)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(limit, time.Minute))
			r.Post("/checkout", app.DonationsCheckout)
			r.Post("/chain", app.DonationsChain)
		})
	})

	return r
}
