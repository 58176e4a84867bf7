package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"mediagateway/internal/http/handlers"
	"mediagateway/internal/infra"
	"mediagateway/internal/metrics"
	"mediagateway/internal/middleware"
)

// RouterOptions carries the cross-cutting settings of the HTTP surface.
type RouterOptions struct {
	Logger         *infra.Logger
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	RateLimit      int
	WebhookAPIKey  string
	CountryLookup  middleware.CountryLookup
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Country(opts.CountryLookup),
		middleware.Logger(logger),
		middleware.CORS(opts.AllowedOrigins),
	)

	r.Get("/healthz", app.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(opts.RateLimit, time.Minute))
		r.Post("/api/gateway", app.Gateway)
		r.Post("/api/gateway/*", app.Gateway)
		r.Get("/download", app.Download)
	})

	r.With(middleware.APIKey(opts.WebhookAPIKey)).Post("/webhooks/payment", app.PaymentWebhook)

	return r
}
