package handler

import (
	"net/http"

	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/config"
	"github.com/Shivanand-hulikatti/event-reg-and-ticketing/internal/metrics"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterConfig carries what NewRouter wires together.
type RouterConfig struct {
	Events   *EventHandler
	Payments *PaymentHandler
	Auth     config.AuthConfig
	// AllowedOrigin is sent as Access-Control-Allow-Origin.
	AllowedOrigin string
	Gatherer      prometheus.Gatherer
	Metrics       *metrics.Metrics
	Log           *zap.Logger
}

// NewRouter builds the HTTP routes.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware stack
	r.Use(chimiddleware.Recoverer) // recover from panics, return 500
	r.Use(chimiddleware.RequestID) // attach request IDs
	r.Use(chimiddleware.RealIP)    // trust X-Forwarded-For
	r.Use(Logger(cfg.Log, cfg.Metrics))
	r.Use(CORS(cfg.AllowedOrigin))

	r.Get("/health", HealthCheck)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	auth := Auth(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	r.Route("/events/{id}", func(r chi.Router) {
		r.Get("/", cfg.Events.GetEvent)
		r.Get("/registrations", cfg.Events.ListRegistrations)
		r.With(auth).Post("/register", cfg.Events.Toggle)
		r.With(auth).Delete("/register", cfg.Events.Unregister)
	})

	r.Route("/payment", func(r chi.Router) {
		// Provider-facing routes carry no bearer token.
		r.Get("/validate/{paymentId}", cfg.Payments.Validate)
		r.Post("/callback", cfg.Payments.Callback)

		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Get("/pay", cfg.Payments.Pay)
			r.Get("/transactions/{paymentId}", cfg.Payments.Transaction)
			r.Get("/transactions/{paymentId}/ticket", cfg.Payments.Ticket)
			r.Get("/transactions/{paymentId}/invoice", cfg.Payments.Invoice)
		})
	})

	return r
}
