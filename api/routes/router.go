package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/kitafinder-backend/api/controllers"
	billingcontrollers "github.com/angelmondragon/kitafinder-backend/api/controllers/billing"
	webhookcontrollers "github.com/angelmondragon/kitafinder-backend/api/controllers/webhooks"
	"github.com/angelmondragon/kitafinder-backend/api/middleware"
	"github.com/angelmondragon/kitafinder-backend/pkg/config"
	"github.com/angelmondragon/kitafinder-backend/pkg/logger"
	"github.com/angelmondragon/kitafinder-backend/pkg/metrics"
)

// RouterParams carries everything the HTTP surface needs.
type RouterParams struct {
	Config   *config.Config
	Logger   *logger.Logger
	Gatherer prometheus.Gatherer

	// Ready maps dependency names to their readiness probes.
	Ready map[string]controllers.Pinger

	Webhooks       webhookcontrollers.BillingWebhookService
	Verifier       webhookcontrollers.EventVerifier
	WebhookMetrics *metrics.WebhookMetrics
	Billing        billingcontrollers.StatusReader
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.Ready))
	})

	if p.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	r.With(middleware.BodyLimit(cfg.Webhook.MaxBodyBytes)).
		HandleFunc("/webhooks/billing", webhookcontrollers.BillingWebhook(p.Webhooks, p.Verifier, p.WebhookMetrics, logg))

	if p.Billing != nil {
		r.Get("/billing/accounts/{accountID}/status", billingcontrollers.AccountStatus(p.Billing, logg))
	}

	return r
}
