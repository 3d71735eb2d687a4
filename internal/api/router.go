/**
 * @description
 * HTTP routing for the license service. Client endpoints are public but
 * throttled per IP, the webhook is authenticated by its signature and the
 * admin API by a shared token.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig carries the settings NewRouter needs besides the handlers.
type RouterConfig struct {
	AdminToken string
	// Throttle limits client endpoints. Nil disables throttling.
	Throttle *IPThrottle
	// Gatherer backs /metrics. Nil hides the endpoint.
	Gatherer prometheus.Gatherer
}

// NewRouter creates a new Chi router and registers the license-service routes.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*", "tauri://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Admin-Token", "X-Signature"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("License service is healthy"))
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Post("/webhooks/lemonsqueezy", h.handleWebhook)

		r.Group(func(r chi.Router) {
			if cfg.Throttle != nil {
				r.Use(cfg.Throttle.Middleware)
			}
			r.Post("/license/activate", h.handleActivate)
			r.Post("/license/deactivate", h.handleDeactivate)
			r.Post("/license/validate", h.handleValidate)
			r.Post("/ai/chat", h.handleAdvisorChat)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuthMiddleware(cfg.AdminToken))
			r.Get("/licenses", h.handleListLicenses)
			r.Post("/licenses", h.handleIssueLicense)
			r.Get("/licenses/{id}", h.handleGetLicense)
			r.Post("/licenses/{id}/revoke", h.handleRevokeLicense)
		})
	})

	return r
}
