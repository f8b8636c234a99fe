// Package http exposes the order and payment services over REST.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type RouterConfig struct {
	CORSOrigins      []string
	RateLimitEnabled bool
	RateLimitReqs    int
	RateLimitWindow  time.Duration
}

type Router struct {
	Orders   *OrderHandler
	Payments *PaymentHandler
	Webhook  *WebhookHandler
	// Authenticate guards every /api/v1 route except the webhook.
	Authenticate func(http.Handler) http.Handler
	// Ping reports whether the database is reachable.
	Ping   func(ctx context.Context) error
	Config RouterConfig
}

func (rt Router) Handler() *chi.Mux {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(accessLog)
	router.Use(middleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(rt.Config.CORSOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", IdempotencyKeyHeader},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", rt.handleHealth)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(api chi.Router) {
		if rt.Webhook != nil {
			rt.Webhook.RegisterRoutes(api)
		}

		api.Group(func(protected chi.Router) {
			if rt.Config.RateLimitEnabled && rt.Config.RateLimitReqs > 0 {
				protected.Use(httprate.LimitByIP(rt.Config.RateLimitReqs, rt.Config.RateLimitWindow))
			}
			if rt.Authenticate != nil {
				protected.Use(rt.Authenticate)
			}
			if rt.Orders != nil {
				rt.Orders.RegisterRoutes(protected)
			}
			if rt.Payments != nil {
				rt.Payments.RegisterRoutes(protected)
			}
		})
	})

	return router
}

func (rt Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	if rt.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rt.Ping(ctx); err != nil {
			log.Error().Err(err).Msg("handler: health check failed")
			respondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func allowedOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
