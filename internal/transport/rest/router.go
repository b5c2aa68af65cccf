package rest

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/frahmantamala/payment-reconciliation/internal/auth"
	"github.com/frahmantamala/payment-reconciliation/internal/reconciliation"
	"github.com/frahmantamala/payment-reconciliation/internal/transport/middleware"
	"github.com/frahmantamala/payment-reconciliation/internal/transport/swagger"
	"github.com/frahmantamala/payment-reconciliation/internal/webhook"
)

// Routes carries the handlers mounted by RegisterAllRoutes. Nil handlers
// leave their routes unmounted.
type Routes struct {
	Health          *HealthHandler
	Webhook         *webhook.Handler
	Reconciliation  *reconciliation.Handler
	Auth            *auth.Middleware
	AdminPermission string
	AllowedOrigins  string
	OpenAPIPath     string
}

func RegisterAllRoutes(router *chi.Mux, routes Routes, logger *slog.Logger) {
	// Apply global middleware
	router.Use(middleware.CORS(routes.AllowedOrigins))
	router.Use(chiMiddleware.RequestID)
	router.Use(middleware.RequestID)
	router.Use(middleware.RecoveryMiddleware(logger))
	router.Use(middleware.LoggingMiddleware(logger))

	openAPIPath := routes.OpenAPIPath
	if openAPIPath == "" {
		openAPIPath = "./api/openapi.yml"
	}
	// Serve OpenAPI spec at root (outside API prefix)
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, openAPIPath)
	})
	router.Handle("/swagger/*", swagger.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		if routes.Health != nil {
			r.Get("/health", routes.Health.healthCheckHandler)
			r.Get("/ping", routes.Health.pingHandler)
		}

		// every method reaches the handler so it can answer 405 itself
		if routes.Webhook != nil {
			r.HandleFunc("/webhooks/payments", routes.Webhook.HandlePaymentWebhook)
		}

		if routes.Reconciliation != nil && routes.Auth != nil {
			h := routes.Reconciliation
			r.Group(func(pr chi.Router) {
				pr.Use(routes.Auth.Authenticate)
				pr.Use(routes.Auth.RequirePermission(routes.AdminPermission))

				pr.Route("/reconciliations", func(rr chi.Router) {
					rr.Post("/", h.StartReconciliation)
					rr.Get("/", h.ListReconciliations)
					rr.Get("/{id}", h.GetReconciliation)
					rr.Patch("/{id}", h.UpdateReconciliationStatus)
					rr.Get("/{id}/report", h.ExportReconciliation)
				})
			})
		}
	})
}
