package rest

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"

	"github.com/okhalifa/storefront-payments/internal/payment"
	"github.com/okhalifa/storefront-payments/internal/transport/middleware"
	"github.com/okhalifa/storefront-payments/internal/transport/swagger"
)

func RegisterAllRoutes(router *chi.Mux, db *sql.DB, paymentHandler *payment.Handler, webhookHandler *payment.WebhookHandler, logger *slog.Logger) {
	healthHandler := NewHealthHandler(db)

	router.Use(chiMiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.RecoveryMiddleware(logger))

	// Serve OpenAPI spec at root
	router.Get("/openapi.yml", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, "./api/openapi.yml")
	})
	router.Handle("/swagger/*", swagger.Handler())

	router.Get("/health", healthHandler.healthCheckHandler)
	router.Get("/ping", healthHandler.pingHandler)

	router.Route("/payment", func(r chi.Router) {
		if paymentHandler != nil {
			r.Post("/create", paymentHandler.CreatePayment)
			r.Get("/create", paymentHandler.Probe)
		}
		if webhookHandler != nil {
			r.Post("/webhook", webhookHandler.HandleCallback)
			r.Get("/webhook", webhookHandler.Probe)
		}
	})
}
