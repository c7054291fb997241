/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/enrollments/* Fee view, ledger, overrides, payments, adjustments
  /api/payments/*    Receipt edit and cancellation
  /api/adjustments/* Adjustment cancellation
  /api/components    Component catalog
  /api/plans/*       Catalog administration
  /api/admin/*       Demo tooling (reset)

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Enrollment routes
		r.Route("/enrollments/{id}", func(r chi.Router) {
			r.Get("/fees", h.GetFees)
			r.Get("/ledger", h.GetLedger)
			r.Put("/overrides", h.PutOverride)
			r.Post("/payments", h.PostPayment)
			r.Post("/adjustments", h.PostAdjustment)
		})

		// Payment routes (receipt-scoped)
		r.Route("/payments", func(r chi.Router) {
			r.Put("/{receiptID}", h.PutPayment)
			r.Delete("/{receiptID}", h.DeletePayment)
		})

		// Adjustment routes
		r.Route("/adjustments", func(r chi.Router) {
			r.Delete("/{id}", h.DeleteAdjustment)
		})

		// Catalog routes
		r.Get("/components", h.GetComponents)
		r.Route("/plans/{planID}", func(r chi.Router) {
			r.Put("/items", h.PutPlanItem)
		})

		// Admin routes
		r.Post("/admin/reset", h.PostReset)
	})

	return r
}
