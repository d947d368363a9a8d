/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/awards            Point awards (admin/form)
  /api/bonus             Signed partner bonus API
  /api/accounts/*        Balance and history reads
  /api/stores/*          Per-store reward policy
  /api/orders/*          Redemption materialization
  /api/redemptions/*     Operator approval workflow

SECURITY NOTE:
  Only /api/bonus authenticates (HMAC). The remaining endpoints assume a
  trusted admin network; put them behind a reverse proxy with auth.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", SignatureHeader},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/awards", h.AwardPoints)
		r.Post("/bonus", h.AwardBonus)

		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Get("/entries", h.GetEntries)
		})

		r.Route("/stores/{id}", func(r chi.Router) {
			r.Get("/policy", h.GetPolicy)
			r.Put("/policy", h.PutPolicy)
			r.Get("/discount", h.GetDiscount)
		})

		r.Post("/orders/{orderID}/redemption", h.MaterializeRedemption)

		r.Route("/redemptions", func(r chi.Router) {
			r.Get("/", h.ListRedemptions)
			r.Get("/{id}", h.GetRedemption)
			r.Post("/{id}/approve", h.ApproveRedemption)
			r.Post("/{id}/reject", h.RejectRedemption)
		})
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
