/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

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
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/books/*       Catalog and checkout/return operations
  /api/checkouts/*   Per-user and overdue listings
  /api/stats         Library summary
  /api/health        Liveness probe
  /metrics           Prometheus metrics

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
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
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Book routes
		r.Route("/books", func(r chi.Router) {
			r.Get("/", h.ListBooks)
			r.Post("/", h.CreateBook)
			r.Get("/{id}", h.GetBook)
			r.Post("/{id}/checkout", h.CheckoutBook)
			r.Post("/{id}/return", h.ReturnBook)
			r.Post("/{id}/copies", h.ResizeCopies)
		})

		// Checkout routes
		r.Route("/checkouts", func(r chi.Router) {
			r.Get("/my", h.MyCheckouts)
			r.Get("/history", h.CheckoutHistory)
			r.Get("/overdue", h.OverdueCheckouts)
		})

		// Stats and utility routes
		r.Get("/stats", h.GetStats)
		r.Get("/health", h.Health)
	})

	// Prometheus metrics
	r.Handle("/metrics", promhttp.Handler())

	return r
}
