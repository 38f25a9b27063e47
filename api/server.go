/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the management frontend

ROUTE GROUPS:
  /api/punches     Punch ingestion
  /api/visits/*    Visit queries, anomalies, summaries
  /api/members/*   Member directory and punch audit log
  /api/policies/*  Branch configuration
  /api/scenarios/* Demo data loading (development)
  /api/admin/*     Manual sweep trigger

SECURITY NOTE:
  No authentication middleware here; the engine sits behind the club
  management gateway, which owns auth and sessions.

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
func NewRouter(h *Handler, scheduler *AutoCloseScheduler) *chi.Mux {
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
		// Punch ingestion
		r.Post("/punches", h.RecordPunch)

		// Visit queries
		r.Route("/visits", func(r chi.Router) {
			r.Get("/", h.ListVisits)
			r.Get("/anomalies", h.ListAnomalies)
			r.Get("/summary", h.GetSummary)
		})

		// Member directory
		r.Route("/members", func(r chi.Router) {
			r.Get("/", h.ListMembers)
			r.Post("/", h.SaveMember)
			r.Get("/{id}/events", h.ListMemberEvents)
		})

		// Branch policies
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", h.ListPolicies)
			r.Get("/{branchID}", h.GetPolicy)
			r.Put("/{branchID}", h.SavePolicy)
		})

		// Demo scenarios (development only)
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/sweep", scheduler.TriggerSweep)
		})
	})

	return r
}
