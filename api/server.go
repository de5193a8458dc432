/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions. This
  is the wiring layer that connects URLs to handlers; all scheduling logic
  lives behind the orders service.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the tracking frontend

ROUTE GROUPS:
  /api/identifiers/*  Identifier allocation
  /api/queue/*        Work items and ranked queue
  /api/capacity/*     Pool reservations
  /api/adjustments/*  Scheduling passes and status
  /api/admin/*        Epoch calibration
  /api/events         SSE push channel

SEE ALSO:
  - handlers.go: Handler implementations
  - stream.go: SSE bridge
  - cmd/server: Server startup
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

	r.Route("/api", func(r chi.Router) {
		// Identifier allocation
		r.Route("/identifiers", func(r chi.Router) {
			r.Post("/allocate", h.AllocateIdentifier)
		})

		// Work queue
		r.Route("/queue", func(r chi.Router) {
			r.Get("/", h.GetQueue)
			r.Post("/items", h.CreateWorkItem)
			r.Get("/items/{id}", h.GetWorkItem)
			r.Post("/items/{id}/priority-change", h.MarkPriorityChanged)
		})

		// Capacity pools
		r.Route("/capacity", func(r chi.Router) {
			r.Get("/{pool}", h.GetCapacityStatus)
			r.Post("/{pool}/reserve", h.ReserveCapacity)
			r.Post("/{pool}/release", h.ReleaseCapacity)
		})

		// Adjustment scheduling
		r.Route("/adjustments", func(r chi.Router) {
			r.Post("/run", h.RunAdjustmentPass)
			r.Get("/passes", h.ListPasses)
		})

		// Admin: epoch calibration
		r.Route("/admin", func(r chi.Router) {
			r.Post("/calibrate", h.Calibrate)
			r.Get("/calibrations", h.ListCalibrations)
		})

		// SSE push channel
		r.Get("/events", h.StreamEvents)
	})

	return r
}
