package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Post("/reservations", h.Reserve)
		r.Delete("/reservations/{bookingId}", h.Release)

		r.Get("/fields/{fieldId}/availability", h.GetAvailability)

		r.Route("/maintenance", func(r chi.Router) {
			r.Post("/", h.SetMaintenance)
			r.Post("/slots/{slotId}/toggle", h.ToggleMaintenance)
			r.Delete("/", h.RemoveMaintenance)
		})
	})

	return r
}
