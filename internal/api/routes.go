package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (h *Handler) Routes(m *Middleware, corsOrigins []string, rateLimitRPM int) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(m.RequestID)
	r.Use(m.RequestLogger)
	r.Use(m.Recoverer)
	r.Use(m.SecurityHeaders)
	r.Use(middleware.Heartbeat("/ping"))

	// CORS and rate limiting - configured from main
	r.Use(m.CORS(corsOrigins))
	r.Use(m.RateLimit(rateLimitRPM))

	// Health endpoints
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	r.Route("/v1", func(r chi.Router) {
		// Request/response endpoints get compression and a deadline; the
		// streaming ones below must not.
		r.Group(func(r chi.Router) {
			r.Use(m.Compress)
			r.Use(m.Timeout(15 * time.Second))

			r.Post("/jsonrpc", h.HandleJSONRPC)

			r.Route("/pairs", func(r chi.Router) {
				r.Get("/", h.ListPairs)
				r.Post("/next", h.NextPage)
				r.Post("/scroll", h.Scroll)
				r.Get("/sort", h.NextSort)
			})

			r.Get("/history/{symbol}", h.GetHistory)
			r.Get("/icons/{asset}", h.GetIcon)
			r.Get("/status", h.GetStatus)
		})

		// Live updates
		r.Get("/stream", h.HandleSSE)
		r.Get("/ws", h.HandleWebSocket)
	})

	return r
}
