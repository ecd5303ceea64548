package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the router. The subscriber lifecycle endpoints
// are public; campaign management sits under /api/campaigns and is meant
// to be fronted by the admin gateway.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"https://girasoltours.com"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Route("/newsletter", func(r chi.Router) {
			r.Post("/subscribe", h.Subscribe)
			r.Get("/confirm/{token}", h.Confirm)
			r.Get("/unsubscribe/{token}", h.Unsubscribe)
			r.Post("/unsubscribe", h.UnsubscribeByEmail)
			r.Get("/status", h.Status)
		})

		r.Route("/campaigns", func(r chi.Router) {
			r.Post("/", h.CreateCampaign)
			r.Get("/", h.ListCampaigns)
			r.Get("/{id}", h.GetCampaign)
			r.Post("/{id}/send", h.SendCampaign)
		})
	})

	// Method fallthrough: unknown paths return the JSON envelope, not
	// chi's plain-text default.
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		notFoundJSON(w)
	})

	return r
}
