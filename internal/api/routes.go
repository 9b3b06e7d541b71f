package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type RouterConfig struct {
	AdminToken     string
	RateLimitRPS   float64
	RateLimitBurst int
	Metrics        http.Handler
}

// NewRouter wires the public, admin and metrics routes.
func NewRouter(h *Handler, cfg RouterConfig, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))
	r.Use(cors)

	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(rateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
			r.Post("/video/info", h.VideoInfo)
			r.Post("/video/analyze", h.Analyze)
			r.Get("/video/analyze/{id}", h.AnalysisStatus)
			r.Get("/video/stream", h.Stream)
			r.Get("/video/download", h.Download)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(adminAuth(cfg.AdminToken))
			r.Get("/cookies", h.ListCookies)
			r.Put("/cookies/{platform}", h.UploadCookies)
			r.Post("/cookies/refresh", h.RefreshCookies)
			r.Get("/cookies/service-health", h.CookieServiceHealth)
			r.Get("/sessions", h.RecentSessions)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "not_found", "No such endpoint", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed", "")
	})
	return r
}
