package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public: no auth required.
	r.Get("/health", g.handleHealth())
	if reg := g.metrics.Registry(); reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	}

	r.Group(func(r chi.Router) {
		if g.config.Auth.IsConfigured() {
			r.Use(authMiddleware(g.config.Auth, g.logger))
		}
		r.Use(rateLimitMiddleware(g.limiter))

		r.Get("/status", g.handleStatus())
		r.Route("/api", func(r chi.Router) {
			r.Use(g.requireStore)

			r.Post("/messages", g.handleAddMessage())
			r.Get("/context", g.handleGetContext())
			r.Get("/search", g.handleSearch())
			r.Get("/summaries", g.handleListSummaries())
			r.Post("/compact", g.handleCompact())

			r.Get("/sessions", g.handleListSessions())
			r.Post("/sessions", g.handleCreateSession())
			r.Patch("/sessions/{id}", g.handleRenameSession())
			r.Post("/sessions/{id}/touch", g.handleTouchSession())
			r.Delete("/sessions/{id}", g.handleDeleteSession())
		})
	})

	return r
}

// requireStore answers 503 until a conversation store is bound.
func (g *Gateway) requireStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.store == nil {
			writeError(w, http.StatusServiceUnavailable, "conversation store unavailable")
			return
		}
		next.ServeHTTP(w, r)
	})
}
