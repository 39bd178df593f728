package gateway

import (
	"context"
	"net/http"
	"time"
)

const providerProbeTimeout = 5 * time.Second

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`             // "ok" or "degraded"
	Store    string `json:"store"`              // "ok", "unavailable" or "missing"
	Provider string `json:"provider,omitempty"` // set with ?deep=1: "ok", "unreachable" or "none"
}

// handleHealth returns 200 when the conversation store answers a ping and
// 503 otherwise. With ?deep=1 it also probes the summarization provider; an
// unreachable provider is reported but does not degrade the status, since
// appends keep working without summaries.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok", Store: "ok"}
		code := http.StatusOK

		switch {
		case g.store == nil:
			resp.Status, resp.Store = "degraded", "missing"
			code = http.StatusServiceUnavailable
		case g.store.Ping(r.Context()) != nil:
			resp.Status, resp.Store = "degraded", "unavailable"
			code = http.StatusServiceUnavailable
		}

		if r.URL.Query().Get("deep") == "1" {
			resp.Provider = g.probeProvider(r.Context())
		}

		writeJSON(w, code, resp)
	}
}

func (g *Gateway) probeProvider(ctx context.Context) string {
	if g.provider == nil {
		return "none"
	}
	ctx, cancel := context.WithTimeout(ctx, providerProbeTimeout)
	defer cancel()
	if err := g.provider.HealthCheck(ctx); err != nil {
		g.logger.Warn("gateway: provider health check failed", "error", err)
		return "unreachable"
	}
	return "ok"
}

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime            int64  `json:"uptime_seconds"`
	RetentionState    string `json:"retention_state"`
	MaxActive         int    `json:"max_active"`
	CompressThreshold int    `json:"compress_threshold"`
	Summaries         int    `json:"summaries"`
	Sessions          int    `json:"sessions"`
}

// handleStatus reports uptime, retention settings and log sizes.
func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := StatusResponse{
			Uptime: int64(time.Since(g.startedAt).Seconds()),
		}

		if g.store != nil {
			cfg := g.store.Config()
			resp.RetentionState = g.store.State().String()
			resp.MaxActive = cfg.MaxActive
			resp.CompressThreshold = cfg.CompressThreshold

			summaries, err := g.store.Summaries(r.Context())
			if err != nil {
				writeStoreError(w, err)
				return
			}
			resp.Summaries = len(summaries)

			sessions, err := g.store.ListSessions(r.Context())
			if err != nil {
				writeStoreError(w, err)
				return
			}
			resp.Sessions = len(sessions)
		}

		writeJSON(w, http.StatusOK, resp)
	}
}
