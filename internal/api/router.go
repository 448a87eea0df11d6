package api

import (
	"net/http"

	"github.com/onnwee/nestscout/internal/middleware"
)

// Service identity reported at the root endpoint.
const (
	ServiceName = "nestscout-api"
	Version     = "0.1.0"
)

// RouterConfig collects the handlers served by NewRouter. Nil handler
// groups are not routed.
type RouterConfig struct {
	Scores   *ScoreHandlers
	Profiles *ProfileHandlers
	POIs     *POIHandlers
	Jobs     *JobHandlers
	Health   *HealthHandlers

	// Metrics serves /metrics when set.
	Metrics http.Handler

	// ComputeLimiter rate limits compute triggers per client IP when set.
	ComputeLimiter *middleware.Limiter
	// MiddlewareMetrics records rate limit decisions. Optional.
	MiddlewareMetrics *middleware.Metrics
}

// NewRouter registers every route on a new ServeMux.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r.Context(), http.StatusOK, map[string]string{
			"service": ServiceName,
			"version": Version,
		})
	})

	if cfg.Health != nil {
		mux.HandleFunc("GET /health", cfg.Health.Health)
		mux.HandleFunc("GET /ready", cfg.Health.Ready)
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	if cfg.Scores != nil {
		var compute http.Handler = http.HandlerFunc(cfg.Scores.Compute)
		if cfg.ComputeLimiter != nil {
			compute = middleware.RateLimit(cfg.ComputeLimiter, middleware.IPKeyFunc(), cfg.MiddlewareMetrics)(compute)
		}
		mux.HandleFunc("GET /scores/{profile_id}", cfg.Scores.Ranked)
		mux.Handle("POST /scores/{profile_id}/compute", compute)
		mux.HandleFunc("GET /scores/{profile_id}/listings/{listing_id}", cfg.Scores.Explain)
	}

	if cfg.Profiles != nil {
		mux.HandleFunc("GET /profiles/{profile_id}", cfg.Profiles.Get)
		mux.HandleFunc("PUT /profiles/{profile_id}/rules", cfg.Profiles.ReplaceRules)
	}

	if cfg.POIs != nil {
		mux.HandleFunc("GET /pois/nearby", cfg.POIs.Nearby)
	}

	if cfg.Jobs != nil {
		mux.HandleFunc("GET /jobs/{job_id}", cfg.Jobs.Get)
		mux.HandleFunc("DELETE /jobs/{job_id}", cfg.Jobs.Cancel)
		mux.HandleFunc("GET /jobs/{job_id}/stream", cfg.Jobs.Stream)
	}

	return mux
}
