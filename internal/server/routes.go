package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// setupAPIRoutes configures the API server routes. The synchronisation
// middleware is mounted inside the designer subtree, after the {org} and
// {app} URL parameters have been resolved, so the scope evaluators can see
// them.
func setupAPIRoutes(r *chi.Mux, deps *Dependencies, logger *zap.Logger) {
	r.Get("/ping", handlePing(logger))

	r.Route("/designer/api/{org}/{app}/settings", func(r chi.Router) {
		if deps.Sync != nil {
			r.Use(deps.Sync.Handler)
		}

		r.Get("/undeploy", deps.Settings.HandleGetUndeploySettings)
		r.Put("/undeploy", deps.Settings.HandleSetUndeploySettings)
	})
}

// setupProbeRoutes configures the probe server routes.
func setupProbeRoutes(r *chi.Mux, deps *Dependencies, logger *zap.Logger) {
	r.Get("/healthz/startup", handleStartup(deps, logger))
	r.Get("/healthz/live", handleLiveness(deps, logger))
	r.Get("/healthz/ready", handleReadiness(deps, logger))
}

// handlePing handles the /ping endpoint.
func handlePing(logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]string{
			"status": "pong",
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Error("Failed to encode ping response", zap.Error(err))
		}
	}
}

// handleStartup handles the startup probe. It reports 200 once every
// registered check passes, 503 otherwise.
func handleStartup(deps *Dependencies, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := deps.Health.GetStartupStatus(r.Context())

		status := http.StatusOK
		if response.Status != "ok" {
			status = http.StatusServiceUnavailable
		}

		writeProbeResponse(w, status, response, logger, "startup")
	}
}

// handleLiveness handles the liveness probe. Liveness is minimal: if this
// handler runs, the process is alive.
func handleLiveness(deps *Dependencies, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := deps.Health.GetLivenessStatus()
		writeProbeResponse(w, http.StatusOK, response, logger, "live")
	}
}

// handleReadiness handles the readiness probe.
func handleReadiness(deps *Dependencies, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := deps.Health.GetReadinessStatus(r.Context())

		status := http.StatusOK
		if !response.Ready {
			status = http.StatusServiceUnavailable
		}

		writeProbeResponse(w, status, response, logger, "ready")
	}
}

// writeProbeResponse writes a probe response as JSON.
func writeProbeResponse(w http.ResponseWriter, status int, response interface{}, logger *zap.Logger, probe string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("Failed to write probe response",
			zap.String("probe", probe),
			zap.Error(err))
	}
}
