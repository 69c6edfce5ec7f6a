// Package handlers provides the HTTP handlers of the coordination API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/studio-ops/coordinator/internal/metrics"
	"github.com/studio-ops/coordinator/internal/model"
	"github.com/studio-ops/coordinator/internal/settings"
	"github.com/studio-ops/coordinator/internal/sync"
)

// validNamePattern defines the allowed pattern for org, app, and
// environment names. Allows alphanumeric characters, hyphens, and
// underscores.
var validNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const (
	maxNameLength = 256 // Maximum length for org, app, and environment names
)

// SettingsHandlers provides HTTP handlers for app settings operations.
type SettingsHandlers struct {
	service *settings.Service
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewSettingsHandlers creates a new SettingsHandlers instance.
func NewSettingsHandlers(service *settings.Service, logger *zap.Logger, metrics *metrics.Metrics) *SettingsHandlers {
	return &SettingsHandlers{
		service: service,
		logger:  logger,
		metrics: metrics,
	}
}

// validateName validates and sanitizes org/app/environment names.
// Returns an error if the name is invalid.
func validateName(name, fieldName string) error {
	if name == "" {
		return errors.New(fieldName + " is required")
	}

	name = strings.TrimSpace(name)

	if len(name) > maxNameLength {
		return errors.New(fieldName + " exceeds maximum length")
	}

	if !validNamePattern.MatchString(name) {
		return errors.New(fieldName + " contains invalid characters")
	}

	return nil
}

// HandleGetUndeploySettings handles GET
// /designer/api/{org}/{app}/settings/undeploy requests.
// Returns:
//   - 200 OK: Flag returned; an absent settings row reads as false
//   - 400 Bad Request: Invalid org, app, or environment parameter
//   - 500 Internal Server Error: Storage or internal error
func (h *SettingsHandlers) HandleGetUndeploySettings(w http.ResponseWriter, r *http.Request) {
	org, app, environment, ok := h.scope(w, r, "get")
	if !ok {
		return
	}

	undeploy, err := h.service.GetUndeployOnInactivity(r.Context(), org, app, environment)
	if err != nil {
		h.logger.Error("Failed to read undeploy settings",
			zap.String("org", org),
			zap.String("app", app),
			zap.Error(err),
		)
		h.recordMetric("get", "failure")
		h.respondError(w, http.StatusInternalServerError, "Failed to read settings")
		return
	}

	h.recordMetric("get", "success")
	h.respondJSON(w, http.StatusOK, model.UndeploySettingsResponse{
		UndeployOnInactivity: undeploy,
	})
}

// HandleSetUndeploySettings handles PUT
// /designer/api/{org}/{app}/settings/undeploy requests.
// Returns:
//   - 204 No Content: Flag written
//   - 400 Bad Request: Invalid parameter, missing developer identity, or
//     invalid request body
//   - 409 Conflict: Another editor changed the settings since they were read
//   - 500 Internal Server Error: Storage or internal error
func (h *SettingsHandlers) HandleSetUndeploySettings(w http.ResponseWriter, r *http.Request) {
	org, app, environment, ok := h.scope(w, r, "set")
	if !ok {
		return
	}

	developer := strings.TrimSpace(r.Header.Get(sync.DeveloperHeader))
	if developer == "" {
		h.recordMetric("set", "failure")
		h.respondError(w, http.StatusBadRequest, "Developer identity is required")
		return
	}

	var req model.UndeploySettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("Failed to decode settings request", zap.Error(err))
		h.recordMetric("set", "failure")
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	_, err := h.service.SetUndeployOnInactivity(r.Context(), org, app, environment, developer, req.UndeployOnInactivity)
	if err != nil {
		if errors.Is(err, settings.ErrConcurrencyConflict) {
			h.logger.Debug("Settings write conflict",
				zap.String("org", org),
				zap.String("app", app),
			)
			h.recordMetric("set", "conflict")
			h.respondError(w, http.StatusConflict, "Settings were changed by another editor, reload and retry")
			return
		}

		h.logger.Error("Failed to write undeploy settings",
			zap.String("org", org),
			zap.String("app", app),
			zap.Error(err),
		)
		h.recordMetric("set", "failure")
		h.respondError(w, http.StatusInternalServerError, "Failed to write settings")
		return
	}

	h.recordMetric("set", "success")
	w.WriteHeader(http.StatusNoContent)
}

// scope extracts and validates the (org, app, environment) triple from the
// request. An absent environment query parameter addresses the global row.
func (h *SettingsHandlers) scope(w http.ResponseWriter, r *http.Request, operation string) (org, app, environment string, ok bool) {
	org = strings.TrimSpace(chi.URLParam(r, "org"))
	app = strings.TrimSpace(chi.URLParam(r, "app"))
	environment = strings.TrimSpace(r.URL.Query().Get("environment"))

	if err := validateName(org, "Org name"); err != nil {
		h.recordMetric(operation, "failure")
		h.respondError(w, http.StatusBadRequest, err.Error())
		return "", "", "", false
	}
	if err := validateName(app, "App name"); err != nil {
		h.recordMetric(operation, "failure")
		h.respondError(w, http.StatusBadRequest, err.Error())
		return "", "", "", false
	}
	if environment != "" {
		if err := validateName(environment, "Environment name"); err != nil {
			h.recordMetric(operation, "failure")
			h.respondError(w, http.StatusBadRequest, err.Error())
			return "", "", "", false
		}
	}

	return org, app, environment, true
}

// respondError sends an error response.
func (h *SettingsHandlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, model.ErrorResponse{
		Status:  "error",
		Message: message,
	})
}

// respondJSON sends a JSON response.
func (h *SettingsHandlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

// recordMetric records a settings operation metric.
func (h *SettingsHandlers) recordMetric(operation, status string) {
	if h.metrics != nil && h.metrics.SettingsOperationsTotal != nil {
		h.metrics.SettingsOperationsTotal.WithLabelValues(operation, status).Inc()
	}
}
