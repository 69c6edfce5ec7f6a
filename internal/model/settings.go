package model

import (
	"time"
)

// GlobalEnvironment is the environment value of the settings row that
// applies to all environments of an app. Stored as the empty string; the
// HTTP layer maps an absent environment parameter to this value.
const GlobalEnvironment = ""

// DefaultWindowDays is the default inactivity lookback window, in days.
const DefaultWindowDays = 7

// AppSettings is one settings row for a (org, app, environment) triple.
// The global row (Environment == GlobalEnvironment) and each
// environment-scoped override row are separately unique; a read for a
// specific environment never falls back to the global row.
type AppSettings struct {
	// Org is the organisation that owns the app.
	Org string `json:"org"`

	// App is the name of the app.
	App string `json:"app"`

	// Environment scopes the row to one environment. GlobalEnvironment
	// means the row applies to all environments.
	Environment string `json:"environment,omitempty"`

	// UndeployOnInactivity opts the app in to automatic undeployment when
	// the inactivity sweep finds it idle.
	UndeployOnInactivity bool `json:"undeployOnInactivity"`

	// Created is when the row was first inserted. Preserved across updates.
	Created time.Time `json:"created"`

	// CreatedBy is the developer that first created the row. Preserved
	// across updates.
	CreatedBy string `json:"createdBy"`

	// LastModifiedBy is the developer that last changed the row.
	LastModifiedBy string `json:"lastModifiedBy"`

	// Version is the optimistic-concurrency token. It starts at 1 on
	// insert and strictly increases on every update; a writer presenting a
	// stale version is rejected rather than silently overwriting.
	Version int64 `json:"version"`
}

// EvaluationOptions scopes one inactivity evaluation call. Org is required;
// App and Environment narrow the evaluation when set. Constructed per call,
// never persisted.
type EvaluationOptions struct {
	Org         string
	App         string
	Environment string
	WindowDays  int
}

// Window returns the lookback window in days, defaulting when unset.
func (o EvaluationOptions) Window() int {
	if o.WindowDays <= 0 {
		return DefaultWindowDays
	}
	return o.WindowDays
}

// Candidate identifies one deployment unit eligible for decommissioning.
// Consumed by the external decommission executor; not persisted here.
type Candidate struct {
	Org         string `json:"org"`
	App         string `json:"app"`
	Environment string `json:"environment,omitempty"`
}

// UndeploySettingsRequest is the body of a settings write request.
type UndeploySettingsRequest struct {
	UndeployOnInactivity bool `json:"undeployOnInactivity"`
}

// UndeploySettingsResponse is the body of a settings read response.
type UndeploySettingsResponse struct {
	UndeployOnInactivity bool `json:"undeployOnInactivity"`
}

// ErrorResponse is the body of any non-2xx API response.
type ErrorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
