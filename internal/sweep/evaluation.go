// Package sweep finds deployed apps that have been inactive long enough to
// warrant automatic undeployment. A periodic three-level job hierarchy
// (root, per-org, per-app) drives the evaluation; each level is bounded by
// its own timeout so one slow organisation or app cannot starve the rest.
package sweep

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/studio-ops/coordinator/internal/model"
	"github.com/studio-ops/coordinator/internal/settings"
)

// ErrSignalUnavailable is returned by an ActivitySignal when the activity
// data for an app cannot be obtained. The evaluation treats it as "not
// inactive" and moves on: an unreachable dependency must never cause a
// decommission, nor block the rest of the sweep.
var ErrSignalUnavailable = errors.New("activity signal unavailable")

// ErrInvalidOptions is returned when evaluation options are incomplete.
var ErrInvalidOptions = errors.New("invalid evaluation options")

// ActivitySignal answers whether a deployment unit has been inactive over
// the trailing window. How activity is measured is entirely the signal's
// concern.
type ActivitySignal interface {
	IsInactive(ctx context.Context, org, app, environment string, windowDays int) (bool, error)
}

// EvaluationService determines which apps are eligible for
// decommissioning: opted in through their settings row and inactive per
// the activity signal.
type EvaluationService struct {
	settings settings.Store
	signal   ActivitySignal
	logger   *zap.Logger
}

// NewEvaluationService creates an evaluation service.
func NewEvaluationService(settingsStore settings.Store, signal ActivitySignal, logger *zap.Logger) *EvaluationService {
	return &EvaluationService{
		settings: settingsStore,
		signal:   signal,
		logger:   logger,
	}
}

// AppsForDecommissioning returns one candidate per (org, app, environment)
// combination within the given scope that is opted in and inactive. Order
// is unspecified; a triple never appears twice in one call.
func (s *EvaluationService) AppsForDecommissioning(ctx context.Context, opts model.EvaluationOptions) ([]model.Candidate, error) {
	if opts.Org == "" {
		return nil, fmt.Errorf("%w: org is required", ErrInvalidOptions)
	}

	rows, err := s.settings.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load app settings: %w", err)
	}

	units := s.scopedUnits(rows, opts)

	var candidates []model.Candidate
	for _, unit := range units {
		inactive, err := s.signal.IsInactive(ctx, unit.Org, unit.App, unit.Environment, opts.Window())
		if err != nil {
			// Fail open toward "do not decommission": this app is
			// skipped, the rest of the evaluation continues.
			s.logger.Warn("Activity signal unavailable, skipping app",
				zap.String("org", unit.Org),
				zap.String("app", unit.App),
				zap.String("environment", unit.Environment),
				zap.Error(err),
			)
			continue
		}
		if inactive {
			candidates = append(candidates, unit)
		}
	}

	return candidates, nil
}

// scopedUnits derives the deployment units to evaluate from the settings
// snapshot. Only opted-in units are returned. When the options name a
// specific environment, the environment-scoped row decides if it exists
// and the global row decides otherwise; without an environment, every row
// stands for its own unit.
func (s *EvaluationService) scopedUnits(rows []model.AppSettings, opts model.EvaluationOptions) []model.Candidate {
	type appKey struct{ org, app string }

	grouped := make(map[appKey][]model.AppSettings)
	for _, row := range rows {
		if row.Org != opts.Org {
			continue
		}
		if opts.App != "" && row.App != opts.App {
			continue
		}
		key := appKey{row.Org, row.App}
		grouped[key] = append(grouped[key], row)
	}

	var units []model.Candidate
	for key, appRows := range grouped {
		if opts.Environment != "" {
			flag, ok := resolveFlag(appRows, opts.Environment)
			if ok && flag {
				units = append(units, model.Candidate{Org: key.org, App: key.app, Environment: opts.Environment})
			}
			continue
		}

		for _, row := range appRows {
			if row.UndeployOnInactivity {
				units = append(units, model.Candidate{Org: row.Org, App: row.App, Environment: row.Environment})
			}
		}
	}

	return units
}

// resolveFlag returns the opt-in flag effective for one environment: the
// environment-scoped row when present, the global row otherwise.
func resolveFlag(rows []model.AppSettings, environment string) (flag, ok bool) {
	var global *model.AppSettings
	for i := range rows {
		switch rows[i].Environment {
		case environment:
			return rows[i].UndeployOnInactivity, true
		case model.GlobalEnvironment:
			global = &rows[i]
		}
	}
	if global != nil {
		return global.UndeployOnInactivity, true
	}
	return false, false
}
