package settings

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/studio-ops/coordinator/internal/model"
)

// Service is the domain-facing facade over the settings store. It decides
// which fields a developer may change, attributes writes to the editing
// identity, and defaults the environment to the global row when the caller
// does not name one.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService creates a settings service on top of the given store.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

// GetUndeployOnInactivity returns the opt-in flag for the given triple.
// An absent row reads as false; a specific environment never falls back to
// the global row.
func (s *Service) GetUndeployOnInactivity(ctx context.Context, org, app, environment string) (bool, error) {
	entity, err := s.store.Get(ctx, org, app, environment)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return entity.UndeployOnInactivity, nil
}

// SetUndeployOnInactivity writes the opt-in flag for the given triple,
// attributed to developer. The write goes through the store's optimistic
// concurrency guard: when another editor changed the row since our read,
// ErrConcurrencyConflict propagates unchanged for the caller to surface as
// "someone else changed this, reload and retry".
func (s *Service) SetUndeployOnInactivity(ctx context.Context, org, app, environment, developer string, undeploy bool) (*model.AppSettings, error) {
	if developer == "" {
		return nil, fmt.Errorf("%w: developer identity is required", ErrInvalidEntity)
	}

	current, err := s.store.Get(ctx, org, app, environment)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	entity := model.AppSettings{
		Org:                  org,
		App:                  app,
		Environment:          environment,
		UndeployOnInactivity: undeploy,
		LastModifiedBy:       developer,
	}
	if current != nil {
		entity.Version = current.Version
	}

	updated, err := s.store.Upsert(ctx, entity)
	if err != nil {
		return nil, err
	}

	s.logger.Info("App settings written",
		zap.String("org", org),
		zap.String("app", app),
		zap.String("environment", environment),
		zap.Bool("undeploy_on_inactivity", undeploy),
		zap.String("developer", developer),
		zap.Int64("version", updated.Version),
	)

	return updated, nil
}
