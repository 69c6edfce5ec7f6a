package locks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/studio-ops/coordinator/internal/model"
)

// Service maps domain contexts to lock resource keys and acquires handles
// through the configured Provider. Key derivation lives in the model
// contexts so that every instance of the service derives identical keys; a
// divergence there would silently defeat mutual exclusion across the fleet.
type Service struct {
	provider Provider
	logger   *zap.Logger
}

// NewService creates a lock service on top of the given provider.
func NewService(provider Provider, logger *zap.Logger) *Service {
	return &Service{
		provider: provider,
		logger:   logger,
	}
}

// AcquireOrgWideLock takes the organisation-wide lock for the given
// context, waiting up to wait. The returned handle must be released by the
// caller on every exit path.
func (s *Service) AcquireOrgWideLock(ctx context.Context, orgCtx model.OrgContext, wait time.Duration) (Handle, error) {
	if err := orgCtx.Validate(); err != nil {
		return nil, err
	}
	return s.acquire(ctx, "org-wide", orgCtx.LockKey(), wait)
}

// AcquireRepoUserWideLock takes the (org, repo, developer) scoped lock for
// the given editing context, waiting up to wait.
func (s *Service) AcquireRepoUserWideLock(ctx context.Context, editCtx model.RepoEditingContext, wait time.Duration) (Handle, error) {
	if err := editCtx.Validate(); err != nil {
		return nil, err
	}
	return s.acquire(ctx, "repo-user-wide", editCtx.LockKey(), wait)
}

func (s *Service) acquire(ctx context.Context, scope, key string, wait time.Duration) (Handle, error) {
	start := time.Now()

	handle, err := s.provider.Acquire(ctx, key, wait)
	if err != nil {
		s.logger.Debug("Lock acquisition failed",
			zap.String("scope", scope),
			zap.String("key", key),
			zap.Duration("waited", time.Since(start)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("acquire %s lock %q: %w", scope, key, err)
	}

	s.logger.Debug("Lock acquired",
		zap.String("scope", scope),
		zap.String("key", key),
		zap.Duration("waited", time.Since(start)),
	)

	return handle, nil
}
