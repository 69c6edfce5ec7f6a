package settings

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/studio-ops/coordinator/internal/health"
)

// DatabaseHealthChecker checks if the settings database is reachable.
type DatabaseHealthChecker struct {
	logger *zap.Logger
	store  Store
}

// NewDatabaseHealthChecker creates a new settings database health checker.
func NewDatabaseHealthChecker(logger *zap.Logger, store Store) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{
		logger: logger,
		store:  store,
	}
}

// Name returns the name of the health check.
func (c *DatabaseHealthChecker) Name() string {
	return "settings-db"
}

// Check performs the health check.
func (c *DatabaseHealthChecker) Check(ctx context.Context) health.CheckResult {
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err := c.store.Ping(checkCtx)

	result := health.CheckResult{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}

	if err != nil {
		result.Status = health.StatusError
		result.Message = fmt.Sprintf("Settings database unreachable: %v", err)
		c.logger.Warn("Settings database check failed", zap.Error(err))
	} else {
		result.Status = health.StatusOK
		result.Message = "Settings database reachable"
	}

	return result
}
