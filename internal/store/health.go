package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/studio-ops/coordinator/internal/health"
)

// ConnectionHealthChecker checks if the Olric store connection is healthy.
type ConnectionHealthChecker struct {
	logger *zap.Logger
	store  Store
}

// NewConnectionHealthChecker creates a new connection health checker.
func NewConnectionHealthChecker(logger *zap.Logger, store Store) *ConnectionHealthChecker {
	return &ConnectionHealthChecker{
		logger: logger,
		store:  store,
	}
}

// Name returns the name of the health check.
func (c *ConnectionHealthChecker) Name() string {
	return "olric-connection"
}

// Check performs the health check.
func (c *ConnectionHealthChecker) Check(ctx context.Context) health.CheckResult {
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
		result.Message = fmt.Sprintf("Olric connection failed: %v", err)
		c.logger.Warn("Olric connection check failed", zap.Error(err))
	} else {
		result.Status = health.StatusOK
		result.Message = "Olric connection healthy"
	}

	return result
}

// ClusterHealthChecker checks if the Olric cluster is healthy.
type ClusterHealthChecker struct {
	logger     *zap.Logger
	store      Store
	quorum     int
	singleNode bool
}

// NewClusterHealthChecker creates a new cluster health checker.
// If singleNode is true, this check will always pass.
// quorum is the minimum number of members required for the cluster to be healthy.
func NewClusterHealthChecker(logger *zap.Logger, store Store, quorum int, singleNode bool) *ClusterHealthChecker {
	return &ClusterHealthChecker{
		logger:     logger,
		store:      store,
		quorum:     quorum,
		singleNode: singleNode,
	}
}

// Name returns the name of the health check.
func (c *ClusterHealthChecker) Name() string {
	return "olric-cluster"
}

// Check performs the health check.
func (c *ClusterHealthChecker) Check(ctx context.Context) health.CheckResult {
	start := time.Now()

	result := health.CheckResult{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}

	// In single-node mode, cluster check always passes
	if c.singleNode {
		result.Status = health.StatusOK
		result.Message = "Running in single-node mode"
		return result
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	stats, err := c.store.Stats(checkCtx)
	if err != nil {
		result.Status = health.StatusError
		result.Message = fmt.Sprintf("Failed to get cluster stats: %v", err)
		c.logger.Warn("Cluster health check failed", zap.Error(err))
		return result
	}

	// Check if we have quorum for safe lock acquisition
	if stats.ClusterMembers < c.quorum {
		result.Status = health.StatusNotReady
		result.Message = fmt.Sprintf("Cluster has %d members, quorum requires %d",
			stats.ClusterMembers, c.quorum)
		c.logger.Warn("Cluster member count below quorum",
			zap.Int("current", stats.ClusterMembers),
			zap.Int("quorum", c.quorum),
		)
		return result
	}

	result.Status = health.StatusOK
	result.Message = fmt.Sprintf("Cluster healthy with %d members (quorum: %d)", stats.ClusterMembers, c.quorum)
	return result
}

// LockHealthChecker checks that locks can actually be taken and released
// through the store, by acquiring a probe lock on a key no request uses.
type LockHealthChecker struct {
	logger *zap.Logger
	store  Store
}

// NewLockHealthChecker creates a new lock round-trip health checker.
func NewLockHealthChecker(logger *zap.Logger, store Store) *LockHealthChecker {
	return &LockHealthChecker{
		logger: logger,
		store:  store,
	}
}

// Name returns the name of the health check.
func (c *LockHealthChecker) Name() string {
	return "olric-locks"
}

// Check performs the health check.
func (c *LockHealthChecker) Check(ctx context.Context) health.CheckResult {
	start := time.Now()

	result := health.CheckResult{
		Name:      c.Name(),
		Timestamp: time.Now(),
		Duration:  time.Since(start),
	}

	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	// The probe key is per-node so concurrent health checks on different
	// nodes do not contend with each other.
	probeKey := fmt.Sprintf("health-probe:%d", time.Now().UnixNano())

	handle, err := c.store.Acquire(checkCtx, probeKey, 2*time.Second)
	if err != nil {
		result.Status = health.StatusError
		result.Message = fmt.Sprintf("Failed to acquire probe lock: %v", err)
		c.logger.Warn("Lock health check acquisition failed", zap.Error(err))
		return result
	}

	if err := handle.Release(checkCtx); err != nil {
		result.Status = health.StatusError
		result.Message = fmt.Sprintf("Failed to release probe lock: %v", err)
		c.logger.Warn("Lock health check release failed", zap.Error(err))
		return result
	}

	result.Status = health.StatusOK
	result.Message = "Lock acquire/release round-trip working"
	return result
}
