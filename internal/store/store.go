package store

import (
	"context"

	"github.com/studio-ops/coordinator/internal/locks"
)

// Store is the distributed coordination backend. It provides the lock
// provider seam used by the request-synchronisation path plus the
// operational surface (connectivity probe, cluster statistics, shutdown)
// needed by health checks and lifecycle management.
type Store interface {
	// Acquire takes the fleet-wide lock for the given resource key,
	// waiting up to wait for it to become free. See locks.Provider.
	locks.Provider

	// Ping verifies connectivity to the store.
	// This is used for health checks to ensure the store is reachable and responsive.
	Ping(ctx context.Context) error

	// Stats returns current statistics about the store.
	// This includes cluster membership and partition information.
	Stats(ctx context.Context) (*StoreStats, error)

	// Close gracefully shuts down the store connection. For the embedded
	// Olric store this leaves the cluster properly and stops the server.
	Close(ctx context.Context) error
}

// StoreStats represents statistics about the distributed store.
// These metrics are useful for monitoring cluster health.
type StoreStats struct {
	// ClusterMembers is the number of active members in the cluster.
	ClusterMembers int

	// PartitionCount is the total number of partitions in the cluster.
	// Partitions are used to distribute data across cluster members.
	PartitionCount int

	// ReplicationFactor is the number of copies of each partition,
	// including both primary and backup replicas.
	ReplicationFactor int
}
