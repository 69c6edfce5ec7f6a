package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/logutils"
	"github.com/olric-data/olric"
	"github.com/olric-data/olric/config"
	"go.uber.org/zap"

	"github.com/studio-ops/coordinator/internal/locks"
)

// OlricStore implements the Store interface using an embedded Olric
// cluster. Locks are taken on a DMap, which gives fleet-wide mutual
// exclusion with a lease so a crashed holder cannot wedge the fleet.
type OlricStore struct {
	config *OlricConfig
	logger *zap.Logger
	db     *olric.Olric
	client *olric.EmbeddedClient
	dmap   olric.DMap
}

// NewOlricStore creates a new Olric-backed store.
// It initializes and starts an embedded Olric server, optionally joining a cluster.
func NewOlricStore(ctx context.Context, cfg *OlricConfig, logger *zap.Logger) (*OlricStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid olric configuration: %w", err)
	}

	store := &OlricStore{
		config: cfg,
		logger: logger,
	}

	olricCfg, err := store.createOlricConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create olric config: %w", err)
	}

	logger.Info("Starting Olric embedded server",
		zap.String("bind_addr", fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.BindPort)),
		zap.Bool("single_node", cfg.IsSingleNode()),
		zap.Strings("join_addrs", cfg.JoinAddrs),
		zap.Int("replication_factor", cfg.ReplicationFactor),
		zap.Uint64("partition_count", cfg.PartitionCount),
	)

	db, err := olric.New(olricCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create olric instance: %w", err)
	}

	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("failed to start olric: %w", err)
	}

	store.db = db

	client := db.NewEmbeddedClient()
	store.client = client

	// Wait for cluster to be ready
	if err := store.waitForCluster(ctx); err != nil {
		_ = db.Shutdown(context.Background())
		return nil, fmt.Errorf("cluster not ready: %w", err)
	}

	// Get DMap holding the locks
	dmap, err := client.NewDMap(cfg.DMapName)
	if err != nil {
		_ = db.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create dmap: %w", err)
	}
	store.dmap = dmap

	members, err := client.Members(ctx)
	if err != nil {
		logger.Warn("Failed to get members", zap.Error(err))
	}

	logger.Info("Olric store initialized successfully",
		zap.Int("cluster_members", len(members)),
	)

	return store, nil
}

// createOlricConfig creates an Olric configuration from the OlricConfig.
func (s *OlricStore) createOlricConfig() (*config.Config, error) {
	// Route Olric's internal logging through a level filter
	logFilter := &logutils.LevelFilter{
		Levels:   []logutils.LogLevel{"DEBUG", "INFO", "WARN", "ERROR"},
		MinLevel: logutils.LogLevel(s.config.LogLevel),
		Writer:   io.Discard,
	}

	// If log level is DEBUG or INFO, route to stdout
	if s.config.LogLevel == "DEBUG" || s.config.LogLevel == "INFO" {
		logFilter.Writer = os.Stdout
	}

	olricLogger := log.New(logFilter, "", log.LstdFlags)

	c := config.New("lan")
	c.BindAddr = s.config.BindAddr
	c.BindPort = s.config.BindPort
	c.KeepAlivePeriod = s.config.KeepAlivePeriod
	c.PartitionCount = s.config.PartitionCount
	c.ReplicaCount = s.config.ReplicationFactor
	c.ReadQuorum = 1
	c.WriteQuorum = 1
	c.MemberCountQuorum = int32(s.config.MemberCountQuorum)
	c.LogLevel = s.config.LogLevel
	c.Logger = olricLogger
	c.JoinRetryInterval = s.config.JoinRetryInterval
	c.MaxJoinAttempts = s.config.MaxJoinAttempts

	if s.config.ReplicationMode == "sync" {
		c.ReplicationMode = config.SyncReplicationMode
	} else {
		c.ReplicationMode = config.AsyncReplicationMode
	}

	if len(s.config.JoinAddrs) > 0 {
		c.Peers = s.config.JoinAddrs
	}

	return c, nil
}

// waitForCluster waits for the cluster to be ready based on member count quorum.
func (s *OlricStore) waitForCluster(ctx context.Context) error {
	// If single-node mode, we're immediately ready
	if s.config.IsSingleNode() {
		s.logger.Info("Running in single-node mode, cluster ready")
		return nil
	}

	ticker := time.NewTicker(s.config.JoinRetryInterval)
	defer ticker.Stop()

	attempts := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			attempts++

			members, err := s.client.Members(context.Background())
			memberCount := len(members)
			if err != nil {
				s.logger.Warn("Failed to get members", zap.Error(err))
				memberCount = 0
			}

			s.logger.Debug("Waiting for cluster members",
				zap.Int("current_members", memberCount),
				zap.Int("required_members", s.config.MemberCountQuorum),
				zap.Int("attempt", attempts),
			)

			if memberCount >= s.config.MemberCountQuorum {
				s.logger.Info("Cluster member quorum reached",
					zap.Int("member_count", memberCount),
					zap.Int("quorum", s.config.MemberCountQuorum),
				)
				return nil
			}

			if attempts >= s.config.MaxJoinAttempts {
				return fmt.Errorf("max join attempts (%d) reached, only %d/%d members present",
					s.config.MaxJoinAttempts, memberCount, s.config.MemberCountQuorum)
			}
		}
	}
}

// Acquire takes the fleet-wide lock for the given resource key, waiting up
// to wait for it to become free. The acquired lock carries the configured
// lease, after which the cluster reclaims it.
func (s *OlricStore) Acquire(ctx context.Context, key string, wait time.Duration) (locks.Handle, error) {
	lc, err := s.dmap.LockWithTimeout(ctx, key, s.config.LockLease, wait)
	if err != nil {
		if errors.Is(err, olric.ErrLockNotAcquired) {
			return nil, locks.ErrLockTimeout
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", locks.ErrProviderUnavailable, err)
	}

	return &olricHandle{lc: lc}, nil
}

// olricHandle releases the underlying Olric lock exactly once. A release
// after the lease has already expired is treated as a no-op.
type olricHandle struct {
	lc   olric.LockContext
	once sync.Once
	err  error
}

func (h *olricHandle) Release(ctx context.Context) error {
	h.once.Do(func() {
		if err := h.lc.Unlock(ctx); err != nil && !errors.Is(err, olric.ErrNoSuchLock) {
			h.err = fmt.Errorf("release lock: %w", err)
		}
	})
	return h.err
}

// Ping verifies connectivity to the store.
func (s *OlricStore) Ping(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.BindAddr, fmt.Sprintf("%d", s.config.BindPort))
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to olric: %w", err)
	}
	defer conn.Close()

	if s.db == nil {
		return fmt.Errorf("olric db is nil")
	}

	return nil
}

// Stats returns current statistics about the store.
func (s *OlricStore) Stats(ctx context.Context) (*StoreStats, error) {
	members, err := s.client.Members(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get members: %w", err)
	}

	return &StoreStats{
		ClusterMembers:    len(members),
		PartitionCount:    int(s.config.PartitionCount),
		ReplicationFactor: s.config.ReplicationFactor,
	}, nil
}

// Close gracefully shuts down the store.
func (s *OlricStore) Close(ctx context.Context) error {
	s.logger.Info("Shutting down Olric store")

	if s.db == nil {
		return nil
	}

	if err := s.db.Shutdown(ctx); err != nil {
		s.logger.Error("Error shutting down Olric", zap.Error(err))
		return err
	}

	s.logger.Info("Olric store shut down successfully")
	return nil
}
