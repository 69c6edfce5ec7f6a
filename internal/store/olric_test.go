package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/studio-ops/coordinator/internal/locks"
)

func TestOlricStore_SingleNode(t *testing.T) {
	// Skip in short mode as this test starts an actual Olric server
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	logger, _ := zap.NewDevelopment()

	// Create a single-node configuration
	cfg := NewDefaultOlricConfig()
	cfg.BindPort = 13320 // Use a different port for testing
	cfg.LogLevel = "ERROR" // Reduce log noise in tests

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := NewOlricStore(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Failed to create Olric store: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := store.Close(shutdownCtx); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	}()

	// Test Acquire on a free key
	key := "org:testorg"
	handle, err := store.Acquire(ctx, key, 2*time.Second)
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}

	// A second acquisition of the same key must time out while the first
	// handle is held
	_, err = store.Acquire(ctx, key, 500*time.Millisecond)
	if !errors.Is(err, locks.ErrLockTimeout) {
		t.Errorf("Acquire() while held = %v, want ErrLockTimeout", err)
	}

	// Release and reacquire
	if err := handle.Release(ctx); err != nil {
		t.Fatalf("Release() failed: %v", err)
	}

	handle, err = store.Acquire(ctx, key, 2*time.Second)
	if err != nil {
		t.Fatalf("Acquire() after release failed: %v", err)
	}
	if err := handle.Release(ctx); err != nil {
		t.Errorf("Release() failed: %v", err)
	}

	// A different key never contends
	other, err := store.Acquire(ctx, "repo-user:testorg/app/dev", 2*time.Second)
	if err != nil {
		t.Fatalf("Acquire() on different key failed: %v", err)
	}
	if err := other.Release(ctx); err != nil {
		t.Errorf("Release() failed: %v", err)
	}
}

func TestOlricStore_Ping(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	logger, _ := zap.NewDevelopment()

	cfg := NewDefaultOlricConfig()
	cfg.BindPort = 13321
	cfg.LogLevel = "ERROR"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := NewOlricStore(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Failed to create Olric store: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = store.Close(shutdownCtx)
	}()

	// Test Ping
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping() failed: %v", err)
	}
}

func TestOlricStore_Stats(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	logger, _ := zap.NewDevelopment()

	cfg := NewDefaultOlricConfig()
	cfg.BindPort = 13322
	cfg.LogLevel = "ERROR"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := NewOlricStore(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Failed to create Olric store: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = store.Close(shutdownCtx)
	}()

	// Test Stats
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}

	if stats.ClusterMembers != 1 {
		t.Errorf("Stats().ClusterMembers = %d, want 1", stats.ClusterMembers)
	}

	if stats.PartitionCount != int(cfg.PartitionCount) {
		t.Errorf("Stats().PartitionCount = %d, want %d", stats.PartitionCount, cfg.PartitionCount)
	}

	if stats.ReplicationFactor != cfg.ReplicationFactor {
		t.Errorf("Stats().ReplicationFactor = %d, want %d", stats.ReplicationFactor, cfg.ReplicationFactor)
	}
}

func TestOlricStore_ReleaseIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	logger, _ := zap.NewDevelopment()

	cfg := NewDefaultOlricConfig()
	cfg.BindPort = 13323
	cfg.LogLevel = "ERROR"

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := NewOlricStore(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Failed to create Olric store: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = store.Close(shutdownCtx)
	}()

	handle, err := store.Acquire(ctx, "org:release-twice", 2*time.Second)
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}

	if err := handle.Release(ctx); err != nil {
		t.Errorf("Release() failed: %v", err)
	}

	// Second release should also not error (idempotent)
	if err := handle.Release(ctx); err != nil {
		t.Errorf("Second Release() failed: %v", err)
	}
}
