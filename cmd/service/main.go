package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/studio-ops/coordinator/internal/config"
	"github.com/studio-ops/coordinator/internal/handlers"
	"github.com/studio-ops/coordinator/internal/health"
	"github.com/studio-ops/coordinator/internal/locks"
	"github.com/studio-ops/coordinator/internal/logger"
	"github.com/studio-ops/coordinator/internal/metrics"
	"github.com/studio-ops/coordinator/internal/server"
	"github.com/studio-ops/coordinator/internal/settings"
	"github.com/studio-ops/coordinator/internal/store"
	"github.com/studio-ops/coordinator/internal/sweep"
	syncmw "github.com/studio-ops/coordinator/internal/sync"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Studio coordination service",
	Long: `A coordination service for the app studio: serialises designer
requests through distributed locks, stores per-app settings, and sweeps
inactive apps for automatic undeployment.`,
	RunE: runServer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Commit:  %s\n", commit)
		fmt.Printf("Built:   %s\n", date)
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a single inactivity sweep and exit",
	Long: `Runs one full sweep against the settings database and exits. Useful
when the sweep is hosted by an external scheduler instead of the service
process itself.`,
	RunE: runSweepOnce,
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(sweepCmd)

	// Configuration flags
	rootCmd.PersistentFlags().Int("api-port", 8080, "API server port")
	rootCmd.PersistentFlags().String("api-host", "0.0.0.0", "API server host")
	rootCmd.PersistentFlags().Int("probe-port", 8081, "Probe server port")
	rootCmd.PersistentFlags().String("probe-host", "0.0.0.0", "Probe server host")
	rootCmd.PersistentFlags().Int("metrics-port", 9090, "Metrics server port")
	rootCmd.PersistentFlags().String("metrics-host", "0.0.0.0", "Metrics server host")
	rootCmd.PersistentFlags().Bool("tls-enabled", false, "Enable TLS for API server")
	rootCmd.PersistentFlags().String("tls-cert", "", "Path to TLS certificate")
	rootCmd.PersistentFlags().String("tls-key", "", "Path to TLS key")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "Log format (json, console)")
	rootCmd.PersistentFlags().Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout (e.g., 30s)")
	rootCmd.PersistentFlags().Duration("health-check-timeout", 5*time.Second, "Health check timeout (e.g., 5s)")
	rootCmd.PersistentFlags().Duration("health-cache-duration", 10*time.Second, "Health check cache duration (e.g., 10s)")

	// Lock configuration flags
	rootCmd.PersistentFlags().String("locks-provider", "olric", "Lock provider (olric/memory)")
	rootCmd.PersistentFlags().Duration("locks-wait", config.DefaultLockWait, "How long a request waits for its lock")

	// Settings database flags
	rootCmd.PersistentFlags().String("db-path", "coordinator.db", "Path to the settings database")

	// Sweep configuration flags
	rootCmd.PersistentFlags().Bool("sweep-enabled", true, "Enable the inactivity sweep")
	rootCmd.PersistentFlags().Bool("sweep-self-host", true, "Run the sweep scheduler inside this process")
	rootCmd.PersistentFlags().Duration("sweep-interval", time.Hour, "Interval between sweep runs")
	rootCmd.PersistentFlags().Duration("sweep-root-timeout", config.DefaultSweepRootTimeout, "Root job timeout")
	rootCmd.PersistentFlags().Duration("sweep-org-timeout", config.DefaultSweepOrgTimeout, "Per-organisation job timeout")
	rootCmd.PersistentFlags().Duration("sweep-app-timeout", config.DefaultSweepAppTimeout, "Per-app job timeout")
	rootCmd.PersistentFlags().Int("sweep-window-days", 7, "Inactivity lookback window in days")
	rootCmd.PersistentFlags().String("signal-url", "", "Base URL of the activity signal service")
	rootCmd.PersistentFlags().String("decommission-url", "", "Endpoint of the decommission executor")

	// Olric configuration flags
	rootCmd.PersistentFlags().String("olric-host", store.DefaultBindAddr, "Olric bind host")
	rootCmd.PersistentFlags().Int("olric-port", store.DefaultBindPort, "Olric bind port")
	rootCmd.PersistentFlags().StringSlice("olric-join-addrs", []string{}, "Olric cluster join addresses")
	rootCmd.PersistentFlags().String("olric-replication-mode", store.DefaultReplicationMode, "Olric replication mode (sync/async)")
	rootCmd.PersistentFlags().Int("olric-replication-factor", store.DefaultReplicationFactor, "Olric replication factor")
	rootCmd.PersistentFlags().Int("olric-partition-count", int(store.DefaultPartitionCount), "Olric partition count")
	rootCmd.PersistentFlags().Int("olric-member-count-quorum", store.DefaultMemberCountQuorum, "Olric member count quorum")
	rootCmd.PersistentFlags().Duration("olric-join-retry-interval", store.DefaultJoinRetryInterval, "Olric join retry interval")
	rootCmd.PersistentFlags().Int("olric-max-join-attempts", store.DefaultMaxJoinAttempts, "Olric max join attempts")
	rootCmd.PersistentFlags().String("olric-log-level", "", "Olric log level (DEBUG/INFO/WARN/ERROR, defaults to main log level)")
	rootCmd.PersistentFlags().Duration("olric-keep-alive-period", store.DefaultKeepAlivePeriod, "Olric keep alive period")
	rootCmd.PersistentFlags().Duration("olric-request-timeout", store.DefaultRequestTimeout, "Olric request timeout")
	rootCmd.PersistentFlags().String("olric-dmap-name", store.DefaultDMapName, "Olric DMap name")
	rootCmd.PersistentFlags().Duration("olric-lock-lease", store.DefaultLockLease, "Lease on acquired locks")

	// Bind flags to viper
	_ = viper.BindPFlag("api.port", rootCmd.PersistentFlags().Lookup("api-port"))
	_ = viper.BindPFlag("api.host", rootCmd.PersistentFlags().Lookup("api-host"))
	_ = viper.BindPFlag("probe.port", rootCmd.PersistentFlags().Lookup("probe-port"))
	_ = viper.BindPFlag("probe.host", rootCmd.PersistentFlags().Lookup("probe-host"))
	_ = viper.BindPFlag("metrics.port", rootCmd.PersistentFlags().Lookup("metrics-port"))
	_ = viper.BindPFlag("metrics.host", rootCmd.PersistentFlags().Lookup("metrics-host"))
	_ = viper.BindPFlag("tls.enabled", rootCmd.PersistentFlags().Lookup("tls-enabled"))
	_ = viper.BindPFlag("tls.cert", rootCmd.PersistentFlags().Lookup("tls-cert"))
	_ = viper.BindPFlag("tls.key", rootCmd.PersistentFlags().Lookup("tls-key"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("shutdown.timeout", rootCmd.PersistentFlags().Lookup("shutdown-timeout"))
	_ = viper.BindPFlag("health.check_timeout", rootCmd.PersistentFlags().Lookup("health-check-timeout"))
	_ = viper.BindPFlag("health.cache_duration", rootCmd.PersistentFlags().Lookup("health-cache-duration"))
	_ = viper.BindPFlag("locks.provider", rootCmd.PersistentFlags().Lookup("locks-provider"))
	_ = viper.BindPFlag("locks.wait", rootCmd.PersistentFlags().Lookup("locks-wait"))
	_ = viper.BindPFlag("db.path", rootCmd.PersistentFlags().Lookup("db-path"))
	_ = viper.BindPFlag("sweep.enabled", rootCmd.PersistentFlags().Lookup("sweep-enabled"))
	_ = viper.BindPFlag("sweep.self_host", rootCmd.PersistentFlags().Lookup("sweep-self-host"))
	_ = viper.BindPFlag("sweep.interval", rootCmd.PersistentFlags().Lookup("sweep-interval"))
	_ = viper.BindPFlag("sweep.root_timeout", rootCmd.PersistentFlags().Lookup("sweep-root-timeout"))
	_ = viper.BindPFlag("sweep.org_timeout", rootCmd.PersistentFlags().Lookup("sweep-org-timeout"))
	_ = viper.BindPFlag("sweep.app_timeout", rootCmd.PersistentFlags().Lookup("sweep-app-timeout"))
	_ = viper.BindPFlag("sweep.window_days", rootCmd.PersistentFlags().Lookup("sweep-window-days"))
	_ = viper.BindPFlag("signal.url", rootCmd.PersistentFlags().Lookup("signal-url"))
	_ = viper.BindPFlag("decommission.url", rootCmd.PersistentFlags().Lookup("decommission-url"))
	_ = viper.BindPFlag("olric.host", rootCmd.PersistentFlags().Lookup("olric-host"))
	_ = viper.BindPFlag("olric.port", rootCmd.PersistentFlags().Lookup("olric-port"))
	_ = viper.BindPFlag("olric.join_addrs", rootCmd.PersistentFlags().Lookup("olric-join-addrs"))
	_ = viper.BindPFlag("olric.replication_mode", rootCmd.PersistentFlags().Lookup("olric-replication-mode"))
	_ = viper.BindPFlag("olric.replication_factor", rootCmd.PersistentFlags().Lookup("olric-replication-factor"))
	_ = viper.BindPFlag("olric.partition_count", rootCmd.PersistentFlags().Lookup("olric-partition-count"))
	_ = viper.BindPFlag("olric.member_count_quorum", rootCmd.PersistentFlags().Lookup("olric-member-count-quorum"))
	_ = viper.BindPFlag("olric.join_retry_interval", rootCmd.PersistentFlags().Lookup("olric-join-retry-interval"))
	_ = viper.BindPFlag("olric.max_join_attempts", rootCmd.PersistentFlags().Lookup("olric-max-join-attempts"))
	_ = viper.BindPFlag("olric.log_level", rootCmd.PersistentFlags().Lookup("olric-log-level"))
	_ = viper.BindPFlag("olric.keep_alive_period", rootCmd.PersistentFlags().Lookup("olric-keep-alive-period"))
	_ = viper.BindPFlag("olric.request_timeout", rootCmd.PersistentFlags().Lookup("olric-request-timeout"))
	_ = viper.BindPFlag("olric.dmap_name", rootCmd.PersistentFlags().Lookup("olric-dmap-name"))
	_ = viper.BindPFlag("olric.lock_lease", rootCmd.PersistentFlags().Lookup("olric-lock-lease"))
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting studio coordination service",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("date", date),
	)

	buildInfo := map[string]string{
		"version": version,
		"commit":  commit,
		"date":    date,
	}
	m := metrics.NewMetrics(cfg.MetricsNamespace, buildInfo)

	// Open the settings database
	settingsStore, err := settings.Open(cfg.DatabasePath, log)
	if err != nil {
		return fmt.Errorf("failed to open settings database: %w", err)
	}
	defer settingsStore.Close()

	// Health checks
	healthManager := health.NewManager(log, cfg.HealthCheckCacheDuration, cfg.HealthCheckTimeout)
	healthManager.RegisterChecker(health.NewConfigChecker(log))
	healthManager.RegisterChecker(health.NewLoggerChecker(log))
	healthManager.RegisterChecker(health.NewServerChecker(log))
	healthManager.RegisterChecker(health.NewReadinessChecker(log))
	healthManager.RegisterChecker(settings.NewDatabaseHealthChecker(log, settingsStore))

	// Lock provider
	var provider locks.Provider
	var olricStore *store.OlricStore
	var clusterCollector *store.ClusterMetricsCollector

	switch cfg.LockProvider {
	case "olric":
		olricCfg := loadOlricConfig(cfg.LogLevel)

		startCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		olricStore, err = store.NewOlricStore(startCtx, olricCfg, log)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to start olric store: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
			defer cancel()
			if err := olricStore.Close(ctx); err != nil {
				log.Error("Error shutting down olric store", zap.Error(err))
			}
		}()

		provider = olricStore

		healthManager.RegisterChecker(store.NewConnectionHealthChecker(log, olricStore))
		healthManager.RegisterChecker(store.NewClusterHealthChecker(log, olricStore, olricCfg.MemberCountQuorum, olricCfg.IsSingleNode()))
		healthManager.RegisterChecker(store.NewLockHealthChecker(log, olricStore))

		clusterMetrics := store.NewClusterMetrics(cfg.MetricsNamespace, m.Registry())
		clusterCollector = store.NewClusterMetricsCollector(log, olricStore, clusterMetrics, 15*time.Second)
		clusterCollector.Start()
		defer clusterCollector.Stop()

	case "memory":
		log.Warn("Using in-process lock provider; locks are not shared across replicas")
		provider = locks.NewMemoryProvider()

	default:
		return fmt.Errorf("unknown lock provider: %s", cfg.LockProvider)
	}

	lockService := locks.NewService(provider, log)
	syncMiddleware := syncmw.NewMiddleware(lockService, cfg.LockWait, log, m)

	settingsService := settings.NewService(settingsStore, log)
	settingsHandlers := handlers.NewSettingsHandlers(settingsService, log, m)

	// Sweep scheduler
	scheduler := buildScheduler(cfg, settingsStore, log, m)
	scheduler.Start()
	defer scheduler.Stop()

	// Create the servers
	srv, err := server.New(cfg, log, &server.Dependencies{
		Metrics:  m,
		Health:   healthManager,
		Settings: settingsHandlers,
		Sync:     syncMiddleware,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	log.Info("Service started successfully")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutdown signal received")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		return err
	}

	log.Info("Service stopped gracefully")
	return nil
}

// runSweepOnce runs one sweep against the settings database and exits.
func runSweepOnce(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	if !cfg.Sweep.Enabled {
		return fmt.Errorf("sweep is disabled in the configuration")
	}

	settingsStore, err := settings.Open(cfg.DatabasePath, log)
	if err != nil {
		return fmt.Errorf("failed to open settings database: %w", err)
	}
	defer settingsStore.Close()

	m := metrics.NewMetrics(cfg.MetricsNamespace, map[string]string{
		"version": version,
		"commit":  commit,
		"date":    date,
	})

	scheduler := buildScheduler(cfg, settingsStore, log, m)
	report := scheduler.RunSweep(cmd.Context())

	log.Info("Sweep complete",
		zap.String("run_id", report.RunID),
		zap.Int("orgs", report.OrgsEnumerated),
		zap.Int("candidates", report.Candidates),
		zap.Int("decommission_failures", report.DecommissionFailures),
	)

	return nil
}

// buildScheduler assembles the sweep scheduler on the settings store and the
// configured external endpoints.
func buildScheduler(cfg *config.Config, settingsStore settings.Store, log *zap.Logger, m *metrics.Metrics) *sweep.Scheduler {
	directory := sweep.NewSettingsDirectory(settingsStore)
	signal := sweep.NewHTTPActivitySignal(cfg.ActivitySignalURL)
	evaluator := sweep.NewEvaluationService(settingsStore, signal, log)
	decommissioner := sweep.NewHTTPDecommissioner(cfg.DecommissionURL, log)

	return sweep.NewScheduler(cfg.Sweep, directory, evaluator, decommissioner, log, m)
}

// loadOlricConfig reads the olric settings from viper. The Olric log level
// defaults to the main log level when not set explicitly.
func loadOlricConfig(logLevel string) *store.OlricConfig {
	cfg := store.NewDefaultOlricConfig()

	cfg.BindAddr = viper.GetString("olric.host")
	cfg.BindPort = viper.GetInt("olric.port")
	cfg.JoinAddrs = viper.GetStringSlice("olric.join_addrs")
	cfg.ReplicationMode = viper.GetString("olric.replication_mode")
	cfg.ReplicationFactor = viper.GetInt("olric.replication_factor")
	cfg.PartitionCount = uint64(viper.GetInt("olric.partition_count"))
	cfg.MemberCountQuorum = viper.GetInt("olric.member_count_quorum")
	cfg.JoinRetryInterval = viper.GetDuration("olric.join_retry_interval")
	cfg.MaxJoinAttempts = viper.GetInt("olric.max_join_attempts")
	cfg.KeepAlivePeriod = viper.GetDuration("olric.keep_alive_period")
	cfg.RequestTimeout = viper.GetDuration("olric.request_timeout")
	cfg.DMapName = viper.GetString("olric.dmap_name")
	cfg.LockLease = viper.GetDuration("olric.lock_lease")

	if level := viper.GetString("olric.log_level"); level != "" {
		cfg.LogLevel = level
	} else {
		cfg.LogLevel = strings.ToUpper(logLevel)
	}

	return cfg
}
