package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
type Config struct {
	// API server settings
	APIPort int
	APIHost string

	// Probe server settings
	ProbePort int
	ProbeHost string

	// Metrics server settings
	MetricsPort int
	MetricsHost string

	// TLS settings
	TLSEnabled bool
	TLSCert    string
	TLSKey     string

	// Logging settings
	LogLevel  string
	LogFormat string

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration

	// Health check settings
	HealthCheckTimeout       time.Duration
	HealthCheckCacheDuration time.Duration

	// Request synchronisation settings
	LockProvider string
	LockWait     time.Duration

	// Settings database
	DatabasePath string

	// Sweep scheduler settings
	Sweep SweepConfig

	// Activity signal and decommission executor endpoints
	ActivitySignalURL string
	DecommissionURL   string

	// Metrics settings
	MetricsNamespace string
}

// SweepConfig holds the inactivity sweep scheduler settings. It is read
// once at startup and never mutated afterwards.
type SweepConfig struct {
	// Enabled turns the sweep on or off for the whole process.
	Enabled bool

	// SelfHost runs the scheduler inside this process. When false the
	// sweep is expected to be triggered by an external host calling the
	// scheduler directly.
	SelfHost bool

	// Interval is how often the root job fires when self-hosted.
	Interval time.Duration

	// RootTimeout bounds the root job's enumeration and dispatch step.
	RootTimeout time.Duration

	// OrgTimeout bounds each per-organisation job.
	OrgTimeout time.Duration

	// AppTimeout bounds each per-app job.
	AppTimeout time.Duration

	// WindowDays is the inactivity lookback window, in days.
	WindowDays int
}

// Default timeouts for the three sweep levels.
const (
	DefaultSweepRootTimeout = 2 * time.Minute
	DefaultSweepOrgTimeout  = 15 * time.Minute
	DefaultSweepAppTimeout  = 10 * time.Minute
)

// DefaultLockWait is how long a synchronised request waits for its lock
// before giving up with a retryable failure.
const DefaultLockWait = 30 * time.Second

// Load reads configuration from environment variables, config file, and flags.
func Load() (*Config, error) {
	// Set defaults
	viper.SetDefault("api.port", 8080)
	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("probe.port", 8081)
	viper.SetDefault("probe.host", "0.0.0.0")
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.host", "0.0.0.0")
	viper.SetDefault("tls.enabled", false)
	viper.SetDefault("tls.cert", "")
	viper.SetDefault("tls.key", "")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("shutdown.timeout", "30s")
	viper.SetDefault("health.check_timeout", "5s")
	viper.SetDefault("health.cache_duration", "10s")
	viper.SetDefault("locks.provider", "olric")
	viper.SetDefault("locks.wait", DefaultLockWait.String())
	viper.SetDefault("db.path", "coordinator.db")
	viper.SetDefault("sweep.enabled", true)
	viper.SetDefault("sweep.self_host", true)
	viper.SetDefault("sweep.interval", "1h")
	viper.SetDefault("sweep.root_timeout", DefaultSweepRootTimeout.String())
	viper.SetDefault("sweep.org_timeout", DefaultSweepOrgTimeout.String())
	viper.SetDefault("sweep.app_timeout", DefaultSweepAppTimeout.String())
	viper.SetDefault("sweep.window_days", 7)
	viper.SetDefault("signal.url", "")
	viper.SetDefault("decommission.url", "")

	// Enable environment variable support with automatic replacement
	viper.SetEnvPrefix("COORD")
	viper.AutomaticEnv()
	// Replace . with _ in environment variable names (e.g. api.port -> COORD_API_PORT)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Try to read config file if it exists
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/coordinator/")

	// Reading config file is optional
	_ = viper.ReadInConfig()

	// Parse configuration
	cfg := &Config{
		APIPort:           viper.GetInt("api.port"),
		APIHost:           viper.GetString("api.host"),
		ProbePort:         viper.GetInt("probe.port"),
		ProbeHost:         viper.GetString("probe.host"),
		MetricsPort:       viper.GetInt("metrics.port"),
		MetricsHost:       viper.GetString("metrics.host"),
		TLSEnabled:        viper.GetBool("tls.enabled"),
		TLSCert:           viper.GetString("tls.cert"),
		TLSKey:            viper.GetString("tls.key"),
		LogLevel:          viper.GetString("log.level"),
		LogFormat:         viper.GetString("log.format"),
		LockProvider:      viper.GetString("locks.provider"),
		DatabasePath:      viper.GetString("db.path"),
		ActivitySignalURL: viper.GetString("signal.url"),
		DecommissionURL:   viper.GetString("decommission.url"),
		MetricsNamespace:  "studio_coordinator", // Fixed value, not configurable
		Sweep: SweepConfig{
			Enabled:    viper.GetBool("sweep.enabled"),
			SelfHost:   viper.GetBool("sweep.self_host"),
			WindowDays: viper.GetInt("sweep.window_days"),
		},
	}

	durations := []struct {
		key  string
		dest *time.Duration
	}{
		{"shutdown.timeout", &cfg.ShutdownTimeout},
		{"health.check_timeout", &cfg.HealthCheckTimeout},
		{"health.cache_duration", &cfg.HealthCheckCacheDuration},
		{"locks.wait", &cfg.LockWait},
		{"sweep.interval", &cfg.Sweep.Interval},
		{"sweep.root_timeout", &cfg.Sweep.RootTimeout},
		{"sweep.org_timeout", &cfg.Sweep.OrgTimeout},
		{"sweep.app_timeout", &cfg.Sweep.AppTimeout},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(viper.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dest = parsed
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.APIPort < 1 || c.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", c.APIPort)
	}
	if c.ProbePort < 1 || c.ProbePort > 65535 {
		return fmt.Errorf("invalid probe port: %d", c.ProbePort)
	}
	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", c.MetricsPort)
	}

	if c.TLSEnabled {
		if c.TLSCert == "" {
			return fmt.Errorf("TLS enabled but no certificate path provided")
		}
		if c.TLSKey == "" {
			return fmt.Errorf("TLS enabled but no key path provided")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.LogFormat)
	}

	if c.LockProvider != "olric" && c.LockProvider != "memory" {
		return fmt.Errorf("invalid lock provider: %s (must be olric or memory)", c.LockProvider)
	}

	if c.LockWait <= 0 {
		return fmt.Errorf("invalid lock wait: %s (must be positive)", c.LockWait)
	}

	if c.DatabasePath == "" {
		return fmt.Errorf("database path cannot be empty")
	}

	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %s (must be positive)", c.ShutdownTimeout)
	}

	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("invalid health check timeout: %s (must be positive)", c.HealthCheckTimeout)
	}

	if c.HealthCheckCacheDuration < 0 {
		return fmt.Errorf("invalid health check cache duration: %s (must be non-negative, zero disables caching)", c.HealthCheckCacheDuration)
	}

	if err := c.Sweep.Validate(); err != nil {
		return err
	}

	if c.MetricsNamespace == "" {
		return fmt.Errorf("metrics namespace cannot be empty")
	}

	return nil
}

// Validate checks if the sweep configuration is valid.
func (c *SweepConfig) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.SelfHost && c.Interval <= 0 {
		return fmt.Errorf("invalid sweep interval: %s (must be positive when self-hosted)", c.Interval)
	}

	if c.RootTimeout <= 0 {
		return fmt.Errorf("invalid sweep root timeout: %s (must be positive)", c.RootTimeout)
	}

	if c.OrgTimeout <= 0 {
		return fmt.Errorf("invalid sweep org timeout: %s (must be positive)", c.OrgTimeout)
	}

	if c.AppTimeout <= 0 {
		return fmt.Errorf("invalid sweep app timeout: %s (must be positive)", c.AppTimeout)
	}

	if c.WindowDays < 1 {
		return fmt.Errorf("invalid sweep window days: %d (must be at least 1)", c.WindowDays)
	}

	return nil
}
