package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
)

// validConfig returns a configuration that passes Validate, optionally
// mutated by the given function.
func validConfig(mutate func(*Config)) *Config {
	cfg := &Config{
		APIPort:                  8080,
		ProbePort:                8081,
		MetricsPort:              9090,
		LogLevel:                 "info",
		LogFormat:                "json",
		ShutdownTimeout:          30 * time.Second,
		HealthCheckTimeout:       5 * time.Second,
		HealthCheckCacheDuration: 10 * time.Second,
		LockProvider:             "olric",
		LockWait:                 DefaultLockWait,
		DatabasePath:             "coordinator.db",
		MetricsNamespace:         "studio_coordinator",
		Sweep: SweepConfig{
			Enabled:     true,
			SelfHost:    true,
			Interval:    time.Hour,
			RootTimeout: DefaultSweepRootTimeout,
			OrgTimeout:  DefaultSweepOrgTimeout,
			AppTimeout:  DefaultSweepAppTimeout,
			WindowDays:  7,
		},
	}
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

func TestLoad(t *testing.T) {
	// Reset viper state before each test
	defer viper.Reset()

	tests := []struct {
		name    string
		setup   func()
		wantErr bool
		check   func(*testing.T, *Config)
	}{
		{
			name: "default configuration",
			setup: func() {
				viper.Reset()
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				if cfg.APIPort != 8080 {
					t.Errorf("APIPort = %d, want 8080", cfg.APIPort)
				}
				if cfg.ProbePort != 8081 {
					t.Errorf("ProbePort = %d, want 8081", cfg.ProbePort)
				}
				if cfg.MetricsPort != 9090 {
					t.Errorf("MetricsPort = %d, want 9090", cfg.MetricsPort)
				}
				if cfg.LogLevel != "info" {
					t.Errorf("LogLevel = %s, want info", cfg.LogLevel)
				}
				if cfg.LogFormat != "json" {
					t.Errorf("LogFormat = %s, want json", cfg.LogFormat)
				}
				if cfg.ShutdownTimeout != 30*time.Second {
					t.Errorf("ShutdownTimeout = %s, want 30s", cfg.ShutdownTimeout)
				}
				if cfg.LockProvider != "olric" {
					t.Errorf("LockProvider = %s, want olric", cfg.LockProvider)
				}
				if cfg.LockWait != DefaultLockWait {
					t.Errorf("LockWait = %s, want %s", cfg.LockWait, DefaultLockWait)
				}
				if cfg.DatabasePath != "coordinator.db" {
					t.Errorf("DatabasePath = %s, want coordinator.db", cfg.DatabasePath)
				}
				if cfg.Sweep.RootTimeout != DefaultSweepRootTimeout {
					t.Errorf("Sweep.RootTimeout = %s, want %s", cfg.Sweep.RootTimeout, DefaultSweepRootTimeout)
				}
				if cfg.Sweep.OrgTimeout != DefaultSweepOrgTimeout {
					t.Errorf("Sweep.OrgTimeout = %s, want %s", cfg.Sweep.OrgTimeout, DefaultSweepOrgTimeout)
				}
				if cfg.Sweep.AppTimeout != DefaultSweepAppTimeout {
					t.Errorf("Sweep.AppTimeout = %s, want %s", cfg.Sweep.AppTimeout, DefaultSweepAppTimeout)
				}
				if cfg.Sweep.WindowDays != 7 {
					t.Errorf("Sweep.WindowDays = %d, want 7", cfg.Sweep.WindowDays)
				}
			},
		},
		{
			name: "custom configuration via viper",
			setup: func() {
				viper.Reset()
				viper.Set("api.port", 9000)
				viper.Set("probe.port", 9001)
				viper.Set("metrics.port", 9002)
				viper.Set("log.level", "debug")
				viper.Set("log.format", "console")
				viper.Set("shutdown.timeout", "60s")
				viper.Set("locks.provider", "memory")
				viper.Set("locks.wait", "10s")
				viper.Set("sweep.interval", "30m")
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				if cfg.APIPort != 9000 {
					t.Errorf("APIPort = %d, want 9000", cfg.APIPort)
				}
				if cfg.ProbePort != 9001 {
					t.Errorf("ProbePort = %d, want 9001", cfg.ProbePort)
				}
				if cfg.MetricsPort != 9002 {
					t.Errorf("MetricsPort = %d, want 9002", cfg.MetricsPort)
				}
				if cfg.LogLevel != "debug" {
					t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
				}
				if cfg.LogFormat != "console" {
					t.Errorf("LogFormat = %s, want console", cfg.LogFormat)
				}
				if cfg.ShutdownTimeout != 60*time.Second {
					t.Errorf("ShutdownTimeout = %s, want 60s", cfg.ShutdownTimeout)
				}
				if cfg.LockProvider != "memory" {
					t.Errorf("LockProvider = %s, want memory", cfg.LockProvider)
				}
				if cfg.LockWait != 10*time.Second {
					t.Errorf("LockWait = %s, want 10s", cfg.LockWait)
				}
				if cfg.Sweep.Interval != 30*time.Minute {
					t.Errorf("Sweep.Interval = %s, want 30m", cfg.Sweep.Interval)
				}
			},
		},
		{
			name: "TLS configuration",
			setup: func() {
				viper.Reset()
				viper.Set("tls.enabled", true)
				viper.Set("tls.cert", "/path/to/cert.pem")
				viper.Set("tls.key", "/path/to/key.pem")
			},
			wantErr: false,
			check: func(t *testing.T, cfg *Config) {
				if !cfg.TLSEnabled {
					t.Error("TLSEnabled = false, want true")
				}
				if cfg.TLSCert != "/path/to/cert.pem" {
					t.Errorf("TLSCert = %s, want /path/to/cert.pem", cfg.TLSCert)
				}
				if cfg.TLSKey != "/path/to/key.pem" {
					t.Errorf("TLSKey = %s, want /path/to/key.pem", cfg.TLSKey)
				}
			},
		},
		{
			name: "invalid shutdown timeout",
			setup: func() {
				viper.Reset()
				viper.Set("shutdown.timeout", "invalid")
			},
			wantErr: true,
			check:   nil,
		},
		{
			name: "invalid lock provider",
			setup: func() {
				viper.Reset()
				viper.Set("locks.provider", "redis")
			},
			wantErr: true,
			check:   nil,
		},
		{
			name: "invalid sweep timeout",
			setup: func() {
				viper.Reset()
				viper.Set("sweep.org_timeout", "not-a-duration")
			},
			wantErr: true,
			check:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()

			cfg, err := Load()
			if (err != nil) != tt.wantErr {
				t.Errorf("Load() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if err == nil && tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{
			name:    "valid configuration",
			config:  validConfig(nil),
			wantErr: false,
		},
		{
			name:    "invalid API port - too low",
			config:  validConfig(func(c *Config) { c.APIPort = 0 }),
			wantErr: true,
		},
		{
			name:    "invalid API port - too high",
			config:  validConfig(func(c *Config) { c.APIPort = 65536 }),
			wantErr: true,
		},
		{
			name:    "invalid probe port",
			config:  validConfig(func(c *Config) { c.ProbePort = -1 }),
			wantErr: true,
		},
		{
			name:    "invalid metrics port",
			config:  validConfig(func(c *Config) { c.MetricsPort = 70000 }),
			wantErr: true,
		},
		{
			name: "TLS enabled but no cert",
			config: validConfig(func(c *Config) {
				c.TLSEnabled = true
				c.TLSKey = "/path/to/key"
			}),
			wantErr: true,
		},
		{
			name: "TLS enabled but no key",
			config: validConfig(func(c *Config) {
				c.TLSEnabled = true
				c.TLSCert = "/path/to/cert"
			}),
			wantErr: true,
		},
		{
			name:    "invalid log level",
			config:  validConfig(func(c *Config) { c.LogLevel = "invalid" }),
			wantErr: true,
		},
		{
			name:    "invalid log format",
			config:  validConfig(func(c *Config) { c.LogFormat = "invalid" }),
			wantErr: true,
		},
		{
			name:    "negative shutdown timeout",
			config:  validConfig(func(c *Config) { c.ShutdownTimeout = -1 * time.Second }),
			wantErr: true,
		},
		{
			name:    "invalid lock provider",
			config:  validConfig(func(c *Config) { c.LockProvider = "etcd" }),
			wantErr: true,
		},
		{
			name:    "non-positive lock wait",
			config:  validConfig(func(c *Config) { c.LockWait = 0 }),
			wantErr: true,
		},
		{
			name:    "empty database path",
			config:  validConfig(func(c *Config) { c.DatabasePath = "" }),
			wantErr: true,
		},
		{
			name:    "all log levels are valid",
			config:  validConfig(func(c *Config) { c.LogLevel = "debug" }),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSweepConfig_Validate(t *testing.T) {
	base := SweepConfig{
		Enabled:     true,
		SelfHost:    true,
		Interval:    time.Hour,
		RootTimeout: DefaultSweepRootTimeout,
		OrgTimeout:  DefaultSweepOrgTimeout,
		AppTimeout:  DefaultSweepAppTimeout,
		WindowDays:  7,
	}

	tests := []struct {
		name    string
		mutate  func(*SweepConfig)
		wantErr bool
	}{
		{
			name:    "valid configuration",
			mutate:  nil,
			wantErr: false,
		},
		{
			name:    "disabled sweep skips validation",
			mutate:  func(c *SweepConfig) { c.Enabled = false; c.Interval = 0 },
			wantErr: false,
		},
		{
			name:    "non-positive interval when self-hosted",
			mutate:  func(c *SweepConfig) { c.Interval = 0 },
			wantErr: true,
		},
		{
			name:    "non-positive interval allowed when externally hosted",
			mutate:  func(c *SweepConfig) { c.SelfHost = false; c.Interval = 0 },
			wantErr: false,
		},
		{
			name:    "non-positive root timeout",
			mutate:  func(c *SweepConfig) { c.RootTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "non-positive org timeout",
			mutate:  func(c *SweepConfig) { c.OrgTimeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "non-positive app timeout",
			mutate:  func(c *SweepConfig) { c.AppTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "window days below 1",
			mutate:  func(c *SweepConfig) { c.WindowDays = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("SweepConfig.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	// Save current environment and restore at the end
	oldEnv := make(map[string]string)
	envVars := map[string]string{
		"COORD_API_PORT":         "9000",
		"COORD_PROBE_PORT":       "9001",
		"COORD_METRICS_PORT":     "9002",
		"COORD_LOG_LEVEL":        "debug",
		"COORD_LOG_FORMAT":       "console",
		"COORD_TLS_ENABLED":      "true",
		"COORD_TLS_CERT":         "/test/cert.pem",
		"COORD_TLS_KEY":          "/test/key.pem",
		"COORD_SHUTDOWN_TIMEOUT": "45s",
		"COORD_LOCKS_PROVIDER":   "memory",
		"COORD_SWEEP_WINDOW_DAYS": "14",
	}

	for key := range envVars {
		oldEnv[key] = os.Getenv(key)
	}

	// Clean up at the end
	defer func() {
		for key, value := range oldEnv {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
		viper.Reset()
	}()

	// Set environment variables
	for key, value := range envVars {
		if err := os.Setenv(key, value); err != nil {
			t.Fatalf("Failed to set env var %s: %v", key, err)
		}
	}

	// Reset viper to pick up environment variables
	viper.Reset()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.APIPort != 9000 {
		t.Errorf("APIPort = %d, want 9000", cfg.APIPort)
	}
	if cfg.ProbePort != 9001 {
		t.Errorf("ProbePort = %d, want 9001", cfg.ProbePort)
	}
	if cfg.MetricsPort != 9002 {
		t.Errorf("MetricsPort = %d, want 9002", cfg.MetricsPort)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.LogFormat != "console" {
		t.Errorf("LogFormat = %s, want console", cfg.LogFormat)
	}
	if !cfg.TLSEnabled {
		t.Error("TLSEnabled = false, want true")
	}
	if cfg.ShutdownTimeout != 45*time.Second {
		t.Errorf("ShutdownTimeout = %s, want 45s", cfg.ShutdownTimeout)
	}
	if cfg.LockProvider != "memory" {
		t.Errorf("LockProvider = %s, want memory", cfg.LockProvider)
	}
	if cfg.Sweep.WindowDays != 14 {
		t.Errorf("Sweep.WindowDays = %d, want 14", cfg.Sweep.WindowDays)
	}
}
