// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the configuration of the IPMI polling service.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths        PathsConfig        `yaml:"paths"`
	IPMI         IPMIConfig         `yaml:"ipmi"`
	Availability AvailabilityConfig `yaml:"availability"`
	Inventory    InventoryConfig    `yaml:"inventory"`
	History      HistoryConfig      `yaml:"history"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Simulator    SimulatorConfig    `yaml:"simulator"`

	Development *ConfigOverrides `yaml:"development,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains the sections that can be overridden per
// environment. Only non-zero fields take effect.
type ConfigOverrides struct {
	Paths   *PathsConfig   `yaml:"paths,omitempty"`
	IPMI    *IPMIConfig    `yaml:"ipmi,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for service data.
	Root string `yaml:"root"`

	// Bin holds the manager and poller binaries the daemon spawns.
	// Empty means they are looked up next to the daemon and then in
	// PATH.
	Bin string `yaml:"bin"`

	// Run holds the IPC socket.
	Run string `yaml:"run"`

	// State holds the history database.
	State string `yaml:"state"`
}

// IPMIConfig configures the manager and its poller pool.
type IPMIConfig struct {
	// Pollers is the fixed size of the poller pool.
	Pollers int `yaml:"pollers"`

	// Socket is the manager's IPC socket path.
	Socket string `yaml:"socket"`

	// ManagerDelay caps how long the manager waits for a message
	// before checking for due items again.
	ManagerDelay time.Duration `yaml:"manager_delay"`

	// CleanupInterval is how often idle hosts are evicted and pollers
	// are told to close idle sessions.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// HostTTL is how long a host may go without requests before its
	// poller assignment is dropped.
	HostTTL time.Duration `yaml:"host_ttl"`

	// SessionIdleLimit is how long a poller keeps an unused BMC
	// session open.
	SessionIdleLimit time.Duration `yaml:"session_idle_limit"`

	// OperationTimeout bounds a single hardware operation in a poller.
	OperationTimeout time.Duration `yaml:"operation_timeout"`

	// ConnectTimeout bounds a poller's attempts to reach the manager.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// PollerWait is how long a poller waits for a message before
	// pumping the hardware library.
	PollerWait time.Duration `yaml:"poller_wait"`

	// PumpInterval is how long a poller pumps the hardware library
	// when idle.
	PumpInterval time.Duration `yaml:"pump_interval"`

	// MaxBatch is the number of due items fetched per scheduling pass.
	MaxBatch int `yaml:"max_batch"`

	// StatusInterval is how often the manager logs its counters.
	StatusInterval time.Duration `yaml:"status_interval"`
}

// AvailabilityConfig configures the host cool-down windows applied
// after network-level failures.
type AvailabilityConfig struct {
	// UnreachablePeriod is how long a host may keep failing before it
	// is declared unavailable.
	UnreachablePeriod time.Duration `yaml:"unreachable_period"`

	// UnreachableDelay is the cool-down after a failure while the host
	// is still only unreachable.
	UnreachableDelay time.Duration `yaml:"unreachable_delay"`

	// UnavailableDelay is the cool-down once the host is unavailable.
	UnavailableDelay time.Duration `yaml:"unavailable_delay"`
}

// InventoryConfig locates the host and item inventory.
type InventoryConfig struct {
	// Path is the YAML inventory file.
	Path string `yaml:"path"`

	// IdentityFile is an age identity used to decrypt sealed BMC
	// passwords in the inventory. Optional.
	IdentityFile string `yaml:"identity_file"`
}

// HistoryConfig configures the SQLite value store.
type HistoryConfig struct {
	// Path is the database file. Defaults to <paths.state>/history.db.
	Path string `yaml:"path"`

	// PoolSize is the number of SQLite connections.
	PoolSize int `yaml:"pool_size"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address for /metrics, e.g. "127.0.0.1:9633".
	// Empty disables the endpoint.
	Listen string `yaml:"listen"`
}

// SimulatorConfig configures the simulated BMC driver used by pollers.
type SimulatorConfig struct {
	// Fixtures is a JSONC file describing simulated controllers.
	Fixtures string `yaml:"fixtures"`
}

// Default returns the base configuration a file is merged into.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "treegix-ipmi")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:  defaultRoot,
			Run:   filepath.Join(defaultRoot, "run"),
			State: filepath.Join(defaultRoot, "state"),
		},
		IPMI: IPMIConfig{
			Pollers:          1,
			Socket:           "${TREEGIX_RUN}/ipmi.sock",
			ManagerDelay:     time.Second,
			CleanupInterval:  time.Hour,
			HostTTL:          24 * time.Hour,
			SessionIdleLimit: 3 * time.Hour,
			OperationTimeout: 10 * time.Second,
			ConnectTimeout:   time.Minute,
			PollerWait:       2 * time.Second,
			PumpInterval:     time.Second,
			MaxBatch:         128,
			StatusInterval:   5 * time.Second,
		},
		Availability: AvailabilityConfig{
			UnreachablePeriod: 45 * time.Second,
			UnreachableDelay:  15 * time.Second,
			UnavailableDelay:  60 * time.Second,
		},
		History: HistoryConfig{
			Path:     "${TREEGIX_STATE}/history.db",
			PoolSize: 2,
		},
	}
}

// ConfigEnvVar names the environment variable Load reads.
const ConfigEnvVar = "TREEGIX_CONFIG"

// Load loads configuration from the file named by TREEGIX_CONFIG.
func Load() (*Config, error) {
	configPath := os.Getenv(ConfigEnvVar)
	if configPath == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of the IPMI service config file, or use --config", ConfigEnvVar)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from path, applies the overrides for
// the configured environment and expands path variables.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// Resolve loads the file at path, or the file named by TREEGIX_CONFIG
// when path is empty, and validates the result. Every binary's
// --config flag goes through here.
func Resolve(path string) (*Config, error) {
	var cfg *Config
	var err error
	if path != "" {
		cfg, err = LoadFile(path)
	} else {
		cfg, err = Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if paths := overrides.Paths; paths != nil {
		overrideString(&c.Paths.Root, paths.Root)
		overrideString(&c.Paths.Bin, paths.Bin)
		overrideString(&c.Paths.Run, paths.Run)
		overrideString(&c.Paths.State, paths.State)
	}

	if ipmi := overrides.IPMI; ipmi != nil {
		if ipmi.Pollers != 0 {
			c.IPMI.Pollers = ipmi.Pollers
		}
		if ipmi.MaxBatch != 0 {
			c.IPMI.MaxBatch = ipmi.MaxBatch
		}
		overrideString(&c.IPMI.Socket, ipmi.Socket)
		overrideDuration(&c.IPMI.ManagerDelay, ipmi.ManagerDelay)
		overrideDuration(&c.IPMI.CleanupInterval, ipmi.CleanupInterval)
		overrideDuration(&c.IPMI.HostTTL, ipmi.HostTTL)
		overrideDuration(&c.IPMI.SessionIdleLimit, ipmi.SessionIdleLimit)
		overrideDuration(&c.IPMI.OperationTimeout, ipmi.OperationTimeout)
		overrideDuration(&c.IPMI.ConnectTimeout, ipmi.ConnectTimeout)
		overrideDuration(&c.IPMI.PollerWait, ipmi.PollerWait)
		overrideDuration(&c.IPMI.PumpInterval, ipmi.PumpInterval)
		overrideDuration(&c.IPMI.StatusInterval, ipmi.StatusInterval)
	}

	if metrics := overrides.Metrics; metrics != nil {
		overrideString(&c.Metrics.Listen, metrics.Listen)
	}
}

func overrideString(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func overrideDuration(target *time.Duration, value time.Duration) {
	if value != 0 {
		*target = value
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"TREEGIX_ROOT": c.Paths.Root,
		"HOME":         os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["TREEGIX_ROOT"] = c.Paths.Root

	c.Paths.Bin = expandVars(c.Paths.Bin, vars)
	c.Paths.Run = expandVars(c.Paths.Run, vars)
	c.Paths.State = expandVars(c.Paths.State, vars)
	vars["TREEGIX_RUN"] = c.Paths.Run
	vars["TREEGIX_STATE"] = c.Paths.State

	c.IPMI.Socket = expandVars(c.IPMI.Socket, vars)
	c.Inventory.Path = expandVars(c.Inventory.Path, vars)
	c.Inventory.IdentityFile = expandVars(c.Inventory.IdentityFile, vars)
	c.History.Path = expandVars(c.History.Path, vars)
	c.Simulator.Fixtures = expandVars(c.Simulator.Fixtures, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default}. Known variables take
// precedence over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.IPMI.Pollers < 1 || c.IPMI.Pollers > 1000 {
		errs = append(errs, fmt.Errorf("ipmi.pollers must be between 1 and 1000, got %d", c.IPMI.Pollers))
	}
	if c.IPMI.Socket == "" {
		errs = append(errs, errors.New("ipmi.socket is required"))
	}
	if c.IPMI.MaxBatch < 1 {
		errs = append(errs, fmt.Errorf("ipmi.max_batch must be positive, got %d", c.IPMI.MaxBatch))
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"ipmi.manager_delay", c.IPMI.ManagerDelay},
		{"ipmi.cleanup_interval", c.IPMI.CleanupInterval},
		{"ipmi.host_ttl", c.IPMI.HostTTL},
		{"ipmi.session_idle_limit", c.IPMI.SessionIdleLimit},
		{"ipmi.operation_timeout", c.IPMI.OperationTimeout},
		{"ipmi.connect_timeout", c.IPMI.ConnectTimeout},
		{"ipmi.poller_wait", c.IPMI.PollerWait},
		{"ipmi.pump_interval", c.IPMI.PumpInterval},
		{"ipmi.status_interval", c.IPMI.StatusInterval},
		{"availability.unreachable_period", c.Availability.UnreachablePeriod},
		{"availability.unreachable_delay", c.Availability.UnreachableDelay},
		{"availability.unavailable_delay", c.Availability.UnavailableDelay},
	}
	for _, duration := range durations {
		if duration.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", duration.name, duration.value))
		}
	}

	if c.Inventory.Path == "" {
		errs = append(errs, errors.New("inventory.path is required"))
	}
	if c.History.Path == "" {
		errs = append(errs, errors.New("history.path is required"))
	}
	if c.History.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("history.pool_size must be positive, got %d", c.History.PoolSize))
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the configured directories if they do not exist.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Root, c.Paths.Run, c.Paths.State, filepath.Dir(c.IPMI.Socket)} {
		if path == "" || path == "." {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

// BinaryPath returns the full path to one of the service binaries. It
// looks in Paths.Bin, then next to the running executable, then in
// PATH.
func (c *Config) BinaryPath(name string) (string, error) {
	if c.Paths.Bin != "" {
		candidate := filepath.Join(c.Paths.Bin, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	if executable, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(executable), name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	path, err := exec.LookPath(name)
	if err != nil {
		if c.Paths.Bin != "" {
			return "", fmt.Errorf("%s not found in %s, next to this binary, or in PATH", name, c.Paths.Bin)
		}
		return "", fmt.Errorf("%s not found next to this binary or in PATH", name)
	}
	return path, nil
}
