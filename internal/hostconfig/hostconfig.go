// Package hostconfig loads the host's static tuning thresholds: instance
// capacity, crash-window parameters, and resource-ceiling fractions (spec
// §4.3). These are operator-facing knobs, not per-account settings, so they
// live in their own YAML file rather than the account registry.
package hostconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SupervisorConfig holds the Instance Supervisor's tunable thresholds.
type SupervisorConfig struct {
	MaxInstances    int           `yaml:"maxInstances"`
	MaxCrashCount   int           `yaml:"maxCrashCount"`
	CrashWindow     time.Duration `yaml:"crashWindow"`
	RestartDelay    time.Duration `yaml:"restartDelay"`
	HealthTick      time.Duration `yaml:"healthTick"`
	HangTimeout     time.Duration `yaml:"hangTimeout"`
	WarningFraction float64       `yaml:"warningFraction"`
	LimitFraction   float64       `yaml:"limitFraction"`
}

// SwitchingConfig holds the View Switching Engine's tunable thresholds.
type SwitchingConfig struct {
	SoftCapViews int `yaml:"softCapViews"`
}

// Config is the full static host configuration (spec §4.3, §4.2).
type Config struct {
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Switching  SwitchingConfig  `yaml:"switching"`
}

// DefaultConfig returns the configuration with every spec-mandated default:
// maxInstances 30, maxCrashCount 3, a 5-minute crash window, a 5s restart
// delay, a 10s health tick, a 30s hang timeout, and 75%/90% resource
// ceiling fractions. SoftCapViews 0 means "unlimited up to the resource
// ceiling" per spec §4.2 "Prefetch and residency".
func DefaultConfig() *Config {
	return &Config{
		Supervisor: SupervisorConfig{
			MaxInstances:    30,
			MaxCrashCount:   3,
			CrashWindow:     5 * time.Minute,
			RestartDelay:    5 * time.Second,
			HealthTick:      10 * time.Second,
			HangTimeout:     30 * time.Second,
			WarningFraction: 0.75,
			LimitFraction:   0.90,
		},
		Switching: SwitchingConfig{
			SoftCapViews: 0,
		},
	}
}

// LoadFromPath reads and parses a host configuration file at path, filling
// any zero-valued field left unset in the file with the spec default.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read host config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse host config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPathOrDefault loads the host configuration from path, falling
// back to DefaultConfig when the file does not exist. A malformed file
// that does exist is still a hard error.
func LoadFromPathOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return LoadFromPath(path)
}

func validate(cfg *Config) error {
	if cfg.Supervisor.MaxInstances <= 0 {
		return fmt.Errorf("supervisor.maxInstances must be positive, got %d", cfg.Supervisor.MaxInstances)
	}
	if cfg.Supervisor.MaxCrashCount < 0 {
		return fmt.Errorf("supervisor.maxCrashCount must not be negative, got %d", cfg.Supervisor.MaxCrashCount)
	}
	if cfg.Supervisor.WarningFraction <= 0 || cfg.Supervisor.WarningFraction >= 1 {
		return fmt.Errorf("supervisor.warningFraction must be in (0,1), got %v", cfg.Supervisor.WarningFraction)
	}
	if cfg.Supervisor.LimitFraction <= cfg.Supervisor.WarningFraction || cfg.Supervisor.LimitFraction >= 1 {
		return fmt.Errorf("supervisor.limitFraction must be in (warningFraction,1), got %v", cfg.Supervisor.LimitFraction)
	}
	if cfg.Switching.SoftCapViews < 0 {
		return fmt.Errorf("switching.softCapViews must not be negative, got %d", cfg.Switching.SoftCapViews)
	}
	return nil
}
