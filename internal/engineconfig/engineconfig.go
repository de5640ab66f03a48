// Package engineconfig loads the small layered configuration
// system-manager-engine needs: a state directory override, DBus call
// timeout, job-wait deadline, and log level. Layers override in order
// (flags > env > file > built-in default), the same convention the
// teacher's internal/config package uses for its own settings.
package engineconfig

import (
	"errors"
	"fmt"
	"os"
	"time"

	"system-manager-engine/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is where a config file is read from if present.
	DefaultConfigPath = "/etc/system-manager-engine/config.yaml"
	// DefaultStateDir matches spec.md §6's state dir artifact path.
	DefaultStateDir = "/var/lib/system-manager/state"
	// DefaultStateFileName is the file within DefaultStateDir.
	DefaultStateFileName = "system-manager-state.json"
	// DefaultDbusTimeout bounds individual DBus method calls.
	DefaultDbusTimeout = 10 * time.Second
	// DefaultJobWaitTimeout matches spec.md §5's 30-second waitAll deadline.
	DefaultJobWaitTimeout = 30 * time.Second
)

// Config is the fully-resolved, layered configuration.
type Config struct {
	StateDir       string        `yaml:"stateDir"`
	DbusTimeout    time.Duration `yaml:"dbusTimeout"`
	JobWaitTimeout time.Duration `yaml:"jobWaitTimeout"`
	LogLevel       string        `yaml:"logLevel"`
}

// fileLayer mirrors Config but with duration fields as plain strings, since
// encoding/time.Duration does not implement yaml.Unmarshaler by default and
// the teacher's config files stick to plain scalar YAML fields.
type fileLayer struct {
	StateDir       string `yaml:"stateDir"`
	DbusTimeout    string `yaml:"dbusTimeout"`
	JobWaitTimeout string `yaml:"jobWaitTimeout"`
	LogLevel       string `yaml:"logLevel"`
}

// Default returns the built-in default configuration.
func Default() Config {
	return Config{
		StateDir:       DefaultStateDir,
		DbusTimeout:    DefaultDbusTimeout,
		JobWaitTimeout: DefaultJobWaitTimeout,
		LogLevel:       "info",
	}
}

// Load builds the layered configuration: it starts from Default, applies
// configPath if it exists, then applies the SYSTEM_MANAGER_ENGINE_* and
// RUST_LOG (for LogLevel, matching spec.md §6) environment variables. CLI
// flags are applied by the caller afterward by assigning the returned
// Config's fields, since cobra owns flag parsing.
func Load(configPath string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("engineconfig: reading %s: %w", configPath, err)
		}
		logging.Debug("EngineConfig", "no config file at %s, using defaults", configPath)
	} else {
		var layer fileLayer
		if err := yaml.Unmarshal(data, &layer); err != nil {
			return Config{}, fmt.Errorf("engineconfig: parsing %s: %w", configPath, err)
		}
		if err := applyFileLayer(&cfg, layer); err != nil {
			return Config{}, fmt.Errorf("engineconfig: %s: %w", configPath, err)
		}
		logging.Info("EngineConfig", "loaded configuration from %s", configPath)
	}

	applyEnvLayer(&cfg)
	return cfg, nil
}

func applyFileLayer(cfg *Config, layer fileLayer) error {
	if layer.StateDir != "" {
		cfg.StateDir = layer.StateDir
	}
	if layer.LogLevel != "" {
		cfg.LogLevel = layer.LogLevel
	}
	if layer.DbusTimeout != "" {
		d, err := time.ParseDuration(layer.DbusTimeout)
		if err != nil {
			return fmt.Errorf("dbusTimeout: %w", err)
		}
		cfg.DbusTimeout = d
	}
	if layer.JobWaitTimeout != "" {
		d, err := time.ParseDuration(layer.JobWaitTimeout)
		if err != nil {
			return fmt.Errorf("jobWaitTimeout: %w", err)
		}
		cfg.JobWaitTimeout = d
	}
	return nil
}

func applyEnvLayer(cfg *Config) {
	if v := os.Getenv("SYSTEM_MANAGER_ENGINE_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("RUST_LOG"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("SYSTEM_MANAGER_ENGINE_DBUS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DbusTimeout = d
		}
	}
	if v := os.Getenv("SYSTEM_MANAGER_ENGINE_JOB_WAIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.JobWaitTimeout = d
		}
	}
}

// StateFilePath returns the full path to the state file within StateDir.
func (c Config) StateFilePath() string {
	return c.StateDir + string(os.PathSeparator) + DefaultStateFileName
}
