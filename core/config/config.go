package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	apperrors "jobctl/core/errors"
)

// CurrentVersion is the config schema version written by GenerateDefaultConfig.
const CurrentVersion = "1.0.0"

// supportedVersions is the constraint a config file's version must satisfy.
const supportedVersions = "^1"

// JobConfig holds the settings of the progress job and the labels shown to the user.
type JobConfig struct {
	Max             int           `mapstructure:"max" yaml:"max"`                           // Progress value reached on completion
	Duration        time.Duration `mapstructure:"duration" yaml:"duration"`                 // Wall-clock time of one full run
	StartLabel      string        `mapstructure:"start_label" yaml:"start_label"`           // Button label while idle
	CancelLabel     string        `mapstructure:"cancel_label" yaml:"cancel_label"`         // Button label while running
	CompleteMessage string        `mapstructure:"complete_message" yaml:"complete_message"` // Status text on completion
	ResetReason     string        `mapstructure:"reset_reason" yaml:"reset_reason"`         // Cancellation reason used by Toggle
	FallbackReason  string        `mapstructure:"fallback_reason" yaml:"fallback_reason"`   // Shown when a cancellation carries no reason
}

// TimeoutsConfig holds timeout settings for various operations.
type TimeoutsConfig struct {
	ConfigChange     int `mapstructure:"config_change_seconds" yaml:"config_change_seconds"`
	GatewayOperation int `mapstructure:"gateway_operation_seconds" yaml:"gateway_operation_seconds"`
	Shutdown         int `mapstructure:"shutdown_seconds" yaml:"shutdown_seconds"`
}

// Config holds the application's configuration settings.
type Config struct {
	Version     string                            `mapstructure:"version" yaml:"version"`
	Environment string                            `mapstructure:"environment" yaml:"environment"`
	LogLevel    string                            `mapstructure:"log_level" yaml:"log_level"`
	Job         JobConfig                         `mapstructure:"job" yaml:"job"`
	Gateways    map[string]map[string]interface{} `mapstructure:"gateways" yaml:"gateways"` // Generic configuration for gateways
	Timeouts    TimeoutsConfig                    `mapstructure:"timeouts" yaml:"timeouts"`
}

// configChangeHooks stores functions to be called when the config changes.
var (
	hooksMu           sync.RWMutex
	configChangeHooks []func(*Config)
)

// AddConfigChangeHook registers a function to be called when the configuration changes.
func (c *Config) AddConfigChangeHook(hook func(*Config)) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	configChangeHooks = append(configChangeHooks, hook)
}

// notifyConfigChange runs every registered hook with the reloaded configuration.
func notifyConfigChange(cfg *Config) {
	hooksMu.RLock()
	hooks := make([]func(*Config), len(configChangeHooks))
	copy(hooks, configChangeHooks)
	hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(cfg)
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("version", CurrentVersion)
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("job.max", 100)
	v.SetDefault("job.duration", "4s")
	v.SetDefault("job.start_label", "Start Job #1")
	v.SetDefault("job.cancel_label", "Cancel job #1")
	v.SetDefault("job.complete_message", "Job is complete")
	v.SetDefault("job.reset_reason", "Resetting job")
	v.SetDefault("job.fallback_reason", "Unknown cancellation error.")
	v.SetDefault("timeouts.config_change_seconds", 5)
	v.SetDefault("timeouts.gateway_operation_seconds", 10)
	v.SetDefault("timeouts.shutdown_seconds", 10)
}

// LoadConfig loads the application configuration. When path is empty the file
// "jobctl.yaml" is searched in the usual locations; a missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("jobctl") // name of config file (without extension)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/jobctl")
	}

	// Read environment variables
	v.AutomaticEnv()
	v.SetEnvPrefix("JOBCTL") // e.g. JOBCTL_JOB_DURATION=2s
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && path == "" {
			// Config file not found; proceed with defaults and environment variables
			fmt.Fprintln(os.Stderr, "Config file not found, using defaults and environment variables.")
			fileLoaded = false
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if fileLoaded {
		v.OnConfigChange(func(e fsnotify.Event) {
			var reloaded Config
			if err := v.Unmarshal(&reloaded); err != nil {
				fmt.Fprintln(os.Stderr, fmt.Errorf("failed to re-unmarshal config: %w", err))
				return
			}
			if err := reloaded.Validate(); err != nil {
				fmt.Fprintln(os.Stderr, fmt.Errorf("ignoring invalid config change in %s: %w", e.Name, err))
				return
			}
			notifyConfigChange(&reloaded)
		})
		v.WatchConfig()
	}

	return &cfg, nil
}

// GenerateDefaultConfig returns a config holding every default value.
func GenerateDefaultConfig() *Config {
	return &Config{
		Version:     CurrentVersion,
		Environment: "development",
		LogLevel:    "info",
		Job: JobConfig{
			Max:             100,
			Duration:        4 * time.Second,
			StartLabel:      "Start Job #1",
			CancelLabel:     "Cancel job #1",
			CompleteMessage: "Job is complete",
			ResetReason:     "Resetting job",
			FallbackReason:  "Unknown cancellation error.",
		},
		Gateways: map[string]map[string]interface{}{
			"metrics": {
				"enabled": false,
				"address": ":9464",
			},
			"eventlog": {
				"enabled":      true,
				"topic":        "jobs",
				"log_progress": false,
			},
		},
		Timeouts: TimeoutsConfig{
			ConfigChange:     5,
			GatewayOperation: 10,
			Shutdown:         10,
		},
	}
}

// SaveGeneratedConfig saves a generated config to a file
func SaveGeneratedConfig(cfg *Config, filename string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	switch c.Environment {
	case "development", "staging", "production":
		// valid
	default:
		return apperrors.Wrap(apperrors.ErrInvalidInput, fmt.Sprintf("invalid environment: %q", c.Environment))
	}

	version, err := semver.NewVersion(c.Version)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalidInput, fmt.Sprintf("invalid config version %q: %v", c.Version, err))
	}
	constraint, err := semver.NewConstraint(supportedVersions)
	if err != nil {
		return err
	}
	if !constraint.Check(version) {
		return apperrors.Wrap(apperrors.ErrInvalidInput, fmt.Sprintf("config version %s does not satisfy %s", version, supportedVersions))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return apperrors.Wrap(apperrors.ErrInvalidInput, fmt.Sprintf("invalid log level: %q", c.LogLevel))
	}

	if c.Job.Max <= 0 {
		return apperrors.Wrap(apperrors.ErrInvalidInput, "job.max must be positive")
	}
	// Each step sleeps Duration/Max; it must not truncate to zero.
	if c.Job.Duration < time.Duration(c.Job.Max) {
		return apperrors.Wrap(apperrors.ErrInvalidInput, fmt.Sprintf("job.duration %s is too short for %d steps", c.Job.Duration, c.Job.Max))
	}
	return nil
}
