/*
Copyright 2025 The Adaptive Compute Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config defines the engine configuration surface: the typed
// config tree, file/env loading via viper, and per-class scheduling
// overrides.
//
// Configuration errors are all-or-nothing: Validate rejects the whole
// tree and callers must not apply any part of a rejected config.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ConfigurationError reports an invalid configuration value. The config
// it belongs to must be discarded in full.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Capacity adjustment strategy names accepted in config files.
const (
	StrategyConservative = "conservative"
	StrategyBalanced     = "balanced"
	StrategyAggressive   = "aggressive"
	StrategyAdaptive     = "adaptive"
)

// Scheduling order strategy names accepted in config files.
const (
	OrderFIFO          = "fifo"
	OrderPriority      = "priority"
	OrderResourceAware = "resource-aware"
	OrderFair          = "fair"
)

// Quality mitigation method names accepted in config files.
const (
	MitigationNone        = "none"
	MitigationRescale     = "rescale"
	MitigationExtrapolate = "extrapolate"
)

// Thresholds holds the alert boundaries for one resource class, as
// utilization fractions in (0, 1].
type Thresholds struct {
	Warning  float64 `yaml:"warning" mapstructure:"warning"`
	Critical float64 `yaml:"critical" mapstructure:"critical"`
}

// EngineConfig configures the orchestrator and its ambient services.
type EngineConfig struct {
	// TickInterval is the control-loop period.
	TickInterval time.Duration `yaml:"tickInterval" mapstructure:"tickInterval"`

	// MetricsAddr is the listen address for the /metrics endpoint.
	// Empty disables the endpoint.
	MetricsAddr string `yaml:"metricsAddr" mapstructure:"metricsAddr"`

	LogVerbosity int  `yaml:"logVerbosity" mapstructure:"logVerbosity"`
	LogJSON      bool `yaml:"logJSON" mapstructure:"logJSON"`
}

// MonitorConfig configures the resource monitor.
type MonitorConfig struct {
	// HistorySize bounds the sample ring buffer.
	HistorySize int `yaml:"historySize" mapstructure:"historySize"`

	// SmoothingFactor is the EWMA alpha applied to raw utilization
	// readings before alert classification, in (0, 1]. 1 disables
	// smoothing.
	SmoothingFactor float64 `yaml:"smoothingFactor" mapstructure:"smoothingFactor"`

	// Thresholds maps resource class names to alert boundaries.
	// Classes without an entry use DefaultThresholds.
	Thresholds map[string]Thresholds `yaml:"thresholds" mapstructure:"thresholds"`
}

// CapacityConfig configures the capacity adjuster.
type CapacityConfig struct {
	MinUnits int    `yaml:"minUnits" mapstructure:"minUnits"`
	MaxUnits int    `yaml:"maxUnits" mapstructure:"maxUnits"`
	Strategy string `yaml:"strategy" mapstructure:"strategy"`

	// HighThreshold is the pressure above which the budget shrinks.
	// Pressure below HighThreshold/2 lets the budget grow.
	HighThreshold float64 `yaml:"highThreshold" mapstructure:"highThreshold"`

	// StabilityPeriod is the cooldown between automatic adjustments.
	StabilityPeriod time.Duration `yaml:"stabilityPeriod" mapstructure:"stabilityPeriod"`

	// Weights maps resource class names to their contribution to the
	// pressure scalar. Domain classes default to a higher weight.
	Weights map[string]float64 `yaml:"weights" mapstructure:"weights"`

	// HistorySize bounds the adjustment history log.
	HistorySize int `yaml:"historySize" mapstructure:"historySize"`
}

// CompressionConfig configures the workload compressor and the quality
// mitigator.
type CompressionConfig struct {
	// TargetQuality is the quality floor the mitigator compensates
	// toward, in (0, 1].
	TargetQuality float64 `yaml:"targetQuality" mapstructure:"targetQuality"`

	// RecoveryFactor scales how much lost quality mitigation restores,
	// in (0, 1].
	RecoveryFactor float64 `yaml:"recoveryFactor" mapstructure:"recoveryFactor"`

	// Method selects the mitigation method: none, rescale, extrapolate.
	Method string `yaml:"method" mapstructure:"method"`
}

// SchedulerConfig configures the task scheduler.
type SchedulerConfig struct {
	Strategy         string        `yaml:"strategy" mapstructure:"strategy"`
	EnablePreemption bool          `yaml:"enablePreemption" mapstructure:"enablePreemption"`
	MaxTaskAge       time.Duration `yaml:"maxTaskAge" mapstructure:"maxTaskAge"`
	MaxRetries       int           `yaml:"maxRetries" mapstructure:"maxRetries"`
	RetryBackoff     time.Duration `yaml:"retryBackoff" mapstructure:"retryBackoff"`

	// MaxQueueLength bounds the total number of tracked jobs.
	// Submissions beyond it are rejected.
	MaxQueueLength int `yaml:"maxQueueLength" mapstructure:"maxQueueLength"`

	// ClassOverrides holds per-scheduling-class policy entries, each a
	// YAML document in the ParseClassConfigData format ("default" plus
	// per-class override keys).
	ClassOverrides map[string]string `yaml:"classOverrides" mapstructure:"classOverrides"`
}

// Config is the full engine configuration tree.
type Config struct {
	Engine      EngineConfig      `yaml:"engine" mapstructure:"engine"`
	Monitor     MonitorConfig     `yaml:"monitor" mapstructure:"monitor"`
	Capacity    CapacityConfig    `yaml:"capacity" mapstructure:"capacity"`
	Compression CompressionConfig `yaml:"compression" mapstructure:"compression"`
	Scheduler   SchedulerConfig   `yaml:"scheduler" mapstructure:"scheduler"`
}

// DefaultThresholds are applied to resource classes without an explicit
// entry in MonitorConfig.Thresholds.
var DefaultThresholds = Thresholds{Warning: 0.75, Critical: 0.90}

// Default returns the configuration used when no file overrides are
// present.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			TickInterval: 500 * time.Millisecond,
			MetricsAddr:  ":9090",
		},
		Monitor: MonitorConfig{
			HistorySize:     128,
			SmoothingFactor: 1.0,
			Thresholds:      map[string]Thresholds{},
		},
		Capacity: CapacityConfig{
			MinUnits:        1,
			MaxUnits:        64,
			Strategy:        StrategyBalanced,
			HighThreshold:   0.85,
			StabilityPeriod: 30 * time.Second,
			Weights:         map[string]float64{},
			HistorySize:     256,
		},
		Compression: CompressionConfig{
			TargetQuality:  0.9,
			RecoveryFactor: 0.5,
			Method:         MitigationRescale,
		},
		Scheduler: SchedulerConfig{
			Strategy:         OrderPriority,
			EnablePreemption: true,
			MaxTaskAge:       10 * time.Second,
			MaxRetries:       3,
			RetryBackoff:     time.Second,
			MaxQueueLength:   1024,
		},
	}
}

// Validate checks the whole tree and returns the first violation as a
// *ConfigurationError. A non-nil error means nothing in the config may
// be applied.
func (c *Config) Validate() error {
	if c.Engine.TickInterval <= 0 {
		return &ConfigurationError{Field: "engine.tickInterval", Reason: "must be positive"}
	}

	if c.Monitor.HistorySize < 1 {
		return &ConfigurationError{Field: "monitor.historySize", Reason: "must be at least 1"}
	}
	if c.Monitor.SmoothingFactor <= 0 || c.Monitor.SmoothingFactor > 1 {
		return &ConfigurationError{Field: "monitor.smoothingFactor", Reason: "must be in (0, 1]"}
	}
	for class, th := range c.Monitor.Thresholds {
		if th.Warning <= 0 || th.Warning > 1 {
			return &ConfigurationError{
				Field:  fmt.Sprintf("monitor.thresholds.%s.warning", class),
				Reason: "must be in (0, 1]",
			}
		}
		if th.Critical <= 0 || th.Critical > 1 {
			return &ConfigurationError{
				Field:  fmt.Sprintf("monitor.thresholds.%s.critical", class),
				Reason: "must be in (0, 1]",
			}
		}
		if th.Warning > th.Critical {
			return &ConfigurationError{
				Field:  fmt.Sprintf("monitor.thresholds.%s", class),
				Reason: "warning must not exceed critical",
			}
		}
	}

	if c.Capacity.MinUnits < 1 {
		return &ConfigurationError{Field: "capacity.minUnits", Reason: "must be at least 1"}
	}
	if c.Capacity.MinUnits > c.Capacity.MaxUnits {
		return &ConfigurationError{Field: "capacity.minUnits", Reason: "must not exceed capacity.maxUnits"}
	}
	switch c.Capacity.Strategy {
	case StrategyConservative, StrategyBalanced, StrategyAggressive, StrategyAdaptive:
	default:
		return &ConfigurationError{
			Field:  "capacity.strategy",
			Reason: fmt.Sprintf("unknown strategy %q", c.Capacity.Strategy),
		}
	}
	if c.Capacity.HighThreshold <= 0 || c.Capacity.HighThreshold > 1 {
		return &ConfigurationError{Field: "capacity.highThreshold", Reason: "must be in (0, 1]"}
	}
	if c.Capacity.StabilityPeriod < 0 {
		return &ConfigurationError{Field: "capacity.stabilityPeriod", Reason: "must not be negative"}
	}
	for class, w := range c.Capacity.Weights {
		if w < 0 {
			return &ConfigurationError{
				Field:  fmt.Sprintf("capacity.weights.%s", class),
				Reason: "must not be negative",
			}
		}
	}
	if c.Capacity.HistorySize < 1 {
		return &ConfigurationError{Field: "capacity.historySize", Reason: "must be at least 1"}
	}

	if c.Compression.TargetQuality <= 0 || c.Compression.TargetQuality > 1 {
		return &ConfigurationError{Field: "compression.targetQuality", Reason: "must be in (0, 1]"}
	}
	if c.Compression.RecoveryFactor <= 0 || c.Compression.RecoveryFactor > 1 {
		return &ConfigurationError{Field: "compression.recoveryFactor", Reason: "must be in (0, 1]"}
	}
	switch c.Compression.Method {
	case MitigationNone, MitigationRescale, MitigationExtrapolate:
	default:
		return &ConfigurationError{
			Field:  "compression.method",
			Reason: fmt.Sprintf("unknown method %q", c.Compression.Method),
		}
	}

	switch c.Scheduler.Strategy {
	case OrderFIFO, OrderPriority, OrderResourceAware, OrderFair:
	default:
		return &ConfigurationError{
			Field:  "scheduler.strategy",
			Reason: fmt.Sprintf("unknown strategy %q", c.Scheduler.Strategy),
		}
	}
	if c.Scheduler.MaxTaskAge < 0 {
		return &ConfigurationError{Field: "scheduler.maxTaskAge", Reason: "must not be negative"}
	}
	if c.Scheduler.MaxRetries < 0 {
		return &ConfigurationError{Field: "scheduler.maxRetries", Reason: "must not be negative"}
	}
	if c.Scheduler.RetryBackoff <= 0 {
		return &ConfigurationError{Field: "scheduler.retryBackoff", Reason: "must be positive"}
	}
	if c.Scheduler.MaxQueueLength < 1 {
		return &ConfigurationError{Field: "scheduler.maxQueueLength", Reason: "must be at least 1"}
	}

	return nil
}

// ThresholdsFor returns the alert thresholds for a resource class,
// falling back to DefaultThresholds.
func (c *MonitorConfig) ThresholdsFor(class string) Thresholds {
	if th, ok := c.Thresholds[class]; ok {
		return th
	}
	return DefaultThresholds
}

// Load reads the config file at path, applies WORKLOAD_ENGINE_* env
// overrides, and validates the result. An empty path loads defaults
// plus env overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WORKLOAD_ENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return Config{}, fmt.Errorf("decoding config file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
