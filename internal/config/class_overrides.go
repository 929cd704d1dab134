package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
)

const (
	// GlobalDefaultsKey is the override entry holding defaults for all
	// scheduling classes.
	GlobalDefaultsKey = "default"

	// DefaultClassWeight is the fair-share weight for classes without
	// an explicit weight.
	DefaultClassWeight = 1.0
)

// ClassConfig holds per-scheduling-class overrides for the task
// scheduler. A scheduling class groups jobs with common admission and
// retry policy (e.g. "batch", "interactive").
type ClassConfig struct {
	// Class is the class identifier (only used in override entries).
	Class string `yaml:"class,omitempty"`

	// Weight is the fair-share weight used by the fair ordering
	// strategy.
	Weight float64 `yaml:"weight,omitempty"`

	// Preemptible marks jobs of this class as eligible for preemption.
	// Pointer so an omitted field inherits from the defaults entry.
	Preemptible *bool `yaml:"preemptible,omitempty"`

	// MaxRetries overrides the scheduler-wide retry limit.
	MaxRetries *int `yaml:"maxRetries,omitempty"`

	// MaxTaskAge overrides how long a job of this class may wait before
	// it becomes a preemption trigger. Stored as a duration string
	// (e.g. "30s", "5m").
	MaxTaskAge string `yaml:"maxTaskAge,omitempty"`
}

// ClassConfigData holds pre-read override entries for all scheduling
// classes, keyed by class name.
type ClassConfigData map[string]ClassConfig

// Validate checks for invalid override values.
func (c *ClassConfig) Validate() error {
	if c.Weight < 0 {
		return fmt.Errorf("weight must be >= 0, got %.2f", c.Weight)
	}
	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		return fmt.Errorf("maxRetries must be >= 0, got %d", *c.MaxRetries)
	}
	if c.MaxTaskAge != "" {
		if _, err := time.ParseDuration(c.MaxTaskAge); err != nil {
			return fmt.Errorf("invalid maxTaskAge: %w", err)
		}
	}
	return nil
}

// ParseClassConfigData parses scheduling-class overrides from raw
// key/value data, where each value is a YAML document. The format:
//   - "default": global defaults for all classes
//   - "<override-name>": per-class configuration with a class field
//
// Invalid entries are skipped with a log line rather than failing the
// whole parse; duplicate class names keep the first key in sorted order.
func ParseClassConfigData(log logr.Logger, data map[string]string) ClassConfigData {
	out := make(ClassConfigData)
	if data == nil {
		return out
	}
	classToKey := make(map[string]string)

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		var cc ClassConfig
		if err := yaml.Unmarshal([]byte(data[key]), &cc); err != nil {
			log.Info("Failed to parse class override entry, skipping",
				"key", key,
				"error", err)
			continue
		}
		if err := cc.Validate(); err != nil {
			log.Info("Invalid class override entry, skipping",
				"key", key,
				"error", err)
			continue
		}

		if key == GlobalDefaultsKey {
			out[GlobalDefaultsKey] = cc
			continue
		}
		if cc.Class == "" {
			log.Info("Skipping class override without class field", "key", key)
			continue
		}
		if winner, exists := classToKey[cc.Class]; exists {
			log.Info("Duplicate class in overrides - first key wins",
				"class", cc.Class,
				"winningKey", winner,
				"duplicateKey", key)
			continue
		}
		classToKey[cc.Class] = key
		out[cc.Class] = cc
	}

	return out
}

// Get returns the effective configuration for a class, merging the
// class-specific entry over the global defaults.
func (data ClassConfigData) Get(class string) ClassConfig {
	defaults := data[GlobalDefaultsKey]
	cc, ok := data[class]
	if !ok {
		return defaults
	}

	result := defaults
	if cc.Class != "" {
		result.Class = cc.Class
	}
	if cc.Weight != 0 {
		result.Weight = cc.Weight
	}
	if cc.Preemptible != nil {
		result.Preemptible = cc.Preemptible
	}
	if cc.MaxRetries != nil {
		result.MaxRetries = cc.MaxRetries
	}
	if cc.MaxTaskAge != "" {
		result.MaxTaskAge = cc.MaxTaskAge
	}
	return result
}

// IsPreemptible reports whether jobs of the class may be preempted.
// Classes without any override default to preemptible.
func (data ClassConfigData) IsPreemptible(class string) bool {
	cc := data.Get(class)
	if cc.Preemptible != nil {
		return *cc.Preemptible
	}
	return true
}

// WeightFor returns the fair-share weight for a class.
func (data ClassConfigData) WeightFor(class string) float64 {
	cc := data.Get(class)
	if cc.Weight > 0 {
		return cc.Weight
	}
	return DefaultClassWeight
}

// MaxRetriesFor returns the retry limit for a class, or fallback when
// no override exists.
func (data ClassConfigData) MaxRetriesFor(class string, fallback int) int {
	cc := data.Get(class)
	if cc.MaxRetries != nil {
		return *cc.MaxRetries
	}
	return fallback
}

// MaxTaskAgeFor returns the preemption-trigger age for a class, or
// fallback when no override exists.
func (data ClassConfigData) MaxTaskAgeFor(class string, fallback time.Duration) time.Duration {
	cc := data.Get(class)
	if cc.MaxTaskAge != "" {
		if d, err := time.ParseDuration(cc.MaxTaskAge); err == nil {
			return d
		}
	}
	return fallback
}
