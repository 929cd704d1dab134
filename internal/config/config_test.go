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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/adaptive-compute/workload-engine/internal/logging"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default() does not validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "Test case 1: Zero tick interval",
			mutate:    func(c *Config) { c.Engine.TickInterval = 0 },
			wantField: "engine.tickInterval",
		},
		{
			name:      "Test case 2: Zero monitor history",
			mutate:    func(c *Config) { c.Monitor.HistorySize = 0 },
			wantField: "monitor.historySize",
		},
		{
			name:      "Test case 3: Smoothing factor out of range",
			mutate:    func(c *Config) { c.Monitor.SmoothingFactor = 2 },
			wantField: "monitor.smoothingFactor",
		},
		{
			name: "Test case 4: Warning above critical",
			mutate: func(c *Config) {
				c.Monitor.Thresholds["cpu"] = Thresholds{Warning: 0.95, Critical: 0.90}
			},
			wantField: "monitor.thresholds.cpu",
		},
		{
			name:      "Test case 5: Min units above max",
			mutate:    func(c *Config) { c.Capacity.MinUnits = 128 },
			wantField: "capacity.minUnits",
		},
		{
			name:      "Test case 6: Unknown capacity strategy",
			mutate:    func(c *Config) { c.Capacity.Strategy = "turbo" },
			wantField: "capacity.strategy",
		},
		{
			name:      "Test case 7: High threshold above one",
			mutate:    func(c *Config) { c.Capacity.HighThreshold = 1.5 },
			wantField: "capacity.highThreshold",
		},
		{
			name:      "Test case 8: Target quality zero",
			mutate:    func(c *Config) { c.Compression.TargetQuality = 0 },
			wantField: "compression.targetQuality",
		},
		{
			name:      "Test case 9: Unknown mitigation method",
			mutate:    func(c *Config) { c.Compression.Method = "magic" },
			wantField: "compression.method",
		},
		{
			name:      "Test case 10: Unknown order strategy",
			mutate:    func(c *Config) { c.Scheduler.Strategy = "lifo" },
			wantField: "scheduler.strategy",
		},
		{
			name:      "Test case 11: Negative max retries",
			mutate:    func(c *Config) { c.Scheduler.MaxRetries = -1 },
			wantField: "scheduler.maxRetries",
		},
		{
			name:      "Test case 12: Zero retry backoff",
			mutate:    func(c *Config) { c.Scheduler.RetryBackoff = 0 },
			wantField: "scheduler.retryBackoff",
		},
		{
			name:      "Test case 13: Zero queue length",
			mutate:    func(c *Config) { c.Scheduler.MaxQueueLength = 0 },
			wantField: "scheduler.maxQueueLength",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() accepted an invalid config")
			}
			var cerr *ConfigurationError
			if !errors.As(err, &cerr) {
				t.Fatalf("Validate() error type = %T, want *ConfigurationError", err)
			}
			if cerr.Field != tt.wantField {
				t.Errorf("Validate() field = %q, want %q", cerr.Field, tt.wantField)
			}
		})
	}
}

func TestThresholdsFor(t *testing.T) {
	mc := MonitorConfig{Thresholds: map[string]Thresholds{
		"accelerator": {Warning: 0.60, Critical: 0.80},
	}}
	if got := mc.ThresholdsFor("accelerator"); got.Warning != 0.60 {
		t.Errorf("ThresholdsFor(accelerator).Warning = %v, want 0.60", got.Warning)
	}
	if got := mc.ThresholdsFor("cpu"); got != DefaultThresholds {
		t.Errorf("ThresholdsFor(cpu) = %+v, want defaults", got)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() succeeded on a missing file")
	}
}

func TestLoadEmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if cfg.Engine.TickInterval != 500*time.Millisecond {
		t.Errorf("TickInterval = %v, want default 500ms", cfg.Engine.TickInterval)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := strings.Join([]string{
		"engine:",
		"  tickInterval: 2s",
		"capacity:",
		"  minUnits: 4",
		"  maxUnits: 16",
		"  strategy: adaptive",
	}, "\n")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Engine.TickInterval != 2*time.Second {
		t.Errorf("TickInterval = %v, want 2s", cfg.Engine.TickInterval)
	}
	if cfg.Capacity.MinUnits != 4 || cfg.Capacity.MaxUnits != 16 {
		t.Errorf("capacity range = [%d, %d], want [4, 16]", cfg.Capacity.MinUnits, cfg.Capacity.MaxUnits)
	}
	if cfg.Capacity.Strategy != StrategyAdaptive {
		t.Errorf("strategy = %q, want adaptive", cfg.Capacity.Strategy)
	}
	// Sections absent from the file keep their defaults.
	if cfg.Scheduler.MaxQueueLength != 1024 {
		t.Errorf("MaxQueueLength = %d, want default 1024", cfg.Scheduler.MaxQueueLength)
	}
}

func TestLoadClassOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := strings.Join([]string{
		"scheduler:",
		"  classOverrides:",
		"    default: |",
		"      weight: 1",
		"      preemptible: true",
		"    batch-policy: |",
		"      class: batch",
		"      weight: 3",
		"      preemptible: false",
	}, "\n")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Scheduler.ClassOverrides) != 2 {
		t.Fatalf("ClassOverrides has %d entries, want 2", len(cfg.Scheduler.ClassOverrides))
	}

	classes := ParseClassConfigData(logging.NewTestLogger(), cfg.Scheduler.ClassOverrides)
	if got := classes.WeightFor("batch"); got != 3 {
		t.Errorf("batch weight = %v, want 3", got)
	}
	if classes.IsPreemptible("batch") {
		t.Error("batch preemptible = true, want false")
	}
	if !classes.IsPreemptible("interactive") {
		t.Error("unknown class should fall back to the defaults entry")
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := "capacity:\n  minUnits: 0\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() accepted a config violating validation")
	}
}
