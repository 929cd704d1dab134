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

package capacity

import (
	"errors"
	"testing"
	"time"

	testclock "k8s.io/utils/clock/testing"

	"github.com/adaptive-compute/workload-engine/internal/config"
	"github.com/adaptive-compute/workload-engine/internal/logging"
	"github.com/adaptive-compute/workload-engine/internal/monitor"
)

func testAdjusterConfig() Config {
	return Config{
		MinUnits:        2,
		MaxUnits:        32,
		Strategy:        Balanced,
		HighThreshold:   0.75,
		StabilityPeriod: time.Minute,
		HistorySize:     32,
	}
}

func newTestAdjuster(t *testing.T, cfg Config, clk *testclock.FakeClock) *Adjuster {
	t.Helper()
	a, err := NewAdjuster(cfg, nil, StaticCeiling{MaxUnits: 64}, logging.NewTestLogger(), clk, nil)
	if err != nil {
		t.Fatalf("NewAdjuster failed: %v", err)
	}
	a.Start()
	return a
}

func sampleAt(clk *testclock.FakeClock, class monitor.ResourceClass, util float64, level monitor.AlertLevel) monitor.ResourceSample {
	return monitor.ResourceSample{
		Timestamp: clk.Now(),
		Readings: map[monitor.ResourceClass]monitor.Reading{
			class: {Utilization: util, Level: level, Known: true},
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "Test case 1: Valid config", mutate: func(*Config) {}},
		{name: "Test case 2: Zero min units", mutate: func(c *Config) { c.MinUnits = 0 }, wantErr: true},
		{name: "Test case 3: Min above max", mutate: func(c *Config) { c.MinUnits = 40 }, wantErr: true},
		{name: "Test case 4: Zero high threshold", mutate: func(c *Config) { c.HighThreshold = 0 }, wantErr: true},
		{name: "Test case 5: High threshold above one", mutate: func(c *Config) { c.HighThreshold = 1.5 }, wantErr: true},
		{name: "Test case 6: Negative stability period", mutate: func(c *Config) { c.StabilityPeriod = -time.Second }, wantErr: true},
		{name: "Test case 7: Negative class weight", mutate: func(c *Config) {
			c.Weights = map[monitor.ResourceClass]float64{monitor.ClassCPU: -1}
		}, wantErr: true},
		{name: "Test case 8: Zero history size", mutate: func(c *Config) { c.HistorySize = 0 }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testAdjusterConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var cerr *config.ConfigurationError
				if !errors.As(err, &cerr) {
					t.Errorf("validate() error type = %T, want *config.ConfigurationError", err)
				}
			}
		})
	}
}

func TestInitialBudget(t *testing.T) {
	tests := []struct {
		name    string
		ceiling int
		want    int
	}{
		{name: "Test case 1: Ceiling above max", ceiling: 64, want: 32},
		{name: "Test case 2: Ceiling below max", ceiling: 12, want: 12},
		{name: "Test case 3: Ceiling below min clamps to min", ceiling: 1, want: 2},
		{name: "Test case 4: Unknown ceiling", ceiling: 0, want: 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := NewAdjuster(testAdjusterConfig(), nil, StaticCeiling{MaxUnits: tt.ceiling},
				logging.NewTestLogger(), testclock.NewFakeClock(time.Unix(1756500000, 0)), nil)
			if err != nil {
				t.Fatalf("NewAdjuster failed: %v", err)
			}
			if got := a.Budget(); got != tt.want {
				t.Errorf("initial budget = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestHighPressureShrinksOnce(t *testing.T) {
	clk := testclock.NewFakeClock(time.Unix(1756500000, 0))
	a := newTestAdjuster(t, testAdjusterConfig(), clk)

	var calls int
	var gotOld, gotNew int
	a.OnChange(func(old, new int, _ string) {
		calls++
		gotOld, gotNew = old, new
	})

	changed, budget, err := a.Evaluate(sampleAt(clk, monitor.ClassCPU, 0.95, monitor.AlertCritical))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if !changed {
		t.Fatal("Evaluate did not adjust under high pressure")
	}
	if budget != 30 {
		t.Errorf("budget after one balanced shrink = %d, want 30", budget)
	}
	if calls != 1 {
		t.Fatalf("change callback fired %d times, want 1", calls)
	}
	if gotOld != 32 || gotNew != 30 {
		t.Errorf("callback saw %d -> %d, want 32 -> 30", gotOld, gotNew)
	}

	hist := a.History(0)
	if len(hist) != 1 {
		t.Fatalf("history has %d records, want 1", len(hist))
	}
	if hist[0].OldBudget != 32 || hist[0].NewBudget != 30 {
		t.Errorf("history record %d -> %d, want 32 -> 30", hist[0].OldBudget, hist[0].NewBudget)
	}
	if hist[0].Trigger != TriggerCritical {
		t.Errorf("history trigger = %s, want critical", hist[0].Trigger)
	}
}

func TestStabilityPeriodSuppressesAdjustments(t *testing.T) {
	clk := testclock.NewFakeClock(time.Unix(1756500000, 0))
	a := newTestAdjuster(t, testAdjusterConfig(), clk)

	// Warning-level pressure above the threshold: first call adjusts,
	// the second lands inside the cooldown window.
	warm := func() monitor.ResourceSample {
		return sampleAt(clk, monitor.ClassCPU, 0.80, monitor.AlertWarning)
	}
	changed, _, err := a.Evaluate(warm())
	if err != nil || !changed {
		t.Fatalf("first Evaluate = (%v, %v), want adjustment", changed, err)
	}

	clk.Step(10 * time.Second)
	changed, budget, err := a.Evaluate(warm())
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if changed {
		t.Fatal("Evaluate adjusted inside the stability period")
	}
	if budget != 30 {
		t.Errorf("budget = %d, want 30", budget)
	}
	if !a.State().CoolingDown {
		t.Error("state does not report cooldown")
	}

	// Critical severity bypasses the cooldown.
	changed, budget, err = a.Evaluate(sampleAt(clk, monitor.ClassCPU, 0.95, monitor.AlertCritical))
	if err != nil || !changed {
		t.Fatalf("critical Evaluate = (%v, %v), want adjustment", changed, err)
	}
	if budget != 28 {
		t.Errorf("budget after critical bypass = %d, want 28", budget)
	}

	// After the stability period elapses, automatic adjustments resume.
	clk.Step(2 * time.Minute)
	changed, budget, err = a.Evaluate(warm())
	if err != nil || !changed {
		t.Fatalf("post-cooldown Evaluate = (%v, %v), want adjustment", changed, err)
	}
	if budget != 26 {
		t.Errorf("budget after cooldown expiry = %d, want 26", budget)
	}
}

func TestLowPressureGrowsToMax(t *testing.T) {
	clk := testclock.NewFakeClock(time.Unix(1756500000, 0))
	cfg := testAdjusterConfig()
	cfg.Strategy = Conservative
	cfg.StabilityPeriod = 0
	a := newTestAdjuster(t, cfg, clk)

	// Shrink twice to make headroom.
	for i := 0; i < 2; i++ {
		if _, _, err := a.Evaluate(sampleAt(clk, monitor.ClassCPU, 0.95, monitor.AlertCritical)); err != nil {
			t.Fatalf("Evaluate failed: %v", err)
		}
		clk.Step(time.Second)
	}
	if a.Budget() != 30 {
		t.Fatalf("budget after two shrinks = %d, want 30", a.Budget())
	}

	// Pressure below HighThreshold/2 grows one step per evaluation
	// until MaxUnits, then stops producing changes.
	for i := 0; i < 2; i++ {
		changed, _, err := a.Evaluate(sampleAt(clk, monitor.ClassCPU, 0.10, monitor.AlertNone))
		if err != nil || !changed {
			t.Fatalf("growth Evaluate %d = (%v, %v), want adjustment", i, changed, err)
		}
		clk.Step(time.Second)
	}
	if a.Budget() != 32 {
		t.Fatalf("budget after growth = %d, want 32", a.Budget())
	}

	changed, _, err := a.Evaluate(sampleAt(clk, monitor.ClassCPU, 0.10, monitor.AlertNone))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if changed {
		t.Error("Evaluate adjusted past MaxUnits")
	}
}

func TestNeutralBandHolds(t *testing.T) {
	clk := testclock.NewFakeClock(time.Unix(1756500000, 0))
	a := newTestAdjuster(t, testAdjusterConfig(), clk)

	// 0.50 sits between HighThreshold/2 and HighThreshold.
	changed, budget, err := a.Evaluate(sampleAt(clk, monitor.ClassCPU, 0.50, monitor.AlertNone))
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if changed {
		t.Errorf("Evaluate adjusted in the neutral band, budget now %d", budget)
	}
}

func TestPressureWeighting(t *testing.T) {
	clk := testclock.NewFakeClock(time.Unix(1756500000, 0))
	a := newTestAdjuster(t, testAdjusterConfig(), clk)

	// Accelerator defaults to weight 2: (2*0.9 + 1*0.3) / 3 = 0.7,
	// inside the neutral band despite the saturated accelerator. An
	// unknown reading contributes nothing.
	sample := monitor.ResourceSample{
		Timestamp: clk.Now(),
		Readings: map[monitor.ResourceClass]monitor.Reading{
			monitor.ClassAccelerator: {Utilization: 0.9, Level: monitor.AlertWarning, Known: true},
			monitor.ClassCPU:         {Utilization: 0.3, Level: monitor.AlertNone, Known: true},
			monitor.ClassMemory:      {Utilization: 1.0, Level: monitor.AlertCritical, Known: false},
		},
	}
	changed, _, err := a.Evaluate(sample)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if changed {
		t.Error("weighted pressure 0.7 should not cross the 0.75 threshold")
	}
}

func TestEvaluateRequiresStart(t *testing.T) {
	clk := testclock.NewFakeClock(time.Unix(1756500000, 0))
	a, err := NewAdjuster(testAdjusterConfig(), nil, StaticCeiling{MaxUnits: 64},
		logging.NewTestLogger(), clk, nil)
	if err != nil {
		t.Fatalf("NewAdjuster failed: %v", err)
	}
	if _, _, err := a.Evaluate(sampleAt(clk, monitor.ClassCPU, 0.95, monitor.AlertCritical)); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Evaluate before Start = %v, want ErrNotRunning", err)
	}
}

func TestEvaluateUnknownOnlySampleRecordsError(t *testing.T) {
	clk := testclock.NewFakeClock(time.Unix(1756500000, 0))
	a := newTestAdjuster(t, testAdjusterConfig(), clk)

	unknown := monitor.ResourceSample{
		Timestamp: clk.Now(),
		Readings: map[monitor.ResourceClass]monitor.Reading{
			monitor.ClassCPU: {Level: monitor.AlertCritical, Known: false},
		},
	}
	changed, budget, err := a.Evaluate(unknown)
	if !errors.Is(err, ErrNoReadings) {
		t.Fatalf("Evaluate on unknown-only sample = %v, want ErrNoReadings", err)
	}
	if changed {
		t.Error("unknown-only sample changed the budget")
	}
	if budget != a.Budget() {
		t.Errorf("returned budget %d differs from current %d", budget, a.Budget())
	}
	if got := a.State().LastError; got == "" {
		t.Error("LastError empty after failed evaluation")
	}

	// A usable sample clears the recorded error.
	if _, _, err := a.Evaluate(sampleAt(clk, monitor.ClassCPU, 0.50, monitor.AlertNone)); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if got := a.State().LastError; got != "" {
		t.Errorf("LastError = %q after successful evaluation, want empty", got)
	}
}

func TestTriggerAdjustment(t *testing.T) {
	clk := testclock.NewFakeClock(time.Unix(1756500000, 0))
	a := newTestAdjuster(t, testAdjusterConfig(), clk)

	// No sample observed yet.
	if _, err := a.TriggerAdjustment("warm-up"); !errors.Is(err, ErrNoSample) {
		t.Fatalf("TriggerAdjustment before a sample = %v, want ErrNoSample", err)
	}

	// Prime with high pressure, then trigger inside the cooldown: the
	// manual path bypasses the stability period.
	if _, _, err := a.Evaluate(sampleAt(clk, monitor.ClassCPU, 0.80, monitor.AlertWarning)); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	clk.Step(time.Second)
	changed, err := a.TriggerAdjustment("operator request")
	if err != nil {
		t.Fatalf("TriggerAdjustment failed: %v", err)
	}
	if !changed {
		t.Fatal("manual trigger did not adjust inside the cooldown")
	}
	if a.Budget() != 28 {
		t.Errorf("budget after manual trigger = %d, want 28", a.Budget())
	}

	hist := a.History(0)
	last := hist[len(hist)-1]
	if last.Trigger != TriggerManual {
		t.Errorf("last history trigger = %s, want manual", last.Trigger)
	}
	if last.Reason != "operator request" {
		t.Errorf("last history reason = %q, want %q", last.Reason, "operator request")
	}
}

func TestReconfigureClampsBudget(t *testing.T) {
	clk := testclock.NewFakeClock(time.Unix(1756500000, 0))
	a := newTestAdjuster(t, testAdjusterConfig(), clk)
	if a.Budget() != 32 {
		t.Fatalf("initial budget = %d, want 32", a.Budget())
	}

	cfg := testAdjusterConfig()
	cfg.MaxUnits = 16
	if err := a.Configure(cfg); err != nil {
		t.Fatalf("Configure failed: %v", err)
	}
	if a.Budget() != 16 {
		t.Errorf("budget after shrinking MaxUnits = %d, want 16", a.Budget())
	}
	hist := a.History(0)
	if len(hist) == 0 || hist[len(hist)-1].NewBudget != 16 {
		t.Error("clamp was not recorded in the history")
	}

	// A rejected config leaves everything unchanged.
	bad := testAdjusterConfig()
	bad.MinUnits = 0
	if err := a.Configure(bad); err == nil {
		t.Fatal("Configure accepted an invalid config")
	}
	if a.Budget() != 16 {
		t.Errorf("budget changed by a rejected config: %d", a.Budget())
	}
}

func TestHistoryRingBounded(t *testing.T) {
	clk := testclock.NewFakeClock(time.Unix(1756500000, 0))
	cfg := testAdjusterConfig()
	cfg.HistorySize = 4
	cfg.StabilityPeriod = 0
	cfg.Strategy = Conservative
	a := newTestAdjuster(t, cfg, clk)

	for i := 0; i < 8; i++ {
		if _, _, err := a.Evaluate(sampleAt(clk, monitor.ClassCPU, 0.95, monitor.AlertCritical)); err != nil {
			t.Fatalf("Evaluate %d failed: %v", i, err)
		}
		clk.Step(time.Second)
	}
	hist := a.History(0)
	if len(hist) != 4 {
		t.Fatalf("history has %d records, want 4", len(hist))
	}
	for i := 1; i < len(hist); i++ {
		if hist[i].At.Before(hist[i-1].At) {
			t.Error("history records are not chronological")
		}
	}
}
