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
	"time"
)

var (
	// ErrNotRunning is returned by Evaluate and TriggerAdjustment when
	// the adjuster has not been started.
	ErrNotRunning = errors.New("capacity adjuster is not running")

	// ErrNoSample is returned by TriggerAdjustment before the first
	// Evaluate call has provided a pressure reading.
	ErrNoSample = errors.New("no resource sample observed yet")

	// ErrNoReadings is returned by Evaluate when every reading in the
	// sample is unknown, leaving the pressure undefined.
	ErrNoReadings = errors.New("sample contains no known readings")
)

// State is the adjuster's externally visible state. It has exactly one
// writer (the adjuster); readers receive copies.
type State struct {
	// Current is the granted compute budget in units. Always within
	// [MinUnits, MaxUnits].
	Current int

	// Recommended is the capacity model's latest unclamped suggestion.
	Recommended int

	// LastAdjusted is when the budget last changed.
	LastAdjusted time.Time

	// CoolingDown reports that the last automatic adjustment attempt
	// was suppressed by the stability period.
	CoolingDown bool

	// UpCount and DownCount count applied adjustments by direction.
	UpCount   int
	DownCount int

	// LastError holds the most recent evaluation error, if any.
	LastError string
}

// AdjustmentTrigger identifies what caused a budget adjustment.
type AdjustmentTrigger string

const (
	TriggerAutomatic AdjustmentTrigger = "automatic"
	TriggerManual    AdjustmentTrigger = "manual"
	TriggerCritical  AdjustmentTrigger = "critical"
)

// AdjustmentRecord is one entry in the bounded, append-only adjustment
// history.
type AdjustmentRecord struct {
	OldBudget int
	NewBudget int
	At        time.Time
	Trigger   AdjustmentTrigger
	Reason    string
}

// ChangeFunc receives budget-change notifications. Callbacks are
// invoked outside the adjuster's lock.
type ChangeFunc func(old, new int, reason string)

// CallbackHandle identifies a registered change callback.
type CallbackHandle int64

// DeviceCapabilityProbe reports the hard capacity ceiling of the
// underlying device. The budget never exceeds the ceiling regardless of
// demand.
type DeviceCapabilityProbe interface {
	// Ceiling returns the maximum budget units and memory the device
	// supports.
	Ceiling() (maxUnits int, maxMemory uint64)
}

// StaticCeiling is a fixed DeviceCapabilityProbe.
type StaticCeiling struct {
	MaxUnits  int
	MaxMemory uint64
}

func (s StaticCeiling) Ceiling() (int, uint64) { return s.MaxUnits, s.MaxMemory }

// CapacityModel converts a pressure reading and the device ceiling into
// a recommended budget. The engine mandates only this contract, not a
// specific formula.
type CapacityModel interface {
	Recommend(pressure float64, ceiling int) int
}

// LinearModel recommends capacity proportional to the pressure headroom
// below its threshold.
type LinearModel struct {
	// HighThreshold mirrors the adjuster's shrink threshold.
	HighThreshold float64
}

// Recommend maps pressure 0 to the full ceiling and pressure at or
// above the threshold to zero headroom growth.
func (m LinearModel) Recommend(pressure float64, ceiling int) int {
	if m.HighThreshold <= 0 {
		return ceiling
	}
	headroom := 1 - pressure/m.HighThreshold
	if headroom < 0 {
		headroom = 0
	}
	if headroom > 1 {
		headroom = 1
	}
	rec := int(float64(ceiling) * headroom)
	if rec < 1 {
		rec = 1
	}
	return rec
}

// recordRing is a bounded append-only log of adjustment records; the
// oldest record is evicted first.
type recordRing struct {
	buf   []AdjustmentRecord
	head  int
	count int
}

func newRecordRing(capacity int) *recordRing {
	if capacity < 1 {
		capacity = 1
	}
	return &recordRing{buf: make([]AdjustmentRecord, capacity)}
}

func (r *recordRing) push(rec AdjustmentRecord) {
	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = rec
		r.count++
		return
	}
	r.buf[r.head] = rec
	r.head = (r.head + 1) % len(r.buf)
}

func (r *recordRing) len() int { return r.count }

func (r *recordRing) snapshot(max int) []AdjustmentRecord {
	n := r.count
	if max > 0 && max < n {
		n = max
	}
	out := make([]AdjustmentRecord, 0, n)
	start := r.count - n
	for i := start; i < r.count; i++ {
		out = append(out, r.buf[(r.head+i)%len(r.buf)])
	}
	return out
}
