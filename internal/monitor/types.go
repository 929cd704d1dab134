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

package monitor

import (
	"errors"
	"time"
)

var (
	// ErrProbeUnavailable is returned when every probe failed during the
	// last sampling pass. The monitor keeps serving the last known
	// sample alongside this error.
	ErrProbeUnavailable = errors.New("resource probe unavailable")

	// ErrNotActive is returned by operations that require a started,
	// unpaused monitor.
	ErrNotActive = errors.New("monitor is not active")

	// ErrInvalidTransition is returned for lifecycle calls that do not
	// apply to the current state (e.g. Resume while Active).
	ErrInvalidTransition = errors.New("invalid monitor state transition")
)

// ResourceClass identifies one monitored resource dimension.
type ResourceClass string

const (
	ClassCPU         ResourceClass = "cpu"
	ClassMemory      ResourceClass = "memory"
	ClassStorage     ResourceClass = "storage"
	ClassNetwork     ResourceClass = "network"
	ClassAccelerator ResourceClass = "accelerator"
	ClassDomainUnit  ResourceClass = "domain-unit"
)

// AllClasses returns every known resource class in stable order.
func AllClasses() []ResourceClass {
	return []ResourceClass{
		ClassCPU, ClassMemory, ClassStorage,
		ClassNetwork, ClassAccelerator, ClassDomainUnit,
	}
}

// AlertLevel classifies a utilization reading against configured
// thresholds.
type AlertLevel int

const (
	AlertNone AlertLevel = iota
	AlertWarning
	AlertCritical
)

func (l AlertLevel) String() string {
	switch l {
	case AlertNone:
		return "None"
	case AlertWarning:
		return "Warning"
	case AlertCritical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// Thresholds holds the alert boundaries for one resource class, as
// utilization fractions in (0, 1].
type Thresholds struct {
	Warning  float64
	Critical float64
}

// Classify maps a utilization fraction to an alert level.
func (t Thresholds) Classify(util float64) AlertLevel {
	switch {
	case util >= t.Critical:
		return AlertCritical
	case util >= t.Warning:
		return AlertWarning
	default:
		return AlertNone
	}
}

// Reading is the classified utilization of one resource class within a
// sample. Known is false when the class's probe failed and the value was
// carried over from the previous sample.
type Reading struct {
	Utilization float64
	Level       AlertLevel
	Known       bool
}

// ResourceSample is an immutable, timestamped vector of per-class
// readings. Samples are recorded into a bounded ring buffer; the oldest
// entry is evicted first.
type ResourceSample struct {
	Timestamp time.Time
	Readings  map[ResourceClass]Reading
}

// Clone returns a deep copy so callers can hold a sample across ticks.
func (s ResourceSample) Clone() ResourceSample {
	out := ResourceSample{Timestamp: s.Timestamp}
	if s.Readings != nil {
		out.Readings = make(map[ResourceClass]Reading, len(s.Readings))
		for k, v := range s.Readings {
			out.Readings[k] = v
		}
	}
	return out
}

// Reading returns the reading for a class, if present.
func (s ResourceSample) Reading(class ResourceClass) (Reading, bool) {
	r, ok := s.Readings[class]
	return r, ok
}

// MaxLevel returns the highest alert level across all known readings.
func (s ResourceSample) MaxLevel() AlertLevel {
	max := AlertNone
	for _, r := range s.Readings {
		if r.Known && r.Level > max {
			max = r.Level
		}
	}
	return max
}

// LifecycleState is the monitor's coarse run state. Valid transitions:
// Inactive -> Active <-> Paused -> Inactive. Inactive is terminal per
// Start/Stop cycle; only an explicit Stop reaches it.
type LifecycleState int

const (
	StateInactive LifecycleState = iota
	StateActive
	StatePaused
)

func (s LifecycleState) String() string {
	switch s {
	case StateInactive:
		return "Inactive"
	case StateActive:
		return "Active"
	case StatePaused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// AlertFunc receives level-transition notifications. Callbacks are
// invoked outside the monitor's lock.
type AlertFunc func(class ResourceClass, old, new AlertLevel, sample ResourceSample)

// CallbackHandle identifies a registered callback for unregistering.
type CallbackHandle int64
