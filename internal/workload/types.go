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

// Package workload defines the job descriptor shared by the compressor,
// the mitigator, and the scheduler.
package workload

import "time"

// Descriptor declares the resource footprint of a unit of work. The
// Payload is opaque to the engine; everything else drives admission and
// compression decisions.
type Descriptor struct {
	// Name is a human-readable label carried through logs and reports.
	Name string

	// Payload is the caller-supplied workload body. The engine never
	// inspects it.
	Payload any

	// Class is the scheduling class ("batch", "interactive", ...) used
	// to resolve per-class policy overrides. Empty means the default
	// class.
	Class string

	// Units is the declared compute budget footprint.
	Units int

	// MinUnits is the smallest footprint the workload can be compressed
	// to. A zero value means the workload is incompressible and MinUnits
	// is treated as equal to Units.
	MinUnits int

	// MemoryBytes is the declared memory footprint.
	MemoryBytes uint64

	// EstimatedRuntime is the expected wall-clock runtime at the declared
	// footprint. Zero means unknown: the job runs until it is completed,
	// failed, or cancelled externally.
	EstimatedRuntime time.Duration
}

// EffectiveMinUnits returns MinUnits, falling back to Units when the
// workload declares no compression floor.
func (d Descriptor) EffectiveMinUnits() int {
	if d.MinUnits <= 0 {
		return d.Units
	}
	return d.MinUnits
}

// Compressible reports whether the workload admits a footprint below its
// declared Units.
func (d Descriptor) Compressible() bool {
	return d.MinUnits > 0 && d.MinUnits < d.Units
}
