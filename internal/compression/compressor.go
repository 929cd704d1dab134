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

// Package compression fits workload footprints under a target budget at
// a quality cost, and compensates for that cost afterwards. Both the
// compressor and the mitigator are pure and safe for concurrent use.
package compression

import (
	"errors"
	"fmt"
	"time"

	"github.com/adaptive-compute/workload-engine/internal/workload"
)

// ErrResourceExceeded is returned when even a workload's minimum
// footprint does not fit the target budget.
var ErrResourceExceeded = errors.New("workload exceeds available budget")

// QualityModel estimates the quality retained at a compression ratio
// (adjusted units over declared units, in (0, 1]). The numeric
// technique is pluggable; the engine mandates only this contract.
type QualityModel interface {
	Estimate(ratio float64) float64
}

// LinearQuality degrades quality linearly with the compression ratio
// down to a floor.
type LinearQuality struct {
	// Floor is the quality at maximal compression, in [0, 1).
	Floor float64
}

func (m LinearQuality) Estimate(ratio float64) float64 {
	if ratio >= 1 {
		return 1
	}
	if ratio < 0 {
		ratio = 0
	}
	return m.Floor + (1-m.Floor)*ratio
}

// Compressor fits workload descriptors under a unit budget.
type Compressor struct {
	model QualityModel
}

// NewCompressor creates a Compressor. model may be nil for the default
// linear model.
func NewCompressor(model QualityModel) *Compressor {
	if model == nil {
		model = LinearQuality{Floor: 0.5}
	}
	return &Compressor{model: model}
}

// Compress returns a copy of d whose footprint fits targetUnits,
// together with the estimated retained quality in (0, 1]. A workload
// that already fits is returned unchanged at quality 1. When even the
// minimum footprint exceeds targetUnits, ErrResourceExceeded is
// returned.
func (c *Compressor) Compress(d workload.Descriptor, targetUnits int) (workload.Descriptor, float64, error) {
	if d.Units <= 0 {
		return workload.Descriptor{}, 0, fmt.Errorf("descriptor %q declares no units", d.Name)
	}
	if targetUnits <= 0 {
		return workload.Descriptor{}, 0, fmt.Errorf("%w: %q needs at least %d units, target is %d",
			ErrResourceExceeded, d.Name, d.EffectiveMinUnits(), targetUnits)
	}
	if d.Units <= targetUnits {
		return d, 1, nil
	}
	if !d.Compressible() || d.MinUnits > targetUnits {
		return workload.Descriptor{}, 0, fmt.Errorf("%w: %q needs at least %d units, target is %d",
			ErrResourceExceeded, d.Name, d.EffectiveMinUnits(), targetUnits)
	}

	adjusted := d
	adjusted.Units = targetUnits
	ratio := float64(targetUnits) / float64(d.Units)
	// Memory shrinks with the footprint; runtime stretches inversely.
	adjusted.MemoryBytes = uint64(float64(d.MemoryBytes) * ratio)
	if d.EstimatedRuntime > 0 {
		adjusted.EstimatedRuntime = time.Duration(float64(d.EstimatedRuntime) / ratio)
	}
	return adjusted, c.model.Estimate(ratio), nil
}
