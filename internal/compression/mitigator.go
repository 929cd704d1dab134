package compression

import "fmt"

// Method is an enumeration of the quality mitigation methods.
type Method int

// enumeration of Method
const (
	MethodNone Method = iota
	MethodRescale
	MethodExtrapolate
)

func (m Method) String() string {
	switch m {
	case MethodNone:
		return "none"
	case MethodRescale:
		return "rescale"
	case MethodExtrapolate:
		return "extrapolate"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// ParseMethod maps a config string to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "none":
		return MethodNone, nil
	case "rescale":
		return MethodRescale, nil
	case "extrapolate":
		return MethodExtrapolate, nil
	default:
		return 0, fmt.Errorf("unsupported mitigation method: %q", s)
	}
}

// Mitigator compensates for quality lost to compression or
// under-provisioning. It is pure and safe for concurrent use.
type Mitigator struct {
	method Method

	// target is the quality floor compensation aims for.
	target float64

	// recovery scales how much of the gap to target one mitigation pass
	// closes, in (0, 1].
	recovery float64
}

// NewMitigator creates a Mitigator.
func NewMitigator(method Method, targetQuality, recoveryFactor float64) (*Mitigator, error) {
	if targetQuality <= 0 || targetQuality > 1 {
		return nil, fmt.Errorf("target quality must be in (0, 1], got %v", targetQuality)
	}
	if recoveryFactor <= 0 || recoveryFactor > 1 {
		return nil, fmt.Errorf("recovery factor must be in (0, 1], got %v", recoveryFactor)
	}
	return &Mitigator{method: method, target: targetQuality, recovery: recoveryFactor}, nil
}

// Mitigate returns the compensated quality for a raw post-compression
// quality estimate. The result never exceeds 1 and never falls below
// the raw input.
func (m *Mitigator) Mitigate(rawQuality float64) float64 {
	if rawQuality >= 1 {
		return 1
	}
	if rawQuality < 0 {
		rawQuality = 0
	}

	var adjusted float64
	switch m.method {
	case MethodRescale:
		// Close part of the gap toward the configured target.
		if rawQuality >= m.target {
			return rawQuality
		}
		adjusted = rawQuality + (m.target-rawQuality)*m.recovery
	case MethodExtrapolate:
		// Zero-loss extrapolation: boost proportionally to the loss.
		adjusted = rawQuality * (1 + m.recovery*(1-rawQuality))
	default:
		return rawQuality
	}

	if adjusted > 1 {
		adjusted = 1
	}
	if adjusted < rawQuality {
		adjusted = rawQuality
	}
	return adjusted
}

// Method returns the configured mitigation method.
func (m *Mitigator) Method() Method { return m.method }
