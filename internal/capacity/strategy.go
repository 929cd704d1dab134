package capacity

import "fmt"

// Strategy is an enumeration of the budget step-sizing strategies.
type Strategy int

// enumeration of Strategy
const (
	Conservative Strategy = iota
	Balanced
	Aggressive
	Adaptive
)

func (s Strategy) String() string {
	switch s {
	case Conservative:
		return "conservative"
	case Balanced:
		return "balanced"
	case Aggressive:
		return "aggressive"
	case Adaptive:
		return "adaptive"
	default:
		return fmt.Sprintf("Strategy(%d)", int(s))
	}
}

// ParseStrategy maps a config string to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "conservative":
		return Conservative, nil
	case "balanced":
		return Balanced, nil
	case "aggressive":
		return Aggressive, nil
	case "adaptive":
		return Adaptive, nil
	default:
		return 0, fmt.Errorf("unsupported capacity strategy: %q", s)
	}
}

type direction int

const (
	directionUp direction = iota
	directionDown
)

func (d direction) String() string {
	if d == directionUp {
		return "up"
	}
	return "down"
}

// stepper computes the budget step for one adjustment. Steppers may
// keep per-instance state (the adaptive strategy tracks direction
// streaks) and are not safe for concurrent use; the adjuster serializes
// calls under its lock.
type stepper interface {
	step(dir direction) int
	reset()
}

// newStepper is a factory that creates a stepper for the strategy.
func newStepper(s Strategy) (stepper, error) {
	switch s {
	case Conservative:
		return &fixedStepper{size: 1}, nil
	case Balanced:
		return &fixedStepper{size: 2}, nil
	case Aggressive:
		return &aggressiveStepper{size: 4}, nil
	case Adaptive:
		return &adaptiveStepper{}, nil
	default:
		return nil, fmt.Errorf("unsupported capacity strategy: %v", s)
	}
}

type fixedStepper struct {
	size int
}

func (f *fixedStepper) step(direction) int { return f.size }
func (f *fixedStepper) reset()             {}

// aggressiveStepper doubles the step when shrinking so the budget backs
// off quickly under pressure.
type aggressiveStepper struct {
	size int
}

func (a *aggressiveStepper) step(dir direction) int {
	if dir == directionDown {
		return a.size * 2
	}
	return a.size
}

func (a *aggressiveStepper) reset() {}

// adaptiveStepper grows the step while consecutive adjustments share a
// direction and snaps back to one on reversal.
type adaptiveStepper struct {
	lastDir direction
	streak  int
}

const adaptiveMaxStep = 8

func (a *adaptiveStepper) step(dir direction) int {
	if a.streak > 0 && dir == a.lastDir {
		a.streak++
	} else {
		a.streak = 1
	}
	a.lastDir = dir

	size := 1 << (a.streak - 1)
	if size > adaptiveMaxStep {
		size = adaptiveMaxStep
	}
	return size
}

func (a *adaptiveStepper) reset() {
	a.streak = 0
}
