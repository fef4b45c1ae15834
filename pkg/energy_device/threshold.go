package energy_device

import "fmt"

type ThresholdKind string

const (
	THRESHOLD_MAX  ThresholdKind = "max"
	THRESHOLD_MIN  ThresholdKind = "min"
	THRESHOLD_PASS ThresholdKind = "pass"
)

type ThresholdRule struct {
	Kind  ThresholdKind
	Bound float64
	// pass band limits
	Low  float64
	High float64
}

// ThresholdRules holds at most one rule per measurement name.
type ThresholdRules map[string]ThresholdRule

// Tolerance selects the fencepost a device family applies to max/min rules.
type Tolerance int

const (
	// max violated above the bound, min below it
	TOLERANCE_LENIENT Tolerance = iota
	// max violated at or above the bound, min at or below it
	TOLERANCE_STRICT
)

func (r ThresholdRule) Validate() error {
	switch r.Kind {
	case THRESHOLD_MAX, THRESHOLD_MIN:
		return nil
	case THRESHOLD_PASS:
		if r.Low > r.High {
			return fmt.Errorf("pass band low bound %v above high bound %v", r.Low, r.High)
		}
		return nil
	default:
		return fmt.Errorf("unknown threshold type %q", r.Kind)
	}
}

// Violated reports whether value breaks the rule under the given tolerance.
func (r ThresholdRule) Violated(value float64, tolerance Tolerance) bool {
	switch r.Kind {
	case THRESHOLD_MAX:
		if tolerance == TOLERANCE_STRICT {
			return value >= r.Bound
		}
		return value > r.Bound
	case THRESHOLD_MIN:
		if tolerance == TOLERANCE_STRICT {
			return value <= r.Bound
		}
		return value < r.Bound
	case THRESHOLD_PASS:
		return value >= r.High || value <= r.Low
	}
	return false
}

// Evaluate checks every register map entry that has a rule against its payload value.
func (rules ThresholdRules) Evaluate(registers RegisterMap, payload []float64, tolerance Tolerance) Sanity {
	for i, entry := range registers {
		rule, ok := rules[entry.Name]
		if !ok {
			continue
		}
		if rule.Violated(payload[i], tolerance) {
			return Unsane
		}
	}
	return Sane
}
