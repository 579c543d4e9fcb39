package metrics

import "fmt"

// Scoring backends have returned three shapes across versions: a bare
// number, an aggregate with a low/mid/high spread, and a nested mapping
// keyed by component name. Value is the tagged variant covering all three;
// Normalize collapses any known shape to a single scalar. An unrecognized
// shape is a configuration error, never a silent zero.

// AggregateScore is a score with a distribution spread; Mid is the point
// estimate.
type AggregateScore struct {
	Low  float64 `json:"low"`
	Mid  float64 `json:"mid"`
	High float64 `json:"high"`
}

// Value is a tagged variant: exactly one of the three fields is set.
type Value struct {
	Number    *float64
	Aggregate *AggregateScore
	Nested    map[string]float64
}

// NumberValue wraps a bare scalar.
func NumberValue(v float64) Value { return Value{Number: &v} }

// AggregateValue wraps a low/mid/high aggregate.
func AggregateValue(low, mid, high float64) Value {
	return Value{Aggregate: &AggregateScore{Low: low, Mid: mid, High: high}}
}

// NestedValue wraps a component mapping; the f-measure component is the one
// Normalize extracts.
func NestedValue(components map[string]float64) Value { return Value{Nested: components} }

// ErrUnrecognizedShape reports a score shape Normalize has no case for.
type ErrUnrecognizedShape struct {
	Detail string
}

func (e *ErrUnrecognizedShape) Error() string {
	return fmt.Sprintf("unrecognized score shape: %s", e.Detail)
}

// Normalize collapses a Value to one scalar. A bare number passes through,
// an aggregate yields its midpoint, and a nested mapping yields its
// "fmeasure" entry.
func Normalize(v Value) (float64, error) {
	set := 0
	if v.Number != nil {
		set++
	}
	if v.Aggregate != nil {
		set++
	}
	if v.Nested != nil {
		set++
	}
	if set != 1 {
		return 0, &ErrUnrecognizedShape{Detail: fmt.Sprintf("%d variant fields set, want exactly 1", set)}
	}

	switch {
	case v.Number != nil:
		return *v.Number, nil
	case v.Aggregate != nil:
		return v.Aggregate.Mid, nil
	default:
		f, ok := v.Nested["fmeasure"]
		if !ok {
			return 0, &ErrUnrecognizedShape{Detail: `nested mapping missing "fmeasure" entry`}
		}
		return f, nil
	}
}
