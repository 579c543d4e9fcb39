// Package memplan derives a training memory plan from a fixed accelerator
// budget. The governing rule: a memory constraint must never silently change
// the effective batch size the optimization is tuned for. The planner
// compensates with accumulation, activation checkpointing, and reduced
// precision first, and shrinks the effective batch size only as a last
// resort, with an explicit warning.
package memplan

import (
	"fmt"
	"math"
)

// Precision selects the activation arithmetic width.
type Precision string

const (
	PrecisionFull    Precision = "full"
	PrecisionReduced Precision = "reduced"
)

// DefaultEffectiveBatchSize is the policy default the optimizer settings are
// tuned for.
const DefaultEffectiveBatchSize = 8

// MaxAccumulationSteps caps how far the planner trades micro-batch size for
// accumulation before it starts shrinking the effective batch instead.
const MaxAccumulationSteps = 32

// Input describes the training setup being planned.
type Input struct {
	BudgetBytes        int64
	ParameterCount     int64
	MaxInputLength     int
	MaxTargetLength    int
	EffectiveBatchSize int // defaults to DefaultEffectiveBatchSize
}

// Plan is the derived policy. MicroBatchSize * AccumulationSteps always
// equals the effective batch size the plan delivers; when that had to be
// shrunk below the requested target, Warnings says so.
type Plan struct {
	MicroBatchSize        int       `json:"micro_batch_size"`
	AccumulationSteps     int       `json:"accumulation_steps"`
	Precision             Precision `json:"precision"`
	CheckpointActivations bool      `json:"checkpoint_activations"`
	Warnings              []string  `json:"warnings,omitempty"`
}

// EffectiveBatchSize is the statistically meaningful batch size the plan
// delivers.
func (p Plan) EffectiveBatchSize() int { return p.MicroBatchSize * p.AccumulationSteps }

// ErrBudgetTooSmall reports that no plan fits: even a micro-batch of one,
// with checkpointing and reduced precision, exceeds the budget.
type ErrBudgetTooSmall struct {
	BudgetBytes   int64
	RequiredBytes int64
}

func (e *ErrBudgetTooSmall) Error() string {
	return fmt.Sprintf("memory budget %d bytes too small: minimum viable configuration needs %d bytes (micro-batch 1, checkpointing on, reduced precision)", e.BudgetBytes, e.RequiredBytes)
}

// Memory model constants. Parameters carry weights, gradients, and two
// optimizer moments in full precision regardless of activation precision.
const (
	bytesPerParamState = 16
	fullActBytes       = 4
	reducedActBytes    = 2
)

// hiddenWidth estimates the model's activation width from its parameter
// count.
func hiddenWidth(params int64) int64 {
	w := int64(math.Cbrt(float64(params)))
	if w < 64 {
		w = 64
	}
	return w
}

// activationBytes estimates peak activation memory for one micro-batch.
// Without checkpointing the retained attention maps add a term quadratic in
// sequence length; checkpointing recomputes them during the backward pass.
func activationBytes(in Input, microBatch int, precision Precision, checkpointing bool) int64 {
	seq := int64(in.MaxInputLength + in.MaxTargetLength)
	actBytes := int64(fullActBytes)
	if precision == PrecisionReduced {
		actBytes = reducedActBytes
	}
	bytes := int64(microBatch) * seq * hiddenWidth(in.ParameterCount) * actBytes
	if !checkpointing {
		bytes += int64(microBatch) * seq * seq * actBytes
	}
	return bytes
}

// fits reports whether a configuration stays under the budget, including the
// fixed parameter-state overhead.
func fits(in Input, microBatch int, precision Precision, checkpointing bool) bool {
	fixed := in.ParameterCount * bytesPerParamState
	return fixed+activationBytes(in, microBatch, precision, checkpointing) <= in.BudgetBytes
}

// NewPlan derives a memory plan. Lever order when memory is tight: shrink the
// micro-batch while raising accumulation (effective batch unchanged), then
// enable activation checkpointing, then reduced precision. Only when all
// three are exhausted does the planner halve the effective batch size, and
// each halving is recorded as a warning.
func NewPlan(in Input) (Plan, error) {
	if in.BudgetBytes <= 0 {
		return Plan{}, fmt.Errorf("memory budget must be positive, got %d", in.BudgetBytes)
	}
	if in.ParameterCount <= 0 {
		return Plan{}, fmt.Errorf("parameter count must be positive, got %d", in.ParameterCount)
	}
	if in.MaxInputLength <= 0 || in.MaxTargetLength <= 0 {
		return Plan{}, fmt.Errorf("sequence lengths must be positive, got input=%d target=%d", in.MaxInputLength, in.MaxTargetLength)
	}
	target := in.EffectiveBatchSize
	if target == 0 {
		target = DefaultEffectiveBatchSize
	}
	if target < 0 {
		return Plan{}, fmt.Errorf("effective batch size must be positive, got %d", target)
	}

	// Lever combinations in preference order: each later entry costs more
	// (recompute time, then numeric width).
	levers := []struct {
		precision     Precision
		checkpointing bool
	}{
		{PrecisionFull, false},
		{PrecisionFull, true},
		{PrecisionReduced, true},
	}

	var warnings []string
	for effective := target; effective >= 1; effective /= 2 {
		for _, lever := range levers {
			for micro := effective; micro >= 1; micro-- {
				if effective%micro != 0 || effective/micro > MaxAccumulationSteps {
					continue
				}
				if !fits(in, micro, lever.precision, lever.checkpointing) {
					continue
				}
				return Plan{
					MicroBatchSize:        micro,
					AccumulationSteps:     effective / micro,
					Precision:             lever.precision,
					CheckpointActivations: lever.checkpointing,
					Warnings:              warnings,
				}, nil
			}
		}
		if effective > 1 {
			warnings = append(warnings, fmt.Sprintf("effective batch size reduced from %d to %d: budget cannot fit micro-batch 1 with checkpointing and reduced precision", effective, effective/2))
		}
	}

	fixed := in.ParameterCount * bytesPerParamState
	return Plan{}, &ErrBudgetTooSmall{
		BudgetBytes:   in.BudgetBytes,
		RequiredBytes: fixed + activationBytes(in, 1, PrecisionReduced, true),
	}
}
