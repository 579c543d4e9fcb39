// Package backbone defines the pretrained sequence-to-sequence capability the
// pipeline trains and evaluates. The rest of the system treats a Model as a
// black box: it can tokenize text, run a teacher-forced forward/backward pass,
// apply an optimizer step, and generate token sequences with beam search.
package backbone

import (
	"context"
	"fmt"
)

// IgnoreLabelID marks label positions that are excluded from loss
// computation. It is never a valid vocabulary id, and must be replaced with
// the pad id before a label sequence is handed to a decoder.
const IgnoreLabelID = -100

// Tokenizer converts between text and model-local token ids.
type Tokenizer interface {
	// Encode converts text into token ids. Unknown tokens map to UnkID.
	Encode(text string) []int
	// Decode converts token ids back into text. Ids outside the vocabulary
	// range and special ids (pad, unk, eos) are skipped, not errors.
	Decode(ids []int) string
	VocabSize() int
	PadID() int
	UnkID() int
	EOSID() int
}

// Batch is one micro-batch of encoded examples in fixed-shape layout.
// All rows share the same input length and the same label length.
type Batch struct {
	InputIDs      [][]int
	AttentionMask [][]int
	Labels        [][]int
}

// Size returns the number of examples in the batch.
func (b Batch) Size() int { return len(b.InputIDs) }

// ForwardResult reports the outcome of a forward/backward pass. Loss is the
// summed cross-entropy over non-ignored label positions, accumulated in
// float64 regardless of the model's activation precision. TokenCount is the
// number of label positions that contributed to the loss.
type ForwardResult struct {
	Loss       float64
	TokenCount int
}

// MeanLoss returns the per-token loss, or 0 for an empty batch.
func (r ForwardResult) MeanLoss() float64 {
	if r.TokenCount == 0 {
		return 0
	}
	return r.Loss / float64(r.TokenCount)
}

// Model is the trained capability. Implementations are not safe for
// concurrent use; a single goroutine drives all calls, and each call blocks
// until the underlying compute completes.
type Model interface {
	ParameterCount() int64
	VocabSize() int
	PadID() int

	// ForwardBackward runs a teacher-forced forward pass over the batch,
	// computes the loss over non-ignored label positions only, and
	// accumulates scaled gradients without applying them. Gradients from
	// successive calls add up until Step is called.
	ForwardBackward(ctx context.Context, batch Batch, gradScale float64) (ForwardResult, error)

	// Step applies the accumulated gradients with AdamW semantics and
	// resets the accumulators.
	Step(learningRate, weightDecay float64) error

	// Generate produces a token sequence for one input using beam search,
	// bounded by maxLength tokens.
	Generate(ctx context.Context, inputIDs, attentionMask []int, maxLength, numBeams int) ([]int, error)

	// SetReducedPrecision switches activation arithmetic between full and
	// reduced precision. Loss accumulation stays full precision either way.
	SetReducedPrecision(enabled bool)

	// SetActivationCheckpointing trades recomputation during the backward
	// pass for a smaller activation footprint.
	SetActivationCheckpointing(enabled bool)

	// ExportState serializes parameters and optimizer state.
	ExportState() ([]byte, error)
	// ImportState restores a snapshot produced by ExportState.
	ImportState(data []byte) error
}

// CapacityError reports that a forward/backward pass would exceed the
// accelerator memory budget. It is fatal to the in-progress step; the
// documented recovery is to re-plan with a smaller micro-batch and resume
// from the last checkpoint.
type CapacityError struct {
	RequestedBytes int64
	BudgetBytes    int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("accelerator memory exhausted: step requires %d bytes, budget is %d bytes", e.RequestedBytes, e.BudgetBytes)
}
