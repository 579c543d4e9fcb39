// Package encoder turns dialogue/note pairs into fixed-shape integer
// sequences ready for batch collation.
package encoder

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/soapnote-pipeline/internal/backbone"
	"github.com/jonathan/soapnote-pipeline/internal/corpus"
	"github.com/jonathan/soapnote-pipeline/internal/profiler"
)

// EncodedExample is the only shape that leaves this stage. It is constructed,
// not filtered: there is structurally no way for a raw text column to ride
// along into collation.
type EncodedExample struct {
	InputIDs      []int
	AttentionMask []int
	Labels        []int
}

// Encoder applies fixed thresholds uniformly to every split.
type Encoder struct {
	tok        backbone.Tokenizer
	thresholds profiler.Thresholds
	workers    int
}

// New builds an Encoder. workers bounds the encode pool; zero means
// GOMAXPROCS.
func New(tok backbone.Tokenizer, thresholds profiler.Thresholds, workers int) (*Encoder, error) {
	if thresholds.MaxInputLength <= 0 || thresholds.MaxTargetLength <= 0 {
		return nil, fmt.Errorf("thresholds must be positive, got input=%d target=%d", thresholds.MaxInputLength, thresholds.MaxTargetLength)
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Encoder{tok: tok, thresholds: thresholds, workers: workers}, nil
}

// Thresholds returns the fixed lengths this encoder applies.
func (e *Encoder) Thresholds() profiler.Thresholds { return e.thresholds }

// EncodePair encodes a single pair. Truncation applies beyond the threshold,
// padding below it. Label padding uses the ignore sentinel, never the pad
// token id: loss computation must skip padded positions, and a real pad id
// there would train the model to predict padding.
func (e *Encoder) EncodePair(pair corpus.Pair) (EncodedExample, error) {
	if strings.TrimSpace(pair.Dialogue) == "" {
		return EncodedExample{}, &corpus.SchemaError{Message: "empty dialogue text reached encoder"}
	}
	if strings.TrimSpace(pair.Note) == "" {
		return EncodedExample{}, &corpus.SchemaError{Message: "empty note text reached encoder"}
	}

	inputIDs := e.tok.Encode(pair.Dialogue)
	if len(inputIDs) > e.thresholds.MaxInputLength {
		inputIDs = inputIDs[:e.thresholds.MaxInputLength]
	}
	example := EncodedExample{
		InputIDs:      make([]int, e.thresholds.MaxInputLength),
		AttentionMask: make([]int, e.thresholds.MaxInputLength),
		Labels:        make([]int, e.thresholds.MaxTargetLength),
	}
	for i := range example.InputIDs {
		if i < len(inputIDs) {
			example.InputIDs[i] = inputIDs[i]
			example.AttentionMask[i] = 1
		} else {
			example.InputIDs[i] = e.tok.PadID()
		}
	}

	labels := e.tok.Encode(pair.Note)
	if len(labels) >= e.thresholds.MaxTargetLength {
		labels = labels[:e.thresholds.MaxTargetLength]
	} else {
		labels = append(labels, e.tok.EOSID())
	}
	for i := range example.Labels {
		if i < len(labels) {
			example.Labels[i] = labels[i]
		} else {
			example.Labels[i] = backbone.IgnoreLabelID
		}
	}
	return example, nil
}

// EncodeSplit encodes pairs with a bounded worker pool. Results are written
// by index, so the output order always matches the input order; validation
// and test scoring depend on that.
func (e *Encoder) EncodeSplit(ctx context.Context, pairs []corpus.Pair) ([]EncodedExample, error) {
	examples := make([]EncodedExample, len(pairs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, pair := range pairs {
		i, pair := i, pair
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			example, err := e.EncodePair(pair)
			if err != nil {
				return fmt.Errorf("encoding example %d: %w", i, err)
			}
			examples[i] = example
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return examples, nil
}

// Collate assembles a micro-batch from consecutive examples. Every example
// already has identical lengths, so the batch layout is rectangular by
// construction.
func Collate(examples []EncodedExample) backbone.Batch {
	batch := backbone.Batch{
		InputIDs:      make([][]int, len(examples)),
		AttentionMask: make([][]int, len(examples)),
		Labels:        make([][]int, len(examples)),
	}
	for i, ex := range examples {
		batch.InputIDs[i] = ex.InputIDs
		batch.AttentionMask[i] = ex.AttentionMask
		batch.Labels[i] = ex.Labels
	}
	return batch
}
