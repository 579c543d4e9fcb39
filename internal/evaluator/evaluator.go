// Package evaluator generates candidate notes from encoded examples and
// scores them against their references.
package evaluator

import (
	"context"
	"fmt"

	"github.com/jonathan/soapnote-pipeline/internal/backbone"
	"github.com/jonathan/soapnote-pipeline/internal/encoder"
	"github.com/jonathan/soapnote-pipeline/internal/metrics"
)

// DefaultNumBeams is the policy default beam width.
const DefaultNumBeams = 4

// Options configures an Evaluator.
type Options struct {
	NumBeams  int // defaults to DefaultNumBeams
	MaxLength int // generation bound; required
}

// Evaluator scores a model snapshot against an encoded split.
type Evaluator struct {
	model  backbone.Model
	tok    backbone.Tokenizer
	scorer *metrics.Scorer
	opts   Options
}

// New builds an Evaluator over a model and its tokenizer.
func New(model backbone.Model, tok backbone.Tokenizer, scorer *metrics.Scorer, opts Options) (*Evaluator, error) {
	if opts.MaxLength <= 0 {
		return nil, fmt.Errorf("max generation length must be positive, got %d", opts.MaxLength)
	}
	if opts.NumBeams == 0 {
		opts.NumBeams = DefaultNumBeams
	}
	if opts.NumBeams < 0 {
		return nil, fmt.Errorf("beam width must be positive, got %d", opts.NumBeams)
	}
	if scorer == nil {
		scorer = metrics.NewScorer()
	}
	return &Evaluator{model: model, tok: tok, scorer: scorer, opts: opts}, nil
}

// Evaluate generates a candidate for every example in order and returns the
// corpus-level mean F-measure of each metric as a percentage. Decoding never
// sees the label sentinel: it is replaced with the pad id first. Invalid
// token ids in a generated sequence are dropped by the decoder rather than
// aborting the split.
func (e *Evaluator) Evaluate(ctx context.Context, examples []encoder.EncodedExample) (metrics.Report, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("evaluation split is empty")
	}

	sums := make(map[string]float64, len(metrics.MetricNames))
	for i, ex := range examples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candidateIDs, err := e.model.Generate(ctx, ex.InputIDs, ex.AttentionMask, e.opts.MaxLength, e.opts.NumBeams)
		if err != nil {
			return nil, fmt.Errorf("generation failed at example %d: %w", i, err)
		}
		candidate := e.tok.Decode(candidateIDs)
		reference := e.tok.Decode(desentinel(ex.Labels, e.tok.PadID()))

		for name, value := range e.scorer.Score(candidate, reference) {
			scalar, err := metrics.Normalize(value)
			if err != nil {
				return nil, fmt.Errorf("scoring %s at example %d: %w", name, i, err)
			}
			sums[name] += scalar
		}
	}

	report := make(metrics.Report, len(sums))
	for name, sum := range sums {
		report[name] = 100 * sum / float64(len(examples))
	}
	return report, nil
}

// desentinel replaces every ignore sentinel with the pad token id. The
// sentinel is not a vocabulary id and must never reach a decoder.
func desentinel(labels []int, padID int) []int {
	out := make([]int, len(labels))
	for i, id := range labels {
		if id == backbone.IgnoreLabelID {
			out[i] = padID
		} else {
			out[i] = id
		}
	}
	return out
}
