// Package profiler derives the fixed truncation/padding lengths from token
// statistics over the training split.
package profiler

import (
	"fmt"
	"sort"

	"github.com/jonathan/soapnote-pipeline/internal/backbone"
	"github.com/jonathan/soapnote-pipeline/internal/corpus"
)

// DefaultPercentile is the coverage target for the length thresholds.
const DefaultPercentile = 0.99

// Thresholds are the two corpus-derived length constants. Every example in
// every split is truncated or padded to these values; they are computed once
// from the training split only and never mutated.
type Thresholds struct {
	MaxInputLength  int `json:"max_input_length"`
	MaxTargetLength int `json:"max_target_length"`

	// Medians are retained so callers can check the thresholds against the
	// typical example before accepting truncation loss.
	MedianInputLength  int `json:"median_input_length"`
	MedianTargetLength int `json:"median_target_length"`

	Percentile float64 `json:"percentile"`
}

// Profile tokenizes the training pairs with the same tokenizer the encoder
// will use and returns the smallest lengths covering at least the requested
// fraction of examples. Counting in sub-word units with the encoding
// tokenizer is what keeps the thresholds meaningful; a whitespace count
// would drift from what the encoder actually produces.
func Profile(tok backbone.Tokenizer, train []corpus.Pair, percentile float64) (Thresholds, error) {
	if len(train) == 0 {
		return Thresholds{}, fmt.Errorf("training split is empty")
	}
	if percentile <= 0 || percentile > 1 {
		return Thresholds{}, fmt.Errorf("percentile must be in (0, 1], got %g", percentile)
	}

	inputLens := make([]int, len(train))
	targetLens := make([]int, len(train))
	for i, pair := range train {
		inputLens[i] = len(tok.Encode(pair.Dialogue))
		targetLens[i] = len(tok.Encode(pair.Note))
	}
	sort.Ints(inputLens)
	sort.Ints(targetLens)

	return Thresholds{
		MaxInputLength:     percentileLength(inputLens, percentile),
		MaxTargetLength:    percentileLength(targetLens, percentile),
		MedianInputLength:  median(inputLens),
		MedianTargetLength: median(targetLens),
		Percentile:         percentile,
	}, nil
}

// percentileLength returns the smallest length L such that at least
// ceil(p*n) of the sorted lengths are <= L.
func percentileLength(sorted []int, p float64) int {
	n := len(sorted)
	need := int(p * float64(n))
	if float64(need) < p*float64(n) {
		need++
	}
	if need < 1 {
		need = 1
	}
	if need > n {
		need = n
	}
	return sorted[need-1]
}

// median of an already-sorted slice, rounding down on even counts.
func median(sorted []int) int {
	return sorted[(len(sorted)-1)/2]
}
