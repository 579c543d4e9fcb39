// Package metrics scores generated notes against references with n-gram and
// longest-common-subsequence overlap F-measures.
package metrics

import (
	"strings"
	"unicode"
)

// Metric names reported by the scorer.
const (
	Rouge1    = "rouge1"
	Rouge2    = "rouge2"
	RougeL    = "rougeL"
	RougeLsum = "rougeLsum"
)

// MetricNames lists every metric the scorer computes, in report order.
var MetricNames = []string{Rouge1, Rouge2, RougeL, RougeLsum}

// Report maps metric name to a corpus-level F-measure percentage in
// [0, 100]. A Report is produced fresh per evaluation and never mutated
// afterwards.
type Report map[string]float64

// Scorer computes overlap scores for candidate/reference pairs. OutputShape
// selects which historical return shape Score emits; scores normalize to the
// same scalar through any of them.
type Scorer struct {
	OutputShape ShapeMode
}

// ShapeMode selects the return shape Score uses.
type ShapeMode int

const (
	ShapeAggregate ShapeMode = iota // low/mid/high spread, the current default
	ShapeNumber                     // bare scalar
	ShapeNested                     // precision/recall/fmeasure mapping
)

// NewScorer returns a Scorer in its default output shape.
func NewScorer() *Scorer { return &Scorer{OutputShape: ShapeAggregate} }

// Score computes all overlap metrics for one candidate/reference pair.
// Every value is an F-measure in [0, 1] wrapped in the scorer's output
// shape.
func (s *Scorer) Score(candidate, reference string) map[string]Value {
	candTokens := tokenize(candidate)
	refTokens := tokenize(reference)

	scores := map[string]struct{ precision, recall float64 }{
		Rouge1:    ngramOverlap(candTokens, refTokens, 1),
		Rouge2:    ngramOverlap(candTokens, refTokens, 2),
		RougeL:    lcsOverlap(candTokens, refTokens),
		RougeLsum: summaryLCSOverlap(candidate, reference),
	}

	out := make(map[string]Value, len(scores))
	for name, pr := range scores {
		f := fmeasure(pr.precision, pr.recall)
		switch s.OutputShape {
		case ShapeNumber:
			out[name] = NumberValue(f)
		case ShapeNested:
			out[name] = NestedValue(map[string]float64{
				"precision": pr.precision,
				"recall":    pr.recall,
				"fmeasure":  f,
			})
		default:
			out[name] = AggregateValue(f, f, f)
		}
	}
	return out
}

// tokenize lowercases and splits on non-alphanumeric runes.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func fmeasure(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

// ngramOverlap returns clipped n-gram precision and recall.
func ngramOverlap(cand, ref []string, n int) (pr struct{ precision, recall float64 }) {
	candGrams := ngramCounts(cand, n)
	refGrams := ngramCounts(ref, n)
	if len(candGrams) == 0 || len(refGrams) == 0 {
		return pr
	}

	var overlap, candTotal, refTotal int
	for gram, c := range candGrams {
		candTotal += c
		if r, ok := refGrams[gram]; ok {
			if c < r {
				overlap += c
			} else {
				overlap += r
			}
		}
	}
	for _, r := range refGrams {
		refTotal += r
	}
	pr.precision = float64(overlap) / float64(candTotal)
	pr.recall = float64(overlap) / float64(refTotal)
	return pr
}

func ngramCounts(tokens []string, n int) map[string]int {
	if len(tokens) < n {
		return nil
	}
	counts := make(map[string]int, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		counts[strings.Join(tokens[i:i+n], "\x1f")]++
	}
	return counts
}

// lcsOverlap returns precision and recall based on the longest common
// subsequence length.
func lcsOverlap(cand, ref []string) (pr struct{ precision, recall float64 }) {
	if len(cand) == 0 || len(ref) == 0 {
		return pr
	}
	l := lcsLength(cand, ref)
	pr.precision = float64(l) / float64(len(cand))
	pr.recall = float64(l) / float64(len(ref))
	return pr
}

// lcsLength computes LCS length with a rolling row.
func lcsLength(a, b []string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// summaryLCSOverlap is sentence-level LCS: each reference sentence is scored
// by its union LCS against all candidate sentences.
func summaryLCSOverlap(candidate, reference string) (pr struct{ precision, recall float64 }) {
	candSents := splitSentences(candidate)
	refSents := splitSentences(reference)
	if len(candSents) == 0 || len(refSents) == 0 {
		return pr
	}

	var candTotal, refTotal, hits int
	candTokenSets := make([][]string, len(candSents))
	for i, s := range candSents {
		candTokenSets[i] = tokenize(s)
		candTotal += len(candTokenSets[i])
	}
	for _, rs := range refSents {
		refTokens := tokenize(rs)
		refTotal += len(refTokens)

		// Union of LCS token positions across candidate sentences.
		union := make(map[int]struct{})
		for _, ct := range candTokenSets {
			for _, idx := range lcsPositions(refTokens, ct) {
				union[idx] = struct{}{}
			}
		}
		hits += len(union)
	}
	if candTotal == 0 || refTotal == 0 {
		return pr
	}
	pr.precision = float64(hits) / float64(candTotal)
	pr.recall = float64(hits) / float64(refTotal)
	return pr
}

// lcsPositions returns the indices in a of one longest common subsequence of
// a and b.
func lcsPositions(a, b []string) []int {
	dp := make([][]int, len(a)+1)
	for i := range dp {
		dp[i] = make([]int, len(b)+1)
	}
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				dp[i][j] = dp[i-1][j-1] + 1
			} else if dp[i-1][j] >= dp[i][j-1] {
				dp[i][j] = dp[i-1][j]
			} else {
				dp[i][j] = dp[i][j-1]
			}
		}
	}
	var idx []int
	for i, j := len(a), len(b); i > 0 && j > 0; {
		switch {
		case a[i-1] == b[j-1]:
			idx = append(idx, i-1)
			i--
			j--
		case dp[i-1][j] >= dp[i][j-1]:
			i--
		default:
			j--
		}
	}
	for l, r := 0, len(idx)-1; l < r; l, r = l+1, r-1 {
		idx[l], idx[r] = idx[r], idx[l]
	}
	return idx
}

// splitSentences breaks text on sentence punctuation and newlines.
func splitSentences(text string) []string {
	parts := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	var sents []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			sents = append(sents, p)
		}
	}
	return sents
}
