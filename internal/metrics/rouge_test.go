package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScore_IdenticalText(t *testing.T) {
	// Identical candidate and reference must score a perfect F-measure on
	// every metric.
	text := "Patient reports mild headache. Prescribed ibuprofen 400mg.\nFollow up in two weeks."

	scorer := NewScorer()
	values := scorer.Score(text, text)
	require.Len(t, values, len(MetricNames))

	for _, name := range MetricNames {
		v, ok := values[name]
		require.True(t, ok, "missing metric %s", name)
		f, err := Normalize(v)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, f, 1e-4, "metric %s", name)
	}
}

func TestScore_IdenticalNote(t *testing.T) {
	note := "S: fever. O: normal exam."

	scorer := NewScorer()
	values := scorer.Score(note, note)

	f1, err := Normalize(values[Rouge1])
	require.NoError(t, err)
	assert.InDelta(t, 1.0, f1, 1e-4)

	f2, err := Normalize(values[Rouge2])
	require.NoError(t, err)
	assert.InDelta(t, 1.0, f2, 1e-4)
}

func TestScore_DisjointText(t *testing.T) {
	scorer := NewScorer()
	values := scorer.Score("alpha beta gamma", "delta epsilon zeta")

	for _, name := range MetricNames {
		f, err := Normalize(values[name])
		require.NoError(t, err)
		assert.Equal(t, 0.0, f, "metric %s", name)
	}
}

func TestScore_EmptyCandidate(t *testing.T) {
	// An empty candidate yields zero, never NaN.
	scorer := NewScorer()
	values := scorer.Score("", "subjective patient stable")

	for _, name := range MetricNames {
		f, err := Normalize(values[name])
		require.NoError(t, err)
		assert.Equal(t, 0.0, f, "metric %s", name)
	}
}

func TestScore_PartialOverlap(t *testing.T) {
	scorer := NewScorer()
	values := scorer.Score("the patient has a headache", "the patient has a fever")

	// 4 of 5 unigrams overlap in both directions: F1 = 0.8.
	f1, err := Normalize(values[Rouge1])
	require.NoError(t, err)
	assert.InDelta(t, 0.8, f1, 1e-9)

	// 3 of 4 bigrams overlap: F1 = 0.75.
	f2, err := Normalize(values[Rouge2])
	require.NoError(t, err)
	assert.InDelta(t, 0.75, f2, 1e-9)

	// LCS is the shared 4-token prefix.
	fl, err := Normalize(values[RougeL])
	require.NoError(t, err)
	assert.InDelta(t, 0.8, fl, 1e-9)
}

func TestScore_CaseAndPunctuationInsensitive(t *testing.T) {
	scorer := NewScorer()
	values := scorer.Score("Chest pain, resolved.", "chest pain resolved")

	f, err := Normalize(values[Rouge1])
	require.NoError(t, err)
	assert.InDelta(t, 1.0, f, 1e-9)
}

func TestScore_ShapeModesNormalizeIdentically(t *testing.T) {
	// The three output shapes are presentation only; the normalized scalar
	// must not depend on which one the scorer emits.
	candidate := "patient denies fever but reports persistent cough"
	reference := "patient reports persistent cough and denies fever"

	shapes := []ShapeMode{ShapeAggregate, ShapeNumber, ShapeNested}
	var baseline map[string]float64
	for _, shape := range shapes {
		scorer := &Scorer{OutputShape: shape}
		values := scorer.Score(candidate, reference)

		normalized := make(map[string]float64, len(values))
		for name, v := range values {
			f, err := Normalize(v)
			require.NoError(t, err)
			normalized[name] = f
		}
		if baseline == nil {
			baseline = normalized
			continue
		}
		for _, name := range MetricNames {
			assert.InDelta(t, baseline[name], normalized[name], 1e-12, "metric %s under shape %d", name, shape)
		}
	}
}

func TestLcsLength(t *testing.T) {
	assert.Equal(t, 3, lcsLength([]string{"a", "b", "c", "d"}, []string{"a", "c", "d"}))
	assert.Equal(t, 0, lcsLength([]string{"a"}, []string{"b"}))
	assert.Equal(t, 2, lcsLength([]string{"x", "a", "y", "b"}, []string{"a", "b"}))
}

func TestSplitSentences(t *testing.T) {
	sents := splitSentences("First sentence. Second!\nThird?")
	require.Len(t, sents, 3)
	assert.Equal(t, "First sentence", sents[0])
}
