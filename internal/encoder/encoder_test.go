package encoder

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/soapnote-pipeline/internal/backbone"
	"github.com/jonathan/soapnote-pipeline/internal/corpus"
	"github.com/jonathan/soapnote-pipeline/internal/profiler"
)

// wordTokenizer assigns one id per whitespace word, for tests that need
// exact control over token counts.
type wordTokenizer struct {
	vocab map[string]int
	words []string
}

func newWordTokenizer(words ...string) *wordTokenizer {
	t := &wordTokenizer{vocab: make(map[string]int)}
	t.words = []string{"<pad>", "<unk>", "<eos>"}
	for _, w := range words {
		if _, ok := t.vocab[w]; !ok {
			t.vocab[w] = len(t.words)
			t.words = append(t.words, w)
		}
	}
	return t
}

func (t *wordTokenizer) Encode(text string) []int {
	var ids []int
	for _, w := range strings.Fields(text) {
		if id, ok := t.vocab[w]; ok {
			ids = append(ids, id)
		} else {
			ids = append(ids, t.UnkID())
		}
	}
	return ids
}

func (t *wordTokenizer) Decode(ids []int) string {
	var words []string
	for _, id := range ids {
		if id < 3 || id >= len(t.words) {
			continue
		}
		words = append(words, t.words[id])
	}
	return strings.Join(words, " ")
}

func (t *wordTokenizer) VocabSize() int { return len(t.words) }
func (t *wordTokenizer) PadID() int     { return 0 }
func (t *wordTokenizer) UnkID() int     { return 1 }
func (t *wordTokenizer) EOSID() int     { return 2 }

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = "w" + strconv.Itoa(i)
	}
	return strings.Join(parts, " ")
}

func testThresholds(in, out int) profiler.Thresholds {
	return profiler.Thresholds{MaxInputLength: in, MaxTargetLength: out, Percentile: 0.99}
}

func TestEncodePair_ExactLengths(t *testing.T) {
	// Whatever the raw text length, every encoded field has exactly the
	// threshold length.
	tok := newWordTokenizer(strings.Fields(words(20))...)
	enc, err := New(tok, testThresholds(8, 6), 1)
	require.NoError(t, err)

	for _, n := range []int{1, 5, 8, 15} {
		pair := corpus.Pair{Dialogue: words(n), Note: words(n)}
		ex, err := enc.EncodePair(pair)
		require.NoError(t, err)
		assert.Len(t, ex.InputIDs, 8, "n=%d", n)
		assert.Len(t, ex.AttentionMask, 8, "n=%d", n)
		assert.Len(t, ex.Labels, 6, "n=%d", n)
	}
}

func TestEncodePair_TruncationAtThreshold(t *testing.T) {
	// A 10-word dialogue against a threshold of 8 keeps exactly the first
	// 8 tokens, all attended.
	tok := newWordTokenizer(strings.Fields(words(10))...)
	enc, err := New(tok, testThresholds(8, 8), 1)
	require.NoError(t, err)

	ex, err := enc.EncodePair(corpus.Pair{Dialogue: words(10), Note: words(3)})
	require.NoError(t, err)

	assert.Equal(t, tok.Encode(words(10))[:8], ex.InputIDs)
	for i, m := range ex.AttentionMask {
		assert.Equal(t, 1, m, "position %d", i)
	}
}

func TestEncodePair_PaddingAndMask(t *testing.T) {
	tok := newWordTokenizer(strings.Fields(words(10))...)
	enc, err := New(tok, testThresholds(6, 8), 1)
	require.NoError(t, err)

	ex, err := enc.EncodePair(corpus.Pair{Dialogue: words(4), Note: words(3)})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 1, 1, 1, 0, 0}, ex.AttentionMask)
	assert.Equal(t, tok.PadID(), ex.InputIDs[4])
	assert.Equal(t, tok.PadID(), ex.InputIDs[5])
}

func TestEncodePair_LabelsUseSentinelNeverPadID(t *testing.T) {
	tok := newWordTokenizer(strings.Fields(words(10))...)
	enc, err := New(tok, testThresholds(6, 8), 1)
	require.NoError(t, err)

	ex, err := enc.EncodePair(corpus.Pair{Dialogue: words(4), Note: words(3)})
	require.NoError(t, err)

	// 3 note tokens, then eos, then sentinel padding. The pad id never
	// appears in labels: loss over padding would train the model to
	// predict padding.
	assert.Equal(t, tok.EOSID(), ex.Labels[3])
	for i := 4; i < len(ex.Labels); i++ {
		assert.Equal(t, backbone.IgnoreLabelID, ex.Labels[i], "position %d", i)
	}
	assert.NotContains(t, ex.Labels, tok.PadID())
}

func TestEncodePair_LabelTruncationDropsEOS(t *testing.T) {
	// A note at or over the threshold is cut to exactly the threshold;
	// there is no room left for the eos token.
	tok := newWordTokenizer(strings.Fields(words(12))...)
	enc, err := New(tok, testThresholds(6, 4), 1)
	require.NoError(t, err)

	ex, err := enc.EncodePair(corpus.Pair{Dialogue: words(3), Note: words(9)})
	require.NoError(t, err)

	assert.Equal(t, tok.Encode(words(9))[:4], ex.Labels)
	assert.NotContains(t, ex.Labels, backbone.IgnoreLabelID)
}

func TestEncodePair_EmptyTextFails(t *testing.T) {
	tok := newWordTokenizer("a")
	enc, err := New(tok, testThresholds(4, 4), 1)
	require.NoError(t, err)

	_, err = enc.EncodePair(corpus.Pair{Dialogue: " ", Note: "a"})
	var schemaErr *corpus.SchemaError
	require.ErrorAs(t, err, &schemaErr)

	_, err = enc.EncodePair(corpus.Pair{Dialogue: "a", Note: ""})
	require.ErrorAs(t, err, &schemaErr)
}

func TestEncodeSplit_PreservesOrder(t *testing.T) {
	tok := newWordTokenizer(strings.Fields(words(64))...)
	enc, err := New(tok, testThresholds(4, 4), 4)
	require.NoError(t, err)

	pairs := make([]corpus.Pair, 50)
	for i := range pairs {
		pairs[i] = corpus.Pair{Dialogue: "w" + strconv.Itoa(i), Note: "w" + strconv.Itoa(i)}
	}

	examples, err := enc.EncodeSplit(context.Background(), pairs)
	require.NoError(t, err)
	require.Len(t, examples, len(pairs))

	for i, ex := range examples {
		want, err := enc.EncodePair(pairs[i])
		require.NoError(t, err)
		assert.Equal(t, want, ex, "example %d", i)
	}
}

func TestEncodeSplit_PropagatesError(t *testing.T) {
	tok := newWordTokenizer("a")
	enc, err := New(tok, testThresholds(4, 4), 2)
	require.NoError(t, err)

	pairs := []corpus.Pair{
		{Dialogue: "a", Note: "a"},
		{Dialogue: "  ", Note: "a"},
	}
	_, err = enc.EncodeSplit(context.Background(), pairs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "example 1")
}

func TestCollate_RectangularBatch(t *testing.T) {
	tok := newWordTokenizer(strings.Fields(words(10))...)
	enc, err := New(tok, testThresholds(5, 4), 1)
	require.NoError(t, err)

	var examples []EncodedExample
	for _, n := range []int{2, 4, 8} {
		ex, err := enc.EncodePair(corpus.Pair{Dialogue: words(n), Note: words(n)})
		require.NoError(t, err)
		examples = append(examples, ex)
	}

	batch := Collate(examples)
	assert.Equal(t, 3, batch.Size())
	for i := range examples {
		assert.Len(t, batch.InputIDs[i], 5)
		assert.Len(t, batch.Labels[i], 4)
	}
}

func TestNew_InvalidThresholds(t *testing.T) {
	tok := newWordTokenizer("a")
	_, err := New(tok, profiler.Thresholds{MaxInputLength: 0, MaxTargetLength: 4}, 1)
	assert.Error(t, err)
}
