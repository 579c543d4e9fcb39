package profiler

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/soapnote-pipeline/internal/corpus"
)

// fieldTokenizer counts whitespace words, so test pairs can pin exact token
// lengths.
type fieldTokenizer struct{}

func (fieldTokenizer) Encode(text string) []int {
	fields := strings.Fields(text)
	ids := make([]int, len(fields))
	for i := range ids {
		ids[i] = i + 3
	}
	return ids
}

func (fieldTokenizer) Decode(ids []int) string { return "" }
func (fieldTokenizer) VocabSize() int          { return 1 << 16 }
func (fieldTokenizer) PadID() int              { return 0 }
func (fieldTokenizer) UnkID() int              { return 1 }
func (fieldTokenizer) EOSID() int              { return 2 }

// pairOfLengths builds a pair whose dialogue and note token counts are
// exactly the given values.
func pairOfLengths(in, out int) corpus.Pair {
	return corpus.Pair{
		Dialogue: strings.Repeat("d ", in),
		Note:     strings.Repeat("n ", out),
	}
}

func TestProfile_PercentileCoverage(t *testing.T) {
	// 100 pairs with input lengths 1..100. The 99th percentile threshold
	// is the smallest length covering at least 99 of them.
	pairs := make([]corpus.Pair, 100)
	for i := range pairs {
		pairs[i] = pairOfLengths(i+1, 10)
	}

	th, err := Profile(fieldTokenizer{}, pairs, 0.99)
	require.NoError(t, err)

	assert.Equal(t, 99, th.MaxInputLength)
	assert.Equal(t, 10, th.MaxTargetLength)
	assert.Equal(t, 0.99, th.Percentile)

	covered := 0
	for i := range pairs {
		if i+1 <= th.MaxInputLength {
			covered++
		}
	}
	assert.GreaterOrEqual(t, covered, 99)
}

func TestProfile_FullCoverage(t *testing.T) {
	pairs := []corpus.Pair{
		pairOfLengths(3, 2),
		pairOfLengths(7, 5),
		pairOfLengths(5, 9),
	}

	th, err := Profile(fieldTokenizer{}, pairs, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 7, th.MaxInputLength)
	assert.Equal(t, 9, th.MaxTargetLength)
}

func TestProfile_Medians(t *testing.T) {
	pairs := []corpus.Pair{
		pairOfLengths(1, 10),
		pairOfLengths(2, 20),
		pairOfLengths(3, 30),
		pairOfLengths(4, 40),
		pairOfLengths(5, 50),
	}

	th, err := Profile(fieldTokenizer{}, pairs, 0.99)
	require.NoError(t, err)
	assert.Equal(t, 3, th.MedianInputLength)
	assert.Equal(t, 30, th.MedianTargetLength)
}

func TestProfile_Idempotent(t *testing.T) {
	pairs := make([]corpus.Pair, 40)
	for i := range pairs {
		pairs[i] = pairOfLengths(i%13+1, i%7+1)
	}

	first, err := Profile(fieldTokenizer{}, pairs, 0.99)
	require.NoError(t, err)
	second, err := Profile(fieldTokenizer{}, pairs, 0.99)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestProfile_SingleExample(t *testing.T) {
	th, err := Profile(fieldTokenizer{}, []corpus.Pair{pairOfLengths(12, 6)}, 0.99)
	require.NoError(t, err)
	assert.Equal(t, 12, th.MaxInputLength)
	assert.Equal(t, 6, th.MaxTargetLength)
}

func TestProfile_EmptyTrainSplit(t *testing.T) {
	_, err := Profile(fieldTokenizer{}, nil, 0.99)
	assert.Error(t, err)
}

func TestProfile_InvalidPercentile(t *testing.T) {
	pairs := []corpus.Pair{pairOfLengths(1, 1)}
	for _, p := range []float64{0, -0.5, 1.5} {
		_, err := Profile(fieldTokenizer{}, pairs, p)
		assert.Error(t, err, strconv.FormatFloat(p, 'g', -1, 64))
	}
}
