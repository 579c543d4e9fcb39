package backbone

import (
	"fmt"
	"sort"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Special local token ids. Local id space is corpus-scoped: the BPE ids
// observed in the fitting corpus are remapped onto a dense range so the
// model's vocabulary stays proportional to the corpus, not to the full BPE
// table.
const (
	padLocalID = 0
	unkLocalID = 1
	eosLocalID = 2

	numSpecialTokens = 3
)

// BPETokenizer wraps a tiktoken encoding with a corpus-local id mapping.
type BPETokenizer struct {
	enc        *tiktoken.Tiktoken
	encoding   string
	bpeToLocal map[int]int
	localToBPE []int // indexed by local id; special slots hold -1
}

// NewBPETokenizer builds a tokenizer over the named tiktoken encoding,
// fitting the local vocabulary to the BPE ids observed in docs. The fitting
// corpus must be the training split only; validation and test text encodes
// through the same mapping, with unseen tokens collapsing to the unk id.
func NewBPETokenizer(encoding string, docs []string) (*BPETokenizer, error) {
	if encoding == "" {
		encoding = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %s: %w", encoding, err)
	}

	seen := make(map[int]struct{})
	for _, doc := range docs {
		for _, id := range enc.EncodeOrdinary(doc) {
			seen[id] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("empty fitting corpus: no tokens observed")
	}

	// Sort for a deterministic local id assignment.
	bpeIDs := make([]int, 0, len(seen))
	for id := range seen {
		bpeIDs = append(bpeIDs, id)
	}
	sort.Ints(bpeIDs)

	t := &BPETokenizer{
		enc:        enc,
		encoding:   encoding,
		bpeToLocal: make(map[int]int, len(bpeIDs)),
		localToBPE: make([]int, numSpecialTokens, numSpecialTokens+len(bpeIDs)),
	}
	for i := range t.localToBPE {
		t.localToBPE[i] = -1
	}
	for _, bpeID := range bpeIDs {
		t.bpeToLocal[bpeID] = len(t.localToBPE)
		t.localToBPE = append(t.localToBPE, bpeID)
	}
	return t, nil
}

// Encoding returns the underlying tiktoken encoding name.
func (t *BPETokenizer) Encoding() string { return t.encoding }

func (t *BPETokenizer) VocabSize() int { return len(t.localToBPE) }
func (t *BPETokenizer) PadID() int     { return padLocalID }
func (t *BPETokenizer) UnkID() int     { return unkLocalID }
func (t *BPETokenizer) EOSID() int     { return eosLocalID }

// Encode converts text into local token ids. BPE tokens outside the fitted
// vocabulary map to the unk id rather than failing.
func (t *BPETokenizer) Encode(text string) []int {
	raw := t.enc.EncodeOrdinary(text)
	out := make([]int, 0, len(raw))
	for _, id := range raw {
		if local, ok := t.bpeToLocal[id]; ok {
			out = append(out, local)
		} else {
			out = append(out, unkLocalID)
		}
	}
	return out
}

// Decode converts local token ids back into text. Ids outside the vocabulary
// range and special ids are dropped, so one corrupted id never aborts the
// decode of a sequence.
func (t *BPETokenizer) Decode(ids []int) string {
	raw := make([]int, 0, len(ids))
	for _, id := range ids {
		if id < numSpecialTokens || id >= len(t.localToBPE) {
			continue
		}
		raw = append(raw, t.localToBPE[id])
	}
	if len(raw) == 0 {
		return ""
	}
	return t.enc.Decode(raw)
}
