package backbone

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// ReferenceConfig configures the in-process reference model.
type ReferenceConfig struct {
	VocabSize int
	PadID     int
	EOSID     int
	// Dim is the embedding width. Defaults to 16.
	Dim  int
	Seed int64
	// MemoryBudgetBytes caps the simulated activation footprint of a single
	// forward/backward pass. Zero means unlimited.
	MemoryBudgetBytes int64
}

// ReferenceModel is a deterministic, trainable encoder-decoder stand-in.
// The decoder conditions each target position on the mean input embedding
// plus the previous target token's embedding, with tied input/output
// embeddings. It exists so the pipeline runs end-to-end without an external
// accelerator; swapping in a real backbone only requires satisfying Model.
type ReferenceModel struct {
	cfg ReferenceConfig
	dim int

	embed [][]float64 // vocab x dim, tied with the output projection
	outB  []float64

	gEmbed [][]float64
	gOutB  []float64

	mEmbed, vEmbed [][]float64
	mOutB, vOutB   []float64
	adamSteps      int

	reducedPrecision      bool
	checkpointActivations bool
}

// NewReferenceModel builds a reference model with deterministic initial
// weights derived from cfg.Seed.
func NewReferenceModel(cfg ReferenceConfig) (*ReferenceModel, error) {
	if cfg.VocabSize <= 0 {
		return nil, fmt.Errorf("vocab size must be positive, got %d", cfg.VocabSize)
	}
	if cfg.PadID < 0 || cfg.PadID >= cfg.VocabSize {
		return nil, fmt.Errorf("pad id %d outside vocabulary of size %d", cfg.PadID, cfg.VocabSize)
	}
	if cfg.EOSID < 0 || cfg.EOSID >= cfg.VocabSize {
		return nil, fmt.Errorf("eos id %d outside vocabulary of size %d", cfg.EOSID, cfg.VocabSize)
	}
	if cfg.Dim == 0 {
		cfg.Dim = 16
	}
	if cfg.Dim < 0 {
		return nil, fmt.Errorf("embedding dim must be positive, got %d", cfg.Dim)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	m := &ReferenceModel{cfg: cfg, dim: cfg.Dim}
	m.embed = make([][]float64, cfg.VocabSize)
	m.gEmbed = make([][]float64, cfg.VocabSize)
	m.mEmbed = make([][]float64, cfg.VocabSize)
	m.vEmbed = make([][]float64, cfg.VocabSize)
	for v := 0; v < cfg.VocabSize; v++ {
		m.embed[v] = make([]float64, cfg.Dim)
		m.gEmbed[v] = make([]float64, cfg.Dim)
		m.mEmbed[v] = make([]float64, cfg.Dim)
		m.vEmbed[v] = make([]float64, cfg.Dim)
		for d := 0; d < cfg.Dim; d++ {
			m.embed[v][d] = rng.NormFloat64() * 0.1
		}
	}
	m.outB = make([]float64, cfg.VocabSize)
	m.gOutB = make([]float64, cfg.VocabSize)
	m.mOutB = make([]float64, cfg.VocabSize)
	m.vOutB = make([]float64, cfg.VocabSize)
	return m, nil
}

func (m *ReferenceModel) ParameterCount() int64 {
	return int64(len(m.embed))*int64(m.dim) + int64(len(m.outB))
}

func (m *ReferenceModel) VocabSize() int { return len(m.embed) }
func (m *ReferenceModel) PadID() int     { return m.cfg.PadID }

func (m *ReferenceModel) SetReducedPrecision(enabled bool)      { m.reducedPrecision = enabled }
func (m *ReferenceModel) SetActivationCheckpointing(enabled bool) { m.checkpointActivations = enabled }

// reduce rounds a value through float32 when reduced precision is on.
func (m *ReferenceModel) reduce(x float64) float64 {
	if m.reducedPrecision {
		return float64(float32(x))
	}
	return x
}

// stepBytes estimates the simulated activation footprint of one pass.
// Checkpointing halves it: the backward pass recomputes instead of caching.
func (m *ReferenceModel) stepBytes(batchSize, seqLen int) int64 {
	bytesPerAct := int64(8)
	if m.reducedPrecision {
		bytesPerAct = 4
	}
	bytes := int64(batchSize) * int64(seqLen) * int64(m.dim) * bytesPerAct
	if !m.checkpointActivations {
		bytes *= 2
	}
	return bytes
}

// contextVector returns the decoder context for one target position: the
// mean embedding of attended input tokens plus the previous target token's
// embedding.
func (m *ReferenceModel) contextVector(inputIDs, attentionMask []int, prevTok int) []float64 {
	ctx := make([]float64, m.dim)
	n := 0
	for i, id := range inputIDs {
		if i < len(attentionMask) && attentionMask[i] == 0 {
			continue
		}
		if id < 0 || id >= len(m.embed) {
			continue
		}
		for d := 0; d < m.dim; d++ {
			ctx[d] += m.embed[id][d]
		}
		n++
	}
	if n > 0 {
		for d := 0; d < m.dim; d++ {
			ctx[d] /= float64(n)
		}
	}
	if prevTok >= 0 && prevTok < len(m.embed) {
		for d := 0; d < m.dim; d++ {
			ctx[d] += m.embed[prevTok][d]
		}
	}
	for d := 0; d < m.dim; d++ {
		ctx[d] = m.reduce(ctx[d])
	}
	return ctx
}

// logProbs returns log-softmax scores over the vocabulary for a context.
func (m *ReferenceModel) logProbs(ctx []float64) []float64 {
	logits := make([]float64, len(m.embed))
	maxLogit := math.Inf(-1)
	for v := range m.embed {
		s := m.outB[v]
		for d := 0; d < m.dim; d++ {
			s += m.embed[v][d] * ctx[d]
		}
		s = m.reduce(s)
		logits[v] = s
		if s > maxLogit {
			maxLogit = s
		}
	}
	var sum float64
	for _, s := range logits {
		sum += math.Exp(s - maxLogit)
	}
	logZ := maxLogit + math.Log(sum)
	for v := range logits {
		logits[v] -= logZ
	}
	return logits
}

// lossPosition is one label position contributing to the loss.
type lossPosition struct {
	row     int
	prevTok int
	target  int
}

func (m *ReferenceModel) ForwardBackward(ctx context.Context, batch Batch, gradScale float64) (ForwardResult, error) {
	if err := ctx.Err(); err != nil {
		return ForwardResult{}, err
	}
	if batch.Size() == 0 {
		return ForwardResult{}, fmt.Errorf("empty batch")
	}

	seqLen := len(batch.InputIDs[0]) + len(batch.Labels[0])
	if m.cfg.MemoryBudgetBytes > 0 {
		if need := m.stepBytes(batch.Size(), seqLen); need > m.cfg.MemoryBudgetBytes {
			return ForwardResult{}, &CapacityError{RequestedBytes: need, BudgetBytes: m.cfg.MemoryBudgetBytes}
		}
	}

	// Forward pass: collect loss positions and accumulate loss in float64.
	var positions []lossPosition
	var cachedLogProbs [][]float64
	var loss float64
	for row := range batch.InputIDs {
		prev := m.cfg.EOSID
		for t, target := range batch.Labels[row] {
			if target == IgnoreLabelID {
				continue
			}
			if target < 0 || target >= len(m.embed) {
				return ForwardResult{}, fmt.Errorf("label id %d at row %d position %d outside vocabulary of size %d", target, row, t, len(m.embed))
			}
			lp := m.logProbs(m.contextVector(batch.InputIDs[row], batch.AttentionMask[row], prev))
			loss += -lp[target]
			positions = append(positions, lossPosition{row: row, prevTok: prev, target: target})
			if !m.checkpointActivations {
				cachedLogProbs = append(cachedLogProbs, lp)
			}
			prev = target
		}
	}
	result := ForwardResult{Loss: loss, TokenCount: len(positions)}
	if len(positions) == 0 {
		return result, nil
	}

	// Backward pass. Under checkpointing the log-probs are recomputed here
	// instead of being held from the forward pass.
	scale := gradScale / float64(len(positions))
	for i, pos := range positions {
		cvec := m.contextVector(batch.InputIDs[pos.row], batch.AttentionMask[pos.row], pos.prevTok)
		var lp []float64
		if m.checkpointActivations {
			lp = m.logProbs(cvec)
		} else {
			lp = cachedLogProbs[i]
		}

		dctx := make([]float64, m.dim)
		for v := range m.embed {
			dlogit := math.Exp(lp[v])
			if v == pos.target {
				dlogit -= 1
			}
			dlogit *= scale
			m.gOutB[v] += dlogit
			for d := 0; d < m.dim; d++ {
				m.gEmbed[v][d] += dlogit * cvec[d]
				dctx[d] += dlogit * m.embed[v][d]
			}
		}

		// Context gradient flows into the previous-token embedding and,
		// scaled by the mean, into every attended input embedding.
		if pos.prevTok >= 0 && pos.prevTok < len(m.embed) {
			for d := 0; d < m.dim; d++ {
				m.gEmbed[pos.prevTok][d] += dctx[d]
			}
		}
		n := 0
		for i2, id := range batch.InputIDs[pos.row] {
			if i2 < len(batch.AttentionMask[pos.row]) && batch.AttentionMask[pos.row][i2] == 0 {
				continue
			}
			if id >= 0 && id < len(m.embed) {
				n++
			}
		}
		if n > 0 {
			for i2, id := range batch.InputIDs[pos.row] {
				if i2 < len(batch.AttentionMask[pos.row]) && batch.AttentionMask[pos.row][i2] == 0 {
					continue
				}
				if id < 0 || id >= len(m.embed) {
					continue
				}
				for d := 0; d < m.dim; d++ {
					m.gEmbed[id][d] += dctx[d] / float64(n)
				}
			}
		}
	}
	return result, nil
}

// Step applies accumulated gradients with AdamW and resets the accumulators.
func (m *ReferenceModel) Step(learningRate, weightDecay float64) error {
	if learningRate <= 0 {
		return fmt.Errorf("learning rate must be positive, got %g", learningRate)
	}
	const (
		beta1 = 0.9
		beta2 = 0.999
		eps   = 1e-8
	)
	m.adamSteps++
	bc1 := 1 - math.Pow(beta1, float64(m.adamSteps))
	bc2 := 1 - math.Pow(beta2, float64(m.adamSteps))

	update := func(w, g, mo, ve *float64) {
		*mo = beta1**mo + (1-beta1)**g
		*ve = beta2**ve + (1-beta2)**g**g
		mhat := *mo / bc1
		vhat := *ve / bc2
		*w -= learningRate * (mhat/(math.Sqrt(vhat)+eps) + weightDecay**w)
		*g = 0
	}

	for v := range m.embed {
		for d := 0; d < m.dim; d++ {
			update(&m.embed[v][d], &m.gEmbed[v][d], &m.mEmbed[v][d], &m.vEmbed[v][d])
		}
		update(&m.outB[v], &m.gOutB[v], &m.mOutB[v], &m.vOutB[v])
	}
	return nil
}

// beam is one partial hypothesis during generation.
type beam struct {
	ids     []int
	logProb float64
	done    bool
}

// Generate runs beam search up to maxLength tokens, ending a hypothesis when
// it emits the eos id. The best hypothesis by length-normalized log
// probability wins.
func (m *ReferenceModel) Generate(ctx context.Context, inputIDs, attentionMask []int, maxLength, numBeams int) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxLength <= 0 {
		return nil, fmt.Errorf("max length must be positive, got %d", maxLength)
	}
	if numBeams <= 0 {
		return nil, fmt.Errorf("beam width must be positive, got %d", numBeams)
	}

	beams := []beam{{}}
	for step := 0; step < maxLength; step++ {
		var next []beam
		allDone := true
		for _, b := range beams {
			if b.done {
				next = append(next, b)
				continue
			}
			allDone = false
			prev := m.cfg.EOSID
			if len(b.ids) > 0 {
				prev = b.ids[len(b.ids)-1]
			}
			lp := m.logProbs(m.contextVector(inputIDs, attentionMask, prev))
			for _, cand := range topTokens(lp, numBeams) {
				nb := beam{
					ids:     append(append([]int(nil), b.ids...), cand),
					logProb: b.logProb + lp[cand],
					done:    cand == m.cfg.EOSID,
				}
				next = append(next, nb)
			}
		}
		if allDone {
			break
		}
		sort.SliceStable(next, func(i, j int) bool { return next[i].logProb > next[j].logProb })
		if len(next) > numBeams {
			next = next[:numBeams]
		}
		beams = next
	}

	best := beams[0]
	bestScore := math.Inf(-1)
	for _, b := range beams {
		score := b.logProb
		if len(b.ids) > 0 {
			score /= float64(len(b.ids))
		}
		if score > bestScore {
			bestScore = score
			best = b
		}
	}
	return best.ids, nil
}

// topTokens returns the indices of the k largest log-probs.
func topTokens(lp []float64, k int) []int {
	idx := make([]int, len(lp))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return lp[idx[a]] > lp[idx[b]] })
	if k > len(idx) {
		k = len(idx)
	}
	return idx[:k]
}

// referenceState is the serialized snapshot of parameters and optimizer state.
type referenceState struct {
	VocabSize int         `json:"vocab_size"`
	Dim       int         `json:"dim"`
	PadID     int         `json:"pad_id"`
	EOSID     int         `json:"eos_id"`
	AdamSteps int         `json:"adam_steps"`
	Embed     [][]float64 `json:"embed"`
	OutB      []float64   `json:"out_b"`
	MEmbed    [][]float64 `json:"m_embed"`
	VEmbed    [][]float64 `json:"v_embed"`
	MOutB     []float64   `json:"m_out_b"`
	VOutB     []float64   `json:"v_out_b"`
}

func (m *ReferenceModel) ExportState() ([]byte, error) {
	state := referenceState{
		VocabSize: len(m.embed),
		Dim:       m.dim,
		PadID:     m.cfg.PadID,
		EOSID:     m.cfg.EOSID,
		AdamSteps: m.adamSteps,
		Embed:     m.embed,
		OutB:      m.outB,
		MEmbed:    m.mEmbed,
		VEmbed:    m.vEmbed,
		MOutB:     m.mOutB,
		VOutB:     m.vOutB,
	}
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize model state: %w", err)
	}
	return data, nil
}

func (m *ReferenceModel) ImportState(data []byte) error {
	var state referenceState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to parse model state: %w", err)
	}
	if state.VocabSize != len(m.embed) || state.Dim != m.dim {
		return fmt.Errorf("state shape mismatch: snapshot is %dx%d, model is %dx%d", state.VocabSize, state.Dim, len(m.embed), m.dim)
	}
	m.embed = state.Embed
	m.outB = state.OutB
	m.mEmbed = state.MEmbed
	m.vEmbed = state.VEmbed
	m.mOutB = state.MOutB
	m.vOutB = state.VOutB
	m.adamSteps = state.AdamSteps
	return nil
}
