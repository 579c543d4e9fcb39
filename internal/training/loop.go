// Package training drives the optimization loop over the encoded corpus
// under a fixed memory plan.
package training

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/jonathan/soapnote-pipeline/internal/backbone"
	"github.com/jonathan/soapnote-pipeline/internal/checkpoint"
	"github.com/jonathan/soapnote-pipeline/internal/encoder"
	"github.com/jonathan/soapnote-pipeline/internal/evaluator"
	"github.com/jonathan/soapnote-pipeline/internal/memplan"
	"github.com/jonathan/soapnote-pipeline/internal/metrics"
)

// Config holds the optimization hyperparameters. All values are fixed before
// Run starts; nothing mutates them mid-run.
type Config struct {
	Epochs            int
	LearningRate      float64
	WeightDecay       float64
	EvalIntervalSteps int
	SaveIntervalSteps int
	Seed              int64
}

// Hooks receive notifications as the loop progresses. Nil hooks are skipped.
type Hooks struct {
	// OnStep fires after every optimizer step with the mean loss since the
	// previous step.
	OnStep func(step int, meanLoss float64)
	// OnEval fires after each periodic validation pass.
	OnEval func(step int, report metrics.Report)
	// OnCheckpoint fires after each persisted snapshot.
	OnCheckpoint func(step int, dir string)
}

// Trainer owns the training state for one run. A single goroutine drives it;
// the model executes each forward/backward/step call as a blocking unit of
// work.
type Trainer struct {
	model backbone.Model
	plan  memplan.Plan
	cfg   Config

	train      []encoder.EncodedExample
	validation []encoder.EncodedExample

	eval  *evaluator.Evaluator
	store *checkpoint.Store
	hooks Hooks

	runID string
	state State
	step  int
	epoch int
}

// New builds a Trainer. The evaluator and checkpoint store are optional;
// without them the corresponding intervals are skipped.
func New(model backbone.Model, plan memplan.Plan, cfg Config, train, validation []encoder.EncodedExample, eval *evaluator.Evaluator, store *checkpoint.Store, runID string, hooks Hooks) (*Trainer, error) {
	if len(train) == 0 {
		return nil, fmt.Errorf("training split is empty")
	}
	if cfg.Epochs <= 0 {
		return nil, fmt.Errorf("epochs must be positive, got %d", cfg.Epochs)
	}
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", cfg.LearningRate)
	}
	if plan.MicroBatchSize <= 0 || plan.AccumulationSteps <= 0 {
		return nil, fmt.Errorf("invalid memory plan: micro-batch %d, accumulation %d", plan.MicroBatchSize, plan.AccumulationSteps)
	}
	return &Trainer{
		model:      model,
		plan:       plan,
		cfg:        cfg,
		train:      train,
		validation: validation,
		eval:       eval,
		store:      store,
		runID:      runID,
		hooks:      hooks,
		state:      NotStarted,
	}, nil
}

// State returns the current lifecycle state.
func (t *Trainer) State() State { return t.state }

// Step returns the number of optimizer steps applied so far.
func (t *Trainer) Step() int { return t.step }

// Resume primes the trainer to continue counting from a restored snapshot.
func (t *Trainer) Resume(manifest checkpoint.Manifest) {
	t.step = manifest.Step
	t.epoch = manifest.Epoch
}

// Run executes the configured epochs. A capacity error is fatal to the run:
// the loop does not retry, because an automatic shrink would silently break
// the effective-batch-size contract. The caller re-plans with a smaller
// micro-batch and resumes from the last snapshot instead.
func (t *Trainer) Run(ctx context.Context) error {
	t.model.SetReducedPrecision(t.plan.Precision == memplan.PrecisionReduced)
	t.model.SetActivationCheckpointing(t.plan.CheckpointActivations)

	t.state = Running
	startEpoch := t.epoch
	for epoch := startEpoch; epoch < t.cfg.Epochs; epoch++ {
		t.epoch = epoch
		if err := t.runEpoch(ctx, epoch); err != nil {
			t.state = Failed
			return err
		}
	}

	t.state = Completed
	return nil
}

func (t *Trainer) runEpoch(ctx context.Context, epoch int) error {
	// The ordering is derived from the seed and epoch alone, so the same
	// configuration always visits the corpus the same way.
	order := rand.New(rand.NewSource(t.cfg.Seed + int64(epoch))).Perm(len(t.train))

	gradScale := 1.0 / float64(t.plan.AccumulationSteps)
	pendingMicro := 0
	var pendingLoss float64
	var pendingTokens int

	for lo := 0; lo < len(order); lo += t.plan.MicroBatchSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		hi := lo + t.plan.MicroBatchSize
		if hi > len(order) {
			hi = len(order)
		}
		micro := make([]encoder.EncodedExample, 0, hi-lo)
		for _, idx := range order[lo:hi] {
			micro = append(micro, t.train[idx])
		}

		result, err := t.model.ForwardBackward(ctx, encoder.Collate(micro), gradScale)
		if err != nil {
			var capErr *backbone.CapacityError
			if errors.As(err, &capErr) {
				return fmt.Errorf("training step %d failed: %w (re-plan with a smaller micro-batch and resume from the last checkpoint)", t.step+1, err)
			}
			return fmt.Errorf("training step %d failed: %w", t.step+1, err)
		}
		pendingLoss += result.Loss
		pendingTokens += result.TokenCount
		pendingMicro++

		if pendingMicro == t.plan.AccumulationSteps {
			if err := t.applyStep(ctx, pendingLoss, pendingTokens); err != nil {
				return err
			}
			pendingMicro, pendingLoss, pendingTokens = 0, 0, 0
		}
	}

	// A trailing partial accumulation window at the end of the epoch still
	// becomes an optimizer step so no gradient work is discarded.
	if pendingMicro > 0 {
		if err := t.applyStep(ctx, pendingLoss, pendingTokens); err != nil {
			return err
		}
	}
	return nil
}

func (t *Trainer) applyStep(ctx context.Context, loss float64, tokens int) error {
	if err := t.model.Step(t.cfg.LearningRate, t.cfg.WeightDecay); err != nil {
		return fmt.Errorf("optimizer step failed: %w", err)
	}
	t.step++

	if t.hooks.OnStep != nil {
		mean := 0.0
		if tokens > 0 {
			mean = loss / float64(tokens)
		}
		t.hooks.OnStep(t.step, mean)
	}

	if t.eval != nil && len(t.validation) > 0 && t.cfg.EvalIntervalSteps > 0 && t.step%t.cfg.EvalIntervalSteps == 0 {
		// Evaluation shares the accelerator with training, so the loop
		// pauses optimization entirely while it runs.
		t.state = Evaluating
		report, err := t.eval.Evaluate(ctx, t.validation)
		if err != nil {
			t.state = Failed
			return fmt.Errorf("validation at step %d failed: %w", t.step, err)
		}
		t.state = Running
		if t.hooks.OnEval != nil {
			t.hooks.OnEval(t.step, report)
		}
	}

	if t.store != nil && t.cfg.SaveIntervalSteps > 0 && t.step%t.cfg.SaveIntervalSteps == 0 {
		dir, err := t.store.Save(t.model, checkpoint.Manifest{
			RunID:     t.runID,
			Step:      t.step,
			Epoch:     t.epoch,
			Precision: t.plan.Precision,
		})
		if err != nil {
			return fmt.Errorf("checkpoint at step %d failed: %w", t.step, err)
		}
		if t.hooks.OnCheckpoint != nil {
			t.hooks.OnCheckpoint(t.step, dir)
		}
	}
	return nil
}
