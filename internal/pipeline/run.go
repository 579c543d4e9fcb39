// Package pipeline provides the high-level orchestration for a training run.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/jonathan/soapnote-pipeline/internal/backbone"
	"github.com/jonathan/soapnote-pipeline/internal/checkpoint"
	"github.com/jonathan/soapnote-pipeline/internal/config"
	"github.com/jonathan/soapnote-pipeline/internal/corpus"
	"github.com/jonathan/soapnote-pipeline/internal/db"
	"github.com/jonathan/soapnote-pipeline/internal/encoder"
	"github.com/jonathan/soapnote-pipeline/internal/evaluator"
	"github.com/jonathan/soapnote-pipeline/internal/memplan"
	"github.com/jonathan/soapnote-pipeline/internal/metrics"
	"github.com/jonathan/soapnote-pipeline/internal/observability"
	"github.com/jonathan/soapnote-pipeline/internal/profiler"
	"github.com/jonathan/soapnote-pipeline/internal/training"
)

// modelName identifies the bundled backbone in run records.
const modelName = "reference-seq2seq"

// RunOptions holds everything a full training run needs.
type RunOptions struct {
	Config config.Config
	// ResumeDir restores a snapshot before training continues. Empty means
	// a fresh run.
	ResumeDir string
}

// Result reports the run outcome to the caller.
type Result struct {
	RunID      uuid.UUID
	FinalStep  int
	TestReport metrics.Report
}

// RunPipeline orchestrates the full fine-tuning pipeline: load corpora,
// profile, encode, plan, train with periodic evaluation and checkpointing,
// then score the test split.
func RunPipeline(ctx context.Context, opts RunOptions) (*Result, error) {
	cfg := opts.Config
	printer := observability.NewPrinter(os.Stdout)

	// Initialize database connection if configured
	var database *db.DB
	var runID uuid.UUID
	if cfg.DatabaseURL != "" {
		var err error
		database, err = db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			fmt.Printf("Warning: Failed to connect to database: %v\n", err)
			fmt.Printf("Continuing without database persistence...\n")
			database = nil
		} else {
			defer database.Close()
			if cfg.Verbose {
				fmt.Printf("[VERBOSE] Connected to database\n")
			}
		}
	}

	fmt.Printf("Step 1/7: Loading corpora...\n")
	data, err := corpus.Load(corpus.Paths{
		Train:      cfg.TrainPath,
		Validation: cfg.ValidationPath,
		Test:       cfg.TestPath,
	})
	if err != nil {
		return nil, fmt.Errorf("loading corpora failed: %w", err)
	}

	fmt.Printf("Step 2/7: Fitting tokenizer on training split...\n")
	tok, err := backbone.NewBPETokenizer(cfg.Encoding, append(corpus.Dialogues(data.Train), corpus.Notes(data.Train)...))
	if err != nil {
		return nil, fmt.Errorf("building tokenizer failed: %w", err)
	}

	fmt.Printf("Step 3/7: Profiling training split lengths...\n")
	thresholds, err := profiler.Profile(tok, data.Train, cfg.Percentile)
	if err != nil {
		return nil, fmt.Errorf("profiling failed: %w", err)
	}
	// Explicit lengths from the configuration override the profiled ones.
	if cfg.MaxInputLength > 0 {
		thresholds.MaxInputLength = cfg.MaxInputLength
	}
	if cfg.MaxTargetLength > 0 {
		thresholds.MaxTargetLength = cfg.MaxTargetLength
	}
	if cfg.Verbose {
		printer.PrintThresholds(thresholds)
	}

	fmt.Printf("Step 4/7: Encoding splits...\n")
	enc, err := encoder.New(tok, thresholds, cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("building encoder failed: %w", err)
	}
	train, err := enc.EncodeSplit(ctx, data.Train)
	if err != nil {
		return nil, fmt.Errorf("encoding train split failed: %w", err)
	}
	validation, err := enc.EncodeSplit(ctx, data.Validation)
	if err != nil {
		return nil, fmt.Errorf("encoding validation split failed: %w", err)
	}
	test, err := enc.EncodeSplit(ctx, data.Test)
	if err != nil {
		return nil, fmt.Errorf("encoding test split failed: %w", err)
	}
	if cfg.Verbose {
		printer.PrintSplitSummary(len(train), len(validation), len(test), thresholds.MaxInputLength, thresholds.MaxTargetLength)
	}

	fmt.Printf("Step 5/7: Planning memory budget...\n")
	model, err := backbone.NewReferenceModel(backbone.ReferenceConfig{
		VocabSize: tok.VocabSize(),
		PadID:     tok.PadID(),
		EOSID:     tok.EOSID(),
		Seed:      cfg.Seed,
	})
	if err != nil {
		return nil, fmt.Errorf("building model failed: %w", err)
	}
	plan, err := buildPlan(cfg, model.ParameterCount(), thresholds)
	if err != nil {
		return nil, fmt.Errorf("memory planning failed: %w", err)
	}
	printer.PrintPlan(plan)

	// Save run metadata if database is connected
	if database != nil {
		planJSON, _ := json.Marshal(plan)
		runID, err = database.CreateRun(ctx, cfg.TrainPath, modelName, planJSON)
		if err != nil {
			fmt.Printf("Warning: Failed to create database run: %v\n", err)
		} else if cfg.Verbose {
			fmt.Printf("[VERBOSE] Created database run: %s\n", runID)
		}
	}
	if runID == uuid.Nil {
		runID = uuid.New()
	}

	fmt.Printf("Step 6/7: Training for %d epochs...\n", cfg.Epochs)
	store, err := checkpoint.NewStore(cfg.CheckpointDir)
	if err != nil {
		return nil, fmt.Errorf("opening checkpoint store failed: %w", err)
	}
	eval, err := evaluator.New(model, tok, metrics.NewScorer(), evaluator.Options{
		NumBeams:  cfg.NumBeams,
		MaxLength: thresholds.MaxTargetLength,
	})
	if err != nil {
		return nil, fmt.Errorf("building evaluator failed: %w", err)
	}

	hooks := training.Hooks{
		OnStep: func(step int, meanLoss float64) {
			if cfg.Verbose {
				fmt.Printf("[VERBOSE] step %d: loss %.4f\n", step, meanLoss)
			}
		},
		OnEval: func(step int, report metrics.Report) {
			printer.PrintScoreReport(fmt.Sprintf("VALIDATION @ STEP %d", step), report)
			if database != nil {
				_ = database.SaveScoreReport(ctx, runID, step, corpus.SplitValidation, report)
			}
		},
		OnCheckpoint: func(step int, dir string) {
			fmt.Printf("Saved checkpoint: %s\n", dir)
			if database != nil {
				_ = database.SaveCheckpoint(ctx, runID, step, dir)
			}
		},
	}

	trainer, err := training.New(model, plan, training.Config{
		Epochs:            cfg.Epochs,
		LearningRate:      cfg.LearningRate,
		WeightDecay:       cfg.WeightDecay,
		EvalIntervalSteps: cfg.EvalIntervalSteps,
		SaveIntervalSteps: cfg.SaveIntervalSteps,
		Seed:              cfg.Seed,
	}, train, validation, eval, store, runID.String(), hooks)
	if err != nil {
		return nil, fmt.Errorf("building trainer failed: %w", err)
	}

	if opts.ResumeDir != "" {
		manifest, err := checkpoint.Load(opts.ResumeDir, model)
		if err != nil {
			return nil, fmt.Errorf("resuming from %s failed: %w", opts.ResumeDir, err)
		}
		trainer.Resume(manifest)
		fmt.Printf("Resumed from checkpoint at step %d (epoch %d)\n", manifest.Step, manifest.Epoch)
	}

	if err := trainer.Run(ctx); err != nil {
		if database != nil {
			_ = database.CompleteRun(ctx, runID, db.StatusFailed)
		}
		return nil, fmt.Errorf("training failed: %w", err)
	}

	// Final snapshot so evaluate can run standalone even when the step count
	// never hit a save interval.
	finalDir, err := store.Save(model, checkpoint.Manifest{
		RunID:           runID.String(),
		Step:            trainer.Step(),
		Epoch:           cfg.Epochs,
		Precision:       plan.Precision,
		MaxInputLength:  thresholds.MaxInputLength,
		MaxTargetLength: thresholds.MaxTargetLength,
	})
	if err != nil {
		return nil, fmt.Errorf("final checkpoint failed: %w", err)
	}
	fmt.Printf("Saved final checkpoint: %s\n", finalDir)

	fmt.Printf("Step 7/7: Scoring test split...\n")
	report, err := eval.Evaluate(ctx, test)
	if err != nil {
		if database != nil {
			_ = database.CompleteRun(ctx, runID, db.StatusFailed)
		}
		return nil, fmt.Errorf("test evaluation failed: %w", err)
	}
	printer.PrintScoreReport("TEST", report)
	if database != nil {
		_ = database.SaveScoreReport(ctx, runID, trainer.Step(), corpus.SplitTest, report)
		_ = database.CompleteRun(ctx, runID, db.StatusCompleted)
	}

	return &Result{RunID: runID, FinalStep: trainer.Step(), TestReport: report}, nil
}

// buildPlan derives the memory plan, honoring explicit configuration
// overrides for micro-batch, accumulation, precision, and checkpointing.
func buildPlan(cfg config.Config, paramCount int64, thresholds profiler.Thresholds) (memplan.Plan, error) {
	if cfg.MicroBatchSize > 0 && cfg.AccumulationSteps > 0 {
		plan := memplan.Plan{
			MicroBatchSize:        cfg.MicroBatchSize,
			AccumulationSteps:     cfg.AccumulationSteps,
			Precision:             memplan.PrecisionFull,
			CheckpointActivations: cfg.CheckpointingEnabled == config.CheckpointingOn,
		}
		if cfg.PrecisionMode == config.PrecisionReduced {
			plan.Precision = memplan.PrecisionReduced
		}
		return plan, nil
	}

	plan, err := memplan.NewPlan(memplan.Input{
		BudgetBytes:        cfg.MemoryBudgetBytes,
		ParameterCount:     paramCount,
		MaxInputLength:     thresholds.MaxInputLength,
		MaxTargetLength:    thresholds.MaxTargetLength,
		EffectiveBatchSize: cfg.EffectiveBatchSize,
	})
	if err != nil {
		return memplan.Plan{}, err
	}
	switch cfg.PrecisionMode {
	case config.PrecisionFull:
		plan.Precision = memplan.PrecisionFull
	case config.PrecisionReduced:
		plan.Precision = memplan.PrecisionReduced
	}
	switch cfg.CheckpointingEnabled {
	case config.CheckpointingOn:
		plan.CheckpointActivations = true
	case config.CheckpointingOff:
		plan.CheckpointActivations = false
	}
	return plan, nil
}
