package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/soapnote-pipeline/internal/config"
	"github.com/jonathan/soapnote-pipeline/internal/pipeline"
)

var trainCommand = &cobra.Command{
	Use:   "train",
	Short: "Run the full fine-tuning pipeline end-to-end",
	Long: `Orchestrates the entire fine-tuning process: corpus loading -> tokenizer fitting -> length profiling -> encoding -> memory planning -> training with periodic evaluation and checkpointing -> test scoring.

Configuration can be loaded from a JSON file using --config. Command-line arguments override config file values.`,
	RunE: runTrainCmd,
}

var (
	trainConfigPath     string
	trainTrainPath      string
	trainValidationPath string
	trainTestPath       string
	trainCheckpointDir  string
	trainDatabaseURL    string
	trainEpochs         int
	trainLearningRate   float64
	trainWeightDecay    float64
	trainBudgetBytes    int64
	trainEffectiveBatch int
	trainMicroBatch     int
	trainAccumulation   int
	trainPrecision      string
	trainCheckpointing  string
	trainEvalInterval   int
	trainSaveInterval   int
	trainNumBeams       int
	trainSeed           int64
	trainResume         string
	trainVerbose        bool
)

func init() {
	trainCommand.Flags().StringVar(&trainConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")

	trainCommand.Flags().StringVar(&trainTrainPath, "train", "", "Path to the training split CSV")
	trainCommand.Flags().StringVar(&trainValidationPath, "validation", "", "Path to the validation split CSV")
	trainCommand.Flags().StringVar(&trainTestPath, "test", "", "Path to the test split CSV")
	trainCommand.Flags().StringVar(&trainCheckpointDir, "checkpoint-dir", "", "Directory for checkpoint snapshots")
	trainCommand.Flags().IntVar(&trainEpochs, "epochs", 0, "Number of training epochs")
	trainCommand.Flags().Float64Var(&trainLearningRate, "learning-rate", 0, "Optimizer learning rate")
	trainCommand.Flags().Float64Var(&trainWeightDecay, "weight-decay", 0, "Optimizer weight decay")
	trainCommand.Flags().Int64Var(&trainBudgetBytes, "memory-budget", 0, "Accelerator memory budget in bytes")
	trainCommand.Flags().IntVar(&trainEffectiveBatch, "effective-batch-size", 0, "Target effective batch size")
	trainCommand.Flags().IntVar(&trainMicroBatch, "micro-batch-size", 0, "Explicit micro-batch size (must be set with --accumulation-steps)")
	trainCommand.Flags().IntVar(&trainAccumulation, "accumulation-steps", 0, "Explicit gradient accumulation steps")
	trainCommand.Flags().StringVar(&trainPrecision, "precision", "", "Precision mode: auto, full, or reduced")
	trainCommand.Flags().StringVar(&trainCheckpointing, "activation-checkpointing", "", "Activation checkpointing: auto, on, or off")
	trainCommand.Flags().IntVar(&trainEvalInterval, "eval-interval", 0, "Optimizer steps between validation passes")
	trainCommand.Flags().IntVar(&trainSaveInterval, "save-interval", 0, "Optimizer steps between checkpoint saves")
	trainCommand.Flags().IntVar(&trainNumBeams, "num-beams", 0, "Beam width for evaluation decoding")
	trainCommand.Flags().Int64Var(&trainSeed, "seed", 0, "Random seed for shuffling and initialization")
	trainCommand.Flags().StringVar(&trainResume, "resume", "", "Checkpoint directory to resume from")
	trainCommand.Flags().BoolVarP(&trainVerbose, "verbose", "v", false, "Print detailed debug information")

	// Database URL for run persistence
	trainCommand.Flags().StringVar(&trainDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")

	rootCmd.AddCommand(trainCommand)
}

func runTrainCmd(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadMergedConfig(cmd, trainConfigPath, trainVerbose)
	if err != nil {
		return err
	}

	if cfg.TrainPath == "" || cfg.ValidationPath == "" || cfg.TestPath == "" {
		return fmt.Errorf("train, validation, and test paths are all required (via flags or --config)")
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	result, err := pipeline.RunPipeline(ctx, pipeline.RunOptions{Config: cfg, ResumeDir: trainResume})
	if err != nil {
		return err
	}
	fmt.Printf("Done! Run %s finished at step %d.\n", result.RunID, result.FinalStep)
	return nil
}

// loadMergedConfig loads the optional config file, applies CLI overrides for
// flags that were explicitly set, and fills remaining gaps with defaults.
func loadMergedConfig(cmd *cobra.Command, configPath string, verbose bool) (config.Config, error) {
	var cfg config.Config
	if configPath != "" {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = *loaded
		if verbose {
			_, _ = fmt.Fprintf(os.Stdout, "Loaded config from: %s\n", configPath)
		}
	}

	// Only override if the flag was explicitly set
	if cmd.Flags().Changed("train") {
		cfg.TrainPath = trainTrainPath
	}
	if cmd.Flags().Changed("validation") {
		cfg.ValidationPath = trainValidationPath
	}
	if cmd.Flags().Changed("test") {
		cfg.TestPath = trainTestPath
	}
	if cmd.Flags().Changed("checkpoint-dir") {
		cfg.CheckpointDir = trainCheckpointDir
	}
	if cmd.Flags().Changed("epochs") {
		cfg.Epochs = trainEpochs
	}
	if cmd.Flags().Changed("learning-rate") {
		cfg.LearningRate = trainLearningRate
	}
	if cmd.Flags().Changed("weight-decay") {
		cfg.WeightDecay = trainWeightDecay
	}
	if cmd.Flags().Changed("memory-budget") {
		cfg.MemoryBudgetBytes = trainBudgetBytes
	}
	if cmd.Flags().Changed("effective-batch-size") {
		cfg.EffectiveBatchSize = trainEffectiveBatch
	}
	if cmd.Flags().Changed("micro-batch-size") {
		cfg.MicroBatchSize = trainMicroBatch
	}
	if cmd.Flags().Changed("accumulation-steps") {
		cfg.AccumulationSteps = trainAccumulation
	}
	if cmd.Flags().Changed("precision") {
		cfg.PrecisionMode = trainPrecision
	}
	if cmd.Flags().Changed("activation-checkpointing") {
		cfg.CheckpointingEnabled = trainCheckpointing
	}
	if cmd.Flags().Changed("eval-interval") {
		cfg.EvalIntervalSteps = trainEvalInterval
	}
	if cmd.Flags().Changed("save-interval") {
		cfg.SaveIntervalSteps = trainSaveInterval
	}
	if cmd.Flags().Changed("num-beams") {
		cfg.NumBeams = trainNumBeams
	}
	if cmd.Flags().Changed("seed") {
		cfg.Seed = trainSeed
	}
	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = trainDatabaseURL
	}
	cfg.Verbose = verbose

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	return cfg.MergeWithDefaults(config.Defaults()), nil
}
