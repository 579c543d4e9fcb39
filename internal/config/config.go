// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

// Activation checkpointing modes. Auto leaves the decision to the memory
// planner.
const (
	CheckpointingAuto = "auto"
	CheckpointingOn   = "on"
	CheckpointingOff  = "off"
)

// Precision modes. Auto leaves the decision to the memory planner.
const (
	PrecisionAuto    = "auto"
	PrecisionFull    = "full"
	PrecisionReduced = "reduced"
)

// Config is the full recognized option surface. It is immutable once
// validated: the pipeline, trainer, and evaluator all receive it by value at
// construction time.
type Config struct {
	// Dataset paths
	TrainPath      string `json:"train_path,omitempty"`
	ValidationPath string `json:"validation_path,omitempty"`
	TestPath       string `json:"test_path,omitempty"`

	// Artifacts
	CheckpointDir string `json:"checkpoint_dir,omitempty"`
	DatabaseURL   string `json:"database_url,omitempty"`

	// Tokenization and length policy. Zero lengths mean "derive from the
	// training split" via the corpus profiler.
	Encoding        string  `json:"encoding,omitempty"`
	MaxInputLength  int     `json:"max_input_length,omitempty" validate:"min=0"`
	MaxTargetLength int     `json:"max_target_length,omitempty" validate:"min=0"`
	Percentile      float64 `json:"percentile,omitempty" validate:"min=0,max=1"`

	// Memory plan. Zero micro-batch/accumulation means "derive from the
	// planner"; when both are set their product must equal the effective
	// batch size.
	MemoryBudgetBytes    int64  `json:"memory_budget_bytes,omitempty" validate:"min=0"`
	EffectiveBatchSize   int    `json:"effective_batch_size,omitempty" validate:"min=0"`
	MicroBatchSize       int    `json:"micro_batch_size,omitempty" validate:"min=0"`
	AccumulationSteps    int    `json:"accumulation_steps,omitempty" validate:"min=0"`
	PrecisionMode        string `json:"precision_mode,omitempty" validate:"omitempty,oneof=auto full reduced"`
	CheckpointingEnabled string `json:"checkpointing_enabled,omitempty" validate:"omitempty,oneof=auto on off"`

	// Optimization
	Epochs            int     `json:"epochs,omitempty" validate:"min=0"`
	LearningRate      float64 `json:"learning_rate,omitempty" validate:"min=0"`
	WeightDecay       float64 `json:"weight_decay,omitempty" validate:"min=0"`
	EvalIntervalSteps int     `json:"eval_interval_steps,omitempty" validate:"min=0"`
	SaveIntervalSteps int     `json:"save_interval_steps,omitempty" validate:"min=0"`
	Seed              int64   `json:"seed,omitempty"`

	// Evaluation
	NumBeams int `json:"num_beams,omitempty" validate:"min=0"`

	// Behavior
	Workers int  `json:"workers,omitempty" validate:"min=0"`
	Verbose bool `json:"verbose,omitempty"`
}

// Defaults returns the derived/profiled policy defaults.
func Defaults() Config {
	return Config{
		Encoding:             "cl100k_base",
		Percentile:           0.99,
		MemoryBudgetBytes:    8 << 30,
		EffectiveBatchSize:   8,
		PrecisionMode:        PrecisionAuto,
		CheckpointingEnabled: CheckpointingAuto,
		Epochs:               3,
		LearningRate:         5e-5,
		WeightDecay:          0.01,
		EvalIntervalSteps:    200,
		SaveIntervalSteps:    200,
		Seed:                 1,
		NumBeams:             4,
		CheckpointDir:        "checkpoints",
	}
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks field constraints and cross-field consistency.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if c.MicroBatchSize > 0 && c.AccumulationSteps > 0 && c.EffectiveBatchSize > 0 {
		if c.MicroBatchSize*c.AccumulationSteps != c.EffectiveBatchSize {
			return fmt.Errorf("config error: micro_batch_size (%d) * accumulation_steps (%d) must equal effective_batch_size (%d)", c.MicroBatchSize, c.AccumulationSteps, c.EffectiveBatchSize)
		}
	}
	if (c.MicroBatchSize > 0) != (c.AccumulationSteps > 0) {
		return fmt.Errorf("config error: micro_batch_size and accumulation_steps must be set together or both left to the planner")
	}

	for _, p := range []struct{ name, path string }{
		{"train_path", c.TrainPath},
		{"validation_path", c.ValidationPath},
		{"test_path", c.TestPath},
	} {
		if p.path == "" {
			continue
		}
		if _, err := os.Stat(p.path); os.IsNotExist(err) {
			return fmt.Errorf("config error: %s file not found: %s", p.name, p.path)
		}
	}

	return nil
}

// MergeWithDefaults returns a new Config with unset fields filled from
// defaults. This is used to apply config file values as defaults for CLI
// flags.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	if result.TrainPath == "" {
		result.TrainPath = defaults.TrainPath
	}
	if result.ValidationPath == "" {
		result.ValidationPath = defaults.ValidationPath
	}
	if result.TestPath == "" {
		result.TestPath = defaults.TestPath
	}
	if result.CheckpointDir == "" {
		result.CheckpointDir = defaults.CheckpointDir
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}
	if result.Encoding == "" {
		result.Encoding = defaults.Encoding
	}
	if result.Percentile == 0 {
		result.Percentile = defaults.Percentile
	}
	if result.MemoryBudgetBytes == 0 {
		result.MemoryBudgetBytes = defaults.MemoryBudgetBytes
	}
	if result.EffectiveBatchSize == 0 {
		result.EffectiveBatchSize = defaults.EffectiveBatchSize
	}
	if result.PrecisionMode == "" {
		result.PrecisionMode = defaults.PrecisionMode
	}
	if result.CheckpointingEnabled == "" {
		result.CheckpointingEnabled = defaults.CheckpointingEnabled
	}
	if result.Epochs == 0 {
		result.Epochs = defaults.Epochs
	}
	if result.LearningRate == 0 {
		result.LearningRate = defaults.LearningRate
	}
	if result.WeightDecay == 0 {
		result.WeightDecay = defaults.WeightDecay
	}
	if result.EvalIntervalSteps == 0 {
		result.EvalIntervalSteps = defaults.EvalIntervalSteps
	}
	if result.SaveIntervalSteps == 0 {
		result.SaveIntervalSteps = defaults.SaveIntervalSteps
	}
	if result.Seed == 0 {
		result.Seed = defaults.Seed
	}
	if result.NumBeams == 0 {
		result.NumBeams = defaults.NumBeams
	}
	if result.MaxInputLength == 0 {
		result.MaxInputLength = defaults.MaxInputLength
	}
	if result.MaxTargetLength == 0 {
		result.MaxTargetLength = defaults.MaxTargetLength
	}
	if result.Workers == 0 {
		result.Workers = defaults.Workers
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}
