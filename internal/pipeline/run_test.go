package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/soapnote-pipeline/internal/backbone"
	"github.com/jonathan/soapnote-pipeline/internal/config"
	"github.com/jonathan/soapnote-pipeline/internal/memplan"
	"github.com/jonathan/soapnote-pipeline/internal/metrics"
	"github.com/jonathan/soapnote-pipeline/internal/profiler"
)

func TestBuildPlan_ExplicitOverridesSkipPlanner(t *testing.T) {
	cfg := config.Config{
		MicroBatchSize:       2,
		AccumulationSteps:    4,
		PrecisionMode:        config.PrecisionReduced,
		CheckpointingEnabled: config.CheckpointingOn,
	}

	plan, err := buildPlan(cfg, 1_000_000, profiler.Thresholds{MaxInputLength: 64, MaxTargetLength: 32})
	require.NoError(t, err)
	assert.Equal(t, 2, plan.MicroBatchSize)
	assert.Equal(t, 4, plan.AccumulationSteps)
	assert.Equal(t, memplan.PrecisionReduced, plan.Precision)
	assert.True(t, plan.CheckpointActivations)
}

func TestBuildPlan_DerivedFromBudget(t *testing.T) {
	cfg := config.Config{
		MemoryBudgetBytes:  1 << 30,
		EffectiveBatchSize: 8,
		PrecisionMode:      config.PrecisionAuto,
	}

	plan, err := buildPlan(cfg, 1_000_000, profiler.Thresholds{MaxInputLength: 64, MaxTargetLength: 32})
	require.NoError(t, err)
	assert.Equal(t, 8, plan.EffectiveBatchSize())
}

func TestBuildPlan_ModeOverridesForcePlannerChoice(t *testing.T) {
	cfg := config.Config{
		MemoryBudgetBytes:    1 << 30,
		EffectiveBatchSize:   8,
		PrecisionMode:        config.PrecisionReduced,
		CheckpointingEnabled: config.CheckpointingOn,
	}

	plan, err := buildPlan(cfg, 1_000_000, profiler.Thresholds{MaxInputLength: 64, MaxTargetLength: 32})
	require.NoError(t, err)
	assert.Equal(t, memplan.PrecisionReduced, plan.Precision)
	assert.True(t, plan.CheckpointActivations)
}

// writeSplit writes a tiny two-column CSV split.
func writeSplit(t *testing.T, dir, name string, rows int) string {
	t.Helper()
	content := "dialogue,note\n"
	dialogues := []string{
		"Doctor: How are you today? Patient: I have a sore throat.",
		"Doctor: Any fever? Patient: A mild one since yesterday.",
		"Doctor: Does it hurt to swallow? Patient: Yes, a little.",
		"Doctor: How is your sleep? Patient: Better this week.",
	}
	notes := []string{
		"S: Sore throat. A: Likely viral. P: Rest and fluids.",
		"S: Mild fever since yesterday. P: Monitor temperature.",
		"S: Painful swallowing. P: Salt water gargle.",
		"S: Sleep improved. P: Continue current routine.",
	}
	for i := 0; i < rows; i++ {
		content += "\"" + dialogues[i%len(dialogues)] + "\",\"" + notes[i%len(notes)] + "\"\n"
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunPipeline_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping end-to-end pipeline test in short mode")
	}
	if _, err := backbone.NewBPETokenizer("cl100k_base", []string{"probe"}); err != nil {
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}

	dir := t.TempDir()
	cfg := config.Config{
		TrainPath:         writeSplit(t, dir, "train.csv", 4),
		ValidationPath:    writeSplit(t, dir, "validation.csv", 2),
		TestPath:          writeSplit(t, dir, "test.csv", 2),
		CheckpointDir:     filepath.Join(dir, "checkpoints"),
		Encoding:          "cl100k_base",
		Percentile:        1.0,
		MicroBatchSize:    2,
		AccumulationSteps: 2,
		Epochs:            1,
		LearningRate:      0.01,
		WeightDecay:       0.01,
		Seed:              1,
		NumBeams:          2,
	}

	result, err := RunPipeline(context.Background(), RunOptions{Config: cfg})
	require.NoError(t, err)

	// One epoch of 4 examples with micro-batch 2 and accumulation 2.
	assert.Equal(t, 1, result.FinalStep)
	require.Len(t, result.TestReport, len(metrics.MetricNames))
	for _, name := range metrics.MetricNames {
		assert.GreaterOrEqual(t, result.TestReport[name], 0.0, "metric %s", name)
		assert.LessOrEqual(t, result.TestReport[name], 100.0, "metric %s", name)
	}

	// The final snapshot exists and is resumable.
	entries, err := os.ReadDir(cfg.CheckpointDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	resumed, err := RunPipeline(context.Background(), RunOptions{
		Config:    cfg,
		ResumeDir: filepath.Join(cfg.CheckpointDir, entries[len(entries)-1].Name()),
	})
	require.NoError(t, err)
	// The snapshot already covers every configured epoch, so resuming adds
	// no optimizer steps.
	assert.Equal(t, result.FinalStep, resumed.FinalStep)
}
