package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/soapnote-pipeline/internal/memplan"
	"github.com/jonathan/soapnote-pipeline/internal/metrics"
	"github.com/jonathan/soapnote-pipeline/internal/profiler"
)

func TestPrintThresholds(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintThresholds(profiler.Thresholds{
		MaxInputLength:     512,
		MaxTargetLength:    128,
		MedianInputLength:  200,
		MedianTargetLength: 60,
		Percentile:         0.99,
	})

	out := buf.String()
	assert.Contains(t, out, "LENGTH THRESHOLDS")
	assert.Contains(t, out, "512")
	assert.Contains(t, out, "128")
	assert.Contains(t, out, "0.99")
}

func TestPrintPlan_IncludesWarnings(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintPlan(memplan.Plan{
		MicroBatchSize:        1,
		AccumulationSteps:     4,
		Precision:             memplan.PrecisionReduced,
		CheckpointActivations: true,
		Warnings:              []string{"effective batch size reduced from 8 to 4"},
	})

	out := buf.String()
	assert.Contains(t, out, "MEMORY PLAN")
	assert.Contains(t, out, "reduced")
	assert.Contains(t, out, "effective batch size reduced from 8 to 4")
}

func TestPrintScoreReport_StableOrder(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintScoreReport("TEST", metrics.Report{
		"rougeL": 33.70,
		"rouge1": 41.25,
		"rouge2": 19.11,
	})

	out := buf.String()
	assert.Contains(t, out, "TEST")
	assert.Less(t, strings.Index(out, "rouge1"), strings.Index(out, "rouge2"))
	assert.Less(t, strings.Index(out, "rouge2"), strings.Index(out, "rougeL"))
	assert.Contains(t, out, "41.25")
}

func TestPrintSplitSummary(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintSplitSummary(1000, 100, 100, 512, 128)

	out := buf.String()
	assert.Contains(t, out, "ENCODED SPLITS")
	assert.Contains(t, out, "1000")
	assert.Contains(t, out, "[512]")
}
