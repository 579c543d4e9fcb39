// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jonathan/soapnote-pipeline/internal/memplan"
	"github.com/jonathan/soapnote-pipeline/internal/metrics"
	"github.com/jonathan/soapnote-pipeline/internal/profiler"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintThresholds outputs the corpus-derived length thresholds.
func (p *Printer) PrintThresholds(th profiler.Thresholds) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Max input length:   %d\n", th.MaxInputLength))
	sb.WriteString(fmt.Sprintf("Max target length:  %d\n", th.MaxTargetLength))
	sb.WriteString(fmt.Sprintf("Median input:       %d\n", th.MedianInputLength))
	sb.WriteString(fmt.Sprintf("Median target:      %d\n", th.MedianTargetLength))
	sb.WriteString(fmt.Sprintf("Percentile:         %.2f", th.Percentile))
	p.printBox("LENGTH THRESHOLDS", sb.String())
}

// PrintPlan outputs the derived memory plan, including any warnings about a
// reduced effective batch size.
func (p *Printer) PrintPlan(plan memplan.Plan) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Micro-batch size:   %d\n", plan.MicroBatchSize))
	sb.WriteString(fmt.Sprintf("Accumulation steps: %d\n", plan.AccumulationSteps))
	sb.WriteString(fmt.Sprintf("Effective batch:    %d\n", plan.EffectiveBatchSize()))
	sb.WriteString(fmt.Sprintf("Precision:          %s\n", plan.Precision))
	sb.WriteString(fmt.Sprintf("Checkpointing:      %t", plan.CheckpointActivations))
	p.printBox("MEMORY PLAN", sb.String())

	for _, w := range plan.Warnings {
		fmt.Fprintf(p.out, "⚠️  %s\n", w)
	}
}

// PrintScoreReport outputs a score report with metrics in stable order.
func (p *Printer) PrintScoreReport(title string, report metrics.Report) {
	names := make([]string, 0, len(report))
	for name := range report {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for i, name := range names {
		sb.WriteString(fmt.Sprintf("%-12s %6.2f", name, report[name]))
		if i < len(names)-1 {
			sb.WriteString("\n")
		}
	}
	p.printBox(title, sb.String())
}

// PrintSplitSummary outputs encoded split sizes and shapes.
func (p *Printer) PrintSplitSummary(train, validation, test int, maxInput, maxTarget int) {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Train examples:      %d\n", train))
	sb.WriteString(fmt.Sprintf("Validation examples: %d\n", validation))
	sb.WriteString(fmt.Sprintf("Test examples:       %d\n", test))
	sb.WriteString(fmt.Sprintf("Input shape:         [%d]\n", maxInput))
	sb.WriteString(fmt.Sprintf("Label shape:         [%d]", maxTarget))
	p.printBox("ENCODED SPLITS", sb.String())
}
