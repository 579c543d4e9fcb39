package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/soapnote-pipeline/internal/memplan"
	"github.com/jonathan/soapnote-pipeline/internal/observability"
)

var planCommand = &cobra.Command{
	Use:   "plan",
	Short: "Derive a memory plan for a budget and sequence lengths",
	Long:  "Runs the batch memory planner standalone: given an accelerator budget, parameter count, and the fixed sequence lengths, prints the micro-batch size, accumulation steps, precision, and checkpointing decision.",
	RunE:  runPlanCmd,
}

var (
	planBudgetBytes    int64
	planParamCount     int64
	planMaxInput       int
	planMaxTarget      int
	planEffectiveBatch int
	planJSON           bool
)

func init() {
	planCommand.Flags().Int64Var(&planBudgetBytes, "memory-budget", 0, "Accelerator memory budget in bytes (required)")
	planCommand.Flags().Int64Var(&planParamCount, "params", 0, "Model parameter count (required)")
	planCommand.Flags().IntVar(&planMaxInput, "max-input-length", 0, "Fixed input length (required)")
	planCommand.Flags().IntVar(&planMaxTarget, "max-target-length", 0, "Fixed target length (required)")
	planCommand.Flags().IntVar(&planEffectiveBatch, "effective-batch-size", memplan.DefaultEffectiveBatchSize, "Target effective batch size")
	planCommand.Flags().BoolVar(&planJSON, "json", false, "Emit plan as JSON")

	_ = planCommand.MarkFlagRequired("memory-budget")
	_ = planCommand.MarkFlagRequired("params")
	_ = planCommand.MarkFlagRequired("max-input-length")
	_ = planCommand.MarkFlagRequired("max-target-length")

	rootCmd.AddCommand(planCommand)
}

func runPlanCmd(_ *cobra.Command, _ []string) error {
	plan, err := memplan.NewPlan(memplan.Input{
		BudgetBytes:        planBudgetBytes,
		ParameterCount:     planParamCount,
		MaxInputLength:     planMaxInput,
		MaxTargetLength:    planMaxTarget,
		EffectiveBatchSize: planEffectiveBatch,
	})
	if err != nil {
		return err
	}

	if planJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}
	observability.NewPrinter(os.Stdout).PrintPlan(plan)
	return nil
}
