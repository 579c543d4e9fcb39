package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/soapnote-pipeline/internal/backbone"
	"github.com/jonathan/soapnote-pipeline/internal/corpus"
	"github.com/jonathan/soapnote-pipeline/internal/observability"
	"github.com/jonathan/soapnote-pipeline/internal/profiler"
)

var profileCommand = &cobra.Command{
	Use:   "profile",
	Short: "Compute length thresholds from a training split",
	Long:  "Tokenizes the training split and reports the truncation/padding thresholds covering the configured percentile of examples, plus median lengths.",
	RunE:  runProfileCmd,
}

var (
	profileTrainPath  string
	profileEncoding   string
	profilePercentile float64
	profileJSON       bool
)

func init() {
	profileCommand.Flags().StringVar(&profileTrainPath, "train", "", "Path to the training split CSV (required)")
	profileCommand.Flags().StringVar(&profileEncoding, "encoding", "cl100k_base", "tiktoken encoding name")
	profileCommand.Flags().Float64Var(&profilePercentile, "percentile", profiler.DefaultPercentile, "Coverage percentile for the thresholds")
	profileCommand.Flags().BoolVar(&profileJSON, "json", false, "Emit thresholds as JSON")

	_ = profileCommand.MarkFlagRequired("train")

	rootCmd.AddCommand(profileCommand)
}

func runProfileCmd(_ *cobra.Command, _ []string) error {
	train, err := corpus.LoadSplit(profileTrainPath)
	if err != nil {
		return err
	}

	tok, err := backbone.NewBPETokenizer(profileEncoding, append(corpus.Dialogues(train), corpus.Notes(train)...))
	if err != nil {
		return err
	}

	thresholds, err := profiler.Profile(tok, train, profilePercentile)
	if err != nil {
		return err
	}

	if profileJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(thresholds)
	}
	observability.NewPrinter(os.Stdout).PrintThresholds(thresholds)
	fmt.Printf("Profiled %d training examples with vocabulary size %d.\n", len(train), tok.VocabSize())
	return nil
}
