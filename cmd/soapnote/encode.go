package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/soapnote-pipeline/internal/backbone"
	"github.com/jonathan/soapnote-pipeline/internal/corpus"
	"github.com/jonathan/soapnote-pipeline/internal/encoder"
	"github.com/jonathan/soapnote-pipeline/internal/observability"
	"github.com/jonathan/soapnote-pipeline/internal/profiler"
)

var encodeCommand = &cobra.Command{
	Use:   "encode",
	Short: "Profile and encode all splits, reporting sizes and shapes",
	Long:  "Fits the tokenizer, profiles the training split, encodes every split to fixed-shape sequences, and reports the resulting sizes. Useful as a dry run before training.",
	RunE:  runEncodeCmd,
}

var (
	encodeTrainPath      string
	encodeValidationPath string
	encodeTestPath       string
	encodeEncoding       string
	encodePercentile     float64
)

func init() {
	encodeCommand.Flags().StringVar(&encodeTrainPath, "train", "", "Path to the training split CSV (required)")
	encodeCommand.Flags().StringVar(&encodeValidationPath, "validation", "", "Path to the validation split CSV (required)")
	encodeCommand.Flags().StringVar(&encodeTestPath, "test", "", "Path to the test split CSV (required)")
	encodeCommand.Flags().StringVar(&encodeEncoding, "encoding", "cl100k_base", "tiktoken encoding name")
	encodeCommand.Flags().Float64Var(&encodePercentile, "percentile", profiler.DefaultPercentile, "Coverage percentile for the thresholds")

	_ = encodeCommand.MarkFlagRequired("train")
	_ = encodeCommand.MarkFlagRequired("validation")
	_ = encodeCommand.MarkFlagRequired("test")

	rootCmd.AddCommand(encodeCommand)
}

func runEncodeCmd(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	data, err := corpus.Load(corpus.Paths{
		Train:      encodeTrainPath,
		Validation: encodeValidationPath,
		Test:       encodeTestPath,
	})
	if err != nil {
		return err
	}

	tok, err := backbone.NewBPETokenizer(encodeEncoding, append(corpus.Dialogues(data.Train), corpus.Notes(data.Train)...))
	if err != nil {
		return err
	}
	thresholds, err := profiler.Profile(tok, data.Train, encodePercentile)
	if err != nil {
		return err
	}

	enc, err := encoder.New(tok, thresholds, 0)
	if err != nil {
		return err
	}
	train, err := enc.EncodeSplit(ctx, data.Train)
	if err != nil {
		return err
	}
	validation, err := enc.EncodeSplit(ctx, data.Validation)
	if err != nil {
		return err
	}
	test, err := enc.EncodeSplit(ctx, data.Test)
	if err != nil {
		return err
	}

	printer := observability.NewPrinter(os.Stdout)
	printer.PrintThresholds(thresholds)
	printer.PrintSplitSummary(len(train), len(validation), len(test), thresholds.MaxInputLength, thresholds.MaxTargetLength)
	fmt.Printf("Encoded all splits with vocabulary size %d.\n", tok.VocabSize())
	return nil
}
