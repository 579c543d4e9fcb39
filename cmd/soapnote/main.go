// Package main provides the entry point for the SOAP note fine-tuning CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "soapnote",
	Short: "Dialogue-to-SOAP-note fine-tuning pipeline",
	Long:  "soapnote fine-tunes a sequence-to-sequence backbone to turn doctor-patient dialogue transcripts into structured SOAP notes, producing checkpoints and overlap-metric score reports.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
