package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/soapnote-pipeline/internal/db"
)

var runsCommand = &cobra.Command{
	Use:   "runs",
	Short: "List recorded training runs",
	Long:  "Lists training runs recorded in the database, newest first. Requires a database URL via --db-url or the DATABASE_URL env var.",
	RunE:  runRunsCmd,
}

var (
	runsDatabaseURL string
	runsLimit       int
)

func init() {
	runsCommand.Flags().StringVar(&runsDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")
	runsCommand.Flags().IntVar(&runsLimit, "limit", 20, "Maximum number of runs to list")

	rootCmd.AddCommand(runsCommand)
}

func runRunsCmd(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	url := runsDatabaseURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		return fmt.Errorf("no database URL: set --db-url or DATABASE_URL")
	}

	database, err := db.Connect(ctx, url)
	if err != nil {
		return err
	}
	defer database.Close()

	runs, err := database.ListRuns(ctx, runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No training runs recorded.")
		return nil
	}

	fmt.Printf("%-36s  %-10s  %-20s  %s\n", "RUN ID", "STATUS", "MODEL", "DATASET")
	for _, run := range runs {
		fmt.Printf("%-36s  %-10s  %-20s  %s\n", run.ID, run.Status, run.ModelName, run.Dataset)
	}
	return nil
}
