package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"stockqa/internal/app"
)

var indexCmd = &cobra.Command{
	Use:   "index [stock_code...]",
	Short: "Rebuild the index entries of the given companies",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIndex,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the index entries of every company",
	Args:  cobra.NoArgs,
	RunE:  runReindex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(reindexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	svc, err := service(ctx)
	if err != nil {
		return err
	}
	return printIndexResults(cmd, svc.IndexMany(ctx, args))
}

func runReindex(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	svc, err := service(ctx)
	if err != nil {
		return err
	}
	results, err := svc.ReindexAll(ctx)
	if err != nil {
		return err
	}
	return printIndexResults(cmd, results)
}

// printIndexResults reports every item and fails when any item failed.
func printIndexResults(cmd *cobra.Command, results []app.IndexItemResult) error {
	var failed int
	for _, r := range results {
		if r.Status == app.IndexItemFailed {
			failed++
		}
	}

	if jsonOut {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		cmd.Println(string(data))
	} else {
		for _, r := range results {
			switch r.Status {
			case app.IndexItemIndexed:
				cmd.Printf("%s\tindexed\t%d chunks\n", r.StockCode, r.ChunksIndexed)
			default:
				cmd.Printf("%s\t%s\t%s\n", r.StockCode, r.Status, r.Reason)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d companies failed to index", failed, len(results))
	}
	return nil
}
