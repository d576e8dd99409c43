package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var askStockCode string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Answer a question from the indexed company data",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askStockCode, "stock-code", "s", "", "restrict retrieval to one company")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	svc, err := service(ctx)
	if err != nil {
		return err
	}
	answer, err := svc.Answer(ctx, args[0], askStockCode)
	if err != nil {
		return err
	}

	if jsonOut {
		data, err := json.MarshalIndent(answer, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal answer: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(answer.Answer)
	if len(answer.Sources) > 0 {
		cmd.Println()
		cmd.Println("Sources:")
		for i, src := range answer.Sources {
			cmd.Printf("  [%d] %s %s\n", i+1, src.Metadata.EntityID, src.Metadata.ChunkType)
		}
	}
	return nil
}
