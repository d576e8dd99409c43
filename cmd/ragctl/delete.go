package main

import (
	"context"

	"github.com/spf13/cobra"
)

var deleteCmd = &cobra.Command{
	Use:   "delete [stock_code]",
	Short: "Remove a company from the index",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Print the number of indexed chunks",
	Args:  cobra.NoArgs,
	RunE:  runCount,
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(countCmd)
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	svc, err := service(ctx)
	if err != nil {
		return err
	}
	if err := svc.DeleteIndex(ctx, args[0]); err != nil {
		return err
	}
	cmd.Printf("deleted %s\n", args[0])
	return nil
}

func runCount(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	svc, err := service(ctx)
	if err != nil {
		return err
	}
	n, err := svc.Count(ctx)
	if err != nil {
		return err
	}
	cmd.Println(n)
	return nil
}
