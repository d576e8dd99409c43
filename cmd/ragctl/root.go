package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/spf13/cobra"

	"stockqa/internal/app"
	"stockqa/internal/bootstrap"
	"stockqa/internal/rag"
)

// ragService is the slice of the application the commands drive.
type ragService interface {
	IndexMany(ctx context.Context, stockCodes []string) []app.IndexItemResult
	ReindexAll(ctx context.Context) ([]app.IndexItemResult, error)
	DeleteIndex(ctx context.Context, stockCode string) error
	Count(ctx context.Context) (int64, error)
	Answer(ctx context.Context, question, stockCode string) (*rag.Answer, error)
}

var (
	// ragSvc is built on first use unless a test has set it. ragCloser
	// owns the connections behind it.
	ragSvc    ragService
	ragCloser io.Closer
	jsonOut   bool
)

var rootCmd = &cobra.Command{
	Use:          "ragctl",
	Short:        "Manage the company Q&A index",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output as JSON")
	// Finalizers run after every command, including failed ones.
	cobra.OnFinalize(closeService)
}

func closeService() {
	if ragCloser == nil {
		return
	}
	if err := ragCloser.Close(); err != nil {
		log.Printf("close application failed: %v", err)
	}
	ragCloser, ragSvc = nil, nil
}

func service(ctx context.Context) (ragService, error) {
	if ragSvc != nil {
		return ragSvc, nil
	}
	a, err := bootstrap.New(ctx, bootstrap.Options{})
	if err != nil {
		return nil, fmt.Errorf("bootstrap failed: %w", err)
	}
	ragCloser, ragSvc = a, a.RAG
	return ragSvc, nil
}
