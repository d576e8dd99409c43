// Package rag holds the retrieval-augmented answering core: turning company
// facts into self-contained text chunks, keeping them in a similarity index,
// and composing the prompt a language model answers from.
package rag

import (
	"context"
	"fmt"
)

type ChunkType string

const (
	ChunkProfile         ChunkType = "profile"
	ChunkFinancialSeries ChunkType = "financial_series"
	ChunkFinancialRatios ChunkType = "financial_ratios"
)

func (t ChunkType) Valid() bool {
	switch t {
	case ChunkProfile, ChunkFinancialSeries, ChunkFinancialRatios:
		return true
	}
	return false
}

// Metadata is attached to every chunk. FiscalPeriod is set only on
// financial_ratios chunks.
type Metadata struct {
	EntityID     string    `json:"entity_id"`
	EntityName   string    `json:"entity_name"`
	ChunkType    ChunkType `json:"chunk_type"`
	FiscalPeriod *int      `json:"fiscal_period,omitempty"`
}

type Chunk struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// ChunkID derives the stable id of the chunk at ordinal position within one
// entity's chunk list. Re-indexing unchanged data reproduces the same ids.
func ChunkID(entityID string, chunkType ChunkType, ordinal int) string {
	return fmt.Sprintf("%s_%s_%d", entityID, chunkType, ordinal)
}

// Record is the persisted form of a chunk.
type Record struct {
	Chunk
	Embedding []float32
}

// Result is one retrieval hit. Distance is cosine distance: 0 means identical
// direction, larger means less similar. Distances are only comparable within
// one index built by one embedding model.
type Result struct {
	Chunk
	Distance float64
}

// Source is the part of a result returned to callers alongside an answer.
type Source struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
	Distance *float64 `json:"distance,omitempty"`
}

func SourcesFrom(results []Result) []Source {
	sources := make([]Source, len(results))
	for i, r := range results {
		d := r.Distance
		sources[i] = Source{Text: r.Text, Metadata: r.Metadata, Distance: &d}
	}
	return sources
}

// Entity is the snapshot of one company the chunk builder works from.
type Entity struct {
	ID          string
	Name        string
	Industry    string
	Description string
	Financials  []FinancialRecord
}

// FinancialRecord is one reported period. FiscalQuarter is nil for full-year
// records. Monetary fields are raw yen and nil when not reported.
type FinancialRecord struct {
	FiscalYear         int
	FiscalQuarter      *int
	Revenue            *int64
	OperatingProfit    *int64
	OrdinaryProfit     *int64
	NetProfit          *int64
	TotalAssets        *int64
	Equity             *int64
	TotalLiabilities   *int64
	CurrentAssets      *int64
	CurrentLiabilities *int64
}

func (r FinancialRecord) FullYear() bool {
	return r.FiscalQuarter == nil
}

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces free text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Store persists records and answers nearest-neighbour queries. Results must
// be ordered by ascending distance.
type Store interface {
	ReplaceEntity(ctx context.Context, entityID string, records []Record) error
	DeleteEntity(ctx context.Context, entityID string) error
	Search(ctx context.Context, vector []float32, topN int, entityFilter string) ([]Result, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

type AnswerStatus string

const (
	// AnswerStatusAnswered means the model produced the answer from retrieved context.
	AnswerStatusAnswered AnswerStatus = "answered"
	// AnswerStatusNoData means retrieval found nothing and the model was not asked.
	AnswerStatusNoData AnswerStatus = "no_data"
)

// Answer is the outcome of one question. Sources are the retrieved chunks the
// answer was generated from, in retrieval order.
type Answer struct {
	Answer  string       `json:"answer"`
	Sources []Source     `json:"sources"`
	Status  AnswerStatus `json:"status"`
}
