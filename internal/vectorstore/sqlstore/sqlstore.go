// Package sqlstore keeps the vector index in the relational database next to
// the company data. Embeddings are stored as JSON and ranked in process.
package sqlstore

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"stockqa/internal/model"
	"stockqa/internal/rag"
	"stockqa/internal/repository"
)

type Storage struct {
	records *repository.IndexRecordRepository
}

var _ rag.Store = (*Storage)(nil)

// New migrates the index table when migrate is set.
func New(db *gorm.DB, migrate bool) (*Storage, error) {
	if migrate {
		if err := db.AutoMigrate(&model.IndexRecord{}); err != nil {
			return nil, fmt.Errorf("auto migrate index records failed: %w", err)
		}
	}
	return &Storage{records: repository.NewIndexRecordRepository(db)}, nil
}

func (s *Storage) ReplaceEntity(ctx context.Context, entityID string, records []rag.Record) error {
	rows := make([]model.IndexRecord, len(records))
	for i, r := range records {
		rows[i] = model.IndexRecord{
			ChunkID:      r.ID,
			EntityID:     entityID,
			EntityName:   r.Metadata.EntityName,
			ChunkType:    string(r.Metadata.ChunkType),
			FiscalPeriod: r.Metadata.FiscalPeriod,
			Content:      r.Text,
		}
		rows[i].SetEmbedding(r.Embedding)
	}
	return s.records.ReplaceByEntityID(ctx, entityID, rows)
}

func (s *Storage) DeleteEntity(ctx context.Context, entityID string) error {
	return s.records.DeleteByEntityID(ctx, entityID)
}

func (s *Storage) Search(ctx context.Context, vector []float32, topN int, entityFilter string) ([]rag.Result, error) {
	rows, err := s.records.List(ctx, entityFilter)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	candidates := make([]rag.Record, 0, len(rows))
	for i := range rows {
		record, err := toRecord(&rows[i])
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, record)
	}
	return rag.RankByDistance(vector, candidates, topN), nil
}

func (s *Storage) Count(ctx context.Context) (int64, error) {
	return s.records.Count(ctx)
}

// Close is a no-op; the database handle belongs to the caller.
func (s *Storage) Close() error { return nil }

func toRecord(row *model.IndexRecord) (rag.Record, error) {
	embedding, err := row.EmbeddingVector()
	if err != nil {
		return rag.Record{}, err
	}
	return rag.Record{
		Chunk: rag.Chunk{
			ID:   row.ChunkID,
			Text: row.Content,
			Metadata: rag.Metadata{
				EntityID:     row.EntityID,
				EntityName:   row.EntityName,
				ChunkType:    rag.ChunkType(row.ChunkType),
				FiscalPeriod: row.FiscalPeriod,
			},
		},
		Embedding: embedding,
	}, nil
}
