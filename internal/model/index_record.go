package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// IndexRecord stores one embedded chunk of the vector index.
// Embedding is stored as JSON array of float32 for portability.
type IndexRecord struct {
	ChunkID      string    `gorm:"primaryKey;size:128" json:"chunk_id"`
	EntityID     string    `gorm:"size:32;not null;index" json:"entity_id"`
	EntityName   string    `gorm:"size:255" json:"entity_name"`
	ChunkType    string    `gorm:"size:32;not null" json:"chunk_type"`
	FiscalPeriod *int      `json:"fiscal_period"`
	Content      string    `gorm:"type:text;not null" json:"content"`
	Embedding    string    `gorm:"type:text" json:"-"` // JSON array of float32
	CreatedAt    time.Time `json:"created_at"`
}

// EmbeddingVector parses the stored embedding. A missing or empty vector is
// an error: the row cannot be ranked.
func (r *IndexRecord) EmbeddingVector() ([]float32, error) {
	if r.Embedding == "" {
		return nil, fmt.Errorf("index record %s has no embedding", r.ChunkID)
	}
	var v []float32
	if err := json.Unmarshal([]byte(r.Embedding), &v); err != nil {
		return nil, fmt.Errorf("decode embedding of index record %s failed: %w", r.ChunkID, err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("index record %s has an empty embedding", r.ChunkID)
	}
	return v, nil
}

// SetEmbedding stores the embedding as JSON.
func (r *IndexRecord) SetEmbedding(vec []float32) {
	if len(vec) == 0 {
		r.Embedding = "[]"
		return
	}
	b, _ := json.Marshal(vec)
	r.Embedding = string(b)
}
