// Package memory is an in-process vector store using brute-force cosine
// distance. Contents are lost when the process exits.
package memory

import (
	"context"
	"sync"

	"stockqa/internal/rag"
)

type Storage struct {
	mu       sync.RWMutex
	entities map[string][]rag.Record
}

var _ rag.Store = (*Storage)(nil)

func NewStorage() *Storage {
	return &Storage{entities: make(map[string][]rag.Record)}
}

func (s *Storage) ReplaceEntity(_ context.Context, entityID string, records []rag.Record) error {
	copied := make([]rag.Record, len(records))
	copy(copied, records)

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(copied) == 0 {
		delete(s.entities, entityID)
		return nil
	}
	s.entities[entityID] = copied
	return nil
}

func (s *Storage) DeleteEntity(_ context.Context, entityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, entityID)
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, topN int, entityFilter string) ([]rag.Result, error) {
	s.mu.RLock()
	var candidates []rag.Record
	if entityFilter != "" {
		candidates = s.entities[entityFilter]
	} else {
		for _, records := range s.entities {
			candidates = append(candidates, records...)
		}
	}
	s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	return rag.RankByDistance(vector, candidates, topN), nil
}

func (s *Storage) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, records := range s.entities {
		n += int64(len(records))
	}
	return n, nil
}

func (s *Storage) Close() error { return nil }
