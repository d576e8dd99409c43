package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// VectorIndex embeds chunks and keeps them in a Store. Writes for one entity
// are serialised; writes for different entities may run concurrently. Reads
// take no lock of their own.
type VectorIndex struct {
	store    Store
	embedder Embedder
	locks    entityLocks
}

func NewVectorIndex(store Store, embedder Embedder) *VectorIndex {
	return &VectorIndex{
		store:    store,
		embedder: embedder,
		locks:    entityLocks{held: make(map[string]*entityLock)},
	}
}

// UpsertEntity replaces every record of entityID with chunks. All chunks are
// embedded before the store is touched, so an embedding failure leaves the
// previous records in place.
func (x *VectorIndex) UpsertEntity(ctx context.Context, entityID string, chunks []Chunk) (int, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return 0, fmt.Errorf("%w: entity id is empty", ErrInvalidInput)
	}
	for _, c := range chunks {
		if c.Metadata.EntityID != entityID {
			return 0, fmt.Errorf("%w: chunk %s belongs to entity %q", ErrInvalidInput, c.ID, c.Metadata.EntityID)
		}
		if strings.TrimSpace(c.Text) == "" {
			return 0, fmt.Errorf("%w: chunk %s has empty text", ErrEmbedding, c.ID)
		}
	}

	unlock := x.locks.lock(entityID)
	defer unlock()

	records := make([]Record, len(chunks))
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vectors, err := x.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrEmbedding, err)
		}
		if len(vectors) != len(chunks) {
			return 0, fmt.Errorf("%w: got %d vectors for %d chunks", ErrEmbedding, len(vectors), len(chunks))
		}
		for i, c := range chunks {
			if len(vectors[i]) == 0 {
				return 0, fmt.Errorf("%w: empty vector for chunk %s", ErrEmbedding, c.ID)
			}
			records[i] = Record{Chunk: c, Embedding: vectors[i]}
		}
	}

	if err := x.store.ReplaceEntity(ctx, entityID, records); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}
	return len(records), nil
}

// Query returns at most topN results, most similar first, restricted to
// entityFilter when it is non-empty. No match is an empty result, not an error.
func (x *VectorIndex) Query(ctx context.Context, text string, topN int, entityFilter string) ([]Result, error) {
	if topN <= 0 {
		return nil, fmt.Errorf("%w: top_n must be positive, got %d", ErrInvalidInput, topN)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: query text is empty", ErrEmbedding)
	}
	vector, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	results, err := x.store.Search(ctx, vector, topN, strings.TrimSpace(entityFilter))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}
	if len(results) > topN {
		results = results[:topN]
	}
	return results, nil
}

// DeleteEntity is idempotent.
func (x *VectorIndex) DeleteEntity(ctx context.Context, entityID string) error {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return fmt.Errorf("%w: entity id is empty", ErrInvalidInput)
	}
	unlock := x.locks.lock(entityID)
	defer unlock()

	if err := x.store.DeleteEntity(ctx, entityID); err != nil {
		return fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}
	return nil
}

func (x *VectorIndex) Count(ctx context.Context) (int64, error) {
	n, err := x.store.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
	}
	return n, nil
}

func (x *VectorIndex) Close() error {
	return x.store.Close()
}

type entityLock struct {
	mu   sync.Mutex
	refs int
}

// entityLocks hands out one mutex per entity id and forgets it once no
// goroutine holds or waits for it.
type entityLocks struct {
	mu   sync.Mutex
	held map[string]*entityLock
}

func (l *entityLocks) lock(id string) func() {
	l.mu.Lock()
	el, ok := l.held[id]
	if !ok {
		el = &entityLock{}
		l.held[id] = el
	}
	el.refs++
	l.mu.Unlock()

	el.mu.Lock()
	return func() {
		el.mu.Unlock()
		l.mu.Lock()
		el.refs--
		if el.refs == 0 {
			delete(l.held, id)
		}
		l.mu.Unlock()
	}
}
