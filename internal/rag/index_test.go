package rag_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockqa/internal/rag"
	"stockqa/internal/rag/ragtest"
	"stockqa/internal/vectorstore/memory"
)

func chunk(entityID string, ordinal int, text string) rag.Chunk {
	return rag.Chunk{
		ID:   rag.ChunkID(entityID, rag.ChunkProfile, ordinal),
		Text: text,
		Metadata: rag.Metadata{
			EntityID:   entityID,
			EntityName: "Company " + entityID,
			ChunkType:  rag.ChunkProfile,
		},
	}
}

type failingStore struct {
	*memory.Storage
}

func (s *failingStore) Search(context.Context, []float32, int, string) ([]rag.Result, error) {
	return nil, errors.New("connection refused")
}

func (s *failingStore) Count(context.Context) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestVectorIndex_ReindexReplacesRecords(t *testing.T) {
	ctx := context.Background()
	idx := rag.NewVectorIndex(memory.NewStorage(), ragtest.NewHashEmbedder(32))
	chunks := []rag.Chunk{chunk("7203", 0, "toyota profile"), chunk("7203", 1, "toyota revenue")}

	n, err := idx.UpsertEntity(ctx, "7203", chunks)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	first, err := idx.Count(ctx)
	require.NoError(t, err)

	_, err = idx.UpsertEntity(ctx, "7203", chunks)
	require.NoError(t, err)
	second, err := idx.Count(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), first)
	assert.Equal(t, first, second)

	_, err = idx.UpsertEntity(ctx, "7203", chunks[:1])
	require.NoError(t, err)
	third, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), third)
}

func TestVectorIndex_QueryOrdersByDistance(t *testing.T) {
	ctx := context.Background()
	embedder := &ragtest.StaticEmbedder{Vectors: map[string][]float32{
		"chunk A": {0.8, 0.6, 0},
		"chunk B": {1, 0, 0},
		"chunk C": {0, 0, 1},
		"query":   {1, 0.1, 0},
	}}
	idx := rag.NewVectorIndex(memory.NewStorage(), embedder)
	_, err := idx.UpsertEntity(ctx, "1", []rag.Chunk{
		chunk("1", 0, "chunk A"),
		chunk("1", 1, "chunk B"),
		chunk("1", 2, "chunk C"),
	})
	require.NoError(t, err)

	results, err := idx.Query(ctx, "query", 3, "")
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, []string{"chunk B", "chunk A", "chunk C"}, []string{results[0].Text, results[1].Text, results[2].Text})
	assert.LessOrEqual(t, results[0].Distance, results[1].Distance)
	assert.LessOrEqual(t, results[1].Distance, results[2].Distance)

	top, err := idx.Query(ctx, "query", 2, "")
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestVectorIndex_FilterIsolatesEntities(t *testing.T) {
	ctx := context.Background()
	idx := rag.NewVectorIndex(memory.NewStorage(), ragtest.NewHashEmbedder(32))
	_, err := idx.UpsertEntity(ctx, "1111", []rag.Chunk{chunk("1111", 0, "alpha steel revenue")})
	require.NoError(t, err)
	_, err = idx.UpsertEntity(ctx, "2222", []rag.Chunk{
		chunk("2222", 0, "beta steel revenue"),
		chunk("2222", 1, "alpha steel revenue exactly"),
	})
	require.NoError(t, err)

	for _, q := range []string{"alpha steel revenue", "beta", "revenue exactly", "unrelated words"} {
		results, err := idx.Query(ctx, q, 10, "1111")
		require.NoError(t, err)
		for _, r := range results {
			assert.Equal(t, "1111", r.Metadata.EntityID, "query %q", q)
		}
	}

	all, err := idx.Query(ctx, "steel", 10, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestVectorIndex_EmbeddingFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	embedder := &ragtest.StaticEmbedder{Vectors: map[string][]float32{
		"old": {1, 0},
		"new": {0, 1},
	}}
	idx := rag.NewVectorIndex(memory.NewStorage(), embedder)
	_, err := idx.UpsertEntity(ctx, "1", []rag.Chunk{chunk("1", 0, "old")})
	require.NoError(t, err)

	_, err = idx.UpsertEntity(ctx, "1", []rag.Chunk{chunk("1", 0, "new"), chunk("1", 1, "unknown text")})

	require.Error(t, err)
	assert.ErrorIs(t, err, rag.ErrEmbedding)
	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	results, err := idx.Query(ctx, "old", 5, "1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "old", results[0].Text)
}

func TestVectorIndex_EmptyTextIsEmbeddingError(t *testing.T) {
	idx := rag.NewVectorIndex(memory.NewStorage(), ragtest.NewHashEmbedder(8))

	_, err := idx.UpsertEntity(context.Background(), "1", []rag.Chunk{chunk("1", 0, "   ")})

	assert.ErrorIs(t, err, rag.ErrEmbedding)
}

func TestVectorIndex_RejectsForeignChunks(t *testing.T) {
	idx := rag.NewVectorIndex(memory.NewStorage(), ragtest.NewHashEmbedder(8))

	_, err := idx.UpsertEntity(context.Background(), "1", []rag.Chunk{chunk("2", 0, "text")})

	assert.ErrorIs(t, err, rag.ErrInvalidInput)
}

func TestVectorIndex_QueryValidatesTopN(t *testing.T) {
	idx := rag.NewVectorIndex(memory.NewStorage(), ragtest.NewHashEmbedder(8))

	for _, n := range []int{0, -3} {
		_, err := idx.Query(context.Background(), "revenue", n, "")
		assert.ErrorIs(t, err, rag.ErrInvalidInput)
	}
}

func TestVectorIndex_EmptyIndexReturnsNoResults(t *testing.T) {
	idx := rag.NewVectorIndex(memory.NewStorage(), ragtest.NewHashEmbedder(8))

	results, err := idx.Query(context.Background(), "revenue", 5, "")

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorIndex_DeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	idx := rag.NewVectorIndex(memory.NewStorage(), ragtest.NewHashEmbedder(8))
	_, err := idx.UpsertEntity(ctx, "1", []rag.Chunk{chunk("1", 0, "one")})
	require.NoError(t, err)

	require.NoError(t, idx.DeleteEntity(ctx, "1"))
	require.NoError(t, idx.DeleteEntity(ctx, "1"))
	require.NoError(t, idx.DeleteEntity(ctx, "never-indexed"))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVectorIndex_StoreFailureIsIndexUnavailable(t *testing.T) {
	ctx := context.Background()
	idx := rag.NewVectorIndex(&failingStore{Storage: memory.NewStorage()}, ragtest.NewHashEmbedder(8))

	_, err := idx.Query(ctx, "revenue", 5, "")
	assert.ErrorIs(t, err, rag.ErrIndexUnavailable)

	_, err = idx.Count(ctx)
	assert.ErrorIs(t, err, rag.ErrIndexUnavailable)
	assert.Equal(t, rag.KindIndexUnavailable, rag.KindOf(err))
}

func TestVectorIndex_ConcurrentUpsertsOfOneEntity(t *testing.T) {
	ctx := context.Background()
	idx := rag.NewVectorIndex(memory.NewStorage(), ragtest.NewHashEmbedder(16))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			entity := fmt.Sprintf("%d", i%3)
			_, err := idx.UpsertEntity(ctx, entity, []rag.Chunk{
				chunk(entity, 0, "profile text"),
				chunk(entity, 1, "series text"),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)
}
