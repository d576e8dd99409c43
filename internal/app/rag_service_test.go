package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockqa/internal/model"
	"stockqa/internal/platform/database"
	"stockqa/internal/rag"
	"stockqa/internal/rag/ragtest"
	"stockqa/internal/repository"
	"stockqa/internal/vectorstore/memory"
)

type fakeEntities struct {
	entities map[string]*rag.Entity
	err      error
}

func (f *fakeEntities) LoadEntity(_ context.Context, stockCode string) (*rag.Entity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.entities[stockCode], nil
}

func (f *fakeEntities) ListStockCodes(context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	codes := make([]string, 0, len(f.entities))
	for code := range f.entities {
		codes = append(codes, code)
	}
	return codes, nil
}

type fakeCache struct {
	mu          sync.Mutex
	answers     map[string]*rag.Answer
	invalidated []string
	err         error
}

func newFakeCache() *fakeCache {
	return &fakeCache{answers: make(map[string]*rag.Answer)}
}

func (c *fakeCache) Get(_ context.Context, stockCode, question string) (*rag.Answer, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, false, c.err
	}
	a, ok := c.answers[stockCode+"|"+question]
	return a, ok, nil
}

func (c *fakeCache) Set(_ context.Context, stockCode, question string, answer *rag.Answer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.answers[stockCode+"|"+question] = answer
	return nil
}

func (c *fakeCache) InvalidateEntity(_ context.Context, stockCode string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, stockCode)
	for key := range c.answers {
		if strings.HasPrefix(key, stockCode+"|") || strings.HasPrefix(key, "|") {
			delete(c.answers, key)
		}
	}
	return c.err
}

type fakePublisher struct {
	published []model.IndexRequest
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, req model.IndexRequest) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, req)
	return nil
}

func i64(v int64) *int64 { return &v }

func fullYear(year int) rag.FinancialRecord {
	return rag.FinancialRecord{
		FiscalYear:         year,
		Revenue:            i64(1_000_000_000_000),
		OperatingProfit:    i64(100_000_000_000),
		NetProfit:          i64(70_000_000_000),
		Equity:             i64(800_000_000_000),
		CurrentAssets:      i64(600_000_000_000),
		CurrentLiabilities: i64(400_000_000_000),
	}
}

func testEntities() *fakeEntities {
	return &fakeEntities{entities: map[string]*rag.Entity{
		"7203": {
			ID: "7203", Name: "Toyota", Industry: "Transportation Equipment",
			Financials: []rag.FinancialRecord{{FiscalYear: 2023, Revenue: i64(3_000_000_000_000)}},
		},
		"6758": {
			ID: "6758", Name: "Sony", Industry: "Electric Appliances",
			Financials: []rag.FinancialRecord{fullYear(2024), fullYear(2023)},
		},
		"1301": {ID: "1301", Name: "Kyokuyo", Industry: "Fishery"},
	}}
}

type fixture struct {
	svc       *RAGService
	index     *rag.VectorIndex
	generator *ragtest.Generator
	embedder  *ragtest.HashEmbedder
}

// chunkCount is the number of chunks the default builder derives for code.
func chunkCount(code string) int {
	e := testEntities().entities[code]
	return len(rag.NewChunkBuilder(rag.DefaultSeriesYears, rag.DefaultRatioYears).Build(*e))
}

func newFixture(entities EntityRepository, cfg RAGServiceConfig) *fixture {
	embedder := ragtest.NewHashEmbedder(64)
	index := rag.NewVectorIndex(memory.NewStorage(), embedder)
	generator := &ragtest.Generator{Echo: "Revenue:"}
	svc := NewRAGService(entities, rag.NewChunkBuilder(rag.DefaultSeriesYears, rag.DefaultRatioYears), index, generator, cfg)
	return &fixture{svc: svc, index: index, generator: generator, embedder: embedder}
}

func TestRAGService_IndexAndAnswerFromDatabase(t *testing.T) {
	ctx := context.Background()
	db, err := database.New(ctx, database.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, db.AutoMigrate(&model.Company{}, &model.FinancialData{}))
	companies := repository.NewCompanyRepository(db)
	toyota := &model.Company{StockCode: "7203", Name: "Toyota", Industry: "Transportation Equipment"}
	require.NoError(t, companies.Create(ctx, toyota))
	require.NoError(t, companies.CreateFinancials(ctx, []model.FinancialData{
		{CompanyID: toyota.ID, FiscalYear: 2023, Revenue: i64(3_000_000_000_000)},
	}))
	f := newFixture(companies, RAGServiceConfig{})

	res, err := f.svc.Index(ctx, "7203")
	require.NoError(t, err)
	assert.Equal(t, &IndexResult{StockCode: "7203", ChunksIndexed: 2}, res)

	answer, err := f.svc.Answer(ctx, "What was Toyota's revenue?", "7203")
	require.NoError(t, err)

	assert.Equal(t, rag.AnswerStatusAnswered, answer.Status)
	assert.Contains(t, answer.Answer, "30000.00")
	var series *rag.Source
	for i := range answer.Sources {
		assert.Equal(t, "7203", answer.Sources[i].Metadata.EntityID)
		if answer.Sources[i].Metadata.ChunkType == rag.ChunkFinancialSeries {
			series = &answer.Sources[i]
		}
	}
	require.NotNil(t, series)
	assert.Contains(t, series.Text, "Revenue: 30000.00 hundred million yen")
	require.Len(t, f.generator.Prompts(), 1)
	assert.Contains(t, f.generator.Prompts()[0], "What was Toyota's revenue?")
}

func TestRAGService_ReindexKeepsCount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(testEntities(), RAGServiceConfig{})

	_, err := f.svc.Index(ctx, "6758")
	require.NoError(t, err)
	first, err := f.svc.Count(ctx)
	require.NoError(t, err)
	_, err = f.svc.Index(ctx, " 6758 ")
	require.NoError(t, err)
	second, err := f.svc.Count(ctx)
	require.NoError(t, err)

	assert.Equal(t, 4, chunkCount("6758"))
	assert.Equal(t, int64(chunkCount("6758")), first)
	assert.Equal(t, first, second)
}

func TestRAGService_IndexErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(testEntities(), RAGServiceConfig{})

	_, err := f.svc.Index(ctx, "")
	assert.ErrorIs(t, err, rag.ErrInvalidInput)

	_, err = f.svc.Index(ctx, "0000")
	assert.ErrorIs(t, err, rag.ErrEntityNotFound)

	_, err = f.svc.Index(ctx, "1301")
	assert.ErrorIs(t, err, rag.ErrInsufficientData)
	assert.Zero(t, f.embedder.Calls())
	n, err := f.svc.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	broken := newFixture(&fakeEntities{err: errors.New("connection reset")}, RAGServiceConfig{})
	_, err = broken.svc.Index(ctx, "7203")
	require.Error(t, err)
	assert.Equal(t, rag.KindInternal, rag.KindOf(err))
}

func TestRAGService_AnswerWithEmptyIndex(t *testing.T) {
	f := newFixture(testEntities(), RAGServiceConfig{})

	answer, err := f.svc.Answer(context.Background(), "What is the revenue?", "")

	require.NoError(t, err)
	assert.Equal(t, rag.NoInformationAnswer, answer.Answer)
	assert.Equal(t, rag.AnswerStatusNoData, answer.Status)
	assert.NotNil(t, answer.Sources)
	assert.Empty(t, answer.Sources)
	assert.Zero(t, f.generator.Calls())
}

func TestRAGService_AnswerFilterExcludesOtherCompanies(t *testing.T) {
	ctx := context.Background()
	f := newFixture(testEntities(), RAGServiceConfig{TopN: 10})
	_, err := f.svc.Index(ctx, "7203")
	require.NoError(t, err)
	_, err = f.svc.Index(ctx, "6758")
	require.NoError(t, err)

	answer, err := f.svc.Answer(ctx, "Revenue trend?", "6758")

	require.NoError(t, err)
	require.NotEmpty(t, answer.Sources)
	for _, s := range answer.Sources {
		assert.Equal(t, "6758", s.Metadata.EntityID)
	}

	none, err := f.svc.Answer(ctx, "Revenue trend?", "9999")
	require.NoError(t, err)
	assert.Equal(t, rag.AnswerStatusNoData, none.Status)
}

func TestRAGService_AnswerValidatesQuestion(t *testing.T) {
	f := newFixture(testEntities(), RAGServiceConfig{})

	_, err := f.svc.Answer(context.Background(), "   ", "")

	assert.ErrorIs(t, err, rag.ErrInvalidInput)
}

func TestRAGService_GenerationFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(testEntities(), RAGServiceConfig{})
	_, err := f.svc.Index(ctx, "7203")
	require.NoError(t, err)
	f.generator.Err = errors.New("status 500")

	_, err = f.svc.Answer(ctx, "revenue", "7203")

	assert.ErrorIs(t, err, rag.ErrGeneration)
	assert.False(t, rag.IsTimeout(err))
}

func TestRAGService_GenerationTimeout(t *testing.T) {
	ctx := context.Background()
	f := newFixture(testEntities(), RAGServiceConfig{GenerationTimeout: 20 * time.Millisecond})
	_, err := f.svc.Index(ctx, "7203")
	require.NoError(t, err)
	f.generator.Delay = time.Second

	start := time.Now()
	_, err = f.svc.Answer(ctx, "revenue", "7203")

	assert.ErrorIs(t, err, rag.ErrGeneration)
	assert.True(t, rag.IsTimeout(err))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRAGService_IndexMany(t *testing.T) {
	f := newFixture(testEntities(), RAGServiceConfig{IndexConcurrency: 2})

	results := f.svc.IndexMany(context.Background(), []string{"7203", "1301", "0000", "6758"})

	require.Len(t, results, 4)
	assert.Equal(t, IndexItemResult{StockCode: "7203", Status: IndexItemIndexed, ChunksIndexed: chunkCount("7203")}, results[0])
	assert.Equal(t, IndexItemSkipped, results[1].Status)
	assert.Equal(t, rag.KindInsufficientData, results[1].Kind)
	assert.Equal(t, IndexItemFailed, results[2].Status)
	assert.Equal(t, rag.KindNotFound, results[2].Kind)
	assert.NotEmpty(t, results[2].Reason)
	assert.Equal(t, IndexItemIndexed, results[3].Status)
	assert.Equal(t, chunkCount("6758"), results[3].ChunksIndexed)
}

func TestRAGService_ReindexAll(t *testing.T) {
	f := newFixture(testEntities(), RAGServiceConfig{})

	results, err := f.svc.ReindexAll(context.Background())

	require.NoError(t, err)
	assert.Len(t, results, 3)
	n, err := f.svc.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(chunkCount("7203")+chunkCount("6758")), n)
	assert.Equal(t, int64(6), n)
}

func TestRAGService_DeleteIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(testEntities(), RAGServiceConfig{})
	_, err := f.svc.Index(ctx, "7203")
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteIndex(ctx, "7203"))
	require.NoError(t, f.svc.DeleteIndex(ctx, "7203"))

	n, err := f.svc.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.ErrorIs(t, f.svc.DeleteIndex(ctx, " "), rag.ErrInvalidInput)
}

func TestRAGService_AnswerCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(testEntities(), RAGServiceConfig{})
	cache := newFakeCache()
	f.svc.WithAnswerCache(cache)
	_, err := f.svc.Index(ctx, "7203")
	require.NoError(t, err)

	first, err := f.svc.Answer(ctx, "revenue", "7203")
	require.NoError(t, err)
	second, err := f.svc.Answer(ctx, "revenue", "7203")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.generator.Calls())

	_, err = f.svc.Index(ctx, "7203")
	require.NoError(t, err)
	assert.Contains(t, cache.invalidated, "7203")
	_, err = f.svc.Answer(ctx, "revenue", "7203")
	require.NoError(t, err)
	assert.Equal(t, 2, f.generator.Calls())
}

// reindexingGenerator re-indexes a company while an answer is being
// generated from the company's previous chunks.
type reindexingGenerator struct {
	svc       *RAGService
	stockCode string
	err       error
}

func (g *reindexingGenerator) Generate(ctx context.Context, _ string) (string, error) {
	_, g.err = g.svc.Index(ctx, g.stockCode)
	return "Revenue: 30000.00 hundred million yen", nil
}

func TestRAGService_AnswerRacingReindexIsNotCached(t *testing.T) {
	ctx := context.Background()
	cache := newFakeCache()
	embedder := ragtest.NewHashEmbedder(64)
	index := rag.NewVectorIndex(memory.NewStorage(), embedder)
	gen := &reindexingGenerator{stockCode: "7203"}
	svc := NewRAGService(testEntities(), rag.NewChunkBuilder(rag.DefaultSeriesYears, rag.DefaultRatioYears), index, gen, RAGServiceConfig{}).
		WithAnswerCache(cache)
	gen.svc = svc
	_, err := svc.Index(ctx, "7203")
	require.NoError(t, err)

	answer, err := svc.Answer(ctx, "revenue", "7203")

	require.NoError(t, err)
	require.NoError(t, gen.err)
	assert.Equal(t, rag.AnswerStatusAnswered, answer.Status)
	_, ok, err := cache.Get(ctx, "7203", "revenue")
	require.NoError(t, err)
	assert.False(t, ok, "answer built from replaced chunks must not be cached")
}

func TestRAGService_CacheFailureDoesNotFailAnswer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(testEntities(), RAGServiceConfig{})
	f.svc.WithAnswerCache(&fakeCache{answers: map[string]*rag.Answer{}, err: errors.New("redis down")})
	_, err := f.svc.Index(ctx, "7203")
	require.NoError(t, err)

	answer, err := f.svc.Answer(ctx, "revenue", "7203")

	require.NoError(t, err)
	assert.Equal(t, rag.AnswerStatusAnswered, answer.Status)
}

func TestRAGService_NoDataAnswerIsNotCached(t *testing.T) {
	f := newFixture(testEntities(), RAGServiceConfig{})
	cache := newFakeCache()
	f.svc.WithAnswerCache(cache)

	_, err := f.svc.Answer(context.Background(), "revenue", "")

	require.NoError(t, err)
	assert.Empty(t, cache.answers)
}

func TestRAGService_RequestIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(testEntities(), RAGServiceConfig{})

	_, err := f.svc.RequestIndex(ctx, []string{"7203"})
	assert.ErrorIs(t, err, ErrAsyncIndexDisabled)

	pub := &fakePublisher{}
	f.svc.WithPublisher(pub)
	id, err := f.svc.RequestIndex(ctx, []string{" 7203 ", "", "6758"})

	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.Len(t, pub.published, 1)
	assert.Equal(t, id, pub.published[0].RequestID)
	assert.Equal(t, []string{"7203", "6758"}, pub.published[0].StockCodes)

	pub.err = errors.New("channel closed")
	_, err = f.svc.RequestIndex(ctx, nil)
	assert.Error(t, err)
}
