package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"stockqa/internal/model"
	"stockqa/internal/rag"
)

const (
	defaultTopN              = 5
	defaultIndexConcurrency  = 4
	defaultGenerationTimeout = 120 * time.Second
)

var ErrAsyncIndexDisabled = errors.New("asynchronous indexing is disabled")

// EntityRepository is the source of truth for company snapshots. LoadEntity
// returns nil, nil for an unknown stock code.
type EntityRepository interface {
	LoadEntity(ctx context.Context, stockCode string) (*rag.Entity, error)
	ListStockCodes(ctx context.Context) ([]string, error)
}

// AnswerCache stores successful answers per (stock code, question). An empty
// stock code stands for unfiltered questions.
type AnswerCache interface {
	Get(ctx context.Context, stockCode, question string) (*rag.Answer, bool, error)
	Set(ctx context.Context, stockCode, question string, answer *rag.Answer) error
	InvalidateEntity(ctx context.Context, stockCode string) error
}

type IndexRequestPublisher interface {
	Publish(ctx context.Context, req model.IndexRequest) error
}

type RAGServiceConfig struct {
	TopN              int
	AnswerLanguage    string
	IndexConcurrency  int
	GenerationTimeout time.Duration
}

// RAGService indexes company data and answers questions from it. Optional
// collaborators (cache, publisher) may be nil.
type RAGService struct {
	entities  EntityRepository
	builder   *rag.ChunkBuilder
	index     *rag.VectorIndex
	generator rag.Generator
	cache     AnswerCache
	publisher IndexRequestPublisher
	cfg       RAGServiceConfig

	// indexGen counts index mutations. An answer is cached only if no
	// mutation happened between its retrieval and the cache write.
	genMu    sync.RWMutex
	indexGen uint64
}

func NewRAGService(
	entities EntityRepository,
	builder *rag.ChunkBuilder,
	index *rag.VectorIndex,
	generator rag.Generator,
	cfg RAGServiceConfig,
) *RAGService {
	if cfg.TopN <= 0 {
		cfg.TopN = defaultTopN
	}
	if cfg.IndexConcurrency <= 0 {
		cfg.IndexConcurrency = defaultIndexConcurrency
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = defaultGenerationTimeout
	}
	if strings.TrimSpace(cfg.AnswerLanguage) == "" {
		cfg.AnswerLanguage = rag.DefaultAnswerLanguage
	}
	return &RAGService{
		entities:  entities,
		builder:   builder,
		index:     index,
		generator: generator,
		cfg:       cfg,
	}
}

func (s *RAGService) WithAnswerCache(cache AnswerCache) *RAGService {
	s.cache = cache
	return s
}

func (s *RAGService) WithPublisher(publisher IndexRequestPublisher) *RAGService {
	s.publisher = publisher
	return s
}

// IndexResult reports how many chunks now represent the company.
type IndexResult struct {
	StockCode     string `json:"stock_code"`
	ChunksIndexed int    `json:"chunks_indexed"`
}

// Index rebuilds the index entries of one company from the repository.
// A company without any full-year financials is rejected and the index is
// left untouched.
func (s *RAGService) Index(ctx context.Context, stockCode string) (*IndexResult, error) {
	stockCode = strings.TrimSpace(stockCode)
	if stockCode == "" {
		return nil, fmt.Errorf("%w: stock code is empty", rag.ErrInvalidInput)
	}

	entity, err := s.entities.LoadEntity(ctx, stockCode)
	if err != nil {
		return nil, fmt.Errorf("load entity failed: %w", err)
	}
	if entity == nil {
		return nil, fmt.Errorf("%w: %s", rag.ErrEntityNotFound, stockCode)
	}

	chunks := s.builder.Build(*entity)
	if !rag.HasFinancialChunks(chunks) {
		return nil, fmt.Errorf("%w: %s has no full-year financial data", rag.ErrInsufficientData, stockCode)
	}

	n, err := s.index.UpsertEntity(ctx, entity.ID, chunks)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, entity.ID)
	return &IndexResult{StockCode: entity.ID, ChunksIndexed: n}, nil
}

type IndexItemStatus string

const (
	IndexItemIndexed IndexItemStatus = "indexed"
	IndexItemSkipped IndexItemStatus = "skipped"
	IndexItemFailed  IndexItemStatus = "failed"
)

// IndexItemResult is one line of a batch index report. Reason carries the
// error kind and message when the item was not indexed.
type IndexItemResult struct {
	StockCode     string          `json:"stock_code"`
	Status        IndexItemStatus `json:"status"`
	ChunksIndexed int             `json:"chunks_indexed"`
	Kind          string          `json:"kind,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}

// IndexMany indexes several companies in parallel and reports every item.
// Companies without financial data are skipped; any other error marks the
// item failed. Results keep the order of stockCodes.
func (s *RAGService) IndexMany(ctx context.Context, stockCodes []string) []IndexItemResult {
	results := make([]IndexItemResult, len(stockCodes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.IndexConcurrency)
	for i, code := range stockCodes {
		i, code := i, code
		g.Go(func() error {
			res, err := s.Index(gctx, code)
			item := IndexItemResult{StockCode: strings.TrimSpace(code)}
			switch {
			case err == nil:
				item.Status = IndexItemIndexed
				item.ChunksIndexed = res.ChunksIndexed
			case errors.Is(err, rag.ErrInsufficientData):
				item.Status = IndexItemSkipped
				item.Kind = rag.KindOf(err)
				item.Reason = err.Error()
			default:
				item.Status = IndexItemFailed
				item.Kind = rag.KindOf(err)
				item.Reason = err.Error()
			}
			results[i] = item
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ReindexAll runs IndexMany over every company in the repository.
func (s *RAGService) ReindexAll(ctx context.Context) ([]IndexItemResult, error) {
	codes, err := s.entities.ListStockCodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stock codes failed: %w", err)
	}
	return s.IndexMany(ctx, codes), nil
}

// RequestIndex queues an asynchronous re-index and returns the request id.
func (s *RAGService) RequestIndex(ctx context.Context, stockCodes []string) (string, error) {
	if s.publisher == nil {
		return "", ErrAsyncIndexDisabled
	}
	codes := make([]string, 0, len(stockCodes))
	for _, c := range stockCodes {
		if c = strings.TrimSpace(c); c != "" {
			codes = append(codes, c)
		}
	}
	req := model.IndexRequest{
		RequestID:   uuid.NewString(),
		StockCodes:  codes,
		RequestedAt: time.Now(),
	}
	if err := s.publisher.Publish(ctx, req); err != nil {
		return "", fmt.Errorf("publish index request failed: %w", err)
	}
	return req.RequestID, nil
}

// Answer retrieves the chunks closest to question, optionally limited to one
// company, and asks the model to answer from them. When nothing is retrieved
// the fixed no-information answer is returned and the model is not called.
func (s *RAGService) Answer(ctx context.Context, question, stockCode string) (*rag.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("%w: question is empty", rag.ErrInvalidInput)
	}
	stockCode = strings.TrimSpace(stockCode)
	gen := s.generation()

	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, stockCode, question)
		if err != nil {
			log.Printf("answer cache get failed: %v", err)
		} else if ok {
			return cached, nil
		}
	}

	results, err := s.index.Query(ctx, question, s.cfg.TopN, stockCode)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &rag.Answer{
			Answer:  rag.NoInformationAnswer,
			Sources: []rag.Source{},
			Status:  rag.AnswerStatusNoData,
		}, nil
	}

	prompt := rag.ComposePrompt(question, results, s.cfg.AnswerLanguage)

	genCtx, cancel := context.WithTimeout(ctx, s.cfg.GenerationTimeout)
	defer cancel()
	text, err := s.generator.Generate(genCtx, prompt)
	if err != nil {
		if ctxErr := genCtx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", err, ctxErr)
		}
		return nil, fmt.Errorf("%w: %w", rag.ErrGeneration, err)
	}

	answer := &rag.Answer{
		Answer:  text,
		Sources: rag.SourcesFrom(results),
		Status:  rag.AnswerStatusAnswered,
	}
	s.cacheAnswer(ctx, gen, stockCode, question, answer)
	return answer, nil
}

// DeleteIndex removes every index entry of the company. Deleting a company
// that was never indexed succeeds.
func (s *RAGService) DeleteIndex(ctx context.Context, stockCode string) error {
	if err := s.index.DeleteEntity(ctx, stockCode); err != nil {
		return err
	}
	s.invalidate(ctx, strings.TrimSpace(stockCode))
	return nil
}

func (s *RAGService) Count(ctx context.Context) (int64, error) {
	return s.index.Count(ctx)
}

func (s *RAGService) generation() uint64 {
	s.genMu.RLock()
	defer s.genMu.RUnlock()
	return s.indexGen
}

// cacheAnswer stores answer unless the index changed since gen was read.
// The read lock is held across the write so a concurrent invalidate either
// sees the entry or makes this call skip it.
func (s *RAGService) cacheAnswer(ctx context.Context, gen uint64, stockCode, question string, answer *rag.Answer) {
	if s.cache == nil {
		return
	}
	s.genMu.RLock()
	defer s.genMu.RUnlock()
	if s.indexGen != gen {
		return
	}
	if err := s.cache.Set(ctx, stockCode, question, answer); err != nil {
		log.Printf("answer cache set failed: %v", err)
	}
}

// invalidate drops cached answers that may have been built from the
// company's old chunks. The index is already correct at this point, so a
// cache failure is logged rather than returned.
func (s *RAGService) invalidate(ctx context.Context, stockCode string) {
	s.genMu.Lock()
	s.indexGen++
	s.genMu.Unlock()

	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateEntity(ctx, stockCode); err != nil {
		log.Printf("answer cache invalidate failed: stock_code=%s err=%v", stockCode, err)
	}
}
