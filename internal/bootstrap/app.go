package bootstrap

import (
	"context"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"stockqa/internal/ai"
	"stockqa/internal/ai/onnx"
	"stockqa/internal/app"
	"stockqa/internal/cache"
	"stockqa/internal/config"
	"stockqa/internal/model"
	"stockqa/internal/platform/database"
	rabbitmqClient "stockqa/internal/platform/rabbitmq"
	redisClient "stockqa/internal/platform/redis"
	"stockqa/internal/rag"
	"stockqa/internal/repository"
	"stockqa/internal/vectorstore/memory"
	"stockqa/internal/vectorstore/qdrant"
	"stockqa/internal/vectorstore/sqlstore"
	"stockqa/internal/worker"
)

type Options struct {
	// StartWorker consumes asynchronous index requests in this process.
	StartWorker bool
}

// App owns every process-wide component. Redis and RabbitMQ fields are nil
// when disabled in the configuration.
type App struct {
	Config      *config.Config
	DB          *gorm.DB
	Redis       *redis.Client
	MQConn      *amqp.Connection
	IndexWorker *worker.IndexRefreshWorker

	Companies *repository.CompanyRepository
	Index     *rag.VectorIndex
	RAG       *app.RAGService

	embedder  rag.Embedder
	StartedAt time.Time
}

func New(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	a := &App{Config: cfg, StartedAt: time.Now()}
	if err := a.init(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, opts Options) error {
	cfg := a.Config

	db, err := database.New(ctx, cfg.Database.Driver, cfg.DSN())
	if err != nil {
		return err
	}
	a.DB = db
	if cfg.Index.AutoMigrate {
		if err := db.AutoMigrate(&model.Company{}, &model.FinancialData{}); err != nil {
			return fmt.Errorf("auto migrate tables failed: %w", err)
		}
	}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return err
	}
	a.embedder = embedder

	store, err := newStore(ctx, cfg, db)
	if err != nil {
		return err
	}
	a.Index = rag.NewVectorIndex(store, embedder)

	generator, err := newGenerator(cfg)
	if err != nil {
		return err
	}

	a.Companies = repository.NewCompanyRepository(db)
	a.RAG = app.NewRAGService(
		a.Companies,
		rag.NewChunkBuilder(cfg.RAG.SeriesYears, cfg.RAG.RatioYears),
		a.Index,
		generator,
		app.RAGServiceConfig{
			TopN:              cfg.RAG.TopN,
			AnswerLanguage:    cfg.RAG.AnswerLanguage,
			IndexConcurrency:  cfg.RAG.IndexConcurrency,
			GenerationTimeout: cfg.LLMTimeout(),
		},
	)

	if cfg.Redis.Enabled {
		redisCli, err := redisClient.New(ctx, redisClient.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		a.Redis = redisCli
		a.RAG.WithAnswerCache(cache.NewAnswerCache(redisCli, cfg.AnswerTTL()))
	}

	if cfg.RabbitMQ.Enabled {
		mqConn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.IndexRefreshQueue)
		if err != nil {
			return err
		}
		a.MQConn = mqConn
		a.RAG.WithPublisher(rabbitmqClient.NewIndexRequestPublisher(mqConn, cfg.RabbitMQ.IndexRefreshQueue))

		if opts.StartWorker {
			indexWorker := worker.NewIndexRefreshWorker(mqConn, a.RAG, cfg.RabbitMQ.IndexRefreshQueue)
			if err := indexWorker.Start(ctx); err != nil {
				return fmt.Errorf("start index worker failed: %w", err)
			}
			a.IndexWorker = indexWorker
		}
	}

	log.Printf("rag ready: llm=%s embedding=%s index=%s database=%s",
		cfg.LLM.Backend, cfg.Embedding.Backend, cfg.Index.Backend, cfg.Database.Driver)
	return nil
}

func newEmbedder(cfg *config.Config) (rag.Embedder, error) {
	switch cfg.Embedding.Backend {
	case "openai":
		client := ai.NewOpenAICompatibleClient(cfg.EmbeddingTimeout()).WithRateLimit(cfg.Embedding.RequestsPerSecond)
		return ai.NewAPIEmbedder(client, ai.EmbeddingConfig{
			BaseURL: cfg.Embedding.BaseURL,
			APIKey:  cfg.Embedding.APIKey,
			Model:   cfg.Embedding.Model,
		}, cfg.Embedding.BatchSize), nil
	case "ollama":
		return ai.NewOllamaClient(ai.OllamaConfig{
			BaseURL: cfg.Embedding.BaseURL,
			Model:   cfg.Embedding.Model,
			Timeout: cfg.EmbeddingTimeout(),
		}), nil
	case "onnx":
		return onnx.NewEmbedder(onnx.Config{
			ModelPath:  cfg.Embedding.ONNXModelPath,
			VocabPath:  cfg.Embedding.ONNXVocabPath,
			SharedLib:  cfg.Embedding.ONNXSharedLib,
			MaxSeqLen:  cfg.Embedding.ONNXMaxSeqLen,
			Dimensions: cfg.Embedding.ONNXDimensions,
		}), nil
	}
	return nil, fmt.Errorf("unknown embedding backend %q", cfg.Embedding.Backend)
}

// llmClientGrace keeps the HTTP client deadline behind the service's
// generation deadline, so a slow model surfaces as a generation timeout.
const llmClientGrace = 5 * time.Second

func llmClientTimeout(cfg *config.Config) time.Duration {
	return cfg.LLMTimeout() + llmClientGrace
}

func newGenerator(cfg *config.Config) (rag.Generator, error) {
	switch cfg.LLM.Backend {
	case "openai":
		client := ai.NewOpenAICompatibleClient(llmClientTimeout(cfg)).WithRateLimit(cfg.LLM.RequestsPerSecond)
		return ai.NewChatGenerator(client, ai.ChatConfig{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
		}), nil
	case "ollama":
		return ai.NewOllamaClient(ai.OllamaConfig{
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     llmClientTimeout(cfg),
		}), nil
	}
	return nil, fmt.Errorf("unknown llm backend %q", cfg.LLM.Backend)
}

func newStore(ctx context.Context, cfg *config.Config, db *gorm.DB) (rag.Store, error) {
	switch cfg.Index.Backend {
	case "sql":
		return sqlstore.New(db, cfg.Index.AutoMigrate)
	case "memory":
		return memory.NewStorage(), nil
	case "qdrant":
		dim := cfg.Index.VectorDim
		if cfg.Embedding.Backend == "onnx" {
			dim = cfg.Embedding.ONNXDimensions
		}
		return qdrant.Open(ctx, qdrant.Config{
			URL:        cfg.Index.QdrantURL,
			APIKey:     cfg.Index.QdrantAPIKey,
			Collection: cfg.Index.Collection,
			Dimension:  dim,
			Timeout:    cfg.Index.QdrantTimeoutDuration(),
		})
	}
	return nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
}

func (a *App) Close() error {
	var closeErr error
	if a.IndexWorker != nil {
		a.IndexWorker.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if a.Index != nil {
		if err := a.Index.Close(); err != nil {
			closeErr = err
		}
	}
	if closer, ok := a.embedder.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			closeErr = err
		}
	}
	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				closeErr = err
			}
		}
	}
	return closeErr
}
