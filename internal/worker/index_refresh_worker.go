package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"stockqa/internal/app"
	"stockqa/internal/model"
	"stockqa/internal/platform/rabbitmq"
)

// Indexer is the part of the RAG service the worker drives.
type Indexer interface {
	IndexMany(ctx context.Context, stockCodes []string) []app.IndexItemResult
	ReindexAll(ctx context.Context) ([]app.IndexItemResult, error)
}

// IndexRefreshWorker consumes index requests and rebuilds the named
// companies' index entries, one request at a time.
type IndexRefreshWorker struct {
	conn      *amqp.Connection
	indexer   Indexer
	queueName string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIndexRefreshWorker(conn *amqp.Connection, indexer Indexer, queueName string) *IndexRefreshWorker {
	return &IndexRefreshWorker{
		conn:      conn,
		indexer:   indexer,
		queueName: queueName,
	}
}

func (w *IndexRefreshWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				if err := HandleIndexRequest(workerCtx, w.indexer, d.Body); err != nil {
					log.Printf("worker index request failed: %v", err)
					_ = d.Nack(false, false)
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	return nil
}

func (w *IndexRefreshWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// HandleIndexRequest decodes one request and applies it. Items that fail are
// logged; the request itself only fails when it cannot be decoded or the
// company list cannot be read.
func HandleIndexRequest(ctx context.Context, indexer Indexer, body []byte) error {
	var req model.IndexRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("decode index request failed: %w", err)
	}

	var (
		results []app.IndexItemResult
		err     error
	)
	if len(req.StockCodes) == 0 {
		results, err = indexer.ReindexAll(ctx)
		if err != nil {
			return err
		}
	} else {
		results = indexer.IndexMany(ctx, req.StockCodes)
	}

	var indexed, skipped, failed int
	for _, r := range results {
		switch r.Status {
		case app.IndexItemIndexed:
			indexed++
		case app.IndexItemSkipped:
			skipped++
		default:
			failed++
			log.Printf("worker index %s failed: kind=%s reason=%s", r.StockCode, r.Kind, r.Reason)
		}
	}
	log.Printf("worker index request %s done: indexed=%d skipped=%d failed=%d", req.RequestID, indexed, skipped, failed)
	return nil
}
