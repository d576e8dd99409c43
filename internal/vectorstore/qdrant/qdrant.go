// Package qdrant is a minimal REST client storing the vector index in a
// Qdrant collection with cosine distance.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"stockqa/internal/rag"
)

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Dimension  int
	Timeout    time.Duration
}

// Storage writes one point per chunk. Point ids are UUIDv5 of the chunk id,
// so re-indexing an entity overwrites rather than duplicates.
type Storage struct {
	url        string
	apiKey     string
	collection string
	dimension  int
	client     *http.Client
}

var _ rag.Store = (*Storage)(nil)

// pointNamespace scopes point ids to this application.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("stockqa/index-record"))

func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// Open creates the collection when it does not exist yet.
func Open(ctx context.Context, cfg Config) (*Storage, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("qdrant url is empty")
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, errors.New("qdrant collection is empty")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("invalid vector dimension %d", cfg.Dimension)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	s := &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		client:     &http.Client{Timeout: timeout},
	}
	if err := s.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) ensureCollection(ctx context.Context) error {
	status, err := s.do(ctx, http.MethodGet, s.collectionURL(""), nil, nil)
	if err == nil {
		return nil
	}
	if status != http.StatusNotFound {
		return fmt.Errorf("get qdrant collection failed: %w", err)
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     s.dimension,
			"distance": "Cosine",
		},
	}
	if _, err := s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil); err != nil {
		return fmt.Errorf("create qdrant collection failed: %w", err)
	}
	// Entity filters run on every scoped query.
	index := map[string]any{"field_name": "entity_id", "field_schema": "keyword"}
	if _, err := s.do(ctx, http.MethodPut, s.collectionURL("/index?wait=true"), index, nil); err != nil {
		return fmt.Errorf("create qdrant payload index failed: %w", err)
	}
	return nil
}

// ReplaceEntity deletes the entity's points and upserts the new ones. Qdrant
// has no multi-request transaction, so a concurrent reader may briefly see
// the entity with no points.
func (s *Storage) ReplaceEntity(ctx context.Context, entityID string, records []rag.Record) error {
	if err := s.DeleteEntity(ctx, entityID); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	points := make([]map[string]any, len(records))
	for i, r := range records {
		if len(r.Embedding) != s.dimension {
			return fmt.Errorf("vector dimension mismatch for %s: got %d, want %d", r.ID, len(r.Embedding), s.dimension)
		}
		payload := map[string]any{
			"chunk_id":    r.ID,
			"text":        r.Text,
			"entity_id":   entityID,
			"entity_name": r.Metadata.EntityName,
			"chunk_type":  string(r.Metadata.ChunkType),
		}
		if r.Metadata.FiscalPeriod != nil {
			payload["fiscal_period"] = *r.Metadata.FiscalPeriod
		}
		points[i] = map[string]any{
			"id":      PointID(r.ID),
			"vector":  r.Embedding,
			"payload": payload,
		}
	}
	body := map[string]any{"points": points}
	if _, err := s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), body, nil); err != nil {
		return fmt.Errorf("upsert qdrant points failed: %w", err)
	}
	return nil
}

func (s *Storage) DeleteEntity(ctx context.Context, entityID string) error {
	body := map[string]any{"filter": entityFilter(entityID)}
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), body, nil); err != nil {
		return fmt.Errorf("delete qdrant points failed: %w", err)
	}
	return nil
}

type searchResponse struct {
	Result []struct {
		Score   float64      `json:"score"`
		Payload pointPayload `json:"payload"`
	} `json:"result"`
}

type pointPayload struct {
	ChunkID      string `json:"chunk_id"`
	Text         string `json:"text"`
	EntityID     string `json:"entity_id"`
	EntityName   string `json:"entity_name"`
	ChunkType    string `json:"chunk_type"`
	FiscalPeriod *int   `json:"fiscal_period"`
}

func (s *Storage) Search(ctx context.Context, vector []float32, topN int, filter string) ([]rag.Result, error) {
	req := map[string]any{
		"vector":       vector,
		"limit":        topN,
		"with_payload": true,
	}
	if filter != "" {
		req["filter"] = entityFilter(filter)
	}
	var resp searchResponse
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, fmt.Errorf("search qdrant points failed: %w", err)
	}
	if len(resp.Result) == 0 {
		return nil, nil
	}

	results := make([]rag.Result, 0, len(resp.Result))
	for _, hit := range resp.Result {
		// Qdrant reports cosine similarity; the index speaks distance.
		distance := 1 - hit.Score
		if distance < 0 {
			distance = 0
		}
		results = append(results, rag.Result{
			Chunk: rag.Chunk{
				ID:   hit.Payload.ChunkID,
				Text: hit.Payload.Text,
				Metadata: rag.Metadata{
					EntityID:     hit.Payload.EntityID,
					EntityName:   hit.Payload.EntityName,
					ChunkType:    rag.ChunkType(hit.Payload.ChunkType),
					FiscalPeriod: hit.Payload.FiscalPeriod,
				},
			},
			Distance: distance,
		})
	}
	return results, nil
}

func (s *Storage) Count(ctx context.Context) (int64, error) {
	var resp struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	if _, err := s.do(ctx, http.MethodPost, s.collectionURL("/points/count"), map[string]any{"exact": true}, &resp); err != nil {
		return 0, fmt.Errorf("count qdrant points failed: %w", err)
	}
	return resp.Result.Count, nil
}

func (s *Storage) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

func entityFilter(entityID string) map[string]any {
	return map[string]any{
		"must": []map[string]any{
			{"key": "entity_id", "match": map[string]any{"value": entityID}},
		},
	}
}

// do sends body as JSON and decodes the response into out when given. The
// HTTP status is returned alongside any error.
func (s *Storage) do(ctx context.Context, method, url string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshal qdrant request failed: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, fmt.Errorf("create qdrant request failed: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("qdrant %s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("qdrant %s %s returned %s: %s", method, url, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode qdrant response failed: %w", err)
		}
	}
	return resp.StatusCode, nil
}
