package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"stockqa/internal/rag"
)

// EmbeddingConfig holds API settings for text-embedding (OpenAI-compatible).
type EmbeddingConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// DefaultEmbeddingBatchSize is the largest input array DashScope accepts.
const DefaultEmbeddingBatchSize = 10

// EmbedBatch returns one embedding per text, in input order. Empty texts are
// rejected rather than skipped so positions always line up.
func (c *OpenAICompatibleClient) EmbedBatch(ctx context.Context, cfg EmbeddingConfig, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	inputs := make([]string, len(texts))
	for i, t := range texts {
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, fmt.Errorf("embedding input %d is empty", i)
		}
		inputs[i] = s
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	reqBody := map[string]interface{}{
		"model": cfg.Model,
		"input": inputs,
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request failed: %w", err)
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("build embedding request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embedding response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("embedding response status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse embedding json failed: %w", err)
	}
	if len(parsed.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding response has %d vectors for %d inputs", len(parsed.Data), len(inputs))
	}
	sort.SliceStable(parsed.Data, func(i, j int) bool {
		return parsed.Data[i].Index < parsed.Data[j].Index
	})
	result := make([][]float32, len(parsed.Data))
	for i := range parsed.Data {
		if len(parsed.Data[i].Embedding) == 0 {
			return nil, fmt.Errorf("empty embedding in response at %d", i)
		}
		result[i] = parsed.Data[i].Embedding
	}
	return result, nil
}

// APIEmbedder splits large inputs into provider-sized batches.
type APIEmbedder struct {
	client    *OpenAICompatibleClient
	cfg       EmbeddingConfig
	batchSize int
}

var _ rag.Embedder = (*APIEmbedder)(nil)

func NewAPIEmbedder(client *OpenAICompatibleClient, cfg EmbeddingConfig, batchSize int) *APIEmbedder {
	if batchSize <= 0 {
		batchSize = DefaultEmbeddingBatchSize
	}
	return &APIEmbedder{client: client, cfg: cfg, batchSize: batchSize}
}

func (e *APIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.client.EmbedBatch(ctx, e.cfg, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *APIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		vectors, err := e.client.EmbedBatch(ctx, e.cfg, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d failed: %w", start, end, err)
		}
		out = append(out, vectors...)
	}
	return out, nil
}
