package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"stockqa/internal/rag"
)

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

type OpenAICompatibleClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewOpenAICompatibleClient(timeout time.Duration) *OpenAICompatibleClient {
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &OpenAICompatibleClient{
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithRateLimit throttles outgoing requests to rps per second. Zero or less
// removes the limit.
func (c *OpenAICompatibleClient) WithRateLimit(rps float64) *OpenAICompatibleClient {
	if rps <= 0 {
		c.limiter = nil
		return c
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	return c
}

func (c *OpenAICompatibleClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait failed: %w", err)
	}
	return nil
}

func (c *OpenAICompatibleClient) Complete(ctx context.Context, cfg ChatConfig, messages []ChatMessage) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}
	reqBody := map[string]interface{}{
		"model":       cfg.Model,
		"messages":    messages,
		"stream":      false,
		"temperature": cfg.Temperature,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal llm request failed: %w", err)
	}

	url := strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("build llm request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read llm response failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("llm response status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("parse llm json failed: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty llm choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

const analystSystemPrompt = "You are a careful financial analyst. Only use facts given in the user's message."

// ChatGenerator answers a composed prompt through a chat-completions endpoint.
type ChatGenerator struct {
	client *OpenAICompatibleClient
	cfg    ChatConfig
}

var _ rag.Generator = (*ChatGenerator)(nil)

func NewChatGenerator(client *OpenAICompatibleClient, cfg ChatConfig) *ChatGenerator {
	return &ChatGenerator{client: client, cfg: cfg}
}

func (g *ChatGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	messages := []ChatMessage{
		{Role: "system", Content: analystSystemPrompt},
		{Role: "user", Content: prompt},
	}
	answer, err := g.client.Complete(ctx, g.cfg, messages)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}
