package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"stockqa/internal/rag"
)

const (
	answerKeyPrefix = "rag:answer"
	// allEntities is the key segment for questions asked without a stock code.
	allEntities = "_all"
)

// AnswerCache keeps generated answers for a short time. Keys are grouped by
// stock code so re-indexing a company can drop exactly the answers that
// could have used its chunks.
type AnswerCache struct {
	client *redisv9.Client
	ttl    time.Duration
}

func NewAnswerCache(client *redisv9.Client, ttl time.Duration) *AnswerCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &AnswerCache{client: client, ttl: ttl}
}

func (c *AnswerCache) Get(ctx context.Context, stockCode, question string) (*rag.Answer, bool, error) {
	raw, err := c.client.Get(ctx, c.answerKey(stockCode, question)).Result()
	if err == redisv9.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get answer failed: %w", err)
	}

	var answer rag.Answer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached answer failed: %w", err)
	}
	return &answer, true, nil
}

func (c *AnswerCache) Set(ctx context.Context, stockCode, question string, answer *rag.Answer) error {
	payload, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("marshal answer cache failed: %w", err)
	}
	if err := c.client.Set(ctx, c.answerKey(stockCode, question), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set answer failed: %w", err)
	}
	return nil
}

// InvalidateEntity drops the company's answers and every unfiltered answer,
// since those may have drawn on any company.
func (c *AnswerCache) InvalidateEntity(ctx context.Context, stockCode string) error {
	for _, pattern := range []string{c.entityPattern(stockCode), c.entityPattern(allEntities)} {
		if err := c.deleteMatching(ctx, pattern); err != nil {
			return err
		}
	}
	return nil
}

func (c *AnswerCache) deleteMatching(ctx context.Context, pattern string) error {
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan answers failed: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete answers failed: %w", err)
	}
	return nil
}

func (c *AnswerCache) answerKey(stockCode, question string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(question)))
	return fmt.Sprintf("%s:%s:%s", answerKeyPrefix, entitySegment(stockCode), hex.EncodeToString(sum[:]))
}

func (c *AnswerCache) entityPattern(stockCode string) string {
	return fmt.Sprintf("%s:%s:*", answerKeyPrefix, entitySegment(stockCode))
}

func entitySegment(stockCode string) string {
	if stockCode = strings.TrimSpace(stockCode); stockCode == "" {
		return allEntities
	}
	return stockCode
}
