// Package ragtest provides deterministic embedders and generators for tests.
package ragtest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"time"
	"unicode"

	"stockqa/internal/rag"
)

// HashEmbedder maps each word to a bucket of a fixed-size vector, so texts
// that share words end up close together.
type HashEmbedder struct {
	Dim int

	mu    sync.Mutex
	calls int
}

var _ rag.Embedder = (*HashEmbedder)(nil)

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 64
	}
	return &HashEmbedder{Dim: dim}
}

func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	if len(words) == 0 {
		return nil, errors.New("embedding input is empty")
	}

	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	v := make([]float32, e.Dim)
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(e.Dim)]++
	}
	return normalize(v), nil
}

func (e *HashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *HashEmbedder) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// StaticEmbedder returns preset vectors by exact text. Unknown texts fail.
type StaticEmbedder struct {
	Vectors map[string][]float32
	// FailOn makes any text containing it fail.
	FailOn string
}

var _ rag.Embedder = (*StaticEmbedder)(nil)

func (e *StaticEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.FailOn != "" && strings.Contains(text, e.FailOn) {
		return nil, fmt.Errorf("embedding backend rejected %q", text)
	}
	v, ok := e.Vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func (e *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Generator records every prompt. With Reply unset it answers with the first
// prompt line containing Echo, which lets tests check that figures from the
// context reach the answer.
type Generator struct {
	Reply string
	Echo  string
	Err   error
	// Delay blocks each call until it elapses or the context ends.
	Delay time.Duration

	mu      sync.Mutex
	prompts []string
}

var _ rag.Generator = (*Generator)(nil)

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()

	if g.Delay > 0 {
		select {
		case <-time.After(g.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.Err != nil {
		return "", g.Err
	}
	if g.Reply != "" {
		return g.Reply, nil
	}
	for _, line := range strings.Split(prompt, "\n") {
		if g.Echo != "" && strings.Contains(line, g.Echo) {
			return strings.TrimSpace(line), nil
		}
	}
	return "no data", nil
}

func (g *Generator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func (g *Generator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
	return v
}

func Int64(v int64) *int64 { return &v }

func Int(v int) *int { return &v }
