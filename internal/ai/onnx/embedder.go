// Package onnx runs a sentence-transformers model (all-MiniLM-L6-v2 by
// default) in process through onnxruntime.
package onnx

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"stockqa/internal/rag"
)

const (
	DefaultMaxSeqLen  = 256
	DefaultDimensions = 384
)

type Config struct {
	ModelPath  string
	VocabPath  string
	SharedLib  string
	MaxSeqLen  int
	Dimensions int
}

// Embedder lazily loads the model on first use. Inference runs one text at a
// time over fixed-size tensors, so calls are serialised.
type Embedder struct {
	mu sync.Mutex

	cfg Config

	tokenizer     *Tokenizer
	session       *ort.AdvancedSession
	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]
	inited        bool
}

var _ rag.Embedder = (*Embedder)(nil)

func NewEmbedder(cfg Config) *Embedder {
	if cfg.MaxSeqLen <= 0 {
		cfg.MaxSeqLen = DefaultMaxSeqLen
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	return &Embedder{cfg: cfg}
}

// initLocked loads the shared library, tokenizer, tensors and session.
// Callers hold e.mu.
func (e *Embedder) initLocked() error {
	if e.inited {
		return nil
	}

	if e.cfg.SharedLib != "" {
		ort.SetSharedLibraryPath(e.cfg.SharedLib)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("onnx init environment: %w", err)
		}
	}

	tokenizer, err := LoadTokenizer(e.cfg.VocabPath)
	if err != nil {
		return fmt.Errorf("load tokenizer: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(e.cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("onnx get input/output info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return fmt.Errorf("onnx model has no inputs or outputs")
	}

	seqShape := ort.NewShape(1, int64(e.cfg.MaxSeqLen))
	tensors := make([]*ort.Tensor[int64], 0, 3)
	destroy := func() {
		for _, t := range tensors {
			t.Destroy()
		}
	}
	newSeqTensor := func() (*ort.Tensor[int64], error) {
		t, err := ort.NewEmptyTensor[int64](seqShape)
		if err != nil {
			return nil, fmt.Errorf("onnx new input tensor: %w", err)
		}
		tensors = append(tensors, t)
		return t, nil
	}

	inputNames := make([]string, len(inputs))
	inputValues := make([]ort.Value, len(inputs))
	for i, in := range inputs {
		t, err := newSeqTensor()
		if err != nil {
			destroy()
			return err
		}
		switch in.Name {
		case "input_ids":
			e.inputIDs = t
		case "attention_mask":
			e.attentionMask = t
		case "token_type_ids":
			e.tokenTypeIDs = t
		default:
			destroy()
			return fmt.Errorf("onnx model has unexpected input %q", in.Name)
		}
		inputNames[i] = in.Name
		inputValues[i] = t
	}
	if e.inputIDs == nil || e.attentionMask == nil {
		destroy()
		return fmt.Errorf("onnx model needs input_ids and attention_mask inputs")
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(e.cfg.MaxSeqLen), int64(e.cfg.Dimensions)))
	if err != nil {
		destroy()
		return fmt.Errorf("onnx new output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(e.cfg.ModelPath, inputNames, []string{outputs[0].Name},
		inputValues, []ort.Value{output}, nil)
	if err != nil {
		output.Destroy()
		destroy()
		return fmt.Errorf("onnx new session: %w", err)
	}

	e.tokenizer = tokenizer
	e.output = output
	e.session = session
	e.inited = true
	return nil
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("embedding input is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.initLocked(); err != nil {
		return nil, err
	}

	ids := e.tokenizer.Encode(text, e.cfg.MaxSeqLen)
	idData := e.inputIDs.GetData()
	maskData := e.attentionMask.GetData()
	for i := range idData {
		if i < len(ids) {
			idData[i] = ids[i]
			maskData[i] = 1
		} else {
			idData[i] = e.tokenizer.padID
			maskData[i] = 0
		}
	}
	if e.tokenTypeIDs != nil {
		clear(e.tokenTypeIDs.GetData())
	}

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	return meanPool(e.output.GetData(), maskData, e.cfg.Dimensions), nil
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (e *Embedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.inited {
		return nil
	}
	var firstErr error
	if err := e.session.Destroy(); err != nil {
		firstErr = err
	}
	for _, t := range []*ort.Tensor[int64]{e.inputIDs, e.attentionMask, e.tokenTypeIDs} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	_ = e.output.Destroy()
	e.inited = false
	return firstErr
}

// meanPool averages token vectors under the attention mask and L2-normalises
// the result. hidden is laid out [seq][dim].
func meanPool(hidden []float32, mask []int64, dim int) []float32 {
	sum := make([]float64, dim)
	var count float64
	for t, m := range mask {
		if m == 0 {
			continue
		}
		row := hidden[t*dim : (t+1)*dim]
		for j, v := range row {
			sum[j] += float64(v)
		}
		count++
	}

	out := make([]float32, dim)
	if count == 0 {
		return out
	}
	var norm float64
	for j := range sum {
		sum[j] /= count
		norm += sum[j] * sum[j]
	}
	norm = math.Sqrt(norm)
	if norm < 1e-12 {
		norm = 1e-12
	}
	for j := range sum {
		out[j] = float32(sum[j] / norm)
	}
	return out
}
