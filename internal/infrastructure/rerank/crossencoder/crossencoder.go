//go:build cgo

package crossencoder

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Scorer runs a cross-encoder ONNX model over (query, passage) pairs.
type Scorer struct {
	mu        sync.Mutex
	session   *ort.AdvancedSession
	maxTokens int
	tokenizer PairTokenizer

	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	logits        *ort.Tensor[float32]
}

func New(modelPath string, maxTokens int) (*Scorer, error) {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}

	shape := ort.NewShape(1, int64(maxTokens))
	inputIDs, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		return nil, fmt.Errorf("create input_ids tensor: %w", err)
	}
	attentionMask, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		_ = inputIDs.Destroy()
		return nil, fmt.Errorf("create attention_mask tensor: %w", err)
	}
	tokenTypeIDs, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		_ = inputIDs.Destroy()
		_ = attentionMask.Destroy()
		return nil, fmt.Errorf("create token_type_ids tensor: %w", err)
	}
	logits, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		_ = inputIDs.Destroy()
		_ = attentionMask.Destroy()
		_ = tokenTypeIDs.Destroy()
		return nil, fmt.Errorf("create logits tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"logits"},
		[]ort.ArbitraryTensor{inputIDs, attentionMask, tokenTypeIDs},
		[]ort.ArbitraryTensor{logits},
		nil,
	)
	if err != nil {
		_ = inputIDs.Destroy()
		_ = attentionMask.Destroy()
		_ = tokenTypeIDs.Destroy()
		_ = logits.Destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &Scorer{
		session:       session,
		maxTokens:     maxTokens,
		tokenizer:     HashTokenizer{},
		inputIDs:      inputIDs,
		attentionMask: attentionMask,
		tokenTypeIDs:  tokenTypeIDs,
		logits:        logits,
	}, nil
}

// Score returns one relevance logit per content, in input order.
func (s *Scorer) Score(ctx context.Context, query string, contents []string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scores := make([]float64, len(contents))
	for i, content := range contents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids, mask, types := s.tokenizer.TokenizePair(query, content, s.maxTokens)
		copy(s.inputIDs.GetData(), ids)
		copy(s.attentionMask.GetData(), mask)
		copy(s.tokenTypeIDs.GetData(), types)
		if err := s.session.Run(); err != nil {
			return nil, fmt.Errorf("cross-encoder inference: %w", err)
		}
		scores[i] = float64(s.logits.GetData()[0])
	}
	return scores, nil
}

func (s *Scorer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.session != nil {
		err = s.session.Destroy()
		s.session = nil
	}
	for _, t := range []interface{ Destroy() error }{s.inputIDs, s.attentionMask, s.tokenTypeIDs, s.logits} {
		if t != nil {
			_ = t.Destroy()
		}
	}
	s.inputIDs, s.attentionMask, s.tokenTypeIDs, s.logits = nil, nil, nil, nil
	return err
}
