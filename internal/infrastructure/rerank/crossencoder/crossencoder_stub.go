//go:build !cgo

package crossencoder

import (
	"context"
	"errors"
)

var errNoCGO = errors.New("cross-encoder reranker requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// Scorer is unavailable without CGO.
type Scorer struct{}

func New(string, int) (*Scorer, error) {
	return nil, errNoCGO
}

func (*Scorer) Score(context.Context, string, []string) ([]float64, error) {
	return nil, errNoCGO
}

func (*Scorer) Close() error { return nil }
