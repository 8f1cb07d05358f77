// Package embedding provides the embedding provider collaborator: the
// Embedder interface, HTTP clients for OpenAI and Ollama protected by a
// circuit breaker and an optional request throttle, and a deterministic
// offline embedder.
package embedding

import (
	"context"
	"fmt"
	"math"
)

// Embedder converts texts to fixed-length vectors in one batched call.
// The result has the same length and order as texts, and every vector has
// the provider's stable dimensionality.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	GetModel() string
}

// checkBatch verifies a provider response against its request.
func checkBatch(provider string, texts []string, vecs [][]float32) error {
	if len(vecs) != len(texts) {
		return fmt.Errorf("%s returned %d embeddings for %d inputs", provider, len(vecs), len(texts))
	}
	dim := -1
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("%s returned empty embedding at position %d", provider, i)
		}
		if dim >= 0 && len(v) != dim {
			return fmt.Errorf("%s returned mixed dimensions (%d and %d)", provider, dim, len(v))
		}
		dim = len(v)
		for _, f := range v {
			if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
				return fmt.Errorf("%s returned non-finite value at position %d", provider, i)
			}
		}
	}
	return nil
}
