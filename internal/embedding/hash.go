package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// DefaultHashDimension is the vector length of HashEmbedder when none is given.
const DefaultHashDimension = 256

// HashEmbedder is a deterministic, offline Embedder. Each lower-cased token
// is hashed into one of Dimension buckets with a signed weight, and the
// resulting bag-of-words vector is L2-normalized. Texts sharing tokens score
// higher than unrelated ones, which is enough for tests and air-gapped
// deployments.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder creates a HashEmbedder. dim <= 0 uses DefaultHashDimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultHashDimension
	}
	return &HashEmbedder{dim: dim}
}

// Embed never fails unless ctx is done.
func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	vec := make([]float32, h.dim)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		hf := fnv.New64a()
		_, _ = hf.Write([]byte(tok))
		sum := hf.Sum64()
		bucket := int(sum % uint64(h.dim))
		if sum&(1<<63) != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// Empty text still needs a usable vector.
		vec[0] = 1
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

// GetModel returns a name that encodes the dimension so a dimension change
// is seen as a model change.
func (h *HashEmbedder) GetModel() string {
	return "hash-" + strconv.Itoa(h.dim)
}

// Dimension returns the vector length.
func (h *HashEmbedder) Dimension() int {
	return h.dim
}

var _ Embedder = (*HashEmbedder)(nil)
