package embedding

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestHashEmbedder_Deterministic(t *testing.T) {
	h := NewHashEmbedder(64)
	a, err := h.Embed(context.Background(), []string{"Kitchen Light dimmer"})
	require.NoError(t, err)
	b, err := h.Embed(context.Background(), []string{"kitchen light DIMMER"})
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Len(t, a[0], 64)
}

func TestHashEmbedder_SharedTokensScoreHigher(t *testing.T) {
	h := NewHashEmbedder(0)
	vecs, err := h.Embed(context.Background(), []string{
		"kitchen light",
		"kitchen light dimmer",
		"garage door sensor",
	})
	require.NoError(t, err)

	assert.Greater(t, cosine(vecs[0], vecs[1]), cosine(vecs[0], vecs[2]))
}

func TestHashEmbedder_EmptyTextIsNonZero(t *testing.T) {
	vecs, err := NewHashEmbedder(8).Embed(context.Background(), []string{""})
	require.NoError(t, err)
	assert.Equal(t, float32(1), vecs[0][0])
}

func TestHashEmbedder_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHashEmbedder(8).Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}
