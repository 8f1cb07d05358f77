package index

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/scrypster/entityindex/internal/storage"
	"github.com/scrypster/entityindex/pkg/types"
)

// Score maps cosine similarity to [0,1] as (1 + cos) / 2. A zero vector on
// either side, or vectors of different length, score 0.
func Score(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	if math.IsNaN(cos) {
		return 0
	}
	if cos > 1 {
		cos = 1
	} else if cos < -1 {
		cos = -1
	}
	return (1 + cos) / 2
}

// Search embeds query once and ranks every record of the requested
// categories. Hits scoring below threshold are dropped; the rest are sorted
// by score descending, then category, then id, and capped at topK. topK <= 0
// leaves only the MaxScanLimit bound.
func (idx *Index) Search(ctx context.Context, query string, categories []types.Category, topK int, threshold float64) ([]types.ScoredRecord, error) {
	if len(categories) == 0 {
		categories = types.AllCategories
	}
	for _, c := range categories {
		if _, err := idx.lock(c); err != nil {
			return nil, err
		}
	}
	limit := topK
	if limit <= 0 || limit > storage.MaxScanLimit {
		limit = storage.MaxScanLimit
	}

	vecs, err := idx.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("%w: query embedding missing", ErrDimensionMismatch)
	}
	qv := vecs[0]
	if dim := idx.Dimension(); dim > 0 && len(qv) != dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index uses %d", ErrDimensionMismatch, len(qv), dim)
	}

	var hits []types.ScoredRecord
	seen := make(map[types.Category]bool, len(categories))
	for _, c := range categories {
		if seen[c] {
			continue
		}
		seen[c] = true

		found, err := idx.searchCategory(ctx, c, qv, limit)
		if err != nil {
			return nil, err
		}
		for _, h := range found {
			if h.Score >= threshold {
				hits = append(hits, h)
			}
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Category != hits[j].Category {
			return categoryRank(hits[i].Category) < categoryRank(hits[j].Category)
		}
		return hits[i].Record.ID < hits[j].Record.ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (idx *Index) searchCategory(ctx context.Context, c types.Category, qv []float32, limit int) ([]types.ScoredRecord, error) {
	l := idx.locks[c]
	l.RLock()
	defer l.RUnlock()

	if vs, ok := idx.store.(storage.VectorSearcher); ok {
		hits, err := vs.Nearest(ctx, c, qv, limit)
		if err != nil {
			return nil, fmt.Errorf("index: search %s: %w", c.Plural(), err)
		}
		return hits, nil
	}

	records, err := idx.store.LoadAll(ctx, c, storage.MaxScanLimit)
	if err != nil {
		return nil, fmt.Errorf("index: search %s: %w", c.Plural(), err)
	}
	hits := make([]types.ScoredRecord, 0, len(records))
	for _, r := range records {
		hits = append(hits, types.ScoredRecord{Category: c, Record: r, Score: Score(qv, r.Embedding)})
	}
	return hits, nil
}

func categoryRank(c types.Category) int {
	for i, x := range types.AllCategories {
		if x == c {
			return i
		}
	}
	return len(types.AllCategories)
}
