// Package index implements the entity index: one record per entity per
// category, content-addressed so unchanged entities are never re-embedded,
// with exact cosine-similarity search across categories.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/scrypster/entityindex/internal/embedding"
	"github.com/scrypster/entityindex/internal/storage"
	"github.com/scrypster/entityindex/pkg/types"
)

var (
	// ErrProviderUnavailable wraps embedding provider failures.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrDimensionMismatch is returned when the provider's vectors disagree
	// with the index dimension or the batch size disagrees with the input.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// DefaultBatchSize is the number of texts per provider call.
const DefaultBatchSize = 64

// Config tunes an Index.
type Config struct {
	// BatchSize is the number of texts per provider call (default 64).
	BatchSize int

	// Dimension pins the vector length. Zero adopts the first length the
	// provider returns and remembers it in storage metadata.
	Dimension int
}

// UpsertResult reports what an Upsert did.
type UpsertResult struct {
	Embedded int `json:"embedded"`
	Skipped  int `json:"skipped"`
}

// ReindexResult reports a full reindex per category.
type ReindexResult struct {
	Upserted map[types.Category]UpsertResult `json:"upserted"`
	Deleted  map[types.Category]int          `json:"deleted"`
}

// Index is the entity index. It is safe for concurrent use: each category
// has its own RWMutex, writers hold it only for the storage write, and
// embedding happens before the lock is taken.
type Index struct {
	store    storage.Store
	embedder embedding.Embedder
	cfg      Config

	locks map[types.Category]*sync.RWMutex

	dimMu sync.Mutex
	dim   int
}

// Open creates an Index over store. If the tables were built with a
// different embedding model (or a different pinned dimension), every table
// is cleared so the next reconciliation re-embeds everything.
func Open(ctx context.Context, store storage.Store, embedder embedding.Embedder, cfg Config) (*Index, error) {
	if store == nil || embedder == nil {
		return nil, fmt.Errorf("%w: store and embedder are required", storage.ErrInvalidInput)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Dimension < 0 {
		return nil, fmt.Errorf("%w: negative dimension", storage.ErrInvalidInput)
	}

	idx := &Index{
		store:    store,
		embedder: embedder,
		cfg:      cfg,
		locks:    make(map[types.Category]*sync.RWMutex, len(types.AllCategories)),
		dim:      cfg.Dimension,
	}
	for _, c := range types.AllCategories {
		idx.locks[c] = &sync.RWMutex{}
	}

	if err := idx.checkModel(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *Index) checkModel(ctx context.Context) error {
	model := idx.embedder.GetModel()

	storedModel, err := idx.store.GetMeta(ctx, storage.MetaEmbeddingModel)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("index: read model metadata: %w", err)
	}
	storedDim := 0
	if s, err := idx.store.GetMeta(ctx, storage.MetaEmbeddingDimension); err == nil {
		storedDim, _ = strconv.Atoi(s)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("index: read dimension metadata: %w", err)
	}

	modelChanged := storedModel != "" && storedModel != model
	dimChanged := idx.dim > 0 && storedDim > 0 && storedDim != idx.dim
	if modelChanged || dimChanged {
		log.Printf("index: WARNING: embedding model changed (%s/%d -> %s/%d), clearing index",
			storedModel, storedDim, model, idx.dim)
		for _, c := range types.AllCategories {
			if err := idx.store.Reset(ctx, c); err != nil {
				return fmt.Errorf("index: reset %s: %w", c.Plural(), err)
			}
		}
		storedDim = 0
	}

	if idx.dim == 0 {
		idx.dim = storedDim
	}
	if err := idx.store.SetMeta(ctx, storage.MetaEmbeddingModel, model); err != nil {
		return fmt.Errorf("index: write model metadata: %w", err)
	}
	if err := idx.store.SetMeta(ctx, storage.MetaEmbeddingDimension, strconv.Itoa(idx.dim)); err != nil {
		return fmt.Errorf("index: write dimension metadata: %w", err)
	}
	return nil
}

// Dimension returns the vector length of the index, or 0 when nothing has
// been embedded yet.
func (idx *Index) Dimension() int {
	idx.dimMu.Lock()
	defer idx.dimMu.Unlock()
	return idx.dim
}

// Model returns the embedding model name.
func (idx *Index) Model() string {
	return idx.embedder.GetModel()
}

func (idx *Index) lock(category types.Category) (*sync.RWMutex, error) {
	l, ok := idx.locks[category]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownCategory, string(category))
	}
	return l, nil
}

// Upsert (re)indexes entities of category whose content hash changed or
// that have no record yet. Unchanged entities are skipped without calling
// the provider.
func (idx *Index) Upsert(ctx context.Context, category types.Category, entities []types.Entity) (UpsertResult, error) {
	return idx.upsert(ctx, category, entities, false)
}

// Repair re-embeds and rewrites entities regardless of their stored hash.
// It is used for records whose embedding or data is damaged.
func (idx *Index) Repair(ctx context.Context, category types.Category, entities []types.Entity) (UpsertResult, error) {
	return idx.upsert(ctx, category, entities, true)
}

func (idx *Index) upsert(ctx context.Context, category types.Category, entities []types.Entity, force bool) (UpsertResult, error) {
	l, err := idx.lock(category)
	if err != nil {
		return UpsertResult{}, err
	}
	entities, err = dedupe(category, entities)
	if err != nil {
		return UpsertResult{}, err
	}
	if len(entities) == 0 {
		return UpsertResult{}, nil
	}

	var stored map[int64]string
	if !force {
		l.RLock()
		stored, err = idx.store.Hashes(ctx, category, storage.MaxScanLimit)
		l.RUnlock()
		if err != nil {
			return UpsertResult{}, fmt.Errorf("index: load %s hashes: %w", category.Plural(), err)
		}
	}

	var (
		result  UpsertResult
		pending []types.Entity
		hashes  []string
	)
	for _, e := range entities {
		h := ContentHash(e)
		if !force {
			if old, ok := stored[e.EntityID()]; ok && old == h {
				result.Skipped++
				continue
			}
		}
		pending = append(pending, e)
		hashes = append(hashes, h)
	}

	if err := idx.write(ctx, category, l, pending, hashes); err != nil {
		return result, err
	}
	result.Embedded = len(pending)
	return result, nil
}

// Refresh re-embeds only the entities whose freshly built text differs from
// the stored text, such as records embedded before keyword augmentation.
// Entities without a record are indexed.
func (idx *Index) Refresh(ctx context.Context, category types.Category, entities []types.Entity) (UpsertResult, error) {
	l, err := idx.lock(category)
	if err != nil {
		return UpsertResult{}, err
	}
	entities, err = dedupe(category, entities)
	if err != nil || len(entities) == 0 {
		return UpsertResult{}, err
	}

	l.RLock()
	records, err := idx.store.LoadAll(ctx, category, storage.MaxScanLimit)
	l.RUnlock()
	if err != nil {
		return UpsertResult{}, fmt.Errorf("index: load %s: %w", category.Plural(), err)
	}
	texts := make(map[int64]string, len(records))
	for _, r := range records {
		texts[r.ID] = r.Text
	}

	var (
		result  UpsertResult
		pending []types.Entity
		hashes  []string
	)
	for _, e := range entities {
		if old, ok := texts[e.EntityID()]; ok && old == EmbeddingText(e) {
			result.Skipped++
			continue
		}
		pending = append(pending, e)
		hashes = append(hashes, ContentHash(e))
	}

	if err := idx.write(ctx, category, l, pending, hashes); err != nil {
		return result, err
	}
	result.Embedded = len(pending)
	return result, nil
}

// write embeds pending entities, builds complete records and stores them in
// one transaction under the category write lock.
func (idx *Index) write(ctx context.Context, category types.Category, l *sync.RWMutex, pending []types.Entity, hashes []string) error {
	if len(pending) == 0 {
		return nil
	}

	texts := make([]string, len(pending))
	for i, e := range pending {
		texts[i] = EmbeddingText(e)
	}
	vectors, err := idx.embed(ctx, texts)
	if err != nil {
		return err
	}

	records := make([]types.IndexRecord, len(pending))
	for i, e := range pending {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("index: serialize %s %d: %w", category, e.EntityID(), err)
		}
		records[i] = types.IndexRecord{
			ID:          e.EntityID(),
			ContentHash: hashes[i],
			Text:        texts[i],
			Embedding:   vectors[i],
			Name:        e.EntityName(),
			Data:        data,
		}
	}

	l.Lock()
	defer l.Unlock()
	if err := idx.store.Put(ctx, category, records); err != nil {
		return fmt.Errorf("index: write %s: %w", category.Plural(), err)
	}
	return nil
}

// embed calls the provider in batches and checks every vector.
func (idx *Index) embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += idx.cfg.BatchSize {
		end := start + idx.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		vecs, err := idx.embedder.Embed(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		if len(vecs) != len(batch) {
			return nil, fmt.Errorf("%w: provider returned %d vectors for %d texts", ErrDimensionMismatch, len(vecs), len(batch))
		}
		for i, v := range vecs {
			if err := idx.checkVector(ctx, v); err != nil {
				return nil, fmt.Errorf("text %d: %w", start+i, err)
			}
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// checkVector enforces a constant, finite, non-empty embedding. The first
// vector fixes the dimension when none was configured.
func (idx *Index) checkVector(ctx context.Context, v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimensionMismatch)
	}
	for _, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("%w: non-finite value", ErrProviderUnavailable)
		}
	}

	idx.dimMu.Lock()
	defer idx.dimMu.Unlock()
	if idx.dim == 0 {
		idx.dim = len(v)
		if err := idx.store.SetMeta(ctx, storage.MetaEmbeddingDimension, strconv.Itoa(idx.dim)); err != nil {
			log.Printf("index: WARNING: failed to persist dimension: %v", err)
		}
		return nil
	}
	if len(v) != idx.dim {
		return fmt.Errorf("%w: got %d, index uses %d", ErrDimensionMismatch, len(v), idx.dim)
	}
	return nil
}

// Delete removes the records with the given ids. Unknown ids are a no-op.
func (idx *Index) Delete(ctx context.Context, category types.Category, ids []int64) (int, error) {
	l, err := idx.lock(category)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	l.Lock()
	defer l.Unlock()
	n, err := idx.store.Delete(ctx, category, ids)
	if err != nil {
		return 0, fmt.Errorf("index: delete from %s: %w", category.Plural(), err)
	}
	return n, nil
}

// Records returns every record of category, for validation.
func (idx *Index) Records(ctx context.Context, category types.Category) ([]types.IndexRecord, error) {
	l, err := idx.lock(category)
	if err != nil {
		return nil, err
	}
	l.RLock()
	defer l.RUnlock()
	records, err := idx.store.LoadAll(ctx, category, storage.MaxScanLimit)
	if err != nil {
		return nil, fmt.Errorf("index: load %s: %w", category.Plural(), err)
	}
	return records, nil
}

// Stats returns the true number of records per category.
func (idx *Index) Stats(ctx context.Context) (types.IndexStats, error) {
	var stats types.IndexStats
	for _, c := range types.AllCategories {
		l := idx.locks[c]
		l.RLock()
		n, err := idx.store.Count(ctx, c)
		l.RUnlock()
		if err != nil {
			return types.IndexStats{}, fmt.Errorf("index: count %s: %w", c.Plural(), err)
		}
		switch c {
		case types.CategoryDevice:
			stats.Devices = n
		case types.CategoryVariable:
			stats.Variables = n
		case types.CategoryAction:
			stats.Actions = n
		}
		stats.Total += n
	}
	return stats, nil
}

// Reindex upserts every supplied entity and deletes records whose id is no
// longer present, for all three categories.
func (idx *Index) Reindex(ctx context.Context, devices []*types.Device, variables []*types.Variable, actions []*types.Action) (ReindexResult, error) {
	snap := types.Snapshot{Devices: devices, Variables: variables, Actions: actions}
	result := ReindexResult{
		Upserted: make(map[types.Category]UpsertResult, len(types.AllCategories)),
		Deleted:  make(map[types.Category]int, len(types.AllCategories)),
	}

	for _, c := range types.AllCategories {
		entities := snap.Entities(c)
		up, err := idx.Upsert(ctx, c, entities)
		if err != nil {
			return result, err
		}
		result.Upserted[c] = up

		l := idx.locks[c]
		l.RLock()
		hashes, err := idx.store.Hashes(ctx, c, storage.MaxScanLimit)
		l.RUnlock()
		if err != nil {
			return result, fmt.Errorf("index: load %s hashes: %w", c.Plural(), err)
		}
		live := make(map[int64]struct{}, len(entities))
		for _, e := range entities {
			live[e.EntityID()] = struct{}{}
		}
		var orphans []int64
		for id := range hashes {
			if _, ok := live[id]; !ok {
				orphans = append(orphans, id)
			}
		}
		sort.Slice(orphans, func(i, j int) bool { return orphans[i] < orphans[j] })
		n, err := idx.Delete(ctx, c, orphans)
		if err != nil {
			return result, err
		}
		result.Deleted[c] = n
	}
	return result, nil
}

// dedupe checks categories and keeps the last entity per id.
func dedupe(category types.Category, entities []types.Entity) ([]types.Entity, error) {
	pos := make(map[int64]int, len(entities))
	out := make([]types.Entity, 0, len(entities))
	for _, e := range entities {
		if e == nil {
			continue
		}
		if e.EntityCategory() != category {
			return nil, fmt.Errorf("%w: %s %d passed as %s", storage.ErrInvalidInput, e.EntityCategory(), e.EntityID(), category)
		}
		if i, ok := pos[e.EntityID()]; ok {
			out[i] = e
			continue
		}
		pos[e.EntityID()] = len(out)
		out = append(out, e)
	}
	return out, nil
}
