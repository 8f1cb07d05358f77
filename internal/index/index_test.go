package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/entityindex/internal/embedding"
	"github.com/scrypster/entityindex/internal/storage"
	"github.com/scrypster/entityindex/internal/storage/sqlite"
	"github.com/scrypster/entityindex/pkg/types"
)

// countingEmbedder wraps the hash embedder and records provider traffic.
type countingEmbedder struct {
	next  embedding.Embedder
	model string
	calls atomic.Int64
	texts atomic.Int64
	fail  atomic.Bool
}

func newCountingEmbedder(dim int) *countingEmbedder {
	return &countingEmbedder{next: embedding.NewHashEmbedder(dim)}
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.fail.Load() {
		return nil, errors.New("connection refused")
	}
	c.calls.Add(1)
	c.texts.Add(int64(len(texts)))
	return c.next.Embed(ctx, texts)
}

func (c *countingEmbedder) GetModel() string {
	if c.model != "" {
		return c.model
	}
	return c.next.GetModel()
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestIndex(t *testing.T) (*Index, *countingEmbedder, *sqlite.Store) {
	t.Helper()
	store := newTestStore(t)
	emb := newCountingEmbedder(256)
	idx, err := Open(context.Background(), store, emb, Config{BatchSize: 4})
	require.NoError(t, err)
	return idx, emb, store
}

func device(id int64, name string) *types.Device {
	return &types.Device{
		Base:         types.Base{ID: id, Name: name, Description: name + " description"},
		Model:        "Dimmer Switch",
		DeviceTypeID: "dimmer",
		Class:        "indigo.DimmerDevice",
		States:       map[string]any{"onState": true, "brightnessLevel": 50.0},
	}
}

func devices(n int) []types.Entity {
	out := make([]types.Entity, n)
	for i := range out {
		out[i] = device(int64(i+1), fmt.Sprintf("Device %d", i+1))
	}
	return out
}

func TestUpsert_Idempotent(t *testing.T) {
	idx, emb, _ := newTestIndex(t)
	ctx := context.Background()

	res, err := idx.Upsert(ctx, types.CategoryDevice, devices(3))
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Embedded: 3}, res)
	calls := emb.calls.Load()

	res, err = idx.Upsert(ctx, types.CategoryDevice, devices(3))
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Skipped: 3}, res)
	assert.Equal(t, calls, emb.calls.Load(), "unchanged entities must not reach the provider")
}

func TestUpsert_BatchesProviderCalls(t *testing.T) {
	idx, emb, _ := newTestIndex(t)

	_, err := idx.Upsert(context.Background(), types.CategoryDevice, devices(10))
	require.NoError(t, err)
	assert.Equal(t, int64(3), emb.calls.Load(), "batch size 4 over 10 texts")
	assert.Equal(t, int64(10), emb.texts.Load())
}

func TestUpsert_ElevenRoundTrip(t *testing.T) {
	idx, _, _ := newTestIndex(t)
	ctx := context.Background()

	_, err := idx.Upsert(ctx, types.CategoryDevice, devices(11))
	require.NoError(t, err)

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 11, stats.Devices)
	assert.Equal(t, 11, stats.Total)

	hits, err := idx.Search(ctx, "device", []types.Category{types.CategoryDevice}, 20, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 11)

	hits, err = idx.Search(ctx, "device", nil, 0, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 11, "topK <= 0 is bounded only by the scan limit")
}

func TestUpsert_DataRoundTrip(t *testing.T) {
	idx, _, _ := newTestIndex(t)
	ctx := context.Background()

	d := device(42, "Living Room Lamp")
	d.Extra = map[string]any{"onState": false, "customField": "kept"}
	_, err := idx.Upsert(ctx, types.CategoryDevice, []types.Entity{d})
	require.NoError(t, err)

	records, err := idx.Records(ctx, types.CategoryDevice)
	require.NoError(t, err)
	require.Len(t, records, 1)

	r := records[0]
	assert.Equal(t, ContentHash(d), r.ContentHash)
	assert.Equal(t, EmbeddingText(d), r.Text)
	assert.Equal(t, "Living Room Lamp", r.Name)

	obj, err := r.DecodeData()
	require.NoError(t, err)
	assert.Equal(t, "kept", obj["customField"])

	back, err := types.DecodeEntity(types.CategoryDevice, r.Data)
	require.NoError(t, err)
	want, _ := json.Marshal(d)
	got, _ := json.Marshal(back)
	assert.JSONEq(t, string(want), string(got))
}

func TestUpsert_RenameReembedsOnlyThatEntity(t *testing.T) {
	idx, emb, _ := newTestIndex(t)
	ctx := context.Background()

	ents := devices(5)
	_, err := idx.Upsert(ctx, types.CategoryDevice, ents)
	require.NoError(t, err)
	before := emb.texts.Load()

	ents[0] = device(1, "Renamed Kitchen Light")
	res, err := idx.Upsert(ctx, types.CategoryDevice, ents)
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Embedded: 1, Skipped: 4}, res)
	assert.Equal(t, before+1, emb.texts.Load())

	records, err := idx.Records(ctx, types.CategoryDevice)
	require.NoError(t, err)
	assert.Equal(t, "Renamed Kitchen Light", records[0].Name)
}

func TestUpsert_ProviderFailureWritesNothing(t *testing.T) {
	idx, emb, _ := newTestIndex(t)
	emb.fail.Store(true)

	_, err := idx.Upsert(context.Background(), types.CategoryDevice, devices(2))
	require.ErrorIs(t, err, ErrProviderUnavailable)

	stats, err := idx.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestUpsert_WrongCategory(t *testing.T) {
	idx, _, _ := newTestIndex(t)

	_, err := idx.Upsert(context.Background(), types.CategoryVariable, devices(1))
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = idx.Upsert(context.Background(), types.Category("rooms"), devices(1))
	assert.ErrorIs(t, err, types.ErrUnknownCategory)
}

func TestUpsert_DimensionMismatch(t *testing.T) {
	store := newTestStore(t)
	idx, err := Open(context.Background(), store, newCountingEmbedder(32), Config{Dimension: 16})
	require.NoError(t, err)

	_, err = idx.Upsert(context.Background(), types.CategoryDevice, devices(1))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestOpen_ModelChangeClearsIndex(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := newCountingEmbedder(16)
	first.model = "model-a"
	idx, err := Open(ctx, store, first, Config{})
	require.NoError(t, err)
	_, err = idx.Upsert(ctx, types.CategoryDevice, devices(2))
	require.NoError(t, err)
	assert.Equal(t, 16, idx.Dimension())

	// Same model: data survives.
	idx, err = Open(ctx, store, first, Config{})
	require.NoError(t, err)
	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 16, idx.Dimension())

	second := newCountingEmbedder(16)
	second.model = "model-b"
	idx, err = Open(ctx, store, second, Config{})
	require.NoError(t, err)
	stats, err = idx.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)

	model, err := store.GetMeta(ctx, storage.MetaEmbeddingModel)
	require.NoError(t, err)
	assert.Equal(t, "model-b", model)
}

func TestRefresh_OnlyChangedText(t *testing.T) {
	idx, emb, store := newTestIndex(t)
	ctx := context.Background()

	d := device(7, "Kitchen Light")
	_, err := idx.Upsert(ctx, types.CategoryDevice, []types.Entity{d})
	require.NoError(t, err)

	res, err := idx.Refresh(ctx, types.CategoryDevice, []types.Entity{d})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Skipped: 1}, res)

	// Simulate a record embedded before keyword augmentation.
	records, err := store.LoadAll(ctx, types.CategoryDevice, 10)
	require.NoError(t, err)
	old := records[0]
	old.Text = `{"name":"Kitchen Light"}`
	require.NoError(t, store.Put(ctx, types.CategoryDevice, []types.IndexRecord{old}))

	before := emb.texts.Load()
	res, err = idx.Refresh(ctx, types.CategoryDevice, []types.Entity{d})
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Embedded: 1}, res)
	assert.Equal(t, before+1, emb.texts.Load())

	records, err = idx.Records(ctx, types.CategoryDevice)
	require.NoError(t, err)
	assert.Equal(t, EmbeddingText(d), records[0].Text)
}

func TestRepair_IgnoresHash(t *testing.T) {
	idx, _, _ := newTestIndex(t)
	ctx := context.Background()

	ents := devices(2)
	_, err := idx.Upsert(ctx, types.CategoryDevice, ents)
	require.NoError(t, err)

	res, err := idx.Repair(ctx, types.CategoryDevice, ents[:1])
	require.NoError(t, err)
	assert.Equal(t, UpsertResult{Embedded: 1}, res)
}

func TestDelete_MissingIsNoop(t *testing.T) {
	idx, _, _ := newTestIndex(t)
	ctx := context.Background()

	_, err := idx.Upsert(ctx, types.CategoryDevice, devices(2))
	require.NoError(t, err)

	n, err := idx.Delete(ctx, types.CategoryDevice, []int64{2, 99})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = idx.Delete(ctx, types.CategoryDevice, []int64{99})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReindex_DeletesOrphans(t *testing.T) {
	idx, _, _ := newTestIndex(t)
	ctx := context.Background()

	all := []*types.Device{device(1, "a"), device(2, "b"), device(3, "c")}
	vars := []*types.Variable{{Base: types.Base{ID: 10, Name: "house_mode"}, Value: "home"}}
	_, err := idx.Reindex(ctx, all, vars, nil)
	require.NoError(t, err)

	res, err := idx.Reindex(ctx, all[:2], nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted[types.CategoryDevice])
	assert.Equal(t, 1, res.Deleted[types.CategoryVariable])
	assert.Equal(t, UpsertResult{Skipped: 2}, res.Upserted[types.CategoryDevice])

	stats, err := idx.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.IndexStats{Devices: 2, Total: 2}, stats)
}

func TestSearch_RanksAndFilters(t *testing.T) {
	idx, _, _ := newTestIndex(t)
	ctx := context.Background()

	_, err := idx.Upsert(ctx, types.CategoryDevice, []types.Entity{
		device(1, "Kitchen Light"),
		device(2, "Garage Door"),
	})
	require.NoError(t, err)
	_, err = idx.Upsert(ctx, types.CategoryAction, []types.Entity{
		&types.Action{Base: types.Base{ID: 5, Name: "Kitchen Light Scene"}},
	})
	require.NoError(t, err)

	hits, err := idx.Search(ctx, "kitchen light", nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.NotEqual(t, int64(2), hits[0].Record.ID)
	for i := 1; i < len(hits); i++ {
		assert.GreaterOrEqual(t, hits[i-1].Score, hits[i].Score)
	}
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Score, 0.0)
		assert.LessOrEqual(t, h.Score, 1.0)
	}

	hits, err = idx.Search(ctx, "kitchen light", []types.Category{types.CategoryAction}, 10, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, types.CategoryAction, hits[0].Category)

	hits, err = idx.Search(ctx, "kitchen light", nil, 10, 1.01)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = idx.Search(ctx, "kitchen light", nil, 1, 0)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestSearch_ProviderDown(t *testing.T) {
	idx, emb, _ := newTestIndex(t)
	emb.fail.Store(true)

	_, err := idx.Search(context.Background(), "x", nil, 10, 0)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestScore(t *testing.T) {
	assert.InDelta(t, 1.0, Score([]float32{1, 0}, []float32{2, 0}), 1e-9)
	assert.InDelta(t, 0.5, Score([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, 0.0, Score([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Zero(t, Score([]float32{0, 0}, []float32{1, 0}))
	assert.Zero(t, Score([]float32{1}, []float32{1, 0}))
}

func TestContentHash_Deterministic(t *testing.T) {
	a := device(1, "Porch")
	b := device(1, "Porch")
	b.States = map[string]any{"onState": false} // live state is not static

	assert.Equal(t, ContentHash(a), ContentHash(b))
	assert.Len(t, ContentHash(a), 64)

	b.Name = "Porch Light"
	assert.NotEqual(t, ContentHash(a), ContentHash(b))
}

func TestEmbeddingText_Shape(t *testing.T) {
	v := &types.Variable{Base: types.Base{ID: 3, Name: "bedroom_temp", Description: "Bedroom"}, Value: "21.5"}
	text := EmbeddingText(v)

	assert.Contains(t, text, `{"description":"Bedroom","name":"bedroom_temp"}`)
	assert.Contains(t, text, " numeric")
	assert.Contains(t, text, "temperature")
}

func TestConcurrentSearchDuringUpsert(t *testing.T) {
	idx, _, _ := newTestIndex(t)
	ctx := context.Background()

	_, err := idx.Upsert(ctx, types.CategoryDevice, devices(20))
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				hits, err := idx.Search(ctx, "device", nil, 50, 0)
				if !assert.NoError(t, err) {
					return
				}
				for _, h := range hits {
					obj, err := h.Record.DecodeData()
					if !assert.NoError(t, err) {
						return
					}
					// Name and data are written together.
					assert.Equal(t, h.Record.Name, obj["name"])
				}
			}
		}()
	}

	for round := 0; round < 5; round++ {
		ents := make([]types.Entity, 20)
		for i := range ents {
			ents[i] = device(int64(i+1), fmt.Sprintf("Device %d round %d", i+1, round))
		}
		_, err := idx.Upsert(ctx, types.CategoryDevice, ents)
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}
