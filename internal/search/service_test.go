package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/entityindex/internal/embedding"
	"github.com/scrypster/entityindex/internal/index"
	"github.com/scrypster/entityindex/internal/metrics"
	"github.com/scrypster/entityindex/internal/source"
	"github.com/scrypster/entityindex/internal/storage/sqlite"
	"github.com/scrypster/entityindex/pkg/types"
)

type flakyEmbedder struct {
	next  embedding.Embedder
	calls atomic.Int64
	fail  atomic.Bool
}

func (e *flakyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.fail.Load() {
		return nil, errors.New("connection refused")
	}
	return e.next.Embed(ctx, texts)
}

func (e *flakyEmbedder) GetModel() string { return e.next.GetModel() }

func zero() *float64 {
	v := 0.0
	return &v
}

func newTestService(t *testing.T, snap *types.Snapshot, opts ...Option) (*Service, *flakyEmbedder) {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	emb := &flakyEmbedder{next: embedding.NewHashEmbedder(256)}
	idx, err := index.Open(ctx, store, emb, index.Config{})
	require.NoError(t, err)

	svc := NewService(idx, opts...)
	_, err = svc.Reindex(ctx, snap.Devices, snap.Variables, snap.Actions)
	require.NoError(t, err)
	return svc, emb
}

func kitchenSnapshot() *types.Snapshot {
	off := false
	return &types.Snapshot{
		Devices: []*types.Device{
			{Base: types.Base{ID: 1, Name: "Kitchen Switch"}, DeviceTypeID: "relay", Enabled: &off,
				States: map[string]any{"onState": true}},
			{Base: types.Base{ID: 2, Name: "Kitchen Dimmer"}, DeviceTypeID: "dimmer",
				States: map[string]any{"onState": false, "brightnessLevel": 0.0}},
			{Base: types.Base{ID: 3, Name: "Garage Dimmer"}, DeviceTypeID: "dimmer",
				States: map[string]any{"onState": true, "brightnessLevel": 80.0}},
		},
		Variables: []*types.Variable{
			{Base: types.Base{ID: 10, Name: "kitchen_occupied"}, Value: "true"},
		},
		Actions: []*types.Action{
			{Base: types.Base{ID: 20, Name: "Kitchen Evening Scene"}},
		},
	}
}

func ids(entries []map[string]any) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, int64(e["id"].(float64)))
	}
	return out
}

func TestSearch_ShowAllLightsCapsAtFifty(t *testing.T) {
	snap := &types.Snapshot{}
	for i := 1; i <= 60; i++ {
		snap.Devices = append(snap.Devices, &types.Device{
			Base:         types.Base{ID: int64(i), Name: fmt.Sprintf("Light %d", i)},
			DeviceTypeID: "dimmer",
		})
	}
	svc, _ := newTestService(t, snap)

	resp := svc.Search(context.Background(), types.SearchRequest{Query: "show all lights"})
	require.Empty(t, resp.Error)
	assert.Equal(t, 50, resp.TotalCount)
	assert.Contains(t, resp.Summary, "and 40 more")
}

func TestSearch_ExplicitTopKAndThreshold(t *testing.T) {
	svc, _ := newTestService(t, kitchenSnapshot())
	resp := svc.Search(context.Background(), types.SearchRequest{Query: "kitchen", TopK: 2, Threshold: zero()})
	require.Empty(t, resp.Error)
	assert.Equal(t, 2, resp.TotalCount)

	high := 0.999
	resp = svc.Search(context.Background(), types.SearchRequest{Query: "kitchen", Threshold: &high})
	require.Empty(t, resp.Error)
	assert.Zero(t, resp.TotalCount)
}

func TestSearch_DeviceTypeFilterKeepsOtherCategories(t *testing.T) {
	svc, _ := newTestService(t, kitchenSnapshot())

	resp := svc.Search(context.Background(), types.SearchRequest{
		Query:       "kitchen switch",
		DeviceTypes: []string{"dimmer"},
		Threshold:   zero(),
	})
	require.Empty(t, resp.Error)
	assert.ElementsMatch(t, []int64{2, 3}, ids(resp.Results.Devices), "the relay is excluded")
	assert.Equal(t, []int64{10}, ids(resp.Results.Variables))
	assert.Equal(t, []int64{20}, ids(resp.Results.Actions))
}

func TestSearch_StateFilter(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, kitchenSnapshot())

	resp := svc.Search(ctx, types.SearchRequest{
		Query:       "lights",
		Categories:  []string{"devices"},
		StateFilter: map[string]any{"onState": true},
		Threshold:   zero(),
	})
	require.Empty(t, resp.Error)
	assert.ElementsMatch(t, []int64{1, 3}, ids(resp.Results.Devices))

	resp = svc.Search(ctx, types.SearchRequest{
		Query:       "lights",
		StateFilter: map[string]any{"brightnessLevel": map[string]any{"gt": 50}},
		Threshold:   zero(),
	})
	require.Empty(t, resp.Error)
	assert.Equal(t, []int64{3}, ids(resp.Results.Devices))
	assert.Len(t, resp.Results.Variables, 1, "state filter applies to devices only")
}

func TestSearch_StateFilterUsesLiveState(t *testing.T) {
	ctx := context.Background()
	snap := kitchenSnapshot()
	src := source.NewStatic(snap)
	svc, _ := newTestService(t, snap, WithSource(src))

	// the controller now reports the kitchen dimmer on
	live := kitchenSnapshot()
	live.Devices[1].States["onState"] = true
	src.Set(types.CategoryDevice, live.Entities(types.CategoryDevice))

	resp := svc.Search(ctx, types.SearchRequest{
		Query:       "kitchen",
		Categories:  []string{"device"},
		StateFilter: map[string]any{"onState": true},
		Threshold:   zero(),
	})
	require.Empty(t, resp.Error)
	assert.ElementsMatch(t, []int64{1, 2, 3}, ids(resp.Results.Devices))
}

func TestSearch_FailuresAreStructured(t *testing.T) {
	ctx := context.Background()
	svc, emb := newTestService(t, kitchenSnapshot())

	emb.fail.Store(true)
	resp := svc.Search(ctx, types.SearchRequest{Query: "kitchen"})
	assert.Equal(t, "kitchen", resp.Query)
	assert.Contains(t, resp.Error, index.ErrProviderUnavailable.Error())
	assert.Zero(t, resp.TotalCount)
	assert.NotNil(t, resp.Results.Devices)
	emb.fail.Store(false)

	calls := emb.calls.Load()
	resp = svc.Search(ctx, types.SearchRequest{Query: "kitchen", Categories: []string{"rooms"}})
	assert.Contains(t, resp.Error, "unknown category")
	assert.Equal(t, calls, emb.calls.Load(), "rejected before the provider is called")

	resp = svc.Search(ctx, types.SearchRequest{Query: "  "})
	assert.NotEmpty(t, resp.Error)

	bad := 1.5
	resp = svc.Search(ctx, types.SearchRequest{Query: "kitchen", Threshold: &bad})
	assert.NotEmpty(t, resp.Error)
}

func TestSearch_RecordsMetrics(t *testing.T) {
	m := metrics.New("test")
	svc, _ := newTestService(t, kitchenSnapshot(), WithMetrics(m))
	svc.Search(context.Background(), types.SearchRequest{Query: "kitchen"})

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, strings.Join(names, " "), "test_searches_total")
}

func TestService_ValidateAndReindexFromSource(t *testing.T) {
	ctx := context.Background()
	snap := kitchenSnapshot()
	src := source.NewStatic(snap)
	svc, _ := newTestService(t, &types.Snapshot{}, WithSource(src))

	report, err := svc.Validate(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, report[types.CategoryDevice].Priorities.Critical)
	assert.Equal(t, 3, report[types.CategoryDevice].Summary["missing_record"])

	res, err := svc.ReindexFromSource(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Upserted[types.CategoryDevice].Embedded)

	report, err = svc.Validate(ctx)
	require.NoError(t, err)
	for _, c := range types.AllCategories {
		assert.Zero(t, report[c].Summary["total_issues"], c)
	}

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
}

func TestService_WithoutSource(t *testing.T) {
	svc, _ := newTestService(t, &types.Snapshot{})
	_, err := svc.Validate(context.Background())
	assert.ErrorIs(t, err, ErrNoSource)
	_, err = svc.ReindexFromSource(context.Background())
	assert.ErrorIs(t, err, ErrNoSource)
}
