package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/entityindex/internal/embedding"
	"github.com/scrypster/entityindex/internal/index"
	"github.com/scrypster/entityindex/internal/indexsync"
	"github.com/scrypster/entityindex/internal/search"
	"github.com/scrypster/entityindex/internal/source"
	"github.com/scrypster/entityindex/internal/storage/sqlite"
	"github.com/scrypster/entityindex/pkg/types"
	"github.com/scrypster/entityindex/web/handlers"
)

type openCircuitEmbedder struct {
	*embedding.HashEmbedder
}

func (openCircuitEmbedder) CircuitState() string { return "open" }

func snapshot() *types.Snapshot {
	return &types.Snapshot{
		Devices: []*types.Device{
			{Base: types.Base{ID: 1, Name: "Kitchen Switch"}, DeviceTypeID: "relay",
				States: map[string]any{"onState": true}},
			{Base: types.Base{ID: 2, Name: "Kitchen Dimmer"}, DeviceTypeID: "dimmer",
				States: map[string]any{"onState": false}},
		},
		Variables: []*types.Variable{{Base: types.Base{ID: 10, Name: "kitchen_occupied"}, Value: "true"}},
		Actions:   []*types.Action{{Base: types.Base{ID: 20, Name: "Kitchen Evening Scene"}}},
	}
}

type fixture struct {
	api *handlers.APIHandlers
	mgr *indexsync.Manager
}

func newFixture(t *testing.T, withSync bool, emb embedding.Embedder) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if emb == nil {
		emb = embedding.NewHashEmbedder(128)
	}
	idx, err := index.Open(ctx, store, emb, index.Config{})
	require.NoError(t, err)

	src := source.NewStatic(snapshot())
	f := &fixture{}
	opts := []search.Option{}
	if withSync {
		f.mgr, err = indexsync.NewManager(src, idx, indexsync.Config{})
		require.NoError(t, err)
		_, err = f.mgr.UpdateNow(ctx)
		require.NoError(t, err)
		opts = append(opts, search.WithSource(src))
	}
	f.api = handlers.NewAPIHandlers(search.NewService(idx, opts...), idx, f.mgr, emb)
	return f
}

func get(t *testing.T, h http.HandlerFunc, target string, out any) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h(w, httptest.NewRequest(http.MethodGet, target, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w
}

func TestSearch_QueryParameters(t *testing.T) {
	f := newFixture(t, true, nil)

	q := url.Values{}
	q.Set("q", "kitchen")
	q.Set("categories", "devices, actions")
	q.Set("device_types", "dimmer")
	q.Set("threshold", "0")
	var resp types.SearchResponse
	w := get(t, f.api.Search, "/api/search?"+q.Encode(), &resp)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Empty(t, resp.Error)
	require.Len(t, resp.Results.Devices, 1)
	assert.EqualValues(t, 2, resp.Results.Devices[0]["id"])
	assert.Empty(t, resp.Results.Variables)
	assert.Len(t, resp.Results.Actions, 1)
}

func TestSearch_StateParameter(t *testing.T) {
	f := newFixture(t, true, nil)

	q := url.Values{}
	q.Set("q", "kitchen")
	q.Set("categories", "devices")
	q.Set("state", `{"onState": true}`)
	q.Set("threshold", "0")
	var resp types.SearchResponse
	get(t, f.api.Search, "/api/search?"+q.Encode(), &resp)
	require.Empty(t, resp.Error)
	require.Len(t, resp.Results.Devices, 1)
	assert.EqualValues(t, 1, resp.Results.Devices[0]["id"])
}

func TestSearch_BadParameters(t *testing.T) {
	f := newFixture(t, false, nil)

	w := get(t, f.api.Search, "/api/search?q=kitchen&threshold=high", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = get(t, f.api.Search, "/api/search?q=kitchen&state=%7Bnope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var resp types.SearchResponse
	w = get(t, f.api.Search, "/api/search?q=", &resp)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, resp.Error)

	w = httptest.NewRecorder()
	f.api.Search(w, httptest.NewRequest(http.MethodPost, "/api/search", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestStats(t *testing.T) {
	f := newFixture(t, true, nil)
	var resp handlers.StatsResponse
	w := get(t, f.api.Stats, "/api/stats", &resp)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, resp.Devices)
	assert.Equal(t, 4, resp.Total)
	assert.Equal(t, "hash-128", resp.Model)
	assert.Equal(t, 128, resp.Dimension)
}

func TestSyncEndpoints(t *testing.T) {
	f := newFixture(t, true, nil)

	w := httptest.NewRecorder()
	f.api.Sync(w, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var res indexsync.TickResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, indexsync.TriggerManual, res.Trigger)
	assert.NotEmpty(t, res.RunID)

	var st indexsync.Status
	get(t, f.api.SyncStatus, "/api/sync/status", &st)
	assert.Equal(t, 2, st.Ticks)
	assert.Equal(t, res.RunID, st.LastRunID)

	w = get(t, f.api.Sync, "/api/sync", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestSyncEndpoints_NotConfigured(t *testing.T) {
	f := newFixture(t, false, nil)

	w := httptest.NewRecorder()
	f.api.Sync(w, httptest.NewRequest(http.MethodPost, "/api/sync", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = get(t, f.api.SyncStatus, "/api/sync/status", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = get(t, f.api.Validate, "/api/validate", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestValidate(t *testing.T) {
	f := newFixture(t, true, nil)
	var reports map[types.Category]search.CategoryReport
	w := get(t, f.api.Validate, "/api/validate", &reports)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, reports, types.CategoryDevice)
	assert.Equal(t, 2, reports[types.CategoryDevice].Summary["total_checked"])
	assert.Empty(t, reports[types.CategoryDevice].Priorities.Critical)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, true, nil)
	var resp handlers.HealthResponse
	get(t, f.api.Health, "/api/health", &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, handlers.Version, resp.Version)
	assert.Empty(t, resp.Circuit)
	assert.False(t, resp.SyncLoop)

	f = newFixture(t, false, openCircuitEmbedder{embedding.NewHashEmbedder(64)})
	get(t, f.api.Health, "/api/health", &resp)
	assert.Equal(t, "degraded", resp.Status)
	assert.Equal(t, "open", resp.Circuit)
}

func TestDevices(t *testing.T) {
	f := newFixture(t, true, nil)

	q := url.Values{}
	q.Set("state", `{"onState": true}`)
	var list search.DeviceList
	w := get(t, f.api.Devices, "/api/devices?"+q.Encode(), &list)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "Kitchen Switch", list.Devices[0]["name"])

	w = get(t, f.api.Devices, "/api/devices?device_types=dimmer", &list)
	assert.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "dimmer", list.Devices[0]["device_type"])

	w = get(t, f.api.Devices, "/api/devices?device_types=toaster", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = get(t, f.api.Devices, "/api/devices?state=%7Bbroken", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = get(t, newFixture(t, false, nil).api.Devices, "/api/devices", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
