package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/entityindex/internal/embedding"
	"github.com/scrypster/entityindex/internal/index"
	"github.com/scrypster/entityindex/internal/indexsync"
	"github.com/scrypster/entityindex/internal/search"
	"github.com/scrypster/entityindex/internal/source"
	"github.com/scrypster/entityindex/internal/storage/sqlite"
	"github.com/scrypster/entityindex/pkg/types"
)

func testSnapshot() *types.Snapshot {
	return &types.Snapshot{
		Devices: []*types.Device{
			{Base: types.Base{ID: 1, Name: "Kitchen Light"}, DeviceTypeID: "dimmer"},
			{Base: types.Base{ID: 2, Name: "Garage Door Sensor"}, DeviceTypeID: "contactSensor"},
		},
		Variables: []*types.Variable{{Base: types.Base{ID: 10, Name: "house_mode"}, Value: "home"}},
	}
}

// connect starts the server on an in-memory transport and returns a client
// session.
func connect(t *testing.T, src source.Adapter, opts ...ServerOption) (*mcp.ClientSession, *index.Index) {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	idx, err := index.Open(ctx, store, embedding.NewHashEmbedder(128), index.Config{})
	require.NoError(t, err)

	var svcOpts []search.Option
	if src != nil {
		svcOpts = append(svcOpts, search.WithSource(src))
	}
	srv := NewServer(search.NewService(idx, svcOpts...), idx, opts...)

	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	serverSession, err := srv.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = serverSession.Close() })

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session, idx
}

func call(t *testing.T, session *mcp.ClientSession, name string, args map[string]any, out any) *mcp.CallToolResult {
	t.Helper()
	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{Name: name, Arguments: args})
	require.NoError(t, err)
	require.NotNil(t, res)
	if out != nil && !res.IsError {
		decode(t, res, out)
	}
	return res
}

func decode(t *testing.T, res *mcp.CallToolResult, out any) {
	t.Helper()
	var raw []byte
	if res.StructuredContent != nil {
		b, err := json.Marshal(res.StructuredContent)
		require.NoError(t, err)
		raw = b
	} else {
		require.NotEmpty(t, res.Content)
		text, ok := res.Content[0].(*mcp.TextContent)
		require.True(t, ok)
		raw = []byte(text.Text)
	}
	require.NoError(t, json.Unmarshal(raw, out))
}

func TestTools_Listed(t *testing.T) {
	session, _ := connect(t, nil)
	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"search_entities", "list_devices", "get_devices_by_type",
		"index_stats", "reindex", "validate_index",
	}, names)
}

func TestReindexWithArgumentsThenSearch(t *testing.T) {
	session, _ := connect(t, nil)

	var rr ReindexResult
	call(t, session, "reindex", map[string]any{
		"devices": []any{
			map[string]any{"id": 1, "name": "Kitchen Light", "deviceTypeId": "dimmer", "brightness": 30},
			map[string]any{"id": 2, "name": "Porch Light", "deviceTypeId": "relay"},
		},
		"actions": []any{map[string]any{"id": 20, "name": "Evening Scene"}},
	}, &rr)
	assert.Equal(t, "arguments", rr.Source)
	assert.Equal(t, 3, rr.Stats.Total)

	var resp types.SearchResponse
	call(t, session, "search_entities", map[string]any{
		"query":        "kitchen light",
		"device_types": []string{"dimmer"},
		"threshold":    0,
	}, &resp)
	require.Empty(t, resp.Error)
	require.Len(t, resp.Results.Devices, 1)
	assert.Equal(t, "Kitchen Light", resp.Results.Devices[0]["name"])
	assert.EqualValues(t, 30, resp.Results.Devices[0]["brightness"])
	assert.Len(t, resp.Results.Actions, 1)
}

func TestSearchEntities_ErrorIsStructured(t *testing.T) {
	session, _ := connect(t, nil)

	var resp types.SearchResponse
	res := call(t, session, "search_entities", map[string]any{
		"query":      "kitchen",
		"categories": []string{"rooms"},
	}, &resp)
	assert.False(t, res.IsError)
	assert.Equal(t, "kitchen", resp.Query)
	assert.Contains(t, resp.Error, "unknown category")
	assert.Zero(t, resp.TotalCount)
}

func TestReindexFromSourceAndValidate(t *testing.T) {
	src := source.NewStatic(testSnapshot())
	session, _ := connect(t, src)

	var vr ValidateIndexResult
	call(t, session, "validate_index", map[string]any{}, &vr)
	assert.False(t, vr.Healthy)
	assert.Equal(t, []int64{1, 2}, vr.Categories[types.CategoryDevice].Priorities.Critical)

	var rr ReindexResult
	call(t, session, "reindex", map[string]any{}, &rr)
	assert.Equal(t, "source", rr.Source)
	assert.Equal(t, 3, rr.Stats.Total)

	call(t, session, "validate_index", map[string]any{}, &vr)
	assert.True(t, vr.Healthy)
}

func TestReindexWithoutSourceOrArguments(t *testing.T) {
	session, _ := connect(t, nil)
	res := call(t, session, "reindex", map[string]any{}, nil)
	assert.True(t, res.IsError)
}

func TestIndexStats(t *testing.T) {
	src := source.NewStatic(testSnapshot())
	ctx := context.Background()

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	idx, err := index.Open(ctx, store, embedding.NewHashEmbedder(64), index.Config{})
	require.NoError(t, err)
	mgr, err := indexsync.NewManager(src, idx, indexsync.Config{})
	require.NoError(t, err)
	_, err = mgr.UpdateNow(ctx)
	require.NoError(t, err)

	srv := NewServer(search.NewService(idx, search.WithSource(src)), idx, WithSyncManager(mgr))
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := srv.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer func() { _ = ss.Close() }()
	session, err := mcp.NewClient(&mcp.Implementation{Name: "test-client"}, nil).Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	var st IndexStatsResult
	call(t, session, "index_stats", map[string]any{}, &st)
	assert.Equal(t, 2, st.Stats.Devices)
	assert.Equal(t, 1, st.Stats.Variables)
	assert.Equal(t, "hash-64", st.Model)
	assert.Equal(t, 64, st.Dimension)
	assert.NotEmpty(t, st.SessionID)
	require.NotNil(t, st.Sync)
	assert.Equal(t, 1, st.Sync.Ticks)
}

func TestListDevicesAndDevicesByType(t *testing.T) {
	snap := testSnapshot()
	snap.Devices[0].States = map[string]any{"onState": true}
	snap.Devices = append(snap.Devices, &types.Device{
		Base: types.Base{ID: 3, Name: "Hall Light"}, DeviceTypeID: "dimmer",
		States: map[string]any{"onState": false},
	})
	session, _ := connect(t, source.NewStatic(snap))

	var list search.DeviceList
	call(t, session, "list_devices", map[string]any{
		"state_filter": map[string]any{"onState": true},
	}, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "Kitchen Light", list.Devices[0]["name"])

	call(t, session, "get_devices_by_type", map[string]any{"device_type": "dimmer"}, &list)
	assert.Equal(t, 2, list.Count)

	res := call(t, session, "get_devices_by_type", map[string]any{"device_type": "toaster"}, nil)
	assert.True(t, res.IsError)
}

func TestListDevicesWithoutSource(t *testing.T) {
	session, _ := connect(t, nil)
	res := call(t, session, "list_devices", map[string]any{}, nil)
	assert.True(t, res.IsError)
}

func TestReindexFromSourceWithSyncManager(t *testing.T) {
	ctx := context.Background()
	src := source.NewStatic(testSnapshot())

	store, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	idx, err := index.Open(ctx, store, embedding.NewHashEmbedder(64), index.Config{})
	require.NoError(t, err)
	mgr, err := indexsync.NewManager(src, idx, indexsync.Config{})
	require.NoError(t, err)

	srv := NewServer(search.NewService(idx, search.WithSource(src)), idx, WithSyncManager(mgr))
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	ss, err := srv.MCPServer().Connect(ctx, serverTransport, nil)
	require.NoError(t, err)
	defer func() { _ = ss.Close() }()
	session, err := mcp.NewClient(&mcp.Implementation{Name: "test-client"}, nil).Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	defer func() { _ = session.Close() }()

	var rr ReindexResult
	call(t, session, "reindex", map[string]any{}, &rr)
	assert.Equal(t, "source", rr.Source)
	assert.Equal(t, 3, rr.Stats.Total)

	res, err := mgr.UpdateNow(ctx)
	require.NoError(t, err)
	assert.False(t, res.Changed(), "the tick after a reindex finds nothing to do")
}
