package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/scrypster/entityindex/internal/index"
	"github.com/scrypster/entityindex/internal/indexsync"
	"github.com/scrypster/entityindex/internal/search"
	"github.com/scrypster/entityindex/pkg/types"
)

// Version is reported in the MCP implementation info.
const Version = "1.0.0"

// Server wires the search service to an MCP server.
type Server struct {
	search    *search.Service
	index     *index.Index
	sync      *indexsync.Manager
	sessionID string
	mcp       *mcp.Server
}

// ServerOption is a functional option for configuring a Server.
type ServerOption func(*Server)

// WithSyncManager reports the synchronization status in index_stats and
// keeps source reindexes from overlapping reconciliation ticks.
func WithSyncManager(m *indexsync.Manager) ServerOption {
	return func(s *Server) {
		s.sync = m
	}
}

// NewServer creates the MCP server and registers its tools.
func NewServer(svc *search.Service, idx *index.Index, opts ...ServerOption) *Server {
	s := &Server{
		search:    svc,
		index:     idx,
		sessionID: uuid.New().String(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "entityindex", Version: Version}, nil)
	s.register()
	log.Printf("entityindex-mcp: session ID: %s", s.sessionID)
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Run serves t until the client disconnects or ctx is done.
func (s *Server) Run(ctx context.Context, t mcp.Transport) error {
	return s.mcp.Run(ctx, t)
}

func (s *Server) register() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "search_entities",
		Description: "Semantic search over controller devices, variables and action groups. " +
			"Words like all/many/few/one set the result count and exact/related/similar set the " +
			"relevance threshold. state_filter only narrows the top matches; for complete " +
			"answers to on/off or numeric state questions use list_devices.",
	}, s.handleSearchEntities)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "list_devices",
		Description: "List every device from the controller, optionally filtered by state conditions " +
			"and device types. No semantic ranking and no result limit.",
	}, s.handleListDevices)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "get_devices_by_type",
		Description: "All devices of one type: dimmer, relay, sensor, thermostat, speedcontrol, sprinkler, multiio or device.",
	}, s.handleDevicesByType)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_stats",
		Description: "Record counts per category, embedding model and synchronization status.",
	}, s.handleIndexStats)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "reindex",
		Description: "Rebuild the index. With entity lists, upserts them and removes records for " +
			"entities not listed. Without arguments, reads the configured source.",
	}, s.handleReindex)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "validate_index",
		Description: "Compare the source with the index and report missing, stale, corrupted and orphaned records without changing anything.",
	}, s.handleValidateIndex)
}

func (s *Server) handleSearchEntities(ctx context.Context, _ *mcp.CallToolRequest, args SearchEntitiesArgs) (*mcp.CallToolResult, types.SearchResponse, error) {
	return nil, s.search.Search(ctx, args.request()), nil
}

func (s *Server) handleListDevices(ctx context.Context, _ *mcp.CallToolRequest, args ListDevicesArgs) (*mcp.CallToolResult, search.DeviceList, error) {
	list, err := s.search.ListDevices(ctx, search.DeviceQuery{
		DeviceTypes: args.DeviceTypes,
		StateFilter: args.StateFilter,
	})
	if err != nil {
		return nil, search.DeviceList{}, err
	}
	return nil, list, nil
}

func (s *Server) handleDevicesByType(ctx context.Context, _ *mcp.CallToolRequest, args DevicesByTypeArgs) (*mcp.CallToolResult, search.DeviceList, error) {
	if args.DeviceType == "" {
		return nil, search.DeviceList{}, errors.New("device_type is required")
	}
	list, err := s.search.ListDevices(ctx, search.DeviceQuery{DeviceTypes: []string{args.DeviceType}})
	if err != nil {
		return nil, search.DeviceList{}, err
	}
	return nil, list, nil
}

func (s *Server) handleIndexStats(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	stats, err := s.search.Stats(ctx)
	if err != nil {
		return nil, nil, err
	}
	res := IndexStatsResult{
		Stats:     stats,
		Model:     s.index.Model(),
		Dimension: s.index.Dimension(),
		SessionID: s.sessionID,
	}
	if s.sync != nil {
		st := s.sync.Status()
		res.Sync = &st
	}
	return nil, res, nil
}

func (s *Server) handleReindex(ctx context.Context, _ *mcp.CallToolRequest, args ReindexArgs) (*mcp.CallToolResult, any, error) {
	var result ReindexResult
	rebuild := func(ctx context.Context) error {
		var err error
		if args.empty() {
			result.Source = "source"
			result.Result, err = s.search.ReindexFromSource(ctx)
			return err
		}
		result.Source = "arguments"
		snap, err := decodeSnapshot(args)
		if err != nil {
			return err
		}
		result.Result, err = s.search.Reindex(ctx, snap.Devices, snap.Variables, snap.Actions)
		return err
	}

	var err error
	if s.sync != nil {
		err = s.sync.Exclusive(ctx, rebuild)
	} else {
		err = rebuild(ctx)
	}
	if err != nil {
		if errors.Is(err, search.ErrNoSource) {
			return nil, nil, fmt.Errorf("reindex needs entity lists: %w", err)
		}
		return nil, nil, err
	}
	if result.Stats, err = s.search.Stats(ctx); err != nil {
		return nil, nil, err
	}
	return nil, result, nil
}

func (s *Server) handleValidateIndex(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	report, err := s.search.Validate(ctx)
	if err != nil {
		return nil, nil, err
	}
	res := ValidateIndexResult{Categories: report, Healthy: true}
	for _, r := range report {
		if len(r.Issues) > 0 {
			res.Healthy = false
		}
	}
	return nil, res, nil
}

// decodeSnapshot turns raw controller objects into typed entities, keeping
// unknown attributes as pass-through fields.
func decodeSnapshot(args ReindexArgs) (*types.Snapshot, error) {
	raw, err := json.Marshal(map[string]any{
		"devices":   args.Devices,
		"variables": args.Variables,
		"actions":   args.Actions,
	})
	if err != nil {
		return nil, err
	}
	var snap types.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("invalid entity list: %w", err)
	}
	return &snap, nil
}
