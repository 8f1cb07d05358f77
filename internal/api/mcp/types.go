// Package mcp exposes the entity index as Model Context Protocol tools:
// search_entities, list_devices, get_devices_by_type, index_stats, reindex
// and validate_index.
package mcp

import (
	"github.com/scrypster/entityindex/internal/index"
	"github.com/scrypster/entityindex/internal/indexsync"
	"github.com/scrypster/entityindex/internal/search"
	"github.com/scrypster/entityindex/pkg/types"
)

// SearchEntitiesArgs contains arguments for the search_entities tool.
type SearchEntitiesArgs struct {
	Query       string         `json:"query" jsonschema:"natural language description of the entities to find"`
	Categories  []string       `json:"categories,omitempty" jsonschema:"restrict to device, variable or action (singular or plural)"`
	DeviceTypes []string       `json:"device_types,omitempty" jsonschema:"keep only devices of these types: dimmer, relay, sensor, thermostat, speedcontrol, sprinkler, multiio, device"`
	StateFilter map[string]any `json:"state_filter,omitempty" jsonschema:"device state conditions, e.g. {\"onState\": true} or {\"brightnessLevel\": {\"gt\": 50}}"`
	TopK        int            `json:"top_k,omitempty" jsonschema:"maximum number of results; derived from the query when omitted"`
	Threshold   *float64       `json:"threshold,omitempty" jsonschema:"minimum relevance in [0,1]; derived from the query when omitted"`
}

func (a SearchEntitiesArgs) request() types.SearchRequest {
	return types.SearchRequest{
		Query:       a.Query,
		Categories:  a.Categories,
		DeviceTypes: a.DeviceTypes,
		StateFilter: a.StateFilter,
		TopK:        a.TopK,
		Threshold:   a.Threshold,
	}
}

// ListDevicesArgs contains arguments for the list_devices tool.
type ListDevicesArgs struct {
	StateFilter map[string]any `json:"state_filter,omitempty" jsonschema:"device state conditions, e.g. {\"onState\": true} or {\"brightnessLevel\": {\"gt\": 50}}"`
	DeviceTypes []string       `json:"device_types,omitempty" jsonschema:"keep only devices of these types"`
}

// DevicesByTypeArgs contains arguments for the get_devices_by_type tool.
type DevicesByTypeArgs struct {
	DeviceType string `json:"device_type" jsonschema:"dimmer, relay, sensor, thermostat, speedcontrol, sprinkler, multiio or device"`
}

// IndexStatsResult contains the result of the index_stats tool.
type IndexStatsResult struct {
	Stats     types.IndexStats  `json:"stats"`
	Model     string            `json:"embedding_model"`
	Dimension int               `json:"embedding_dimension"`
	SessionID string            `json:"session_id"`
	Sync      *indexsync.Status `json:"sync,omitempty"`
}

// ReindexArgs contains arguments for the reindex tool. Entities are raw
// controller objects; when all three lists are empty the configured source
// is read instead.
type ReindexArgs struct {
	Devices   []map[string]any `json:"devices,omitempty" jsonschema:"full device list"`
	Variables []map[string]any `json:"variables,omitempty" jsonschema:"full variable list"`
	Actions   []map[string]any `json:"actions,omitempty" jsonschema:"full action group list"`
}

func (a ReindexArgs) empty() bool {
	return len(a.Devices) == 0 && len(a.Variables) == 0 && len(a.Actions) == 0
}

// ReindexResult contains the result of the reindex tool.
type ReindexResult struct {
	Result index.ReindexResult `json:"result"`
	Stats  types.IndexStats    `json:"stats"`
	Source string              `json:"source"`
}

// ValidateIndexResult contains the result of the validate_index tool.
type ValidateIndexResult struct {
	Categories map[types.Category]search.CategoryReport `json:"categories"`
	Healthy    bool                                     `json:"healthy"`
}
