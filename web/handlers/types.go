package handlers

import (
	"github.com/scrypster/entityindex/internal/indexsync"
	"github.com/scrypster/entityindex/pkg/types"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// StatsResponse is the response format for GET /api/stats.
type StatsResponse struct {
	types.IndexStats
	Model     string `json:"model"`
	Dimension int    `json:"dimension"`
}

// HealthResponse is the response format for GET /api/health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Model    string `json:"model"`
	Circuit  string `json:"circuit,omitempty"`
	SyncLoop bool   `json:"sync_running"`
}

// TickEvent is broadcast to websocket clients after every reconciliation tick.
type TickEvent struct {
	Type   string               `json:"type"`
	Result indexsync.TickResult `json:"result"`
}
