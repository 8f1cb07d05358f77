package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/scrypster/entityindex/internal/embedding"
	"github.com/scrypster/entityindex/internal/index"
	"github.com/scrypster/entityindex/internal/indexsync"
	"github.com/scrypster/entityindex/internal/search"
	"github.com/scrypster/entityindex/pkg/types"
)

// Version is reported by the health endpoint.
const Version = "1.0.0"

// circuitStater is implemented by embedders guarded by a circuit breaker.
type circuitStater interface {
	CircuitState() string
}

// APIHandlers serves the search, stats, sync and validation endpoints.
type APIHandlers struct {
	search   *search.Service
	index    *index.Index
	sync     *indexsync.Manager
	embedder embedding.Embedder
}

// NewAPIHandlers creates the handlers. sync and embedder may be nil; the sync
// endpoints then answer 503 and health omits the circuit state.
func NewAPIHandlers(svc *search.Service, idx *index.Index, sync *indexsync.Manager, embedder embedding.Embedder) *APIHandlers {
	return &APIHandlers{
		search:   svc,
		index:    idx,
		sync:     sync,
		embedder: embedder,
	}
}

// Search handles GET /api/search.
//
// Query parameters:
//   - q: natural-language query (required)
//   - categories: comma-separated devices,variables,actions
//   - device_types: comma-separated device type filter
//   - state: JSON object of state conditions
//   - top_k: maximum result count
//   - threshold: minimum relevance in [0,1]
//
// Search failures are reported inside the response body with status 200 so
// clients always receive the same shape.
func (h *APIHandlers) Search(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()

	req := types.SearchRequest{
		Query:       strings.TrimSpace(q.Get("q")),
		Categories:  splitList(q.Get("categories")),
		DeviceTypes: splitList(q.Get("device_types")),
		TopK:        parseInt(q.Get("top_k"), 0),
	}
	if raw := q.Get("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid threshold", err)
			return
		}
		req.Threshold = &v
	}
	if raw := q.Get("state"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.StateFilter); err != nil {
			respondError(w, http.StatusBadRequest, "invalid state filter", err)
			return
		}
	}

	respondJSON(w, http.StatusOK, h.search.Search(r.Context(), req))
}

// Stats handles GET /api/stats.
func (h *APIHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats, err := h.search.Stats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to read index stats", err)
		return
	}
	respondJSON(w, http.StatusOK, StatsResponse{
		IndexStats: stats,
		Model:      h.index.Model(),
		Dimension:  h.index.Dimension(),
	})
}

// Sync handles POST /api/sync: one reconciliation pass, run synchronously.
func (h *APIHandlers) Sync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.sync == nil {
		respondError(w, http.StatusServiceUnavailable, "synchronization is not configured", nil)
		return
	}
	res, err := h.sync.UpdateNow(r.Context())
	if err != nil {
		log.Printf("handlers: ERROR: manual sync failed: %v", err)
		if res != nil {
			respondJSON(w, http.StatusBadGateway, res)
			return
		}
		respondError(w, http.StatusBadGateway, "sync failed", err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// SyncStatus handles GET /api/sync/status.
func (h *APIHandlers) SyncStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.sync == nil {
		respondError(w, http.StatusServiceUnavailable, "synchronization is not configured", nil)
		return
	}
	respondJSON(w, http.StatusOK, h.sync.Status())
}


// Devices lists devices straight from the source.
//
//	GET /api/devices?device_types=dimmer,relay&state={"onState":true}
func (h *APIHandlers) Devices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	dq := search.DeviceQuery{DeviceTypes: splitList(q.Get("device_types"))}
	if raw := q.Get("state"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &dq.StateFilter); err != nil {
			respondError(w, http.StatusBadRequest, "invalid state filter", err)
			return
		}
	}

	list, err := h.search.ListDevices(r.Context(), dq)
	switch {
	case errors.Is(err, search.ErrNoSource):
		respondError(w, http.StatusServiceUnavailable, "no entity source configured", err)
	case errors.Is(err, search.ErrUnknownDeviceType):
		respondError(w, http.StatusBadRequest, "invalid device type", err)
	case err != nil:
		respondError(w, http.StatusBadGateway, "listing devices failed", err)
	default:
		respondJSON(w, http.StatusOK, list)
	}
}

// Validate handles GET /api/validate: a read-only report of index health.
func (h *APIHandlers) Validate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	reports, err := h.search.Validate(r.Context())
	if err != nil {
		if errors.Is(err, search.ErrNoSource) {
			respondError(w, http.StatusServiceUnavailable, "no entity source configured", err)
			return
		}
		respondError(w, http.StatusBadGateway, "validation failed", err)
		return
	}
	respondJSON(w, http.StatusOK, reports)
}

// Health handles GET /api/health. It needs no auth.
func (h *APIHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := HealthResponse{
		Status:  "healthy",
		Version: Version,
		Model:   h.index.Model(),
	}
	if cs, ok := h.embedder.(circuitStater); ok {
		resp.Circuit = cs.CircuitState()
		if resp.Circuit == "open" {
			resp.Status = "degraded"
		}
	}
	if h.sync != nil {
		resp.SyncLoop = h.sync.Status().Running
	}
	respondJSON(w, http.StatusOK, resp)
}

// splitList splits a comma-separated parameter, dropping empty items.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are already sent.
		log.Printf("handlers: ERROR: failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}
	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}
	respondJSON(w, statusCode, errResp)
}
