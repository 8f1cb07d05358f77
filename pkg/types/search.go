package types

// SearchRequest is the caller-facing search input. Zero values mean "let the
// query parser decide".
type SearchRequest struct {
	Query       string         `json:"query"`
	Categories  []string       `json:"categories,omitempty"`
	DeviceTypes []string       `json:"device_types,omitempty"`
	StateFilter map[string]any `json:"state_filter,omitempty"`
	TopK        int            `json:"top_k,omitempty"`
	Threshold   *float64       `json:"threshold,omitempty"`
}

// SearchResults groups formatted hits by category.
type SearchResults struct {
	Devices   []map[string]any `json:"devices"`
	Variables []map[string]any `json:"variables"`
	Actions   []map[string]any `json:"actions"`
}

// SearchResponse is always well formed: on failure Error is set, Query echoes
// the input and every count is zero.
type SearchResponse struct {
	Query              string        `json:"query"`
	Summary            string        `json:"summary"`
	TotalCount         int           `json:"total_count"`
	Results            SearchResults `json:"results"`
	StateQueryDetected bool          `json:"state_query_detected,omitempty"`
	Suggestion         string        `json:"suggestion,omitempty"`
	Error              string        `json:"error,omitempty"`
}

// IndexStats reports the true row count per category table.
type IndexStats struct {
	Devices   int `json:"devices"`
	Variables int `json:"variables"`
	Actions   int `json:"actions"`
	Total     int `json:"total"`
}
