package search

import (
	"fmt"
	"math"
	"strings"

	"github.com/scrypster/entityindex/pkg/types"
)

// summaryNames caps the names listed per category in a summary.
const summaryNames = 10

// StateSuggestion is attached when a state query filled the result cap.
// State filters only see the top semantic matches, so it points to the
// source listing instead.
const StateSuggestion = "State-based query detected and results reached the limit. " +
	"State filters here only apply to the top semantic matches; use list_devices " +
	"(state_filter, device_types) or get_devices_by_type for the complete set."

// Hit is a search result ready for formatting: the decoded data snapshot
// and its relevance.
type Hit struct {
	Category types.Category
	Data     map[string]any
	Score    float64
}

// Format builds the caller-facing response. truncated reports that the
// index returned as many hits as were asked for.
func Format(query string, hits []Hit, truncated, stateDetected bool) types.SearchResponse {
	resp := types.SearchResponse{
		Query:              query,
		Results:            emptyResults(),
		StateQueryDetected: stateDetected,
	}
	names := make(map[types.Category][]string, len(types.AllCategories))

	for _, h := range hits {
		entry := formatEntry(h)
		switch h.Category {
		case types.CategoryDevice:
			resp.Results.Devices = append(resp.Results.Devices, entry)
		case types.CategoryVariable:
			resp.Results.Variables = append(resp.Results.Variables, entry)
		case types.CategoryAction:
			resp.Results.Actions = append(resp.Results.Actions, entry)
		default:
			continue
		}
		names[h.Category] = append(names[h.Category], fmt.Sprint(entry["name"]))
		resp.TotalCount++
	}

	resp.Summary = summarize(resp.TotalCount, names)
	if truncated && stateDetected {
		resp.Suggestion = StateSuggestion
	}
	return resp
}

// ErrorResponse is the well-formed failure result: the query echoed, zero
// counts and the error text.
func ErrorResponse(query string, err error) types.SearchResponse {
	return types.SearchResponse{
		Query:   query,
		Summary: "Search failed",
		Results: emptyResults(),
		Error:   err.Error(),
	}
}

func emptyResults() types.SearchResults {
	return types.SearchResults{
		Devices:   []map[string]any{},
		Variables: []map[string]any{},
		Actions:   []map[string]any{},
	}
}

func formatEntry(h Hit) map[string]any {
	name, ok := h.Data["name"]
	if !ok || name == "" {
		name = "Unknown"
	}
	entry := map[string]any{
		"id":              h.Data["id"],
		"name":            name,
		"relevance_score": relevance(h.Score),
	}
	switch h.Category {
	case types.CategoryDevice:
		for k, v := range h.Data {
			if strings.HasPrefix(k, "_") {
				continue
			}
			if _, set := entry[k]; !set {
				entry[k] = v
			}
		}
	case types.CategoryVariable:
		entry["value"] = field(h.Data, "value", "")
		entry["folder_id"] = field(h.Data, "folderId", 0)
		entry["read_only"] = field(h.Data, "readOnly", false)
	case types.CategoryAction:
		entry["folder_id"] = field(h.Data, "folderId", 0)
		entry["description"] = field(h.Data, "description", "")
	}
	return entry
}

func field(data map[string]any, key string, def any) any {
	if v, ok := data[key]; ok && v != nil {
		return v
	}
	return def
}

// relevance rounds to three places and clamps to [0,1].
func relevance(score float64) float64 {
	if math.IsNaN(score) {
		return 0
	}
	score = math.Max(0, math.Min(1, score))
	return math.Round(score*1000) / 1000
}

// summarize renders "Found N entities (X devices, Y variables)" followed by
// the names per category, at most ten each.
func summarize(total int, names map[types.Category][]string) string {
	var counts, lists []string
	for _, c := range types.AllCategories {
		n := len(names[c])
		if n == 0 {
			continue
		}
		counts = append(counts, fmt.Sprintf("%d %s", n, c.Plural()))

		shown := names[c]
		list := strings.Join(shown, ", ")
		if n > summaryNames {
			list = strings.Join(shown[:summaryNames], ", ") + fmt.Sprintf(" and %d more", n-summaryNames)
		}
		lists = append(lists, fmt.Sprintf("%s: %s", c.Plural(), list))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d entities", total)
	if len(counts) > 0 {
		fmt.Fprintf(&b, " (%s). %s", strings.Join(counts, ", "), strings.Join(lists, "; "))
	}
	return b.String()
}
