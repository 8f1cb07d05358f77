package search

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/entityindex/pkg/types"
)

func TestFormat_Entries(t *testing.T) {
	hits := []Hit{
		{Category: types.CategoryDevice, Score: 0.91234, Data: map[string]any{
			"id": 1.0, "name": "Kitchen Light", "model": "Dimmer", "_internal": "x",
		}},
		{Category: types.CategoryVariable, Score: 1.2, Data: map[string]any{
			"id": 10.0, "name": "house_mode", "value": "away", "folderId": 3.0,
		}},
		{Category: types.CategoryAction, Score: -0.1, Data: map[string]any{
			"id": 20.0, "name": "Good Night", "description": "all off",
		}},
	}

	resp := Format("kitchen", hits, false, false)
	assert.Equal(t, "kitchen", resp.Query)
	assert.Equal(t, 3, resp.TotalCount)
	assert.Empty(t, resp.Suggestion)

	require.Len(t, resp.Results.Devices, 1)
	dev := resp.Results.Devices[0]
	assert.Equal(t, 0.912, dev["relevance_score"])
	assert.Equal(t, "Dimmer", dev["model"])
	assert.NotContains(t, dev, "_internal")

	require.Len(t, resp.Results.Variables, 1)
	v := resp.Results.Variables[0]
	assert.Equal(t, 1.0, v["relevance_score"], "clamped")
	assert.Equal(t, "away", v["value"])
	assert.Equal(t, 3.0, v["folder_id"])
	assert.Equal(t, false, v["read_only"])

	require.Len(t, resp.Results.Actions, 1)
	a := resp.Results.Actions[0]
	assert.Equal(t, 0.0, a["relevance_score"])
	assert.Equal(t, "all off", a["description"])
	assert.Equal(t, 0, a["folder_id"])

	assert.Equal(t,
		"Found 3 entities (1 devices, 1 variables, 1 actions). devices: Kitchen Light; variables: house_mode; actions: Good Night",
		resp.Summary)
}

func TestFormat_SummaryTruncatesNames(t *testing.T) {
	var hits []Hit
	for i := 1; i <= 13; i++ {
		hits = append(hits, Hit{Category: types.CategoryDevice, Score: 0.5, Data: map[string]any{
			"id": float64(i), "name": fmt.Sprintf("Light %d", i),
		}})
	}
	resp := Format("all lights", hits, true, false)
	assert.Contains(t, resp.Summary, "Found 13 entities (13 devices)")
	assert.Contains(t, resp.Summary, "Light 10 and 3 more")
	assert.NotContains(t, resp.Summary, "Light 11")
}

func TestFormat_StateSuggestion(t *testing.T) {
	hits := []Hit{{Category: types.CategoryDevice, Score: 0.5, Data: map[string]any{"id": 1.0, "name": "a"}}}
	assert.Equal(t, StateSuggestion, Format("lights on", hits, true, true).Suggestion)
	assert.Empty(t, Format("lights on", hits, false, true).Suggestion)
	assert.Empty(t, Format("lights", hits, true, false).Suggestion)
	assert.Contains(t, StateSuggestion, "list_devices")
	assert.NotContains(t, StateSuggestion, "pass a state_filter")
}

func TestFormat_Empty(t *testing.T) {
	resp := Format("nothing", nil, false, false)
	assert.Equal(t, "Found 0 entities", resp.Summary)
	assert.NotNil(t, resp.Results.Devices)
	assert.NotNil(t, resp.Results.Variables)
	assert.NotNil(t, resp.Results.Actions)
}

func TestErrorResponse(t *testing.T) {
	resp := ErrorResponse("kitchen", errors.New("boom"))
	assert.Equal(t, "kitchen", resp.Query)
	assert.Equal(t, "boom", resp.Error)
	assert.Zero(t, resp.TotalCount)
	assert.Empty(t, resp.Results.Devices)
	assert.NotNil(t, resp.Results.Devices)
}
