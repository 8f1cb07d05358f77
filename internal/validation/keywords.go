package validation

import (
	"encoding/json"
	"strings"
)

// basicFields are the keys of the embedding JSON before keyword
// augmentation existed.
var basicFields = map[string]bool{
	"name":         true,
	"description":  true,
	"model":        true,
	"deviceTypeId": true,
	"address":      true,
}

// semanticIndicators are words the keyword generator emits that rarely
// appear in raw controller fields. Matched as substrings.
var semanticIndicators = []string{
	"lighting", "dimmer", "switch", "sensor", "control", "automation",
	"temperature", "motion", "contact", "security", "climate", "hvac",
	"scene", "mood", "schedule", "timer", "relay", "power", "energy",
}

// HasSemanticKeywords guesses whether text was embedded with semantic
// keywords appended. The rules, in order:
//
//   - empty or blank text: false
//   - a lone JSON object whose keys are all basic embedding fields: false
//   - any other lone JSON object: at least two indicators
//   - a JSON object followed by more text: at least two trailing tokens, or
//     at least two indicators
//   - anything else: more than len(words(name))+5 words, or at least two
//     indicators
//
// An indicator counts only if it appears in text (case-insensitive
// substring) and not in name.
func HasSemanticKeywords(text, name string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}

	dec := json.NewDecoder(strings.NewReader(text))
	var obj map[string]any
	if err := dec.Decode(&obj); err == nil && obj != nil {
		trailing := strings.Fields(text[dec.InputOffset():])
		if len(trailing) == 0 {
			if onlyBasicFields(obj) {
				return false
			}
			return indicatorCount(text, name) >= 2
		}
		return len(trailing) >= 2 || indicatorCount(text, name) >= 2
	}

	if len(strings.Fields(text)) > len(strings.Fields(name))+5 {
		return true
	}
	return indicatorCount(text, name) >= 2
}

func onlyBasicFields(obj map[string]any) bool {
	for k := range obj {
		if !basicFields[k] {
			return false
		}
	}
	return true
}

func indicatorCount(text, name string) int {
	t := strings.ToLower(text)
	n := strings.ToLower(name)
	count := 0
	for _, ind := range semanticIndicators {
		if strings.Contains(t, ind) && !strings.Contains(n, ind) {
			count++
		}
	}
	return count
}
