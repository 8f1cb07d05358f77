package search

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/scrypster/entityindex/pkg/types"
)

// Defaults used when the query carries no hint.
const (
	DefaultTopK      = 10
	DefaultThreshold = 0.15
)

// Params are the search parameters derived from a query.
type Params struct {
	Categories    []types.Category `json:"categories"`
	DeviceTypes   []string         `json:"device_types,omitempty"`
	TopK          int              `json:"top_k"`
	Threshold     float64          `json:"threshold"`
	StateDetected bool             `json:"state_detected"`
}

var categoryWords = map[string]types.Category{
	"device":    types.CategoryDevice,
	"devices":   types.CategoryDevice,
	"variable":  types.CategoryVariable,
	"variables": types.CategoryVariable,
	"var":       types.CategoryVariable,
	"vars":      types.CategoryVariable,
	"action":    types.CategoryAction,
	"actions":   types.CategoryAction,
	"scene":     types.CategoryAction,
	"scenes":    types.CategoryAction,
	"group":     types.CategoryAction,
	"groups":    types.CategoryAction,
}

var countWords = map[string]int{
	"all":    50,
	"many":   20,
	"list":   20,
	"few":    5,
	"some":   5,
	"one":    1,
	"single": 1,
}

var thresholdWords = map[string]float64{
	"exact":    0.7,
	"specific": 0.7,
	"related":  0.4,
	"close":    0.4,
	"similar":  0.2,
	"like":     0.2,
}

var stateRe = regexp.MustCompile(`\b(turned on|turned off|on|off|active|inactive|enabled|disabled|bright|dim|error|fault|hot|cold|warm|cool|open|closed|locked|unlocked)\b`)

// Parse derives search parameters from query. Explicit categories win;
// otherwise category nouns in the query decide, defaulting to all
// categories. A device-type filter only constrains device results and never
// narrows the categories searched. For every hint table the last
// matching word in the query wins.
func Parse(query string, categories []types.Category, deviceTypes []string) Params {
	lower := strings.ToLower(query)
	words := tokenize(lower)

	p := Params{
		DeviceTypes:   deviceTypes,
		TopK:          DefaultTopK,
		Threshold:     DefaultThreshold,
		StateDetected: HasStateKeywords(lower),
	}

	if len(categories) > 0 {
		p.Categories = categories
	}

	var inferred types.Category
	for _, w := range words {
		if c, ok := categoryWords[w]; ok {
			inferred = c
		}
		if n, ok := countWords[w]; ok {
			p.TopK = n
		}
		if t, ok := thresholdWords[w]; ok {
			p.Threshold = t
		}
	}
	if p.Categories == nil {
		if inferred != "" {
			p.Categories = []types.Category{inferred}
		} else {
			p.Categories = append([]types.Category(nil), types.AllCategories...)
		}
	}
	return p
}

// HasStateKeywords reports whether query asks about on/off, brightness,
// error or temperature state, which semantic ranking cannot answer exactly.
func HasStateKeywords(query string) bool {
	return stateRe.MatchString(strings.ToLower(query))
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
