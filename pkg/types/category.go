// Package types defines the core data structures shared by the entity index,
// the synchronization manager and the search pipeline: categories, the
// tagged entity variants supplied by a controller, stored index records and
// the caller-facing search shapes.
package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownCategory is returned when a category argument does not name one
// of the three indexed categories.
var ErrUnknownCategory = errors.New("unknown category")

// Category identifies which table an entity lives in. Entities never change
// category.
type Category string

// Category constants
const (
	CategoryDevice   Category = "device"
	CategoryVariable Category = "variable"
	CategoryAction   Category = "action"
)

// AllCategories lists every category in canonical order.
var AllCategories = []Category{CategoryDevice, CategoryVariable, CategoryAction}

// Plural returns the table / result-group name for the category
// ("devices", "variables", "actions").
func (c Category) Plural() string {
	return string(c) + "s"
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryDevice, CategoryVariable, CategoryAction:
		return true
	}
	return false
}

// ParseCategory accepts singular or plural names in any case.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "device", "devices":
		return CategoryDevice, nil
	case "variable", "variables":
		return CategoryVariable, nil
	case "action", "actions":
		return CategoryAction, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// ParseCategories parses a list of category names, dropping duplicates while
// preserving order. An empty input yields an empty (nil) slice.
func ParseCategories(names []string) ([]Category, error) {
	var out []Category
	seen := make(map[Category]bool, len(names))
	for _, n := range names {
		c, err := ParseCategory(n)
		if err != nil {
			return nil, err
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out, nil
}
