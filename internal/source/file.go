package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/entityindex/pkg/types"
)

// ErrEmptySnapshot is returned for a snapshot document with no content.
var ErrEmptySnapshot = errors.New("snapshot document is empty")

// File reads a snapshot document from disk on every call, so edits are
// picked up without a restart. Files ending in .yaml or .yml are parsed as
// YAML; anything else as JSON.
type File struct {
	path string
}

// NewFile returns an adapter for the snapshot at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the snapshot path.
func (f *File) Path() string { return f.path }

// Load parses the snapshot.
func (f *File) Load() (*types.Snapshot, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return ParseSnapshot(data, isYAML(f.path))
}

// ListAll implements Adapter.
func (f *File) ListAll(ctx context.Context, category types.Category) ([]types.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownCategory, category)
	}
	snap, err := f.Load()
	if err != nil {
		return nil, err
	}
	return snap.Entities(category), nil
}

// DeviceState implements Adapter.
func (f *File) DeviceState(ctx context.Context, id int64) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := f.Load()
	if err != nil {
		return nil, err
	}
	return findState(snap.Entities(types.CategoryDevice), id)
}

// DeviceStates implements Adapter. The snapshot is read once for all devices.
func (f *File) DeviceStates(ctx context.Context) (map[int64]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap, err := f.Load()
	if err != nil {
		return nil, err
	}
	return allStates(snap.Entities(types.CategoryDevice)), nil
}

// ParseSnapshot decodes a {devices, variables, actions} document. YAML is
// normalized to JSON first so pass-through attributes are captured the same
// way for both formats. An empty document is an error in either format.
func ParseSnapshot(data []byte, asYAML bool) (*types.Snapshot, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptySnapshot
	}
	if asYAML {
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml snapshot: %w", err)
		}
		if doc == nil {
			return nil, ErrEmptySnapshot
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("convert yaml snapshot: %w", err)
		}
		data = converted
	}

	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &snap, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

var _ Adapter = (*File)(nil)
