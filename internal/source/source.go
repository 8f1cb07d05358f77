// Package source supplies the authoritative entity lists the index is
// reconciled against.
package source

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/scrypster/entityindex/pkg/types"
)

// ErrNotFound is returned by DeviceState for an unknown device id.
var ErrNotFound = errors.New("entity not found")

// Adapter is the source collaborator. ListAll returns the full current
// snapshot of one category, never paginated. DeviceStates reads the live
// state of every device in one call, keyed by device id.
type Adapter interface {
	ListAll(ctx context.Context, category types.Category) ([]types.Entity, error)
	DeviceState(ctx context.Context, id int64) (map[string]any, error)
	DeviceStates(ctx context.Context) (map[int64]map[string]any, error)
}

// Static is an in-memory Adapter. It is safe for concurrent use.
type Static struct {
	mu       sync.RWMutex
	entities map[types.Category][]types.Entity
}

// NewStatic returns an adapter holding snap (which may be nil).
func NewStatic(snap *types.Snapshot) *Static {
	s := &Static{entities: make(map[types.Category][]types.Entity)}
	if snap != nil {
		for _, c := range types.AllCategories {
			s.entities[c] = snap.Entities(c)
		}
	}
	return s
}

// Set replaces the entity list of category.
func (s *Static) Set(category types.Category, entities []types.Entity) {
	cp := make([]types.Entity, len(entities))
	copy(cp, entities)

	s.mu.Lock()
	s.entities[category] = cp
	s.mu.Unlock()
}

// ListAll implements Adapter.
func (s *Static) ListAll(ctx context.Context, category types.Category) ([]types.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", types.ErrUnknownCategory, category)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Entity, len(s.entities[category]))
	copy(out, s.entities[category])
	return out, nil
}

// DeviceState implements Adapter.
func (s *Static) DeviceState(ctx context.Context, id int64) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findState(s.entities[types.CategoryDevice], id)
}

// DeviceStates implements Adapter.
func (s *Static) DeviceStates(ctx context.Context) (map[int64]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return allStates(s.entities[types.CategoryDevice]), nil
}

// allStates maps every device id to its state. A repeated id keeps the
// last device.
func allStates(devices []types.Entity) map[int64]map[string]any {
	out := make(map[int64]map[string]any, len(devices))
	for _, e := range devices {
		if d, ok := e.(*types.Device); ok {
			out[d.ID] = StateOf(d)
		}
	}
	return out
}

// findState returns a copy of the device's state map merged over its
// top-level pass-through attributes, so onState and brightness resolve
// whichever way the controller reported them.
func findState(devices []types.Entity, id int64) (map[string]any, error) {
	for i := len(devices) - 1; i >= 0; i-- {
		if d, ok := devices[i].(*types.Device); ok && d.ID == id {
			return StateOf(d), nil
		}
	}
	return nil, fmt.Errorf("%w: device %d", ErrNotFound, id)
}

// StateOf returns a copy of the device's state map merged over its
// top-level pass-through attributes.
func StateOf(d *types.Device) map[string]any {
	out := make(map[string]any, len(d.Extra)+len(d.States))
	for k, v := range d.Extra {
		out[k] = v
	}
	for k, v := range d.States {
		out[k] = v
	}
	return out
}

var _ Adapter = (*Static)(nil)
