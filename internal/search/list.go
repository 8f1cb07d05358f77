package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/scrypster/entityindex/internal/classify"
	"github.com/scrypster/entityindex/internal/source"
	"github.com/scrypster/entityindex/pkg/types"
)

// ErrUnknownDeviceType is returned by ListDevices for a type Classify never
// produces.
var ErrUnknownDeviceType = errors.New("unknown device type")

// DeviceQuery selects devices straight from the source. Empty fields
// select everything.
type DeviceQuery struct {
	DeviceTypes []string       `json:"device_types,omitempty"`
	StateFilter map[string]any `json:"state_filter,omitempty"`
}

// DeviceList is the complete set of devices matching a DeviceQuery.
type DeviceList struct {
	Devices     []map[string]any `json:"devices"`
	Count       int              `json:"count"`
	DeviceTypes []string         `json:"device_types,omitempty"`
	StateFilter map[string]any   `json:"state_filter,omitempty"`
	Summary     string           `json:"summary"`
}

// ListDevices reads every device from the source and keeps those matching
// q. Nothing is embedded and no result cap applies, so state questions get
// exact answers.
func (s *Service) ListDevices(ctx context.Context, q DeviceQuery) (DeviceList, error) {
	if s.source == nil {
		return DeviceList{}, ErrNoSource
	}

	allowed := make(map[string]bool, len(q.DeviceTypes))
	for _, t := range q.DeviceTypes {
		t = strings.ToLower(strings.TrimSpace(t))
		if !classify.IsType(t) {
			return DeviceList{}, fmt.Errorf("%w %q (valid: %s)", ErrUnknownDeviceType, t, strings.Join(classify.Types(), ", "))
		}
		allowed[t] = true
	}

	entities, err := s.source.ListAll(ctx, types.CategoryDevice)
	if err != nil {
		return DeviceList{}, fmt.Errorf("list devices: %w", err)
	}

	out := DeviceList{
		Devices:     []map[string]any{},
		DeviceTypes: q.DeviceTypes,
		StateFilter: q.StateFilter,
	}
	for _, e := range entities {
		d, ok := e.(*types.Device)
		if !ok {
			continue
		}
		kind := classify.Classify(d)
		if len(allowed) > 0 && !allowed[kind] {
			continue
		}
		data, err := deviceData(d)
		if err != nil {
			log.Printf("search: WARNING: skipping device %d: %v", d.ID, err)
			continue
		}
		if len(q.StateFilter) > 0 && !MatchState(source.StateOf(d), data, q.StateFilter) {
			continue
		}
		data["device_type"] = kind
		out.Devices = append(out.Devices, data)
	}
	out.Count = len(out.Devices)
	out.Summary = listSummary(out.Count, q)
	return out, nil
}

func deviceData(d *types.Device) (map[string]any, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func listSummary(n int, q DeviceQuery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d devices", n)
	if len(q.StateFilter) > 0 {
		b.WriteString(" matching state conditions")
	}
	if len(q.DeviceTypes) > 0 {
		fmt.Fprintf(&b, " (types: %s)", strings.Join(q.DeviceTypes, ", "))
	}
	return b.String()
}
