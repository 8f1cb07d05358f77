package types

import (
	"encoding/json"
	"fmt"
)

// Entity is a device, variable or action group supplied by the controller.
// Implementations are *Device, *Variable and *Action.
type Entity interface {
	EntityID() int64
	EntityName() string
	EntityCategory() Category
}

// Base holds the fields every entity carries. Extra is an opaque pass-through
// of any attribute the index does not model explicitly; it is merged back at
// the top level when the entity is serialized.
type Base struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Extra       map[string]any `json:"-"`
}

// EntityID returns the entity id, unique within its category.
func (b *Base) EntityID() int64 { return b.ID }

// EntityName returns the display name.
func (b *Base) EntityName() string { return b.Name }

// Device is a physical or virtual controller device.
type Device struct {
	Base
	Model        string         `json:"model,omitempty"`
	DeviceTypeID string         `json:"deviceTypeId,omitempty"`
	PluginID     string         `json:"pluginId,omitempty"`
	Address      string         `json:"address,omitempty"`
	Protocol     string         `json:"protocol,omitempty"`
	Class        string         `json:"class,omitempty"` // controller class hint, e.g. "DimmerDevice"
	Enabled      *bool          `json:"enabled,omitempty"`
	FolderID     int64          `json:"folderId,omitempty"`
	States       map[string]any `json:"states,omitempty"`
}

// EntityCategory implements Entity.
func (d *Device) EntityCategory() Category { return CategoryDevice }

// State looks a field up in the live state map first and then among the
// top-level pass-through attributes (onState, brightness, ...).
func (d *Device) State(key string) (any, bool) {
	if v, ok := d.States[key]; ok {
		return v, true
	}
	v, ok := d.Extra[key]
	return v, ok
}

// Variable is a named controller variable.
type Variable struct {
	Base
	Value    string `json:"value"`
	FolderID int64  `json:"folderId,omitempty"`
	ReadOnly bool   `json:"readOnly"`
}

// EntityCategory implements Entity.
func (v *Variable) EntityCategory() Category { return CategoryVariable }

// Action is an action group (scene, schedule target, macro).
type Action struct {
	Base
	FolderID int64 `json:"folderId,omitempty"`
}

// EntityCategory implements Entity.
func (a *Action) EntityCategory() Category { return CategoryAction }

var (
	baseKeys     = []string{"id", "name", "description"}
	deviceKeys   = append([]string{"model", "deviceTypeId", "pluginId", "address", "protocol", "class", "enabled", "folderId", "states"}, baseKeys...)
	variableKeys = append([]string{"value", "folderId", "readOnly"}, baseKeys...)
	actionKeys   = append([]string{"folderId"}, baseKeys...)
)

// MarshalJSON writes the device as one flat object.
func (d Device) MarshalJSON() ([]byte, error) {
	type alias Device
	return marshalFlat(alias(d), d.Extra)
}

// UnmarshalJSON splits known fields from pass-through attributes.
func (d *Device) UnmarshalJSON(data []byte) error {
	type alias Device
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	extra, err := extraFields(data, deviceKeys)
	if err != nil {
		return err
	}
	*d = Device(a)
	d.Extra = extra
	return nil
}

// MarshalJSON writes the variable as one flat object.
func (v Variable) MarshalJSON() ([]byte, error) {
	type alias Variable
	return marshalFlat(alias(v), v.Extra)
}

// UnmarshalJSON splits known fields from pass-through attributes.
func (v *Variable) UnmarshalJSON(data []byte) error {
	type alias Variable
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	extra, err := extraFields(data, variableKeys)
	if err != nil {
		return err
	}
	*v = Variable(a)
	v.Extra = extra
	return nil
}

// MarshalJSON writes the action as one flat object.
func (a Action) MarshalJSON() ([]byte, error) {
	type alias Action
	return marshalFlat(alias(a), a.Extra)
}

// UnmarshalJSON splits known fields from pass-through attributes.
func (a *Action) UnmarshalJSON(data []byte) error {
	type alias Action
	var al alias
	if err := json.Unmarshal(data, &al); err != nil {
		return err
	}
	extra, err := extraFields(data, actionKeys)
	if err != nil {
		return err
	}
	*a = Action(al)
	a.Extra = extra
	return nil
}

// marshalFlat merges extra into the encoded known fields. Known fields win on
// key collisions.
func marshalFlat(known any, extra map[string]any) ([]byte, error) {
	raw, err := json.Marshal(known)
	if err != nil || len(extra) == 0 {
		return raw, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(raw, &merged); err != nil {
		return nil, err
	}
	for k, v := range extra {
		if _, ok := merged[k]; ok {
			continue
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("extra field %q: %w", k, err)
		}
		merged[k] = b
	}
	return json.Marshal(merged)
}

func extraFields(data []byte, known []string) (map[string]any, error) {
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	extra := make(map[string]any, len(all))
	for k, raw := range all {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("extra field %q: %w", k, err)
		}
		extra[k] = v
	}
	return extra, nil
}

// DecodeEntity parses a serialized snapshot into the variant for category.
func DecodeEntity(category Category, data []byte) (Entity, error) {
	var e Entity
	switch category {
	case CategoryDevice:
		e = &Device{}
	case CategoryVariable:
		e = &Variable{}
	case CategoryAction:
		e = &Action{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	if err := json.Unmarshal(data, e); err != nil {
		return nil, err
	}
	return e, nil
}

// Snapshot groups the full entity lists of a controller by category. It is
// the document format read by file-backed sources and accepted by Reindex.
type Snapshot struct {
	Devices   []*Device   `json:"devices"`
	Variables []*Variable `json:"variables"`
	Actions   []*Action   `json:"actions"`
}

// Entities returns the snapshot entries for category as Entity values.
func (s *Snapshot) Entities(category Category) []Entity {
	var out []Entity
	switch category {
	case CategoryDevice:
		out = make([]Entity, 0, len(s.Devices))
		for _, d := range s.Devices {
			if d != nil {
				out = append(out, d)
			}
		}
	case CategoryVariable:
		out = make([]Entity, 0, len(s.Variables))
		for _, v := range s.Variables {
			if v != nil {
				out = append(out, v)
			}
		}
	case CategoryAction:
		out = make([]Entity, 0, len(s.Actions))
		for _, a := range s.Actions {
			if a != nil {
				out = append(out, a)
			}
		}
	}
	return out
}
