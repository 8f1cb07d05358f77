package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMissingID is returned by DecodeData when a snapshot parses but carries
// no usable id field.
var ErrMissingID = errors.New("snapshot has no id field")

// IndexRecord is the stored searchable representation of one entity. A record
// is always written as a unit: hash, text, embedding, name and data together.
type IndexRecord struct {
	// ID is the entity id, the primary key within the category table.
	ID int64 `json:"id"`

	// ContentHash digests the semantically relevant fields of the entity.
	ContentHash string `json:"content_hash"`

	// Text is the exact string that was embedded.
	Text string `json:"text"`

	// Embedding is the provider vector for Text.
	Embedding []float32 `json:"embedding,omitempty"`

	// Name is a denormalized copy of the display name.
	Name string `json:"name"`

	// Data is the serialized full entity snapshot.
	Data json.RawMessage `json:"data"`
}

// DecodeData parses Data into a generic object and checks that its id
// matches the record key. The id is compared exactly, so keys beyond the
// float64 integer range still match.
func (r *IndexRecord) DecodeData() (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(r.Data, &obj); err != nil {
		return nil, fmt.Errorf("parse data: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("parse data: %w", ErrMissingID)
	}
	raw, ok := obj["id"]
	if !ok {
		return nil, ErrMissingID
	}
	if _, ok := raw.(float64); !ok {
		return nil, fmt.Errorf("%w: id is %T", ErrMissingID, raw)
	}

	var key struct {
		ID json.Number `json:"id"`
	}
	dec := json.NewDecoder(bytes.NewReader(r.Data))
	dec.UseNumber()
	if err := dec.Decode(&key); err != nil {
		return nil, fmt.Errorf("parse data: %w", err)
	}
	id, err := key.ID.Int64()
	if err != nil {
		return nil, fmt.Errorf("%w: id %s is not an integer", ErrMissingID, key.ID)
	}
	if id != r.ID {
		return nil, fmt.Errorf("data id %d does not match record id %d", id, r.ID)
	}
	return obj, nil
}

// ScoredRecord is a search hit: a record, its category and its similarity
// score in [0,1].
type ScoredRecord struct {
	Category Category
	Record   IndexRecord
	Score    float64
}
