// Package storage provides the storage interfaces behind the entity index.
//
// Every category (devices, variables, actions) is one table of index records
// keyed by entity id. Engines implement RecordStore and MetaStore; an engine
// that can rank vectors natively may also implement VectorSearcher.
package storage

import (
	"context"

	"github.com/scrypster/entityindex/pkg/types"
)

// MaxScanLimit bounds every full-table read. Engines must honour the limit
// they are given and never fall back to a default page size.
const MaxScanLimit = 100000

// RecordStore persists index records, one per entity id per category.
type RecordStore interface {
	// LoadAll returns up to limit records of category ordered by id.
	// limit must be positive; callers pass MaxScanLimit for full scans.
	LoadAll(ctx context.Context, category types.Category, limit int) ([]types.IndexRecord, error)

	// Hashes returns id -> content_hash for up to limit records.
	Hashes(ctx context.Context, category types.Category, limit int) (map[int64]string, error)

	// Put writes records in a single transaction, replacing any existing
	// record with the same id. Either every record is written or none is.
	Put(ctx context.Context, category types.Category, records []types.IndexRecord) error

	// Delete removes the records with the given ids and returns how many
	// existed. Unknown ids are ignored.
	Delete(ctx context.Context, category types.Category, ids []int64) (int, error)

	// Count returns the true number of records in category.
	Count(ctx context.Context, category types.Category) (int, error)

	// Reset removes every record of category.
	Reset(ctx context.Context, category types.Category) error

	// Close releases any resources held by the store.
	Close() error
}

// MetaStore keeps small key/value settings next to the records, such as the
// embedding model and dimension the tables were built with.
type MetaStore interface {
	// GetMeta returns ErrNotFound when key is unset.
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
}

// Store is a complete storage engine.
type Store interface {
	RecordStore
	MetaStore
}

// VectorSearcher is implemented by engines that rank by cosine similarity
// in the database. Results are exact, sorted by score descending then id,
// and capped at limit.
type VectorSearcher interface {
	Nearest(ctx context.Context, category types.Category, query []float32, limit int) ([]types.ScoredRecord, error)
}
