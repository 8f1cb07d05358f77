package storage

import (
	"errors"
	"fmt"

	"github.com/scrypster/entityindex/pkg/types"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")
)

// Meta keys.
const (
	MetaEmbeddingModel     = "embedding_model"
	MetaEmbeddingDimension = "embedding_dimension"
)

// Table returns the table name for category, or an error wrapping
// types.ErrUnknownCategory. Engines build SQL only from names returned here.
func Table(category types.Category) (string, error) {
	if !category.Valid() {
		return "", fmt.Errorf("%w: %q", types.ErrUnknownCategory, string(category))
	}
	return category.Plural(), nil
}

// CheckLimit rejects non-positive limits and clamps to MaxScanLimit.
func CheckLimit(limit int) (int, error) {
	if limit <= 0 {
		return 0, fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidInput, limit)
	}
	if limit > MaxScanLimit {
		return MaxScanLimit, nil
	}
	return limit, nil
}

// CheckRecord performs the structural checks every engine applies before a
// write. Semantic checks (finite values, dimension) belong to the index.
func CheckRecord(r types.IndexRecord) error {
	if len(r.Embedding) == 0 {
		return fmt.Errorf("%w: record %d has an empty embedding", ErrInvalidInput, r.ID)
	}
	if len(r.Data) == 0 {
		return fmt.Errorf("%w: record %d has no data", ErrInvalidInput, r.ID)
	}
	return nil
}
