// Package validation compares the authoritative entity set of one category
// with the stored index records and reports every inconsistency. It is pure:
// no I/O, no provider calls. Inconsistency is data, never an error.
package validation

import (
	"fmt"
	"math"
	"sort"

	"github.com/scrypster/entityindex/pkg/types"
)

// IssueKind classifies an inconsistency.
type IssueKind string

const (
	MissingRecord    IssueKind = "missing_record"
	HashMismatch     IssueKind = "hash_mismatch"
	InvalidEmbedding IssueKind = "invalid_embedding"
	CorruptedData    IssueKind = "corrupted_data"
	MissingKeywords  IssueKind = "missing_keywords"
)

// AllKinds lists issue kinds in reporting order.
var AllKinds = []IssueKind{MissingRecord, HashMismatch, InvalidEmbedding, CorruptedData, MissingKeywords}

// Issue is one finding for one entity id.
type Issue struct {
	EntityID int64     `json:"entity_id"`
	Kind     IssueKind `json:"kind"`
	Detail   string    `json:"detail"`
}

// Options configures Validate.
type Options struct {
	// Hash computes the content hash of a source entity. Required.
	Hash func(types.Entity) string

	// Dimension is the expected embedding length. Zero infers it from the
	// most common length among the records.
	Dimension int

	// CheckKeywords enables the MissingKeywords heuristic.
	CheckKeywords bool
}

// DefaultOptions returns options for category with keyword checks enabled
// for devices only.
func DefaultOptions(category types.Category, hash func(types.Entity) string, dimension int) Options {
	return Options{
		Hash:          hash,
		Dimension:     dimension,
		CheckKeywords: category == types.CategoryDevice,
	}
}

// Result is the outcome of validating one category.
type Result struct {
	Category     types.Category `json:"category"`
	TotalChecked int            `json:"total_checked"`
	ValidCount   int            `json:"valid_count"`
	Issues       []Issue        `json:"issues"`

	orphans []int64
}

// HasIssues reports whether anything needs repair.
func (r *Result) HasIssues() bool {
	return len(r.Issues) > 0
}

// EntityIDsByKind returns the sorted, de-duplicated ids with an issue of kind.
func (r *Result) EntityIDsByKind(kind IssueKind) []int64 {
	set := make(map[int64]struct{})
	for _, is := range r.Issues {
		if is.Kind == kind {
			set[is.EntityID] = struct{}{}
		}
	}
	return sortedIDs(set)
}

// Orphans returns the sorted ids of records with no source entity.
func (r *Result) Orphans() []int64 {
	out := make([]int64, len(r.orphans))
	copy(out, r.orphans)
	return out
}

// Summary returns counts per issue kind (omitting zero kinds) plus
// total_checked, valid_count and total_issues.
func (r *Result) Summary() map[string]int {
	s := map[string]int{
		"total_checked": r.TotalChecked,
		"valid_count":   r.ValidCount,
		"total_issues":  len(r.Issues),
	}
	for _, is := range r.Issues {
		s[string(is.Kind)]++
	}
	return s
}

// Validate checks every source entity against its record and every record
// against the source. A missing record skips the other checks for that
// entity; a record with no source entity is reported as MissingRecord.
// When the source lists an id more than once, the last entity is checked.
func Validate(category types.Category, entities []types.Entity, records []types.IndexRecord, opts Options) *Result {
	res := &Result{Category: category, Issues: []Issue{}}

	byID := make(map[int64]*types.IndexRecord, len(records))
	for i := range records {
		byID[records[i].ID] = &records[i]
	}

	dim := opts.Dimension
	if dim <= 0 {
		dim = modalLength(records)
	}

	// A repeated id resolves to its last entity, as the index does on write.
	live := make(map[int64]types.Entity, len(entities))
	order := make([]int64, 0, len(entities))
	for _, e := range entities {
		if e == nil {
			continue
		}
		id := e.EntityID()
		if _, seen := live[id]; !seen {
			order = append(order, id)
		}
		live[id] = e
	}

	for _, id := range order {
		e := live[id]
		res.TotalChecked++

		rec, ok := byID[id]
		if !ok {
			res.add(id, MissingRecord, "not found in index")
			continue
		}

		clean := true
		if opts.Hash != nil {
			if h := opts.Hash(e); h != rec.ContentHash {
				res.add(id, HashMismatch, fmt.Sprintf("hash changed (was %s, now %s)", short(rec.ContentHash), short(h)))
				clean = false
			}
		}
		if detail := checkEmbedding(rec.Embedding, dim); detail != "" {
			res.add(id, InvalidEmbedding, detail)
			clean = false
		}
		if _, err := rec.DecodeData(); err != nil {
			res.add(id, CorruptedData, err.Error())
			clean = false
		}
		if opts.CheckKeywords && !HasSemanticKeywords(rec.Text, e.EntityName()) {
			res.add(id, MissingKeywords, "no semantic keywords detected")
			clean = false
		}
		if clean {
			res.ValidCount++
		}
	}

	orphans := make(map[int64]struct{})
	for id := range byID {
		if _, ok := live[id]; !ok {
			orphans[id] = struct{}{}
		}
	}
	res.orphans = sortedIDs(orphans)
	for _, id := range res.orphans {
		res.TotalChecked++
		res.add(id, MissingRecord, "entity no longer exists")
	}
	return res
}

func (r *Result) add(id int64, kind IssueKind, detail string) {
	r.Issues = append(r.Issues, Issue{EntityID: id, Kind: kind, Detail: detail})
}

// checkEmbedding returns a description of what is wrong, or "".
func checkEmbedding(v []float32, dim int) string {
	if len(v) == 0 {
		return "empty embedding"
	}
	if dim > 0 && len(v) != dim {
		return fmt.Sprintf("embedding length %d, expected %d", len(v), dim)
	}
	for i, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Sprintf("non-finite value at position %d", i)
		}
	}
	return ""
}

// modalLength returns the most common non-zero embedding length, preferring
// the larger length on a tie.
func modalLength(records []types.IndexRecord) int {
	counts := make(map[int]int)
	for _, r := range records {
		if n := len(r.Embedding); n > 0 {
			counts[n]++
		}
	}
	best, bestCount := 0, 0
	for n, c := range counts {
		if c > bestCount || (c == bestCount && n > best) {
			best, bestCount = n, c
		}
	}
	return best
}

func short(h string) string {
	if len(h) > 8 {
		return h[:8] + "..."
	}
	return h
}

func sortedIDs(set map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
