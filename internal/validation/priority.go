package validation

// Priorities partitions the ids of a Result into repair buckets. The
// buckets are sorted and pairwise disjoint.
type Priorities struct {
	// Critical ids break search: missing, invalid or corrupted records.
	Critical []int64 `json:"critical"`
	// High ids have changed static fields.
	High []int64 `json:"high"`
	// Medium ids only lack semantic keywords.
	Medium []int64 `json:"medium"`
}

// Empty reports whether no repairs are needed.
func (p Priorities) Empty() bool {
	return len(p.Critical) == 0 && len(p.High) == 0 && len(p.Medium) == 0
}

// PrioritizeUpdates computes critical = missing ∪ invalid ∪ corrupted,
// high = hash mismatch − critical, medium = missing keywords − critical − high.
func PrioritizeUpdates(r *Result) Priorities {
	critical := make(map[int64]struct{})
	for _, k := range []IssueKind{MissingRecord, InvalidEmbedding, CorruptedData} {
		for _, id := range r.EntityIDsByKind(k) {
			critical[id] = struct{}{}
		}
	}

	high := make(map[int64]struct{})
	for _, id := range r.EntityIDsByKind(HashMismatch) {
		if _, ok := critical[id]; !ok {
			high[id] = struct{}{}
		}
	}

	medium := make(map[int64]struct{})
	for _, id := range r.EntityIDsByKind(MissingKeywords) {
		if _, ok := critical[id]; ok {
			continue
		}
		if _, ok := high[id]; ok {
			continue
		}
		medium[id] = struct{}{}
	}

	return Priorities{
		Critical: sortedIDs(critical),
		High:     sortedIDs(high),
		Medium:   sortedIDs(medium),
	}
}
