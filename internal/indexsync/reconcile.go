package indexsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/scrypster/entityindex/internal/index"
	"github.com/scrypster/entityindex/internal/validation"
	"github.com/scrypster/entityindex/pkg/types"
)

// CategoryResult is what one tick found and did for one category.
type CategoryResult struct {
	Checked   int            `json:"checked"`
	Valid     int            `json:"valid"`
	Issues    map[string]int `json:"issues,omitempty"`
	Repaired  int            `json:"repaired"`
	Updated   int            `json:"updated"`
	Deleted   int            `json:"deleted"`
	Refreshed int            `json:"refreshed"`
	Deferred  int            `json:"deferred"`
}

// TickResult describes one reconciliation tick.
type TickResult struct {
	RunID      string                            `json:"run_id"`
	Trigger    string                            `json:"trigger"`
	StartedAt  time.Time                         `json:"started_at"`
	Duration   time.Duration                     `json:"duration"`
	Categories map[types.Category]CategoryResult `json:"categories"`
	Deferred   int                               `json:"deferred"`
	Error      string                            `json:"error,omitempty"`
}

// Changed reports whether the tick wrote to the index.
func (r *TickResult) Changed() bool {
	for _, c := range r.Categories {
		if c.Repaired+c.Updated+c.Deleted+c.Refreshed > 0 {
			return true
		}
	}
	return false
}

// Checked is the number of entities and orphans validated.
func (r *TickResult) Checked() int {
	n := 0
	for _, c := range r.Categories {
		n += c.Checked
	}
	return n
}

// IssueCounts sums issue kinds over all categories.
func (r *TickResult) IssueCounts() map[string]int {
	out := make(map[string]int)
	for _, c := range r.Categories {
		for _, k := range validation.AllKinds {
			if n := c.Issues[string(k)]; n > 0 {
				out[string(k)] += n
			}
		}
	}
	return out
}

// Describe is a one-line summary of the writes.
func (r *TickResult) Describe() string {
	var parts []string
	for _, c := range types.AllCategories {
		cr, ok := r.Categories[c]
		if !ok || cr.Repaired+cr.Updated+cr.Deleted+cr.Refreshed == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %d repaired, %d updated, %d deleted, %d refreshed",
			c.Plural(), cr.Repaired, cr.Updated, cr.Deleted, cr.Refreshed))
	}
	if len(parts) == 0 {
		return "no changes"
	}
	return strings.Join(parts, "; ")
}

// reconcile fetches, validates and repairs. It always returns a non-nil
// result, partially filled when err is set.
func (m *Manager) reconcile(ctx context.Context, trigger string, runMedium bool) (*TickResult, error) {
	res := &TickResult{
		RunID:      uuid.NewString(),
		Trigger:    trigger,
		StartedAt:  m.now(),
		Categories: make(map[types.Category]CategoryResult, len(types.AllCategories)),
	}

	fetched := make([][]types.Entity, len(types.AllCategories))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range types.AllCategories {
		g.Go(func() error {
			entities, err := m.source.ListAll(gctx, c)
			if err != nil {
				return fmt.Errorf("list %s: %w", c.Plural(), err)
			}
			fetched[i] = entities
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}

	for i, c := range types.AllCategories {
		cr, err := m.reconcileCategory(ctx, c, fetched[i], runMedium)
		res.Categories[c] = cr
		res.Deferred += cr.Deferred
		if err != nil {
			return res, err
		}
	}

	if m.metrics != nil {
		if stats, err := m.index.Stats(ctx); err == nil {
			m.metrics.SetIndexSize(string(types.CategoryDevice), stats.Devices)
			m.metrics.SetIndexSize(string(types.CategoryVariable), stats.Variables)
			m.metrics.SetIndexSize(string(types.CategoryAction), stats.Actions)
		}
	}
	return res, nil
}

// reconcileCategory repairs critical ids, then high, then orphans, then
// (when due) medium.
func (m *Manager) reconcileCategory(ctx context.Context, c types.Category, entities []types.Entity, runMedium bool) (CategoryResult, error) {
	var cr CategoryResult

	records, err := m.index.Records(ctx, c)
	if err != nil {
		return cr, err
	}
	vr := validation.Validate(c, entities, records, validation.DefaultOptions(c, index.ContentHash, m.index.Dimension()))
	cr.Checked = vr.TotalChecked
	cr.Valid = vr.ValidCount
	if vr.HasIssues() {
		cr.Issues = vr.Summary()
		delete(cr.Issues, "total_checked")
		delete(cr.Issues, "valid_count")
		delete(cr.Issues, "total_issues")
	}
	pr := validation.PrioritizeUpdates(vr)

	byID := make(map[int64]types.Entity, len(entities))
	for _, e := range entities {
		if e != nil {
			byID[e.EntityID()] = e
		}
	}

	// Orphans are reported as MissingRecord and so land in Critical; they
	// have no source entity and are handled by the delete below.
	if critical := pick(byID, pr.Critical); len(critical) > 0 {
		up, err := m.index.Repair(ctx, c, critical)
		if err != nil {
			return cr, err
		}
		cr.Repaired = up.Embedded
	}
	if high := pick(byID, pr.High); len(high) > 0 {
		up, err := m.index.Upsert(ctx, c, high)
		if err != nil {
			return cr, err
		}
		cr.Updated = up.Embedded
	}
	if orphans := vr.Orphans(); len(orphans) > 0 {
		n, err := m.index.Delete(ctx, c, orphans)
		if err != nil {
			return cr, err
		}
		cr.Deleted = n
	}
	if medium := pick(byID, pr.Medium); len(medium) > 0 {
		if !runMedium {
			cr.Deferred = len(medium)
			return cr, nil
		}
		up, err := m.index.Refresh(ctx, c, medium)
		if err != nil {
			return cr, err
		}
		cr.Refreshed = up.Embedded
	}
	return cr, nil
}

func pick(byID map[int64]types.Entity, ids []int64) []types.Entity {
	out := make([]types.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := byID[id]; ok {
			out = append(out, e)
		}
	}
	return out
}
