// Package search is the caller-facing search pipeline: query parsing,
// similarity search over the entity index, device-type and state filters
// and result formatting. It also carries the other caller operations
// (Stats, Reindex, Validate) so every outer surface shares one entry point.
package search

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/scrypster/entityindex/internal/classify"
	"github.com/scrypster/entityindex/internal/index"
	"github.com/scrypster/entityindex/internal/metrics"
	"github.com/scrypster/entityindex/internal/source"
	"github.com/scrypster/entityindex/internal/validation"
	"github.com/scrypster/entityindex/pkg/types"
)

// ErrNoSource is returned by operations that need the source adapter when
// none was configured.
var ErrNoSource = errors.New("no source adapter configured")

// Option configures a Service.
type Option func(*Service)

// WithSource lets the state filter read live device state and enables
// Validate.
func WithSource(src source.Adapter) Option {
	return func(s *Service) { s.source = src }
}

// WithMetrics records search latency and result counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service runs searches against an index.
type Service struct {
	index   *index.Index
	source  source.Adapter
	metrics *metrics.Metrics
}

// NewService creates a Service over idx.
func NewService(idx *index.Index, opts ...Option) *Service {
	s := &Service{index: idx}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search runs the pipeline. It never returns an error: failures become a
// response with Error set, the query echoed and zero counts.
func (s *Service) Search(ctx context.Context, req types.SearchRequest) (resp types.SearchResponse) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("search: ERROR: panic for query %q: %v", req.Query, r)
			resp = ErrorResponse(req.Query, fmt.Errorf("internal error: %v", r))
		}
		s.metrics.ObserveSearch(time.Since(start), resp.TotalCount, resp.Error != "")
	}()

	resp, err := s.search(ctx, req)
	if err != nil {
		log.Printf("search: ERROR: query %q: %v", req.Query, err)
		return ErrorResponse(req.Query, err)
	}
	return resp
}

func (s *Service) search(ctx context.Context, req types.SearchRequest) (types.SearchResponse, error) {
	if strings.TrimSpace(req.Query) == "" {
		return types.SearchResponse{}, errors.New("query must not be empty")
	}
	categories, err := types.ParseCategories(req.Categories)
	if err != nil {
		return types.SearchResponse{}, err
	}
	if req.TopK < 0 {
		return types.SearchResponse{}, fmt.Errorf("top_k must not be negative: %d", req.TopK)
	}
	if req.Threshold != nil && (*req.Threshold < 0 || *req.Threshold > 1) {
		return types.SearchResponse{}, fmt.Errorf("threshold must be within [0,1]: %v", *req.Threshold)
	}

	p := Parse(req.Query, categories, req.DeviceTypes)
	if req.TopK > 0 {
		p.TopK = req.TopK
	}
	if req.Threshold != nil {
		p.Threshold = *req.Threshold
	}

	scored, err := s.index.Search(ctx, req.Query, p.Categories, p.TopK, p.Threshold)
	if err != nil {
		return types.SearchResponse{}, err
	}
	truncated := len(scored) >= p.TopK

	allowed := make(map[string]bool, len(req.DeviceTypes))
	for _, t := range req.DeviceTypes {
		allowed[strings.ToLower(strings.TrimSpace(t))] = true
	}

	var states map[int64]map[string]any
	if len(req.StateFilter) > 0 {
		states = s.deviceStates(ctx)
	}

	hits := make([]Hit, 0, len(scored))
	for _, sr := range scored {
		data, err := sr.Record.DecodeData()
		if err != nil {
			log.Printf("search: WARNING: skipping %s %d: %v", sr.Category, sr.Record.ID, err)
			continue
		}
		if sr.Category == types.CategoryDevice {
			if len(allowed) > 0 && !allowed[deviceType(sr.Record)] {
				continue
			}
			if len(req.StateFilter) > 0 && !MatchState(states[sr.Record.ID], data, req.StateFilter) {
				continue
			}
		}
		hits = append(hits, Hit{Category: sr.Category, Data: data, Score: sr.Score})
	}
	return Format(req.Query, hits, truncated, p.StateDetected || len(req.StateFilter) > 0), nil
}

func deviceType(r types.IndexRecord) string {
	e, err := types.DecodeEntity(types.CategoryDevice, r.Data)
	if err != nil {
		return classify.Device
	}
	d, ok := e.(*types.Device)
	if !ok {
		return classify.Device
	}
	return classify.Classify(d)
}

// deviceStates reads live state for every device in one source call. Nil
// means "use the stored snapshots".
func (s *Service) deviceStates(ctx context.Context) map[int64]map[string]any {
	if s.source == nil {
		return nil
	}
	states, err := s.source.DeviceStates(ctx)
	if err != nil {
		log.Printf("search: WARNING: live device state: %v", err)
		return nil
	}
	return states
}

// Stats returns the record count per category.
func (s *Service) Stats(ctx context.Context) (types.IndexStats, error) {
	return s.index.Stats(ctx)
}

// Reindex runs a full upsert pass with orphan deletion.
func (s *Service) Reindex(ctx context.Context, devices []*types.Device, variables []*types.Variable, actions []*types.Action) (index.ReindexResult, error) {
	res, err := s.index.Reindex(ctx, devices, variables, actions)
	if err != nil {
		return res, err
	}
	if s.metrics != nil {
		if stats, err := s.index.Stats(ctx); err == nil {
			s.metrics.SetIndexSize(string(types.CategoryDevice), stats.Devices)
			s.metrics.SetIndexSize(string(types.CategoryVariable), stats.Variables)
			s.metrics.SetIndexSize(string(types.CategoryAction), stats.Actions)
		}
	}
	return res, nil
}

// ReindexFromSource reads every category from the source and reindexes.
func (s *Service) ReindexFromSource(ctx context.Context) (index.ReindexResult, error) {
	if s.source == nil {
		return index.ReindexResult{}, ErrNoSource
	}
	var snap types.Snapshot
	for _, c := range types.AllCategories {
		entities, err := s.source.ListAll(ctx, c)
		if err != nil {
			return index.ReindexResult{}, fmt.Errorf("list %s: %w", c.Plural(), err)
		}
		for _, e := range entities {
			switch v := e.(type) {
			case *types.Device:
				snap.Devices = append(snap.Devices, v)
			case *types.Variable:
				snap.Variables = append(snap.Variables, v)
			case *types.Action:
				snap.Actions = append(snap.Actions, v)
			}
		}
	}
	return s.Reindex(ctx, snap.Devices, snap.Variables, snap.Actions)
}

// CategoryReport is the validation outcome for one category.
type CategoryReport struct {
	Summary    map[string]int        `json:"summary"`
	Priorities validation.Priorities `json:"priorities"`
	Issues     []validation.Issue    `json:"issues"`
}

// Validate compares the source with the index without changing anything.
func (s *Service) Validate(ctx context.Context) (map[types.Category]CategoryReport, error) {
	if s.source == nil {
		return nil, ErrNoSource
	}
	out := make(map[types.Category]CategoryReport, len(types.AllCategories))
	for _, c := range types.AllCategories {
		entities, err := s.source.ListAll(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", c.Plural(), err)
		}
		records, err := s.index.Records(ctx, c)
		if err != nil {
			return nil, err
		}
		vr := validation.Validate(c, entities, records, validation.DefaultOptions(c, index.ContentHash, s.index.Dimension()))
		out[c] = CategoryReport{
			Summary:    vr.Summary(),
			Priorities: validation.PrioritizeUpdates(vr),
			Issues:     vr.Issues,
		}
	}
	return out, nil
}
