// Package indexsync keeps the entity index eventually consistent with the
// source. A Manager runs one reconciliation tick on a timer (and on demand):
// fetch the source, validate it against the stored records, then repair
// only what the validator flagged, most urgent first.
package indexsync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/scrypster/entityindex/internal/index"
	"github.com/scrypster/entityindex/internal/metrics"
	"github.com/scrypster/entityindex/internal/source"
)

// Defaults applied by NewManager.
const (
	DefaultProviderTimeout = 60 * time.Second
	DefaultMediumEvery     = 3
)

// Tick triggers.
const (
	TriggerStart  = "start"
	TriggerTimer  = "timer"
	TriggerManual = "manual"
)

// Config tunes a Manager.
type Config struct {
	// Interval between timer ticks. Zero disables the timer; UpdateNow still
	// works.
	Interval time.Duration

	// ProviderTimeout bounds one whole tick, provider calls included.
	ProviderTimeout time.Duration

	// MediumEvery runs keyword repairs every N ticks. 1 repairs inline on
	// every tick.
	MediumEvery int

	// Verbose logs no-op ticks.
	Verbose bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics records tick outcomes and index sizes.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// Manager owns the reconciliation loop.
type Manager struct {
	source  source.Adapter
	index   *index.Index
	cfg     Config
	now     func() time.Time
	metrics *metrics.Metrics

	// tickMu serializes ticks: at most one reconciliation runs at a time.
	tickMu sync.Mutex

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	seq       int
	last      *TickResult
	lastErr   error
	observers []func(TickResult)
}

// NewManager creates a stopped Manager.
func NewManager(src source.Adapter, idx *index.Index, cfg Config, opts ...Option) (*Manager, error) {
	if src == nil || idx == nil {
		return nil, errors.New("indexsync: source and index are required")
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("indexsync: negative interval %v", cfg.Interval)
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.MediumEvery <= 0 {
		cfg.MediumEvery = DefaultMediumEvery
	}
	m := &Manager{
		source: src,
		index:  idx,
		cfg:    cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// OnTick registers fn to be called after every tick, failed ticks included.
// Observers run on the ticking goroutine and must not block.
func (m *Manager) OnTick(fn func(TickResult)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Start launches the background loop. The loop reconciles once immediately
// and then on every Interval until ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("indexsync: manager is already running")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.loop(loopCtx, m.done)
	log.Printf("indexsync: started (interval=%v, medium_every=%d)", m.cfg.Interval, m.cfg.MediumEvery)
	return nil
}

// Stop ends the loop and blocks until any in-flight tick has finished, so
// no index write is left pending.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return errors.New("indexsync: manager is not running")
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done

	// A manual tick may still be running outside the loop.
	m.tickMu.Lock()
	m.tickMu.Unlock() //nolint:staticcheck // empty section waits for the holder
	log.Println("indexsync: stopped")
	return nil
}

// UpdateNow reconciles immediately and returns the result. If a tick is
// already running it waits for that tick and then runs its own, so the
// caller always observes a reconciliation that started after the call.
func (m *Manager) UpdateNow(ctx context.Context) (*TickResult, error) {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()
	return m.tick(ctx, TriggerManual)
}

// Exclusive runs fn while no tick is in progress and holds off new ticks
// until fn returns. Index rebuilds started outside the loop go through here.
func (m *Manager) Exclusive(ctx context.Context, fn func(context.Context) error) error {
	m.tickMu.Lock()
	defer m.tickMu.Unlock()
	return fn(ctx)
}

func (m *Manager) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	m.tryTick(ctx, TriggerStart)

	if m.cfg.Interval == 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tryTick(ctx, TriggerTimer)
		}
	}
}

// tryTick runs a tick unless one is already in progress.
func (m *Manager) tryTick(ctx context.Context, trigger string) {
	if !m.tickMu.TryLock() {
		if m.cfg.Verbose {
			log.Printf("indexsync: %s tick skipped, reconciliation already running", trigger)
		}
		return
	}
	defer m.tickMu.Unlock()
	// An in-flight tick finishes even if Stop is called meanwhile; the
	// provider timeout still bounds it.
	_, _ = m.tick(context.WithoutCancel(ctx), trigger)
}

// tick runs one reconciliation. Callers hold tickMu.
func (m *Manager) tick(ctx context.Context, trigger string) (*TickResult, error) {
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	runMedium := m.cfg.MediumEvery <= 1 || seq%m.cfg.MediumEvery == 0

	ctx, cancel := context.WithTimeout(ctx, m.cfg.ProviderTimeout)
	defer cancel()

	res, err := m.reconcile(ctx, trigger, runMedium)
	res.Duration = m.now().Sub(res.StartedAt)
	if err != nil {
		res.Error = err.Error()
	}
	m.finish(res, err)
	return res, err
}

func (m *Manager) finish(res *TickResult, err error) {
	outcome := "noop"
	switch {
	case err != nil:
		outcome = "failed"
		log.Printf("indexsync: ERROR: tick %s (%s) failed after %v: %v", res.RunID, res.Trigger, res.Duration, err)
	case res.Changed():
		outcome = "changed"
		log.Printf("indexsync: tick %s (%s) %s in %v", res.RunID, res.Trigger, res.Describe(), res.Duration)
	default:
		if m.cfg.Verbose {
			log.Printf("indexsync: tick %s (%s) no changes (%d checked, %d deferred) in %v",
				res.RunID, res.Trigger, res.Checked(), res.Deferred, res.Duration)
		}
	}
	m.metrics.ObserveTick(outcome, res.Duration, res.IssueCounts())

	m.mu.Lock()
	m.last = res
	m.lastErr = err
	observers := make([]func(TickResult), len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(*res)
	}
}

// Status is a point-in-time view of the manager.
type Status struct {
	Running    bool        `json:"running"`
	Interval   string      `json:"interval"`
	Ticks      int         `json:"ticks"`
	LastRunID  string      `json:"last_run_id,omitempty"`
	LastTick   *time.Time  `json:"last_tick,omitempty"`
	LastResult *TickResult `json:"last_result,omitempty"`
	LastError  string      `json:"last_error,omitempty"`
}

// Status returns the current state and the most recent tick.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Running:  m.running,
		Interval: m.cfg.Interval.String(),
		Ticks:    m.seq,
	}
	if m.cfg.Interval == 0 {
		st.Interval = "manual"
	}
	if m.last != nil {
		cp := *m.last
		st.LastResult = &cp
		st.LastRunID = cp.RunID
		t := cp.StartedAt
		st.LastTick = &t
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}
