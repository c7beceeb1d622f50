// Package cleanup implements the Cleanup Service (C6): a periodic reaper
// that bounds how many executions the Execution Store holds by age and by
// total count, disposing of the excess through the Execution Service.
package cleanup

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chaingraphlabs/chaingraph/execution/instance"
	"github.com/chaingraphlabs/chaingraph/execution/telemetry"
)

// Default reaper cadence and bounds.
const (
	DefaultMaxAge        = 24 * time.Hour
	DefaultInterval      = time.Hour
	DefaultMaxExecutions = 50_000
)

// Lister is the read side of the Execution Store the Cleanup Service needs.
type Lister interface {
	List(ctx context.Context, limit int) ([]instance.Snapshot, error)
}

// Disposer is the Execution Service's teardown entry point.
type Disposer interface {
	Dispose(ctx context.Context, id string) error
}

// Options configures a Service.
type Options struct {
	MaxAge        time.Duration
	Interval      time.Duration
	MaxExecutions int
	Logger        telemetry.Logger
	Metrics       telemetry.Metrics
	// Clock abstracts wall-clock "now" for age comparisons; defaults to
	// time.Now via a thin closure so tests can inject a fixed reference.
	Clock func() time.Time
}

// Service is the periodic reaper (C6).
type Service struct {
	store    Lister
	disposer Disposer

	maxAge        time.Duration
	interval      time.Duration
	maxExecutions int
	log           telemetry.Logger
	metrics       telemetry.Metrics
	now           func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a cleanup Service. store and disposer are required.
func New(store Lister, disposer Disposer, opts Options) *Service {
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxExecutions := opts.MaxExecutions
	if maxExecutions <= 0 {
		maxExecutions = DefaultMaxExecutions
	}
	log := opts.Logger
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:         store,
		disposer:      disposer,
		maxAge:        maxAge,
		interval:      interval,
		maxExecutions: maxExecutions,
		log:           log,
		metrics:       metrics,
		now:           now,
	}
}

// Start runs one tick immediately, then ticks every Interval until Stop is
// called.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(runCtx)
	return nil
}

// Stop cancels the tick loop and waits for the in-flight tick to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one cleanup pass: list, mark for removal by age and by count,
// then dispose of every marked id. A single instance's dispose failure is
// logged and does not abort the rest of the tick.
func (s *Service) Tick(ctx context.Context) {
	all, err := s.store.List(ctx, 0)
	if err != nil {
		s.log.Error(ctx, "cleanup: failed to list executions", "error", err.Error())
		return
	}

	sort.Slice(all, func(i, j int) bool {
		return referenceTime(all[i]).After(referenceTime(all[j]))
	})

	now := s.now()
	marked := make(map[string]bool)

	for _, snap := range all {
		if snap.Status == instance.Running || snap.Status == instance.Paused {
			continue
		}
		if now.Sub(referenceTime(snap)) > s.maxAge {
			marked[snap.ID] = true
		}
	}

	if len(all) > s.maxExecutions {
		excess := len(all) - s.maxExecutions
		// all is sorted newest-first; the oldest excess entries are the
		// tail, removed regardless of age. Live instances are still never
		// reaped: disposing one mid-run would tear down its event queue and
		// store record out from under a running engine.
		for i := len(all) - 1; i >= 0 && excess > 0; i-- {
			if all[i].Status == instance.Running || all[i].Status == instance.Paused {
				continue
			}
			if marked[all[i].ID] {
				// Already marked by age: its removal already counts
				// toward the excess.
				excess--
				continue
			}
			marked[all[i].ID] = true
			excess--
		}
	}

	for id := range marked {
		if err := s.disposer.Dispose(ctx, id); err != nil {
			s.log.Error(ctx, "cleanup: failed to dispose execution", "executionId", id, "error", err.Error())
			s.metrics.IncCounter("cleanup.dispose_error", 1)
			continue
		}
		s.metrics.IncCounter("cleanup.disposed", 1)
	}
	s.metrics.RecordGauge("cleanup.total_executions", float64(len(all)-len(marked)))
}

// referenceTime is completedAt if set, else createdAt: the age an
// instance is judged by is how long it's been finished, not how long
// it's existed, so an instance still waiting in a durable backend for
// a slow downstream read doesn't get penalized for its total lifetime.
func referenceTime(snap instance.Snapshot) time.Time {
	if snap.CompletedAt != nil {
		return *snap.CompletedAt
	}
	return snap.CreatedAt
}
