package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blackwell-systems/npmdash/internal/config"
)

// Option configures a Controller.
type Option func(*Controller)

// WithPeriod selects the initial period. Unknown keys are ignored.
func WithPeriod(key config.PeriodKey) Option {
	return func(c *Controller) {
		if _, ok := config.LookupPeriod(key); ok {
			c.period = key
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(c *Controller) {
		c.log = log
	}
}

// WithClock overrides time.Now for LastUpdated and cycle timings.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// WithObserver registers a CycleObserver. May be given more than once.
func WithObserver(o CycleObserver) Option {
	return func(c *Controller) {
		c.observers = append(c.observers, o)
	}
}

// Controller runs fetch cycles and holds the committed view state.
type Controller struct {
	packages  []config.TrackedPackage
	fetcher   Fetcher
	log       *slog.Logger
	now       func() time.Time
	observers []CycleObserver

	mu          sync.Mutex
	period      config.PeriodKey
	totals      map[string]int64
	status      Status
	errMsg      string
	lastUpdated time.Time
	generation  uint64
	cancel      context.CancelFunc
	closed      bool
	subscribers map[int]chan struct{}
	nextSubID   int

	wg sync.WaitGroup
}

// New creates a Controller for packages. The list is copied and never
// modified afterwards. No cycle runs until Start, SetPeriod or Refresh.
func New(packages []config.TrackedPackage, fetcher Fetcher, opts ...Option) *Controller {
	pkgs := make([]config.TrackedPackage, len(packages))
	copy(pkgs, packages)

	c := &Controller{
		packages:    pkgs,
		fetcher:     fetcher,
		log:         slog.Default(),
		now:         time.Now,
		period:      config.DefaultPeriod,
		totals:      map[string]int64{},
		status:      StatusIdle,
		subscribers: make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Packages returns a copy of the tracked package list.
func (c *Controller) Packages() []config.TrackedPackage {
	out := make([]config.TrackedPackage, len(c.packages))
	copy(out, c.packages)
	return out
}

// Start runs the initial cycle.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.startCycleLocked()
	return nil
}

// Refresh supersedes any running cycle with a new one for the same period.
func (c *Controller) Refresh() error {
	return c.Start()
}

// SetPeriod selects a period and starts a cycle for it. Selecting the
// current period again does nothing.
func (c *Controller) SetPeriod(key config.PeriodKey) error {
	if _, ok := config.LookupPeriod(key); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPeriod, key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if key == c.period && c.status != StatusIdle {
		return nil
	}
	c.period = key
	c.startCycleLocked()
	return nil
}

// Close cancels the running cycle and waits for cycle goroutines to exit.
// Late results are discarded. Close is idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		c.generation++
		if c.cancel != nil {
			c.cancel()
			c.cancel = nil
		}
		for id, ch := range c.subscribers {
			close(ch)
			delete(c.subscribers, id)
		}
	}
	c.mu.Unlock()

	c.wg.Wait()
}

// Wait blocks until every cycle started so far has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Subscribe returns a channel that receives a value after state changes.
// Signals coalesce: a slow reader sees at least one signal after the latest
// change, then reads Snapshot. The channel is closed by cancel or Close.
func (c *Controller) Subscribe() (<-chan struct{}, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan struct{}, 1)
	if c.closed {
		close(ch)
		return ch, func() {}
	}

	id := c.nextSubID
	c.nextSubID++
	c.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if sub, ok := c.subscribers[id]; ok {
				close(sub)
				delete(c.subscribers, id)
			}
		})
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	totals := make(map[string]int64, len(c.totals))
	for k, v := range c.totals {
		totals[k] = v
	}
	return Snapshot{
		Period:      c.period,
		Totals:      totals,
		Status:      c.status,
		Error:       c.errMsg,
		LastUpdated: c.lastUpdated,
		Generation:  c.generation,
	}
}

func (c *Controller) notifyLocked() {
	for _, ch := range c.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// startCycleLocked supersedes the running cycle and launches a new one.
func (c *Controller) startCycleLocked() {
	if c.cancel != nil {
		c.cancel()
	}

	c.generation++
	gen := c.generation
	period := c.period
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	// Totals stay as they are so the previous values remain visible.
	c.status = StatusLoading
	c.errMsg = ""
	c.notifyLocked()

	c.log.Debug("cycle started", "generation", gen, "period", period, "packages", len(c.packages))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		c.runCycle(ctx, gen, period)
	}()
}

func (c *Controller) runCycle(ctx context.Context, gen uint64, period config.PeriodKey) {
	started := c.now()
	totals, err := c.fetchAll(ctx, period)

	result := CycleResult{
		Generation: gen,
		Period:     period,
		Totals:     totals,
		Err:        err,
		Started:    started,
	}

	c.mu.Lock()
	finished := c.now()
	result.Finished = finished
	switch {
	case gen != c.generation || ctx.Err() != nil:
		result.Outcome = OutcomeDiscarded
		c.log.Debug("cycle discarded", "generation", gen, "current", c.generation, "period", period)
	case err != nil:
		result.Outcome = OutcomeFailed
		c.status = StatusError
		c.errMsg = err.Error()
		if c.errMsg == "" {
			c.errMsg = genericFailure
		}
		c.notifyLocked()
		c.log.Error("cycle failed", "generation", gen, "period", period, "err", err)
	default:
		result.Outcome = OutcomeCommitted
		c.totals = totals
		c.lastUpdated = finished
		c.status = StatusReady
		c.notifyLocked()
		c.log.Info("cycle committed", "generation", gen, "period", period, "packages", len(totals), "duration", finished.Sub(started).Round(time.Millisecond))
	}
	c.mu.Unlock()

	for _, o := range c.observers {
		o.ObserveCycle(result)
	}
}

// fetchAll requests every package concurrently. The first failure cancels
// the rest and is returned; no partial map is ever returned with an error.
func (c *Controller) fetchAll(ctx context.Context, period config.PeriodKey) (map[string]int64, error) {
	counts := make([]int64, len(c.packages))

	g, gctx := errgroup.WithContext(ctx)
	for i, pkg := range c.packages {
		g.Go(func() error {
			point, err := c.fetcher.PointDownloads(gctx, period, pkg.Name)
			if err != nil {
				return &PackageError{Package: pkg, Err: err}
			}
			if point.NoStats {
				c.log.Debug("no stats yet, counting zero", "package", pkg.Name, "period", period)
			}
			counts[i] = point.Downloads
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	totals := make(map[string]int64, len(c.packages))
	for i, pkg := range c.packages {
		n := counts[i]
		if n < 0 {
			n = 0
		}
		totals[pkg.Name] = n
	}
	return totals, nil
}
