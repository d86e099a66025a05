package watcher

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blackwell-systems/npmdash/internal/dashboard"
	"github.com/blackwell-systems/npmdash/internal/logging"
)

// Refresher is anything that can start a new fetch cycle.
// *dashboard.Controller satisfies it.
type Refresher interface {
	Refresh() error
}

// Watcher refreshes a target on a fixed interval.
type Watcher struct {
	target   Refresher
	interval time.Duration
	log      *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	ticker   *time.Ticker
}

// New creates a Watcher that calls target.Refresh every interval.
func New(target Refresher, interval time.Duration, log *slog.Logger) (*Watcher, error) {
	if target == nil {
		return nil, fmt.Errorf("refresh target cannot be nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("refresh interval must be positive, got %v", interval)
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Watcher{
		target:   target,
		interval: interval,
		log:      log.With("component", "refresher"),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins the refresh loop. The first refresh happens one interval
// after Start; callers that want data immediately start the controller
// themselves.
func (w *Watcher) Start() error {
	w.ticker = time.NewTicker(w.interval)

	w.wg.Add(1)
	go w.run()

	w.log.Debug("refresh loop started", "interval", w.interval)
	return nil
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ticker.C:
			if err := w.target.Refresh(); err != nil {
				if errors.Is(err, dashboard.ErrClosed) {
					w.log.Debug("refresh target closed, stopping")
					return
				}
				w.log.Warn("scheduled refresh failed", "err", err)
			}
		case <-w.stopCh:
			return
		}
	}
}

// Stop halts the loop and waits for it to exit. It is safe to call more
// than once.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.ticker != nil {
			w.ticker.Stop()
		}
	})
	w.wg.Wait()
	return nil
}
