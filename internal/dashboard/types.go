package dashboard

import (
	"context"
	"errors"
	"time"

	"github.com/blackwell-systems/npmdash/internal/config"
	"github.com/blackwell-systems/npmdash/internal/registry"
)

// Status is the fetch state shown to the presentation layer.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// genericFailure is shown when a failed cycle produced an empty message.
const genericFailure = "something went wrong"

var (
	// ErrClosed is returned by triggers after Close.
	ErrClosed = errors.New("dashboard: controller closed")

	// ErrUnknownPeriod is returned by SetPeriod for keys outside config.Periods.
	ErrUnknownPeriod = config.ErrUnknownPeriod
)

// Fetcher fetches the download count of one package. *registry.Client
// implements it.
type Fetcher interface {
	PointDownloads(ctx context.Context, period config.PeriodKey, name string) (registry.Point, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, period config.PeriodKey, name string) (registry.Point, error)

func (f FetcherFunc) PointDownloads(ctx context.Context, period config.PeriodKey, name string) (registry.Point, error) {
	return f(ctx, period, name)
}

// PackageError names the package whose fetch failed the cycle.
type PackageError struct {
	Package config.TrackedPackage
	Err     error
}

func (e *PackageError) Error() string {
	return "unable to fetch downloads for " + e.Package.DisplayName
}

func (e *PackageError) Unwrap() error {
	return e.Err
}

// Snapshot is a value copy of the controller state.
type Snapshot struct {
	Period      config.PeriodKey
	Totals      map[string]int64
	Status      Status
	Error       string
	LastUpdated time.Time
	Generation  uint64
}

// PeriodLabel returns the label of the selected period.
func (s Snapshot) PeriodLabel() string {
	return config.PeriodLabel(s.Period)
}

// IsLoading is true only for a first load: a cycle is running and nothing
// has been committed yet. Reloads keep showing the previous totals.
func (s Snapshot) IsLoading() bool {
	return s.Status == StatusLoading && len(s.Totals) == 0
}

// Downloads returns the committed count for name and whether there is one.
func (s Snapshot) Downloads(name string) (int64, bool) {
	n, ok := s.Totals[name]
	return n, ok
}

// Outcome is how a cycle ended.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeFailed    Outcome = "failed"
	OutcomeDiscarded Outcome = "discarded"
)

// CycleResult describes a finished cycle for observers.
type CycleResult struct {
	Generation uint64
	Period     config.PeriodKey
	Outcome    Outcome
	Totals     map[string]int64 // nil unless the fetch succeeded
	Err        error
	Started    time.Time
	Finished   time.Time
}

// Duration returns how long the cycle ran.
func (r CycleResult) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// CycleObserver is told about every finished cycle, including discarded
// ones. ObserveCycle runs on the cycle's goroutine after the state lock has
// been released; Wait and Close return only after it does.
type CycleObserver interface {
	ObserveCycle(CycleResult)
}

// CycleObserverFunc adapts a function to CycleObserver.
type CycleObserverFunc func(CycleResult)

func (f CycleObserverFunc) ObserveCycle(r CycleResult) {
	f(r)
}
