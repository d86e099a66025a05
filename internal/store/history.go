package store

import (
	"log/slog"

	"github.com/blackwell-systems/npmdash/internal/dashboard"
)

// DefaultHistoryLimit bounds how many cycles a History keeps.
const DefaultHistoryLimit = 500

// History records every finished dashboard cycle into a Store. It
// implements dashboard.CycleObserver.
type History struct {
	store *Store
	keep  int
	log   *slog.Logger
}

// NewHistory returns a History keeping at most keep cycles (<= 0 means
// DefaultHistoryLimit).
func NewHistory(st *Store, keep int, log *slog.Logger) *History {
	if keep <= 0 {
		keep = DefaultHistoryLimit
	}
	if log == nil {
		log = slog.Default()
	}
	return &History{store: st, keep: keep, log: log}
}

// ObserveCycle stores r. Failures are logged, never returned: history is
// best effort and must not affect the dashboard.
func (h *History) ObserveCycle(r dashboard.CycleResult) {
	c := &Cycle{
		Generation: r.Generation,
		Period:     string(r.Period),
		Outcome:    string(r.Outcome),
		StartedAt:  r.Started,
		FinishedAt: r.Finished,
	}
	if r.Outcome == dashboard.OutcomeCommitted {
		c.Totals = r.Totals
	}
	if r.Err != nil && r.Outcome == dashboard.OutcomeFailed {
		c.Error = r.Err.Error()
	}

	if _, err := h.store.InsertCycle(c); err != nil {
		h.log.Warn("history: failed to record cycle", "generation", r.Generation, "err", err)
		return
	}
	if _, err := h.store.PruneCycles(h.keep); err != nil {
		h.log.Warn("history: failed to prune cycles", "err", err)
	}
}

// Recent returns up to limit cycles, newest first.
func (h *History) Recent(limit int) ([]*Cycle, error) {
	return h.store.ListCycles(limit)
}

// LastCommitted returns the newest retained committed cycle, or nil.
func (h *History) LastCommitted() (*Cycle, error) {
	return h.store.LastCommitted()
}

// Counts returns how many retained cycles ended with each outcome.
func (h *History) Counts() (map[string]int, error) {
	return h.store.CountByOutcome()
}
