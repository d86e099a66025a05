package store

import "time"

// Cycle is one finished fetch cycle.
type Cycle struct {
	ID         int64            `json:"id"`
	Generation uint64           `json:"generation"`
	Period     string           `json:"period"`
	Outcome    string           `json:"outcome"` // "committed", "failed" or "discarded"
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
	Totals     map[string]int64 `json:"totals,omitempty"`
}

// Duration returns how long the cycle ran.
func (c *Cycle) Duration() time.Duration {
	return c.FinishedAt.Sub(c.StartedAt)
}
