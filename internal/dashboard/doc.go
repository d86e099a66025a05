// Package dashboard owns the download-stats view state and the fetch cycle
// that updates it.
//
// A Controller holds the selected period, the committed download totals, a
// status (idle, loading, ready, error), the last error message and the time
// of the last successful commit. Every trigger (Start, SetPeriod, Refresh)
// starts a new cycle that fans out one registry request per tracked package
// and joins them. Only the most recent cycle may commit: each cycle carries
// a generation number and its own context, and a cycle whose generation is
// stale (or whose context was cancelled) when its results arrive is dropped
// without touching state.
//
// Commits are all-or-nothing. A failed cycle leaves the previous totals in
// place and records a single human-readable error.
//
// Readers take value copies with Snapshot and can Subscribe to a coalescing
// change signal.
package dashboard
