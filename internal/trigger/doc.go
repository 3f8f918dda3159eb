// Package trigger decides when sync passes run.
//
// A Bus owns a single loop goroutine that starts passes for the signed-in
// account. Passes are triggered by:
//
//   - a periodic ticker (Config.Interval)
//   - local changes, debounced so a burst of edits becomes one pass
//   - an explicit TriggerNow call
//   - an account switch, which resets sync state first
//
// After a failed pass the next automatic pass waits for an exponential
// backoff. TriggerNow ignores the backoff. Every finished pass is published
// to subscribers as a PassEvent.
//
// FileWatcher turns writes to the local database by other processes into
// change notifications.
package trigger
