// Package stats derives statistics snapshots from play results.
//
// Snapshots are never incremented. Every recomputation starts from the full
// set of visible play results in scope, so running it twice over the same
// events yields the same numbers and a re-delivered play cannot be counted
// twice.
package stats
