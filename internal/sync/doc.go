// Package sync reconciles the local store with the remote document store.
//
// # Overview
//
// A Coordinator runs sync passes for one account at a time. A pass walks the
// entity kinds in dependency order:
//
//	profile → season → game → practice → video_clip → play_result → statistics
//
// For each kind it first uploads dirty local records whose parent already has
// a remote id, then downloads remote documents newer than the kind's
// watermark. After every kind has finished, acknowledged tombstones are
// purged and statistics are recomputed from the now consistent play set.
//
// Usage
//
//	coord := sync.New(st, rs, engine, sync.DefaultConfig())
//	report, err := coord.RunPass(ctx, accountID)
//	if err != nil {
//	    return err
//	}
//	fmt.Println(report.Totals().Uploaded)
//
// # Error Handling
//
// Passes are resilient to individual entity failures:
//
//   - Transient remote errors leave the entity dirty for the next pass
//   - Version conflicts are resolved, never returned
//   - Entities whose parent has no remote id are deferred
//   - Malformed documents are skipped and listed in the report
//   - An unreachable remote store aborts the pass
//
// # Cancellation
//
// Cancelling the context stops the pass between per-entity steps. Local
// writes that record a remote write which already happened are never
// cancelled, so the local store always matches what the remote accepted.
package sync
