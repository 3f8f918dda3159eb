// Package store provides the on-device SQLite store for synchronized entities.
//
// The store keeps one row per entity with its sync metadata (remote id,
// version, dirty and tombstone flags) next to a JSON payload of the typed
// fields. It also tracks per-kind download watermarks and the device id.
//
// Architecture:
//   - Database file: <data dir>/syncd.db
//   - WAL mode: concurrent readers while the sync engine writes
//   - Schema: entities, watermarks, device (goose migrations under migrations/)
//
// Read paths (Get, List, Children) never return entities that were deleted
// locally or tombstoned remotely. The sync engine uses the dedicated sync
// methods (ListDirty, MarkUploaded, ApplyRemote, ...) instead.
//
// All mutations go through a single writer lock so a sync pass never
// interleaves partial writes with UI-driven edits.
package store
