// Package remote is the client side of the shared document store.
//
// The remote store holds one versioned document per synchronized entity.
// Writes are optimistic: a Put names the version the writer last saw and is
// rejected with ErrVersionConflict when the stored version differs. Deleted
// documents stay listed as tombstones so every device observes the delete.
//
// Two backends are provided: MemoryStore, an in-process store with fault
// injection used by tests and the simulation harness, and SQLStore, which
// keeps documents in a libSQL (Turso) or SQLite database.
package remote
