// Package schema defines the synchronized entity kinds and their sync metadata.
//
// # Overview
//
// Every entity that travels between devices carries a Meta block with the
// bookkeeping the sync engine needs: a device-assigned local id, the remote id
// assigned on first upload, the optimistic concurrency version, the dirty flag
// and the tombstone flags learned from the remote store.
//
// # Dependency Order
//
// Kinds form a strict parent → child chain and are always synchronized in
// SyncOrder:
//
//	profile → season → game → practice → video_clip → play_result → statistics
//
// A child is never uploaded before its parent owns a remote id.
//
// # Payloads
//
// The typed structs (Profile, Season, Game, ...) hold the user-visible fields.
// Their JSON encoding is the payload stored locally and the "fields" object
// sent to the remote store; Meta is excluded from that encoding.
//
//	game := &schema.Game{Opponent: "Tigers", PlayedAt: time.Now()}
//	game.Kind = schema.KindGame
//	if err := game.Validate(); err != nil {
//	    return err
//	}
package schema
