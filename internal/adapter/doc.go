// Package adapter maps local entities to remote documents and back.
//
// There is one Adapter per entity kind. An adapter knows the remote
// collection of its kind, how to encode and decode the wire payload, how to
// find the remote id of the parent, and how to settle a conflict between a
// local record and a remote document.
//
// Basic usage:
//
//	reg := adapter.NewRegistry(st, media.NewOSResolver(dir))
//	for _, a := range reg.All() {
//	    doc, err := a.Encode(ctx, entity)
//	    ...
//	}
package adapter
