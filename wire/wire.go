// Package wire defines the JSON text-frame messages exchanged between
// client and server, per spec §6.
package wire

import "github.com/doctree/syncserver/pointer"

// ClientUpdate is the frame a client sends to propose a batch of
// changes. Version is informational only (§4.C); the server assigns the
// authoritative version.
type ClientUpdate struct {
	Version int64            `json:"version"`
	Changes []pointer.Change `json:"changes"`
}

// ServerUpdate is the frame the server sends for a committed update.
// Changes is a pointer so presence is keyed on nil-ness, not length: an
// update with zero changes (the client sent an empty batch) still
// serializes "changes":[], while the frame sent back to the originator
// (NewOriginatorUpdate) omits the key entirely by leaving it nil. A
// plain slice would have had omitempty collapse both cases to the same
// absent key, making a real zero-change update indistinguishable from
// the originator-elision frame.
type ServerUpdate struct {
	Version int64             `json:"version"`
	Changes *[]pointer.Change `json:"changes,omitempty"`
}

// ServerHandshake is the first frame sent on a newly attached sink. Id
// appears only here; subsequent ServerUpdate frames never carry it.
// Unlike ServerUpdate, Changes is never omitted here: a handshake with
// no missed history still serializes "changes":[] (spec §6, scenario
// S1). Field-absence is reserved for ServerUpdate's originator-elision
// frame only (see NewOriginatorUpdate).
type ServerHandshake struct {
	Id      string           `json:"id"`
	Version int64            `json:"version"`
	Changes []pointer.Change `json:"changes"`
}

// NewHandshake builds the handshake frame sent to a newly attached sink:
// the document's handle, its current version, and every change missed
// since the sink's requested head (empty, not omitted, when there is
// none).
func NewHandshake(id string, version int64, changes []pointer.Change) ServerHandshake {
	if changes == nil {
		changes = []pointer.Change{}
	}
	return ServerHandshake{Id: id, Version: version, Changes: changes}
}

// NewPeerUpdate builds the frame broadcast to every sink except the
// originator: full version and change list. changes is always boxed
// into a non-nil pointer, even when empty, so the field always
// serializes — the nil Changes pointer is reserved for
// NewOriginatorUpdate.
func NewPeerUpdate(version int64, changes []pointer.Change) ServerUpdate {
	if changes == nil {
		changes = []pointer.Change{}
	}
	return ServerUpdate{Version: version, Changes: &changes}
}

// NewOriginatorUpdate builds the frame sent back to the sink whose
// update produced this version: version only, no changes, since the
// originator already has them (§4.E).
func NewOriginatorUpdate(version int64) ServerUpdate {
	return ServerUpdate{Version: version}
}
