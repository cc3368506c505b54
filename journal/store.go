// Package journal is the durable append-only log of document updates
// (spec §4.B). It is deliberately small: an interface any persistence
// backend can satisfy, plus a Postgres-backed adapter built the way the
// teacher repo builds its sqlx-based store.
package journal

import (
	"context"

	"github.com/doctree/syncserver/pointer"
)

// ErrNotFound is returned by Store.LookupDocument when the handle is
// unknown.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "document not found" }

// Store is the contract §4.B describes. Implementations must make
// AppendUpdate transactional: either every row for an update commits, or
// none do.
type Store interface {
	// CreateDocument allocates a new descriptor row with a freshly
	// generated 128-bit random handle, rendered as 32 lowercase hex
	// characters.
	CreateDocument(ctx context.Context) (id int64, handle string, err error)

	// LookupDocument resolves a handle to its internal id, or
	// ErrNotFound.
	LookupDocument(ctx context.Context, handle string) (id int64, err error)

	// AppendUpdate durably records one update (a version and its
	// ordered changes) for a document. Transactional.
	AppendUpdate(ctx context.Context, docID int64, version int64, changes []pointer.Change) error

	// LoadChanges returns every change at versions >= fromVersion, in
	// (version ascending, ordering ascending) order. fromVersion == 0
	// returns the entire history.
	LoadChanges(ctx context.Context, docID int64, fromVersion int64) ([]pointer.Change, error)

	// LoadVersion returns the highest version recorded for a document,
	// or 0 if none.
	LoadVersion(ctx context.Context, docID int64) (int64, error)
}
