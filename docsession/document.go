// Package docsession implements the document session (spec §4.C): the
// in-memory tree and version counter for one document, serialized by a
// mutex that also serializes persistence so the in-memory high-water
// mark and the journal never diverge while the lock is held.
//
// The mutate-then-persist ordering follows the baseline §7/§9 describes:
// changes are applied to the in-memory tree before the journal append is
// attempted, so a persistence failure leaves the tree ahead of durable
// state. That's a conscious choice (§9's "Open question"), not an
// oversight — see DESIGN.md.
package docsession

import (
	"context"
	"sync"

	"github.com/doctree/syncserver/broadcast"
	"github.com/doctree/syncserver/journal"
	"github.com/doctree/syncserver/pointer"
	"github.com/doctree/syncserver/registry"
	"github.com/doctree/syncserver/util"
	"github.com/doctree/syncserver/wire"
	"github.com/pkg/errors"
)

// Document is one descriptor: its durable id and public handle, its
// in-memory tree and version, and the registry/broadcaster that serve
// its attached connections.
type Document struct {
	id         int64
	handle     string
	store      journal.Store
	onPoisoned func()

	mu       sync.Mutex
	version  int64
	tree     map[string]interface{}
	poisoned bool

	registry    *registry.Registry
	broadcaster *broadcast.Broadcaster
}

func newDocument(id int64, handle string, version int64, tree map[string]interface{}, store journal.Store, onPoisoned func()) *Document {
	d := &Document{
		id:         id,
		handle:     handle,
		store:      store,
		onPoisoned: onPoisoned,
		version:    version,
		tree:       tree,
		registry:   registry.New(),
	}
	d.broadcaster = broadcast.New(d.registry, d.detachFailedSink)
	return d
}

// Handle applies a client update under the session lock (spec §4.C):
//  1. apply every change to a scratch copy of the tree; any failure
//     aborts the whole batch with no partial mutation;
//  2. assign the next server version and swap the scratch copy in;
//  3. persist the update; a failure here poisons the descriptor;
//  4. enqueue the resulting server-update for fan-out.
func (d *Document) Handle(ctx context.Context, update wire.ClientUpdate, originSinkID int64) error {
	d.mu.Lock()

	if d.poisoned {
		d.mu.Unlock()
		return util.NewPersistenceError(errors.New("document is poisoned"))
	}

	working := deepCopyTree(d.tree)
	for _, change := range update.Changes {
		if err := pointer.Apply(working, change); err != nil {
			d.mu.Unlock()
			return util.NewProtocolError(err)
		}
	}

	newVersion := d.version + 1
	d.tree = working

	if err := d.store.AppendUpdate(ctx, d.id, newVersion, update.Changes); err != nil {
		d.poison()
		d.mu.Unlock()
		return util.NewPersistenceError(errors.Wrapf(err, "doc_id: %d, version: %d", d.id, newVersion))
	}
	d.version = newVersion

	// Enqueue while still holding d.mu: the broadcaster is a FIFO queue,
	// so the order jobs are enqueued in is the order sinks see them
	// delivered in. Assigning newVersion and enqueueing it must be one
	// atomic step, or two concurrent Handle calls can race between
	// "assign version" and "enqueue" and hand the broadcaster v2 before
	// v1 (spec §4.C, §5).
	d.broadcaster.Enqueue(newVersion, update.Changes, originSinkID)
	d.mu.Unlock()

	return nil
}

// Attach performs the handshake/catch-up for a newly connecting sink
// (spec §4.F steps 1-3): under the session lock, compute the missed
// history, send the handshake frame, then register the sink. Returns
// the sink's local id.
func (d *Document) Attach(ctx context.Context, sink registry.Sink, head int64) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.poisoned {
		return 0, util.NewPersistenceError(errors.New("document is poisoned; join again to reload"))
	}

	missing, err := d.store.LoadChanges(ctx, d.id, head)
	if err != nil {
		return 0, util.NewPersistenceError(errors.Wrapf(err, "doc_id: %d, head: %d", d.id, head))
	}

	handshake := wire.NewHandshake(d.handle, d.version, missing)
	if err := sink.Send(handshake); err != nil {
		return 0, util.NewTransportError(err)
	}

	return d.registry.Add(sink), nil
}

// Detach removes a sink from the registry. Tolerates a missing id.
func (d *Document) Detach(sinkID int64) {
	d.registry.Remove(sinkID)
}

func (d *Document) detachFailedSink(id int64) {
	d.registry.Remove(id)
}

// poison marks the descriptor unusable and closes every attached sink.
// Must be called with d.mu held.
func (d *Document) poison() {
	d.poisoned = true
	for id, sink := range d.registry.Snapshot() {
		_ = sink.Close()
		d.registry.Remove(id)
	}
	if d.onPoisoned != nil {
		d.onPoisoned()
	}
}

// Handle is exercised under deepCopyTree to give the apply stage
// all-or-nothing semantics without requiring pointer.Apply itself to be
// transactional.
func deepCopyTree(tree map[string]interface{}) map[string]interface{} {
	return deepCopyValue(tree).(map[string]interface{})
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(t))
		for k, vv := range t {
			m[k] = deepCopyValue(vv)
		}
		return m
	case []interface{}:
		s := make([]interface{}, len(t))
		for i, vv := range t {
			s[i] = deepCopyValue(vv)
		}
		return s
	default:
		// Scalars (string, float64, bool, nil) are immutable in the
		// decoded JSON representation; sharing them is safe.
		return v
	}
}
