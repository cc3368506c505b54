//go:build test

package docsession

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/doctree/syncserver/pointer"
	"github.com/doctree/syncserver/wire"
)

// memStore is an in-memory journal.Store stand-in for tests, the same
// role the teacher's tests give a fake repository.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	docs    map[int64]string
	updates map[int64][]update
	failAppend bool
}

type update struct {
	version int64
	changes []pointer.Change
}

func newMemStore() *memStore {
	return &memStore{docs: map[int64]string{}, updates: map[int64][]update{}}
}

func (s *memStore) CreateDocument(ctx context.Context) (int64, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	handle := "handle"
	s.docs[id] = handle
	return id, handle, nil
}

func (s *memStore) LookupDocument(ctx context.Context, handle string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, h := range s.docs {
		if h == handle {
			return id, nil
		}
	}
	return 0, errors.New("not found")
}

func (s *memStore) AppendUpdate(ctx context.Context, docID int64, version int64, changes []pointer.Change) error {
	if s.failAppend {
		return errors.New("simulated persistence failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates[docID] = append(s.updates[docID], update{version: version, changes: changes})
	return nil
}

func (s *memStore) LoadChanges(ctx context.Context, docID int64, fromVersion int64) ([]pointer.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []pointer.Change
	for _, u := range s.updates[docID] {
		if u.version >= fromVersion {
			out = append(out, u.changes...)
		}
	}
	return out, nil
}

func (s *memStore) LoadVersion(ctx context.Context, docID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var max int64
	for _, u := range s.updates[docID] {
		if u.version > max {
			max = u.version
		}
	}
	return max, nil
}

type fakeSink struct {
	mu   sync.Mutex
	sent []interface{}
}

func (f *fakeSink) Send(v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeSink) Close() error { return nil }

func (f *fakeSink) last() interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func setChange(t *testing.T, target string, value interface{}) pointer.Change {
	t.Helper()
	c, err := pointer.NewSetChange(target, value)
	if err != nil {
		t.Fatalf("NewSetChange: %v", err)
	}
	return c
}

func TestManagerCreateThenHandleThenJoinCatchesUp(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(store)
	ctx := context.Background()

	doc, err := mgr.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	update := wire.ClientUpdate{Version: 0, Changes: []pointer.Change{setChange(t, "/hello", "world")}}
	if err := doc.Handle(ctx, update, -1); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	doc2, err := mgr.Join(ctx, doc.handle)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if doc2 != doc {
		t.Fatalf("expected Join to return the in-memory descriptor")
	}

	sink := &fakeSink{}
	sinkID, err := doc2.Attach(ctx, sink, 0)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if sinkID != 0 {
		t.Fatalf("expected first sink id 0, got %d", sinkID)
	}

	handshake, ok := sink.sent[0].(wire.ServerHandshake)
	if !ok {
		t.Fatalf("expected a ServerHandshake, got %T", sink.sent[0])
	}
	if handshake.Version != 1 || len(handshake.Changes) != 1 {
		t.Fatalf("unexpected handshake: %+v", handshake)
	}
}

func TestHandleBroadcastsToOthersAndElidesForOrigin(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(store)
	ctx := context.Background()

	doc, err := mgr.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	a := &fakeSink{}
	b := &fakeSink{}
	idA, err := doc.Attach(ctx, a, 0)
	if err != nil {
		t.Fatalf("attach a: %v", err)
	}
	if _, err := doc.Attach(ctx, b, 0); err != nil {
		t.Fatalf("attach b: %v", err)
	}

	update := wire.ClientUpdate{Changes: []pointer.Change{setChange(t, "/x", float64(1))}}
	if err := doc.Handle(ctx, update, idA); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	doc.broadcaster.Close()

	aUpdate, ok := a.last().(wire.ServerUpdate)
	if !ok || aUpdate.Changes != nil {
		t.Fatalf("expected originator frame with no changes, got %+v", a.last())
	}
	bUpdate, ok := b.last().(wire.ServerUpdate)
	if !ok || bUpdate.Changes == nil || len(*bUpdate.Changes) != 1 {
		t.Fatalf("expected peer frame with changes, got %+v", b.last())
	}
	if aUpdate.Version != bUpdate.Version {
		t.Fatalf("expected same version on both sinks, got %d and %d", aUpdate.Version, bUpdate.Version)
	}
}

func TestHandleRejectsPartialApplyFailure(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(store)
	ctx := context.Background()

	doc, err := mgr.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	update := wire.ClientUpdate{Changes: []pointer.Change{
		setChange(t, "/ok", "fine"),
		pointer.NewDeleteChange("/missing/nested"),
	}}
	err = doc.Handle(ctx, update, -1)
	if err == nil {
		t.Fatalf("expected protocol error for unresolvable delete")
	}

	if !reflect.DeepEqual(doc.tree, map[string]interface{}{}) {
		t.Fatalf("expected no partial mutation, got %v", doc.tree)
	}
	if doc.version != 0 {
		t.Fatalf("expected version to remain 0, got %d", doc.version)
	}
}

func TestHandleDeliversVersionsInOrderUnderConcurrency(t *testing.T) {
	store := newMemStore()
	mgr := NewManager(store)
	ctx := context.Background()

	doc, err := mgr.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	observer := &fakeSink{}
	if _, err := doc.Attach(ctx, observer, 0); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			change, err := pointer.NewSetChange("/counter", float64(i))
			if err != nil {
				t.Errorf("NewSetChange: %v", err)
				return
			}
			update := wire.ClientUpdate{Changes: []pointer.Change{change}}
			if err := doc.Handle(ctx, update, -1); err != nil {
				t.Errorf("Handle: %v", err)
			}
		}(i)
	}
	wg.Wait()

	doc.broadcaster.Close()

	observer.mu.Lock()
	defer observer.mu.Unlock()
	if len(observer.sent) != n {
		t.Fatalf("expected %d deliveries, got %d", n, len(observer.sent))
	}
	var prev int64
	for i, v := range observer.sent {
		update, ok := v.(wire.ServerUpdate)
		if !ok {
			t.Fatalf("delivery %d: expected ServerUpdate, got %T", i, v)
		}
		if update.Version <= prev {
			t.Fatalf("delivery %d out of order: version %d did not increase past %d", i, update.Version, prev)
		}
		prev = update.Version
	}
}

func TestHandlePoisonsDescriptorOnPersistenceFailure(t *testing.T) {
	store := newMemStore()
	store.failAppend = true
	mgr := NewManager(store)
	ctx := context.Background()

	doc, err := mgr.Create(ctx)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	sink := &fakeSink{}
	if _, err := doc.Attach(ctx, sink, 0); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	update := wire.ClientUpdate{Changes: []pointer.Change{setChange(t, "/x", float64(1))}}
	if err := doc.Handle(ctx, update, -1); err == nil {
		t.Fatalf("expected persistence error")
	}

	if !doc.poisoned {
		t.Fatalf("expected descriptor to be poisoned")
	}
	if doc.registry.Len() != 0 {
		t.Fatalf("expected all sinks detached, got %d", doc.registry.Len())
	}

	doc2, err := mgr.Join(ctx, doc.handle)
	if err != nil {
		t.Fatalf("expected rejoin to reload from the journal, got error: %v", err)
	}
	if doc2 == doc {
		t.Fatalf("expected a fresh descriptor after eviction, got the poisoned one back")
	}
	if doc2.version != 0 {
		t.Fatalf("expected reloaded descriptor at version 0 since the failed update never persisted, got %d", doc2.version)
	}
}
