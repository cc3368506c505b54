package docsession

import (
	"context"
	"log"
	"sync"

	"github.com/doctree/syncserver/journal"
	"github.com/doctree/syncserver/pointer"
	"github.com/doctree/syncserver/util"
	"github.com/pkg/errors"
)

// Manager is the process-wide handle->Document map (spec §3, §9): no
// eviction, lifecycle spans the process. A poisoned Document removes
// itself so the next Join reloads a fresh descriptor from the journal.
type Manager struct {
	store journal.Store

	mu   sync.RWMutex
	docs map[string]*Document
}

func NewManager(store journal.Store) *Manager {
	return &Manager{store: store, docs: make(map[string]*Document)}
}

// Create allocates a brand-new descriptor (the /new endpoint).
func (m *Manager) Create(ctx context.Context) (*Document, error) {
	id, handle, err := m.store.CreateDocument(ctx)
	if err != nil {
		return nil, util.NewPersistenceError(err)
	}

	doc := newDocument(id, handle, 0, map[string]interface{}{}, m.store, m.evict(handle))

	m.mu.Lock()
	m.docs[handle] = doc
	m.mu.Unlock()

	log.Printf("info: Created document. handle: %s", handle)
	return doc, nil
}

// Join attaches to an existing descriptor, materializing it from the
// journal on first access if it isn't already in memory. Returns
// journal.ErrNotFound (mapped to 404 by the server) for an unknown
// handle.
func (m *Manager) Join(ctx context.Context, handle string) (*Document, error) {
	if doc, ok := m.lookup(handle); ok {
		return doc, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if doc, ok := m.docs[handle]; ok {
		return doc, nil
	}

	id, err := m.store.LookupDocument(ctx, handle)
	if err != nil {
		if err == journal.ErrNotFound {
			return nil, err
		}
		return nil, util.NewPersistenceError(err)
	}

	changes, err := m.store.LoadChanges(ctx, id, 0)
	if err != nil {
		return nil, util.NewPersistenceError(errors.Wrapf(err, "doc_id: %d", id))
	}
	version, err := m.store.LoadVersion(ctx, id)
	if err != nil {
		return nil, util.NewPersistenceError(errors.Wrapf(err, "doc_id: %d", id))
	}

	tree := map[string]interface{}{}
	for _, change := range changes {
		if err := pointer.Apply(tree, change); err != nil {
			return nil, util.NewPersistenceError(errors.Wrapf(err, "corrupt journal for doc_id: %d", id))
		}
	}

	doc := newDocument(id, handle, version, tree, m.store, m.evict(handle))
	m.docs[handle] = doc

	log.Printf("info: Joined document. handle: %s, version: %d", handle, version)
	return doc, nil
}

func (m *Manager) lookup(handle string) (*Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[handle]
	return doc, ok
}

func (m *Manager) evict(handle string) func() {
	return func() {
		m.mu.Lock()
		delete(m.docs, handle)
		m.mu.Unlock()
		log.Printf("warn: Evicted poisoned document. handle: %s", handle)
	}
}
