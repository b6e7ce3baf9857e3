// Package memengine is an in-memory, single-process reference
// implementation of engine.Engine: copy-on-write snapshots via per-key
// version chains, and transactions implemented as an isolated write buffer
// applied atomically at commit under first-committer-wins conflict
// detection.
package memengine

import (
	"sync"

	"github.com/menuet/ustore/internal/engine"
	"github.com/menuet/ustore/internal/ustoreerr"
)

// verEntry is one version of a key's value. A nil Value marks a tombstone
// (the key was deleted as of Version).
type verEntry struct {
	version uint64
	value   []byte
}

// chain is the version history of a single key, ordered ascending by
// version. Mutated only while the owning instance's mu is held.
type chain struct {
	versions []verEntry
}

func (c *chain) headVersion() uint64 {
	if len(c.versions) == 0 {
		return 0
	}
	return c.versions[len(c.versions)-1].version
}

// valueAsOf returns the value visible at the latest version <= maxVersion,
// and whether the key is present (false for a tombstone or no entry at
// all at or before maxVersion).
func (c *chain) valueAsOf(maxVersion uint64) ([]byte, bool) {
	for i := len(c.versions) - 1; i >= 0; i-- {
		if c.versions[i].version <= maxVersion {
			if c.versions[i].value == nil {
				return nil, false
			}
			return c.versions[i].value, true
		}
	}
	return nil, false
}

func (c *chain) append(version uint64, value []byte) {
	c.versions = append(c.versions, verEntry{version: version, value: value})
}

// collection is one named keyspace plus its parallel path-keyed keyspace.
type collection struct {
	id    engine.CollectionID
	name  string
	keys  map[int64]*chain
	paths map[string]*chain
}

func newCollection(id engine.CollectionID, name string) *collection {
	return &collection{id: id, name: name, keys: make(map[int64]*chain), paths: make(map[string]*chain)}
}

func (c *collection) keyChain(k int64, create bool) *chain {
	ch, ok := c.keys[k]
	if !ok && create {
		ch = &chain{}
		c.keys[k] = ch
	}
	return ch
}

func (c *collection) pathChain(p string, create bool) *chain {
	ch, ok := c.paths[p]
	if !ok && create {
		ch = &chain{}
		c.paths[p] = ch
	}
	return ch
}

// instance is one open engine handle's full state.
type instance struct {
	mu sync.RWMutex

	version uint64 // monotonic, bumped on every committed write

	nextCollectionID uint64
	collections      map[engine.CollectionID]*collection

	nextSnapshotID uint64
	snapshots      map[engine.SnapshotID]uint64 // snapshot id -> pinned version

	nextTxnID uint64
	txns      map[engine.Txn]*txnState
}

func newInstance() *instance {
	return &instance{
		collections: map[engine.CollectionID]*collection{0: newCollection(0, "")},
		snapshots:   make(map[engine.SnapshotID]uint64),
		txns:        make(map[engine.Txn]*txnState),
	}
}

func (in *instance) collection(id engine.CollectionID) (*collection, error) {
	c, ok := in.collections[id]
	if !ok {
		return nil, ustoreerr.NotFoundf("collection %d not found", id)
	}
	return c, nil
}

// Engine is the concrete in-memory engine.Engine implementation.
type Engine struct {
	mu         sync.RWMutex
	nextHandle uint64
	handles    map[engine.Handle]*instance
}

// New constructs an empty in-memory engine. One process may open many
// independent handles, each with its own collections/snapshots/txns.
func New() *Engine {
	return &Engine{handles: make(map[engine.Handle]*instance)}
}

func (e *Engine) Open(configJSON []byte) (engine.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextHandle++
	h := engine.Handle(e.nextHandle)
	e.handles[h] = newInstance()
	return h, nil
}

func (e *Engine) Close(h engine.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.handles[h]; !ok {
		return ustoreerr.NotFoundf("engine handle %d not found", h)
	}
	delete(e.handles, h)
	return nil
}

func (e *Engine) instance(h engine.Handle) (*instance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	in, ok := e.handles[h]
	if !ok {
		return nil, ustoreerr.NotFoundf("engine handle %d not found", h)
	}
	return in, nil
}

func (e *Engine) CollectionCreate(h engine.Handle, name string, config []byte) (engine.CollectionID, error) {
	in, err := e.instance(h)
	if err != nil {
		return 0, err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, c := range in.collections {
		if c.name == name && name != "" {
			return c.id, nil
		}
	}
	in.nextCollectionID++
	id := engine.CollectionID(in.nextCollectionID)
	in.collections[id] = newCollection(id, name)
	return id, nil
}

func (e *Engine) CollectionDrop(h engine.Handle, id engine.CollectionID, mode engine.DropMode) error {
	in, err := e.instance(h)
	if err != nil {
		return err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	c, ok := in.collections[id]
	if !ok {
		return ustoreerr.NotFoundf("collection %d not found", id)
	}
	switch mode {
	case engine.DropValues:
		in.version++
		for _, ch := range c.keys {
			if _, present := ch.valueAsOf(in.version); present {
				ch.append(in.version, []byte{})
			}
		}
		for _, ch := range c.paths {
			if _, present := ch.valueAsOf(in.version); present {
				ch.append(in.version, []byte{})
			}
		}
	case engine.DropContents:
		c.keys = make(map[int64]*chain)
		c.paths = make(map[string]*chain)
	default: // DropCollection
		if id == 0 {
			return ustoreerr.InvalidArgumentf("cannot drop the main collection")
		}
		delete(in.collections, id)
	}
	return nil
}

func (e *Engine) CollectionList(h engine.Handle) ([]engine.CollectionID, []string, error) {
	in, err := e.instance(h)
	if err != nil {
		return nil, nil, err
	}
	in.mu.RLock()
	defer in.mu.RUnlock()
	ids := make([]engine.CollectionID, 0, len(in.collections))
	names := make([]string, 0, len(in.collections))
	for id, c := range in.collections {
		if id == 0 {
			continue // the main collection is not user-visible in listings
		}
		ids = append(ids, id)
		names = append(names, c.name)
	}
	return ids, names, nil
}

func (e *Engine) SnapshotCreate(h engine.Handle) (engine.SnapshotID, error) {
	in, err := e.instance(h)
	if err != nil {
		return 0, err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.nextSnapshotID++
	id := engine.SnapshotID(in.nextSnapshotID)
	in.snapshots[id] = in.version
	return id, nil
}

func (e *Engine) SnapshotDrop(h engine.Handle, id engine.SnapshotID) error {
	in, err := e.instance(h)
	if err != nil {
		return err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, ok := in.snapshots[id]; !ok {
		return ustoreerr.NotFoundf("snapshot %d not found", id)
	}
	delete(in.snapshots, id)
	return nil
}

func (e *Engine) SnapshotList(h engine.Handle) ([]engine.SnapshotID, error) {
	in, err := e.instance(h)
	if err != nil {
		return nil, err
	}
	in.mu.RLock()
	defer in.mu.RUnlock()
	ids := make([]engine.SnapshotID, 0, len(in.snapshots))
	for id := range in.snapshots {
		ids = append(ids, id)
	}
	return ids, nil
}
