// Package session implements the server-side session and resource manager:
// a bounded pool of transaction handles and scratch arenas, mapped by
// (ClientId, TransactionId) identity, with idle eviction under pressure.
package session

import (
	"sync"
	"time"

	"github.com/menuet/ustore/internal/ustoreerr"
)

// ClientID identifies a transport-level peer. Only equality/hashing matter.
type ClientID uint64

// TxnID is a 64-bit transaction identifier; zero means "no transaction".
type TxnID uint64

// ID is the pair (ClientID, TransactionID) identifying a session.
type ID struct {
	Client ClientID
	Txn    TxnID
}

// IsTxn reports whether this ID names a transactional session.
func (id ID) IsTxn() bool { return id.Txn != 0 }

// TxnHandle and ArenaHandle are opaque 64-bit handles into the engine's
// transaction/arena pools. This package never dereferences them; it only
// moves them between its free-stacks and the session map.
type TxnHandle uint64
type ArenaHandle uint64

type record struct {
	txn        TxnHandle
	arena      ArenaHandle
	lastAccess time.Time
	executing  bool
}

// DefaultIdleTimeout is the default age at which a non-executing session
// becomes eligible for eviction.
const DefaultIdleTimeout = 30 * time.Second

// Pool is the bounded session/resource manager. All public operations
// serialize on a single mutex; critical sections are O(1) except eviction
// scans, which are O(capacity).
type Pool struct {
	mu sync.Mutex

	capacity    int
	idleTimeout time.Duration
	now         func() time.Time

	freeTxns   []TxnHandle
	freeArenas []ArenaHandle
	sessions   map[ID]*record
}

// New builds a Pool with the given capacity: freeTxns/freeArenas are seeded
// with capacity distinct handles numbered 1..capacity (0 is reserved to mean
// "no handle").
func New(capacity int, idleTimeout time.Duration) *Pool {
	if idleTimeout < 0 {
		idleTimeout = DefaultIdleTimeout
	}
	p := &Pool{
		capacity:    capacity,
		idleTimeout: idleTimeout,
		now:         time.Now,
		sessions:    make(map[ID]*record, capacity),
	}
	for i := 1; i <= capacity; i++ {
		p.freeTxns = append(p.freeTxns, TxnHandle(i))
		p.freeArenas = append(p.freeArenas, ArenaHandle(i))
	}
	return p
}

// Stats reports the current pool occupancy, for invariant checks and tests.
type Stats struct {
	FreeTxns   int
	FreeArenas int
	Sessions   int
	Capacity   int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		FreeTxns:   len(p.freeTxns),
		FreeArenas: len(p.freeArenas),
		Sessions:   len(p.sessions),
		Capacity:   p.capacity,
	}
}

// pop evicts the oldest non-executing session whose age exceeds the idle
// timeout. Must be called with mu held. Returns capacity-exhausted if no
// session qualifies.
func (p *Pool) pop() (TxnHandle, ArenaHandle, error) {
	var oldestID ID
	var oldest *record
	for id, rec := range p.sessions {
		if rec.executing {
			continue
		}
		if oldest == nil || rec.lastAccess.Before(oldest.lastAccess) {
			oldestID, oldest = id, rec
		}
	}
	if oldest == nil {
		return 0, 0, ustoreerr.CapacityExhaustedf("session pool exhausted: all sessions executing")
	}
	age := p.now().Sub(oldest.lastAccess)
	if age < p.idleTimeout {
		return 0, 0, ustoreerr.CapacityExhaustedf("session pool exhausted: oldest idle session is younger than the timeout")
	}
	txn, arena := oldest.txn, oldest.arena
	delete(p.sessions, oldestID)
	return txn, arena, nil
}

// RequestTxn begins a new transactional session. Fails if id is already
// present (duplicate begin). If the pool has no free handles, attempts
// eviction first.
func (p *Pool) RequestTxn(id ID) (TxnHandle, ArenaHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.sessions[id]; exists {
		return 0, 0, ustoreerr.Conflictf("transaction %v is already running", id)
	}

	var txn TxnHandle
	var arena ArenaHandle
	if len(p.freeTxns) == 0 || len(p.freeArenas) == 0 {
		var err error
		txn, arena, err = p.pop()
		if err != nil {
			return 0, 0, err
		}
	} else {
		txn = p.freeTxns[len(p.freeTxns)-1]
		arena = p.freeArenas[len(p.freeArenas)-1]
		p.freeTxns = p.freeTxns[:len(p.freeTxns)-1]
		p.freeArenas = p.freeArenas[:len(p.freeArenas)-1]
	}

	p.sessions[id] = &record{txn: txn, arena: arena, lastAccess: p.now(), executing: true}
	return txn, arena, nil
}

// ContinueTxn resumes an existing transactional session exclusively. The
// caller must later call HoldTxn or ReleaseTxn.
func (p *Pool) ContinueTxn(id ID) (TxnHandle, ArenaHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec, ok := p.sessions[id]
	if !ok {
		return 0, 0, ustoreerr.NotFoundf("transaction %v was not found", id)
	}
	if rec.executing {
		return 0, 0, ustoreerr.Conflictf("transaction %v is in use by another call", id)
	}
	rec.executing = true
	rec.lastAccess = p.now()
	return rec.txn, rec.arena, nil
}

// HoldTxn returns a session to the idle map with executing=false and a
// refreshed last-access time. Used both after RequestTxn's engine-side
// initialization and after ContinueTxn completes an operation.
func (p *Pool) HoldTxn(id ID, txn TxnHandle, arena ArenaHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[id] = &record{txn: txn, arena: arena, lastAccess: p.now(), executing: false}
}

// ReleaseTxn destroys a session, returning its handles to the free stacks.
// Idempotent: releasing an absent session is a no-op.
func (p *Pool) ReleaseTxn(id ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.sessions[id]
	if !ok {
		return
	}
	delete(p.sessions, id)
	p.freeTxns = append(p.freeTxns, rec.txn)
	p.freeArenas = append(p.freeArenas, rec.arena)
}

// RequestArena borrows a scratch arena for a non-transactional operation,
// evicting an idle session first if the pool is exhausted.
func (p *Pool) RequestArena() (ArenaHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.freeArenas) == 0 {
		txn, arena, err := p.pop()
		if err != nil {
			return 0, err
		}
		p.freeTxns = append(p.freeTxns, txn)
		return arena, nil
	}
	arena := p.freeArenas[len(p.freeArenas)-1]
	p.freeArenas = p.freeArenas[:len(p.freeArenas)-1]
	return arena, nil
}

// ReleaseArena returns a non-transactional arena to the free stack.
func (p *Pool) ReleaseArena(arena ArenaHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freeArenas = append(p.freeArenas, arena)
}

// ScopedLock is the unified per-request handle: Release must be called
// exactly once, typically via defer, at the end of every dispatcher handler.
type ScopedLock struct {
	pool  *Pool
	id    ID
	isTxn bool
	Txn   TxnHandle
	Arena ArenaHandle
}

// Lock is the dispatcher's single entry point for acquiring per-request
// resources: a non-transactional id borrows an arena, a transactional id
// resumes its session exclusively.
func (p *Pool) Lock(id ID) (*ScopedLock, error) {
	if !id.IsTxn() {
		arena, err := p.RequestArena()
		if err != nil {
			return nil, err
		}
		return &ScopedLock{pool: p, id: id, isTxn: false, Arena: arena}, nil
	}
	txn, arena, err := p.ContinueTxn(id)
	if err != nil {
		return nil, err
	}
	return &ScopedLock{pool: p, id: id, isTxn: true, Txn: txn, Arena: arena}, nil
}

// Release returns the held resources to the pool. Safe to call via defer
// immediately after a successful Lock, on every code path including panics
// recovered upstream.
func (l *ScopedLock) Release() {
	if l == nil {
		return
	}
	if l.isTxn {
		l.pool.HoldTxn(l.id, l.Txn, l.Arena)
	} else {
		l.pool.ReleaseArena(l.Arena)
	}
}
