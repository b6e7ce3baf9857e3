package memengine

import (
	"github.com/menuet/ustore/internal/engine"
	"github.com/menuet/ustore/internal/ustoreerr"
)

type intKey struct {
	col engine.CollectionID
	key int64
}

type pathKey struct {
	col  engine.CollectionID
	path string
}

// bufferedWrite is one key's pending write inside a transaction: the value
// to apply at commit (nil means delete), and the chain's head version as
// observed when this write was first buffered — the basis for the
// first-committer-wins conflict check at commit time.
type bufferedWrite struct {
	value       []byte
	baseVersion uint64
}

// txnState is one transaction's isolated write buffer. Reads inside the
// transaction check this buffer first (read-your-own-writes), then fall
// through to the instance's committed state.
type txnState struct {
	intWrites  map[intKey]*bufferedWrite
	pathWrites map[pathKey]*bufferedWrite
}

func newTxnState() *txnState {
	return &txnState{
		intWrites:  make(map[intKey]*bufferedWrite),
		pathWrites: make(map[pathKey]*bufferedWrite),
	}
}

func (e *Engine) TransactionInit(h engine.Handle, opts engine.TxnOptions) (engine.Txn, error) {
	in, err := e.instance(h)
	if err != nil {
		return 0, err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.nextTxnID++
	txn := engine.Txn(in.nextTxnID)
	in.txns[txn] = newTxnState()
	return txn, nil
}

func (e *Engine) TransactionFree(h engine.Handle, txn engine.Txn) error {
	in, err := e.instance(h)
	if err != nil {
		return err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.txns, txn)
	return nil
}

// TransactionCommit applies a transaction's buffered writes atomically: if
// any written key's chain head version has advanced past the version
// observed when that key's write was buffered, the whole commit is
// rejected as a conflict and nothing is applied.
func (e *Engine) TransactionCommit(h engine.Handle, txn engine.Txn, opts engine.TxnOptions) error {
	in, err := e.instance(h)
	if err != nil {
		return err
	}
	in.mu.Lock()
	defer in.mu.Unlock()

	st, ok := in.txns[txn]
	if !ok {
		return ustoreerr.NotFoundf("transaction %d not found", txn)
	}

	for ik, w := range st.intWrites {
		c, err := in.collection(ik.col)
		if err != nil {
			return err
		}
		if ch := c.keyChain(ik.key, false); ch != nil && ch.headVersion() != w.baseVersion {
			return ustoreerr.Conflictf("write conflict on key %d in collection %d", ik.key, ik.col)
		}
	}
	for pk, w := range st.pathWrites {
		c, err := in.collection(pk.col)
		if err != nil {
			return err
		}
		if ch := c.pathChain(pk.path, false); ch != nil && ch.headVersion() != w.baseVersion {
			return ustoreerr.Conflictf("write conflict on path %q in collection %d", pk.path, pk.col)
		}
	}

	in.version++
	for ik, w := range st.intWrites {
		c, _ := in.collection(ik.col)
		c.keyChain(ik.key, true).append(in.version, w.value)
	}
	for pk, w := range st.pathWrites {
		c, _ := in.collection(pk.col)
		c.pathChain(pk.path, true).append(in.version, w.value)
	}
	return nil
}

// bufferIntWrite records a key write inside a transaction, capturing the
// chain's current head version the first time this key is touched.
func (st *txnState) bufferIntWrite(c *collection, col engine.CollectionID, key int64, value []byte) {
	ik := intKey{col: col, key: key}
	base := uint64(0)
	if ch := c.keyChain(key, false); ch != nil {
		base = ch.headVersion()
	}
	if existing, ok := st.intWrites[ik]; ok {
		existing.value = value
		return
	}
	st.intWrites[ik] = &bufferedWrite{value: value, baseVersion: base}
}

func (st *txnState) bufferPathWrite(c *collection, col engine.CollectionID, path string, value []byte) {
	pk := pathKey{col: col, path: path}
	base := uint64(0)
	if ch := c.pathChain(path, false); ch != nil {
		base = ch.headVersion()
	}
	if existing, ok := st.pathWrites[pk]; ok {
		existing.value = value
		return
	}
	st.pathWrites[pk] = &bufferedWrite{value: value, baseVersion: base}
}
