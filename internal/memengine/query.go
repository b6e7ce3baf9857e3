package memengine

import (
	"bytes"
	"sort"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/menuet/ustore/internal/engine"
	"github.com/menuet/ustore/internal/ustoreerr"
)

func (in *instance) readVersion(txn engine.Txn, opts engine.ReadOptions) (uint64, error) {
	if txn != 0 {
		return in.version, nil
	}
	if opts.HasSnap {
		v, ok := in.snapshots[opts.SnapshotID]
		if !ok {
			return 0, ustoreerr.NotFoundf("snapshot %d not found", opts.SnapshotID)
		}
		return v, nil
	}
	return in.version, nil
}

func (in *instance) resolveIntKey(c *collection, txn engine.Txn, asOf uint64, key int64) (bool, []byte, error) {
	if txn != 0 {
		st, ok := in.txns[txn]
		if !ok {
			return false, nil, ustoreerr.NotFoundf("transaction %d not found", txn)
		}
		if w, ok := st.intWrites[intKey{col: c.id, key: key}]; ok {
			return w.value != nil, w.value, nil
		}
	}
	ch := c.keyChain(key, false)
	if ch == nil {
		return false, nil, nil
	}
	v, present := ch.valueAsOf(asOf)
	return present, v, nil
}

func (in *instance) resolvePathKey(c *collection, txn engine.Txn, asOf uint64, path string) (bool, []byte, error) {
	if txn != 0 {
		st, ok := in.txns[txn]
		if !ok {
			return false, nil, ustoreerr.NotFoundf("transaction %d not found", txn)
		}
		if w, ok := st.pathWrites[pathKey{col: c.id, path: path}]; ok {
			return w.value != nil, w.value, nil
		}
	}
	ch := c.pathChain(path, false)
	if ch == nil {
		return false, nil, nil
	}
	v, present := ch.valueAsOf(asOf)
	return present, v, nil
}

func buildReadResult(present []bool, values [][]byte) engine.ReadResult {
	lengths := make([]int32, len(present))
	for i, p := range present {
		if !p {
			lengths[i] = -1
			continue
		}
		lengths[i] = int32(len(values[i]))
	}
	return engine.ReadResult{Present: present, Lengths: lengths, Values: values}
}

func (e *Engine) Read(h engine.Handle, txn engine.Txn, collections []engine.CollectionID, keys []int64, opts engine.ReadOptions, arena memory.Allocator) (engine.ReadResult, error) {
	if len(collections) != len(keys) {
		return engine.ReadResult{}, ustoreerr.InvalidArgumentf("collections/keys length mismatch: %d vs %d", len(collections), len(keys))
	}
	in, err := e.instance(h)
	if err != nil {
		return engine.ReadResult{}, err
	}
	in.mu.RLock()
	defer in.mu.RUnlock()

	asOf, err := in.readVersion(txn, opts)
	if err != nil {
		return engine.ReadResult{}, err
	}

	present := make([]bool, len(keys))
	values := make([][]byte, len(keys))
	for i, k := range keys {
		c, err := in.collection(collections[i])
		if err != nil {
			return engine.ReadResult{}, err
		}
		p, v, err := in.resolveIntKey(c, txn, asOf, k)
		if err != nil {
			return engine.ReadResult{}, err
		}
		present[i], values[i] = p, v
	}
	return buildReadResult(present, values), nil
}

func (e *Engine) PathsRead(h engine.Handle, txn engine.Txn, collections []engine.CollectionID, paths [][]byte, separator byte, opts engine.ReadOptions, arena memory.Allocator) (engine.ReadResult, error) {
	if len(collections) != len(paths) {
		return engine.ReadResult{}, ustoreerr.InvalidArgumentf("collections/paths length mismatch: %d vs %d", len(collections), len(paths))
	}
	in, err := e.instance(h)
	if err != nil {
		return engine.ReadResult{}, err
	}
	in.mu.RLock()
	defer in.mu.RUnlock()

	asOf, err := in.readVersion(txn, opts)
	if err != nil {
		return engine.ReadResult{}, err
	}

	present := make([]bool, len(paths))
	values := make([][]byte, len(paths))
	for i, p := range paths {
		c, err := in.collection(collections[i])
		if err != nil {
			return engine.ReadResult{}, err
		}
		pr, v, err := in.resolvePathKey(c, txn, asOf, string(p))
		if err != nil {
			return engine.ReadResult{}, err
		}
		present[i], values[i] = pr, v
	}
	return buildReadResult(present, values), nil
}

// globMatch reports whether s matches pattern, with sep as the
// path-component delimiter: '*' matches any run of bytes within one
// component, '**' matches across components.
func globMatch(pattern, s []byte, sep byte) bool {
	if len(pattern) == 0 {
		return len(s) == 0
	}
	if pattern[0] == '*' {
		if len(pattern) > 1 && pattern[1] == '*' {
			for i := 0; i <= len(s); i++ {
				if globMatch(pattern[2:], s[i:], sep) {
					return true
				}
			}
			return false
		}
		for i := 0; i <= len(s); i++ {
			if i < len(s) && s[i] == sep {
				return globMatch(pattern[1:], s[i:], sep)
			}
			if globMatch(pattern[1:], s[i:], sep) {
				return true
			}
		}
		return false
	}
	if len(s) == 0 {
		return false
	}
	if pattern[0] != s[0] {
		return false
	}
	return globMatch(pattern[1:], s[1:], sep)
}

func (e *Engine) PathsMatch(h engine.Handle, txn engine.Txn, collections []engine.CollectionID, patterns [][]byte, previous [][]byte, limits []uint32, separator byte, arena memory.Allocator) (engine.MatchResult, error) {
	if len(collections) != len(patterns) {
		return engine.MatchResult{}, ustoreerr.InvalidArgumentf("collections/patterns length mismatch: %d vs %d", len(collections), len(patterns))
	}
	in, err := e.instance(h)
	if err != nil {
		return engine.MatchResult{}, err
	}
	in.mu.RLock()
	defer in.mu.RUnlock()

	counts := make([]uint32, len(patterns))
	offsets := make([]int64, len(patterns)+1)
	var allPaths [][]byte

	for i, pat := range patterns {
		c, err := in.collection(collections[i])
		if err != nil {
			return engine.MatchResult{}, err
		}
		limit := uint32(^uint32(0))
		if i < len(limits) {
			limit = limits[i]
		}
		var prev []byte
		if i < len(previous) {
			prev = previous[i]
		}

		sortedPaths := make([]string, 0, len(c.paths))
		for p := range c.paths {
			sortedPaths = append(sortedPaths, p)
		}
		sort.Strings(sortedPaths)

		var matched int
		for _, p := range sortedPaths {
			if matched >= int(limit) {
				break
			}
			if prev != nil && bytes.Compare([]byte(p), prev) <= 0 {
				continue
			}
			pr, _, err := in.resolvePathKey(c, txn, in.version, p)
			if err != nil {
				return engine.MatchResult{}, err
			}
			if !pr {
				continue
			}
			if !globMatch(pat, []byte(p), separator) {
				continue
			}
			allPaths = append(allPaths, []byte(p))
			matched++
		}
		counts[i] = uint32(matched)
		offsets[i+1] = offsets[i] + int64(matched)
	}
	return engine.MatchResult{Counts: counts, Offsets: offsets, Paths: allPaths}, nil
}

func (e *Engine) Scan(h engine.Handle, txn engine.Txn, collections []engine.CollectionID, startKeys []int64, limits []uint32, arena memory.Allocator) (engine.ScanResult, error) {
	if len(collections) != len(startKeys) {
		return engine.ScanResult{}, ustoreerr.InvalidArgumentf("collections/startKeys length mismatch: %d vs %d", len(collections), len(startKeys))
	}
	in, err := e.instance(h)
	if err != nil {
		return engine.ScanResult{}, err
	}
	in.mu.RLock()
	defer in.mu.RUnlock()

	asOf := in.version
	offsets := make([]int64, len(startKeys)+1)
	var keys []int64
	for i, start := range startKeys {
		c, err := in.collection(collections[i])
		if err != nil {
			return engine.ScanResult{}, err
		}
		limit := uint32(^uint32(0))
		if i < len(limits) {
			limit = limits[i]
		}
		var rowKeys []int64
		for _, k := range scanCollectionCandidates(c, start) {
			if uint32(len(rowKeys)) >= limit {
				break
			}
			present, _, err := in.resolveIntKey(c, txn, asOf, k)
			if err != nil {
				return engine.ScanResult{}, err
			}
			if present {
				rowKeys = append(rowKeys, k)
			}
		}
		keys = append(keys, rowKeys...)
		offsets[i+1] = offsets[i] + int64(len(rowKeys))
	}
	return engine.ScanResult{Keys: keys, Offsets: offsets}, nil
}

func scanCollectionCandidates(c *collection, start int64) []int64 {
	all := make([]int64, 0, len(c.keys))
	for k := range c.keys {
		if k >= start {
			all = append(all, k)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	return all
}

func (e *Engine) Sample(h engine.Handle, txn engine.Txn, collections []engine.CollectionID, limits []uint32, arena memory.Allocator) (engine.ScanResult, error) {
	start := make([]int64, len(collections))
	return e.Scan(h, txn, collections, start, limits, arena)
}

func (e *Engine) Write(h engine.Handle, txn engine.Txn, collections []engine.CollectionID, keys []int64, values [][]byte, opts engine.WriteOptions) error {
	if len(collections) != len(keys) || len(keys) != len(values) {
		return ustoreerr.InvalidArgumentf("collections/keys/values length mismatch: %d/%d/%d", len(collections), len(keys), len(values))
	}
	in, err := e.instance(h)
	if err != nil {
		return err
	}
	in.mu.Lock()
	defer in.mu.Unlock()

	if txn != 0 {
		st, ok := in.txns[txn]
		if !ok {
			return ustoreerr.NotFoundf("transaction %d not found", txn)
		}
		for i, k := range keys {
			c, err := in.collection(collections[i])
			if err != nil {
				return err
			}
			st.bufferIntWrite(c, collections[i], k, values[i])
		}
		return nil
	}

	in.version++
	for i, k := range keys {
		c, err := in.collection(collections[i])
		if err != nil {
			return err
		}
		c.keyChain(k, true).append(in.version, values[i])
	}
	return nil
}

func (e *Engine) PathsWrite(h engine.Handle, txn engine.Txn, collections []engine.CollectionID, paths [][]byte, separator byte, values [][]byte, opts engine.WriteOptions) error {
	if len(collections) != len(paths) || len(paths) != len(values) {
		return ustoreerr.InvalidArgumentf("collections/paths/values length mismatch: %d/%d/%d", len(collections), len(paths), len(values))
	}
	in, err := e.instance(h)
	if err != nil {
		return err
	}
	in.mu.Lock()
	defer in.mu.Unlock()

	if txn != 0 {
		st, ok := in.txns[txn]
		if !ok {
			return ustoreerr.NotFoundf("transaction %d not found", txn)
		}
		for i, p := range paths {
			c, err := in.collection(collections[i])
			if err != nil {
				return err
			}
			st.bufferPathWrite(c, collections[i], string(p), values[i])
		}
		return nil
	}

	in.version++
	for i, p := range paths {
		c, err := in.collection(collections[i])
		if err != nil {
			return err
		}
		c.pathChain(string(p), true).append(in.version, values[i])
	}
	return nil
}
