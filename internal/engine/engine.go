// Package engine defines the abstract storage engine contract consumed by
// the request dispatcher: collections, snapshots, transactions, and the
// batched read/write/scan/sample/path operations, all expressed as Go
// slices rather than the raw strided-pointer arguments of the original
// C-ABI engine calls.
package engine

import "github.com/apache/arrow-go/v18/arrow/memory"

// Handle identifies an open engine instance.
type Handle uint64

// Txn identifies an in-flight transaction within one engine Handle. Zero
// means "no transaction" (non-transactional operation).
type Txn uint64

// CollectionID identifies a collection. Zero is the reserved "main"
// collection that always exists.
type CollectionID uint64

// SnapshotID identifies a pinned, read-only view of the keyspace.
type SnapshotID uint64

// DropMode controls what collection_drop removes.
type DropMode int

const (
	// DropCollection removes keys, values, and the collection itself.
	DropCollection DropMode = iota
	// DropValues clears stored values but retains keys.
	DropValues
	// DropContents removes keys and values, keeping the (now empty) collection.
	DropContents
)

// TxnOptions carries transaction-scoped behavior flags. Flush is the only
// flag so far; the struct lets further commit-time options be added without
// changing the interface's shape.
type TxnOptions struct {
	Flush bool
}

// ReadOptions carries per-call read behavior flags.
type ReadOptions struct {
	SnapshotID SnapshotID
	HasSnap    bool
	DontWatch  bool
	SharedMem  bool
}

// WriteOptions carries per-call write behavior flags.
type WriteOptions struct {
	Flush     bool
	DontWatch bool
}

// ReadResult is the uniform shape returned by Read and PathsRead: one entry
// per requested key, in request order.
type ReadResult struct {
	// Present reports, per key, whether the key exists.
	Present []bool
	// Lengths carries each present value's length; entries for absent keys
	// are -1 (the wire layer's missing-sentinel, per SPEC_FULL §8).
	Lengths []int32
	// Values holds each present value's bytes; nil for absent keys.
	Values [][]byte
}

// ScanResult is the uniform shape returned by Scan and Sample: concatenated
// keys across all input rows, framed by a prefix-sum offsets slice of
// length len(Offsets) == len(input rows)+1.
type ScanResult struct {
	Keys    []int64
	Offsets []int64
}

// MatchResult is returned by PathsMatch.
type MatchResult struct {
	// Counts holds, per input pattern row, the number of matches returned.
	Counts []uint32
	// Offsets frames Paths by prefix-sum, length len(Counts)+1. Nil when the
	// caller only requested lengths.
	Offsets []int64
	// Paths holds the concatenated matched path strings.
	Paths [][]byte
}

// Engine is the abstract storage backend consumed by the dispatcher. The
// calls that produce result batches (Read, PathsRead, PathsMatch, Scan,
// Sample) take an arena allocator; the others take none. Errors are typed
// *ustoreerr.Error values declared as plain `error` here; callers
// assert/wrap with ustoreerr.AsUstoreError.
type Engine interface {
	Open(configJSON []byte) (Handle, error)
	Close(h Handle) error

	CollectionCreate(h Handle, name string, config []byte) (CollectionID, error)
	CollectionDrop(h Handle, id CollectionID, mode DropMode) error
	CollectionList(h Handle) (ids []CollectionID, names []string, err error)

	SnapshotCreate(h Handle) (SnapshotID, error)
	SnapshotDrop(h Handle, id SnapshotID) error
	SnapshotList(h Handle) ([]SnapshotID, error)

	TransactionInit(h Handle, opts TxnOptions) (Txn, error)
	TransactionCommit(h Handle, txn Txn, opts TxnOptions) error
	TransactionFree(h Handle, txn Txn) error

	Read(h Handle, txn Txn, collections []CollectionID, keys []int64, opts ReadOptions, arena memory.Allocator) (ReadResult, error)
	PathsRead(h Handle, txn Txn, collections []CollectionID, paths [][]byte, separator byte, opts ReadOptions, arena memory.Allocator) (ReadResult, error)
	PathsMatch(h Handle, txn Txn, collections []CollectionID, patterns [][]byte, previous [][]byte, limits []uint32, separator byte, arena memory.Allocator) (MatchResult, error)

	Scan(h Handle, txn Txn, collections []CollectionID, startKeys []int64, limits []uint32, arena memory.Allocator) (ScanResult, error)
	Sample(h Handle, txn Txn, collections []CollectionID, limits []uint32, arena memory.Allocator) (ScanResult, error)

	Write(h Handle, txn Txn, collections []CollectionID, keys []int64, values [][]byte, opts WriteOptions) error
	PathsWrite(h Handle, txn Txn, collections []CollectionID, paths [][]byte, separator byte, values [][]byte, opts WriteOptions) error
}
