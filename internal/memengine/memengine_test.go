package memengine

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/menuet/ustore/internal/engine"
)

func open(t *testing.T) (*Engine, engine.Handle) {
	t.Helper()
	e := New()
	h, err := e.Open(nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return e, h
}

// TestTriangleRoundTrip follows scenario S1 without its clear step: write,
// read back presences/lengths/values, erase, and check the missing sentinel.
func TestTriangleRoundTrip(t *testing.T) {
	e, h := open(t)
	mem := memory.NewGoAllocator()
	cols := []engine.CollectionID{0, 0, 0}
	keys := []int64{34, 35, 36}
	values := [][]byte{{34}, {35}, {36}}

	if err := e.Write(h, 0, cols, keys, values, engine.WriteOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	res, err := e.Read(h, 0, cols, keys, engine.ReadOptions{}, mem)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for i := range keys {
		if !res.Present[i] || res.Lengths[i] != 1 || res.Values[i][0] != byte(34+i) {
			t.Fatalf("row %d: unexpected result %+v", i, res)
		}
	}

	// Erase by writing nil values.
	nils := [][]byte{nil, nil, nil}
	if err := e.Write(h, 0, cols, keys, nils, engine.WriteOptions{}); err != nil {
		t.Fatalf("erase Write: %v", err)
	}
	res, err = e.Read(h, 0, cols, keys, engine.ReadOptions{}, mem)
	if err != nil {
		t.Fatalf("Read after erase: %v", err)
	}
	for i := range keys {
		if res.Present[i] {
			t.Fatalf("row %d: expected absent after erase", i)
		}
		if res.Lengths[i] != -1 {
			t.Fatalf("row %d: expected missing sentinel, got %d", i, res.Lengths[i])
		}
	}
}

// TestTwoNamedCollections mirrors scenario S2.
func TestTwoNamedCollections(t *testing.T) {
	e, h := open(t)
	col1, err := e.CollectionCreate(h, "col1", nil)
	if err != nil {
		t.Fatalf("CollectionCreate col1: %v", err)
	}
	col2, err := e.CollectionCreate(h, "col2", nil)
	if err != nil {
		t.Fatalf("CollectionCreate col2: %v", err)
	}

	ids, names, err := e.CollectionList(h)
	if err != nil {
		t.Fatalf("CollectionList: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 collections, got %d", len(ids))
	}

	if err := e.CollectionDrop(h, col1, engine.DropCollection); err != nil {
		t.Fatalf("CollectionDrop: %v", err)
	}
	ids, names, err = e.CollectionList(h)
	if err != nil {
		t.Fatalf("CollectionList after drop: %v", err)
	}
	if len(ids) != 1 || ids[0] != col2 || names[0] != "col2" {
		t.Fatalf("unexpected post-drop listing: ids=%v names=%v", ids, names)
	}
}

// TestTransactionalVisibility mirrors scenario S3.
func TestTransactionalVisibility(t *testing.T) {
	e, h := open(t)
	mem := memory.NewGoAllocator()

	txn, err := e.TransactionInit(h, engine.TxnOptions{})
	if err != nil {
		t.Fatalf("TransactionInit: %v", err)
	}

	cols := []engine.CollectionID{0, 0, 0}
	keys := []int64{54, 55, 56}
	values := [][]byte{{1}, {2}, {3}}
	if err := e.Write(h, txn, cols, keys, values, engine.WriteOptions{}); err != nil {
		t.Fatalf("Write in txn: %v", err)
	}

	res, err := e.Read(h, 0, cols, keys, engine.ReadOptions{}, mem)
	if err != nil {
		t.Fatalf("non-txn Read: %v", err)
	}
	for i, p := range res.Present {
		if p {
			t.Fatalf("row %d: uncommitted write leaked to non-txn reader", i)
		}
	}

	if err := e.TransactionCommit(h, txn, engine.TxnOptions{}); err != nil {
		t.Fatalf("TransactionCommit: %v", err)
	}

	res, err = e.Read(h, 0, cols, keys, engine.ReadOptions{}, mem)
	if err != nil {
		t.Fatalf("post-commit Read: %v", err)
	}
	for i := range keys {
		if !res.Present[i] || res.Values[i][0] != byte(i+1) {
			t.Fatalf("row %d: expected committed value, got %+v", i, res)
		}
	}
}

// TestSnapshotIsolation mirrors scenario S4.
func TestSnapshotIsolation(t *testing.T) {
	e, h := open(t)
	mem := memory.NewGoAllocator()
	cols := []engine.CollectionID{0}

	if err := e.Write(h, 0, cols, []int64{1}, [][]byte{[]byte("A")}, engine.WriteOptions{}); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	snap, err := e.SnapshotCreate(h)
	if err != nil {
		t.Fatalf("SnapshotCreate: %v", err)
	}
	if err := e.Write(h, 0, cols, []int64{1}, [][]byte{[]byte("B")}, engine.WriteOptions{}); err != nil {
		t.Fatalf("second Write: %v", err)
	}

	res, err := e.Read(h, 0, cols, []int64{1}, engine.ReadOptions{HasSnap: true, SnapshotID: snap}, mem)
	if err != nil {
		t.Fatalf("snapshot Read: %v", err)
	}
	if string(res.Values[0]) != "A" {
		t.Fatalf("snapshot read: want A, got %q", res.Values[0])
	}

	res, err = e.Read(h, 0, cols, []int64{1}, engine.ReadOptions{}, mem)
	if err != nil {
		t.Fatalf("latest Read: %v", err)
	}
	if string(res.Values[0]) != "B" {
		t.Fatalf("latest read: want B, got %q", res.Values[0])
	}
}

// TestScanPagination mirrors scenario S5.
func TestScanPagination(t *testing.T) {
	e, h := open(t)
	mem := memory.NewGoAllocator()
	cols := make([]engine.CollectionID, 5)
	keys := []int64{10, 20, 30, 40, 50}
	values := make([][]byte, 5)
	for i := range values {
		values[i] = []byte{byte(i)}
	}
	if err := e.Write(h, 0, cols, keys, values, engine.WriteOptions{}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	res, err := e.Scan(h, 0, []engine.CollectionID{0}, []int64{0}, []uint32{3}, mem)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	want := []int64{10, 20, 30}
	if !int64SliceEqual(res.Keys, want) || !int64SliceEqual(res.Offsets, []int64{0, 3}) {
		t.Fatalf("first scan: keys=%v offsets=%v", res.Keys, res.Offsets)
	}

	res, err = e.Scan(h, 0, []engine.CollectionID{0}, []int64{31}, []uint32{10}, mem)
	if err != nil {
		t.Fatalf("Scan 2: %v", err)
	}
	want = []int64{40, 50}
	if !int64SliceEqual(res.Keys, want) || !int64SliceEqual(res.Offsets, []int64{0, 2}) {
		t.Fatalf("second scan: keys=%v offsets=%v", res.Keys, res.Offsets)
	}
}

// TestCommitConflict exercises the first-committer-wins check in
// TransactionCommit: a non-transactional write to a key a transaction
// buffered a write for must abort that transaction's commit.
func TestCommitConflict(t *testing.T) {
	e, h := open(t)
	cols := []engine.CollectionID{0}

	txn, err := e.TransactionInit(h, engine.TxnOptions{})
	if err != nil {
		t.Fatalf("TransactionInit: %v", err)
	}
	if err := e.Write(h, txn, cols, []int64{7}, [][]byte{[]byte("txn-value")}, engine.WriteOptions{}); err != nil {
		t.Fatalf("buffered Write: %v", err)
	}

	// A concurrent non-transactional write advances the key's head version.
	if err := e.Write(h, 0, cols, []int64{7}, [][]byte{[]byte("racer")}, engine.WriteOptions{}); err != nil {
		t.Fatalf("racing Write: %v", err)
	}

	if err := e.TransactionCommit(h, txn, engine.TxnOptions{}); err == nil {
		t.Fatalf("expected commit conflict")
	}
}

func int64SliceEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
