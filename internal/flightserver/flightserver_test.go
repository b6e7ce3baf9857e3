package flightserver

import (
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/menuet/ustore/internal/engine"
	"github.com/menuet/ustore/internal/memengine"
	"github.com/menuet/ustore/internal/observability"
	"github.com/menuet/ustore/internal/session"
	"github.com/menuet/ustore/internal/ustoreerr"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	eng := memengine.New()
	h, err := eng.Open(nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	pool := session.New(4, 30*time.Second)
	hook := observability.NewHook(observability.Config{})
	return New(eng, h, pool, hook)
}

func int64Column(mem memory.Allocator, vals []int64) arrow.Array {
	b := array.NewInt64Builder(mem)
	defer b.Release()
	b.AppendValues(vals, nil)
	return b.NewArray()
}

func binaryColumn(mem memory.Allocator, vals [][]byte) arrow.Array {
	b := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
	defer b.Release()
	for _, v := range vals {
		if v == nil {
			b.AppendNull()
			continue
		}
		b.Append(v)
	}
	return b.NewArray()
}

func uint32Column(mem memory.Allocator, vals []uint32) arrow.Array {
	b := array.NewUint32Builder(mem)
	defer b.Release()
	b.AppendValues(vals, nil)
	return b.NewArray()
}

// TestWriteAndReadTriangle mirrors scenario S1 through the dispatcher's
// batch-level verb handlers rather than the raw engine.
func TestWriteAndReadTriangle(t *testing.T) {
	s := newTestServer(t)
	mem := memory.NewGoAllocator()
	params := sessionParams{id: session.ID{Client: 1}}

	keysCol := int64Column(mem, []int64{34, 35, 36})
	valsCol := binaryColumn(mem, [][]byte{{34}, {35}, {36}})
	writeSchema := arrow.NewSchema([]arrow.Field{
		{Name: "keys", Type: arrow.PrimitiveTypes.Int64},
		{Name: "vals", Type: arrow.BinaryTypes.Binary, Nullable: true},
	}, nil)
	writeBatch := array.NewRecordBatch(writeSchema, []arrow.Array{keysCol, valsCol}, 3)
	defer writeBatch.Release()

	if err := s.applyWriteBatch(verbWrite, 0, params, writeBatch); err != nil {
		t.Fatalf("applyWriteBatch: %v", err)
	}

	readKeysCol := int64Column(mem, []int64{34, 35, 36})
	readSchema := arrow.NewSchema([]arrow.Field{{Name: "keys", Type: arrow.PrimitiveTypes.Int64}}, nil)
	readBatch := array.NewRecordBatch(readSchema, []arrow.Array{readKeysCol}, 3)
	defer readBatch.Release()

	out, err := s.doRead(0, params, readBatch, mem)
	if err != nil {
		t.Fatalf("doRead: %v", err)
	}
	defer out.Release()

	valsOut, ok := out.Column(0).(*array.Binary)
	if !ok {
		t.Fatalf("expected binary column, got %T", out.Column(0))
	}
	for i := 0; i < 3; i++ {
		if valsOut.IsNull(i) {
			t.Fatalf("row %d: expected present value", i)
		}
		if got := valsOut.Value(i)[0]; got != byte(34+i) {
			t.Fatalf("row %d: got %d", i, got)
		}
	}
}

// TestCollectionLifecycle mirrors scenario S2: open two named collections,
// write to both, list them, drop one, list again.
func TestCollectionLifecycle(t *testing.T) {
	s := newTestServer(t)
	params := sessionParams{id: session.ID{Client: 1}}

	col1, err := s.doCollectionOpen(sessionParams{hasName: true, colName: "col1"}, nil)
	if err != nil {
		t.Fatalf("open col1: %v", err)
	}
	col2, err := s.doCollectionOpen(sessionParams{hasName: true, colName: "col2"}, nil)
	if err != nil {
		t.Fatalf("open col2: %v", err)
	}

	mem := memory.NewGoAllocator()
	for _, col := range []engine.CollectionID{col1, col2} {
		keysCol := int64Column(mem, []int64{44, 45, 46})
		valsCol := binaryColumn(mem, [][]byte{{1}, {2}, {3}})
		schema := arrow.NewSchema([]arrow.Field{
			{Name: "keys", Type: arrow.PrimitiveTypes.Int64},
			{Name: "vals", Type: arrow.BinaryTypes.Binary, Nullable: true},
		}, nil)
		batch := array.NewRecordBatch(schema, []arrow.Array{keysCol, valsCol}, 3)
		p := params
		p.hasCol, p.col = true, col
		if err := s.applyWriteBatch(verbWrite, 0, p, batch); err != nil {
			t.Fatalf("write to col %d: %v", col, err)
		}
		batch.Release()
	}

	batch, err := s.buildListCollectionsBatch(mem)
	if err != nil {
		t.Fatalf("buildListCollectionsBatch: %v", err)
	}
	if batch.NumRows() != 2 {
		t.Fatalf("expected 2 collections, got %d", batch.NumRows())
	}
	batch.Release()

	if err := s.doCollectionDrop(sessionParams{hasCol: true, col: col1, dropMode: engine.DropCollection}); err != nil {
		t.Fatalf("drop col1: %v", err)
	}

	batch, err = s.buildListCollectionsBatch(mem)
	if err != nil {
		t.Fatalf("buildListCollectionsBatch after drop: %v", err)
	}
	defer batch.Release()
	if batch.NumRows() != 1 {
		t.Fatalf("expected 1 collection after drop, got %d", batch.NumRows())
	}
}

// TestTransactionCommitAndConflict exercises txn_begin/txn_commit through
// the action handlers, including the first-committer-wins conflict path.
func TestTransactionCommitAndConflict(t *testing.T) {
	s := newTestServer(t)
	mem := memory.NewGoAllocator()

	id := session.ID{Client: 7}
	params := sessionParams{id: id}
	txnID, err := s.doTxnBegin(&params)
	if err != nil {
		t.Fatalf("doTxnBegin: %v", err)
	}
	params.id.Txn = txnID
	params.hasTxn = true

	lock, err := s.pool.Lock(params.id)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	keysCol := int64Column(mem, []int64{1})
	valsCol := binaryColumn(mem, [][]byte{{9}})
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "keys", Type: arrow.PrimitiveTypes.Int64},
		{Name: "vals", Type: arrow.BinaryTypes.Binary, Nullable: true},
	}, nil)
	batch := array.NewRecordBatch(schema, []arrow.Array{keysCol, valsCol}, 1)
	if err := s.applyWriteBatch(verbWrite, engine.Txn(lock.Txn), params, batch); err != nil {
		t.Fatalf("buffered write: %v", err)
	}
	batch.Release()
	lock.Release()

	// A concurrent non-transactional write to the same key should make the
	// pending transaction's commit fail with a conflict.
	nonTxnKeys := int64Column(mem, []int64{1})
	nonTxnVals := binaryColumn(mem, [][]byte{{1}})
	nonTxnBatch := array.NewRecordBatch(schema, []arrow.Array{nonTxnKeys, nonTxnVals}, 1)
	if err := s.applyWriteBatch(verbWrite, 0, sessionParams{id: session.ID{Client: 1}}, nonTxnBatch); err != nil {
		t.Fatalf("interleaved write: %v", err)
	}
	nonTxnBatch.Release()

	err = s.doTxnCommit(params)
	if err == nil {
		t.Fatalf("expected commit conflict")
	}
	uerr := ustoreerr.AsUstoreError(err)
	if uerr.Code != ustoreerr.Conflict {
		t.Fatalf("expected conflict code, got %v", uerr.Code)
	}

	// The session must have been released despite the commit failure.
	if _, _, err := s.pool.ContinueTxn(params.id); err == nil {
		t.Fatalf("expected session to be released after failed commit")
	}
}

// TestScanPagination mirrors scenario S5.
func TestScanPagination(t *testing.T) {
	s := newTestServer(t)
	mem := memory.NewGoAllocator()
	params := sessionParams{id: session.ID{Client: 1}}

	keys := []int64{10, 20, 30, 40, 50}
	keysCol := int64Column(mem, keys)
	vals := make([][]byte, len(keys))
	for i := range vals {
		vals[i] = []byte{byte(i)}
	}
	valsCol := binaryColumn(mem, vals)
	writeSchema := arrow.NewSchema([]arrow.Field{
		{Name: "keys", Type: arrow.PrimitiveTypes.Int64},
		{Name: "vals", Type: arrow.BinaryTypes.Binary, Nullable: true},
	}, nil)
	writeBatch := array.NewRecordBatch(writeSchema, []arrow.Array{keysCol, valsCol}, int64(len(keys)))
	if err := s.applyWriteBatch(verbWrite, 0, params, writeBatch); err != nil {
		t.Fatalf("write: %v", err)
	}
	writeBatch.Release()

	scanSchema := arrow.NewSchema([]arrow.Field{
		{Name: "scan_starts", Type: arrow.PrimitiveTypes.Int64},
		{Name: "count_limits", Type: arrow.PrimitiveTypes.Uint32},
	}, nil)

	startsCol := int64Column(mem, []int64{0})
	limitsCol := uint32Column(mem, []uint32{3})
	scanBatch := array.NewRecordBatch(scanSchema, []arrow.Array{startsCol, limitsCol}, 1)
	out, err := s.doScan(0, params, scanBatch, mem, false)
	if err != nil {
		t.Fatalf("doScan: %v", err)
	}
	scanBatch.Release()

	gotKeys := out.Column(0).(*array.Int64)
	if gotKeys.Len() != 3 || gotKeys.Value(0) != 10 || gotKeys.Value(1) != 20 || gotKeys.Value(2) != 30 {
		t.Fatalf("unexpected scan keys: %v", gotKeys)
	}
	// offsets is reshaped to the same row count as keys (3), padding the
	// single-task [0,3] prefix sum with a trailing repeat of its final value.
	offsets := out.Column(1).(*array.Int64)
	if offsets.Len() != 3 || offsets.Value(0) != 0 || offsets.Value(1) != 3 || offsets.Value(2) != 3 {
		t.Fatalf("unexpected scan offsets: %v", offsets)
	}
	out.Release()

	startsCol2 := int64Column(mem, []int64{31})
	limitsCol2 := uint32Column(mem, []uint32{10})
	scanBatch2 := array.NewRecordBatch(scanSchema, []arrow.Array{startsCol2, limitsCol2}, 1)
	out2, err := s.doScan(0, params, scanBatch2, mem, false)
	if err != nil {
		t.Fatalf("doScan: %v", err)
	}
	scanBatch2.Release()
	defer out2.Release()

	gotKeys2 := out2.Column(0).(*array.Int64)
	if gotKeys2.Len() != 2 || gotKeys2.Value(0) != 40 || gotKeys2.Value(1) != 50 {
		t.Fatalf("unexpected second scan keys: %v", gotKeys2)
	}
}

// TestListSnapshotsEmpty exercises the zero-snapshots early-return path.
func TestListSnapshotsEmpty(t *testing.T) {
	s := newTestServer(t)
	mem := memory.NewGoAllocator()
	batch, err := s.buildListSnapshotsBatch(mem)
	if err != nil {
		t.Fatalf("buildListSnapshotsBatch: %v", err)
	}
	if batch != nil {
		t.Fatalf("expected nil batch for zero snapshots, got one with %d rows", batch.NumRows())
	}

	snap, err := s.doSnapshotOpen(sessionParams{})
	if err != nil {
		t.Fatalf("doSnapshotOpen: %v", err)
	}
	batch, err = s.buildListSnapshotsBatch(mem)
	if err != nil {
		t.Fatalf("buildListSnapshotsBatch after open: %v", err)
	}
	defer batch.Release()
	if batch.NumRows() != 1 {
		t.Fatalf("expected 1 snapshot, got %d", batch.NumRows())
	}
	if err := s.doSnapshotDrop(sessionParams{hasSnap: true, snap: snap}); err != nil {
		t.Fatalf("doSnapshotDrop: %v", err)
	}
}
