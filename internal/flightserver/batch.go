package flightserver

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/menuet/ustore/internal/engine"
	"github.com/menuet/ustore/internal/wire"
)

// findColumn returns the named column of batch, or nil if absent.
func findColumn(batch arrow.RecordBatch, name string) arrow.Array {
	idx := batch.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil
	}
	return batch.Column(idx[0])
}

// pathSeparatorForColumn reads the path separator carried in a named
// column's field metadata, defaulting to '/'.
func pathSeparatorForColumn(batch arrow.RecordBatch, name string) byte {
	idx := batch.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return '/'
	}
	return wire.PathSeparator(batch.Schema().Field(idx[0]))
}

// collectionsForBatch resolves the per-row collection id column: a "cols"
// column if present (broadcast per wire.ExtractUint64Column's stride=0
// convention), else the single col URI parameter broadcast to every row,
// else the main collection (id 0) for every row.
func collectionsForBatch(batch arrow.RecordBatch, params sessionParams, n int) ([]engine.CollectionID, error) {
	if colsCol := findColumn(batch, "cols"); colsCol != nil {
		raw, err := wire.ExtractUint64Column(colsCol, n)
		if err != nil {
			return nil, err
		}
		out := make([]engine.CollectionID, len(raw))
		for i, v := range raw {
			out[i] = engine.CollectionID(v)
		}
		return out, nil
	}

	id := engine.CollectionID(0)
	if params.hasCol {
		id = params.col
	}
	out := make([]engine.CollectionID, n)
	for i := range out {
		out[i] = id
	}
	return out, nil
}
