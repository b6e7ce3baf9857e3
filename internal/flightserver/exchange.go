package flightserver

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/menuet/ustore/internal/engine"
	"github.com/menuet/ustore/internal/observability"
	"github.com/menuet/ustore/internal/session"
	"github.com/menuet/ustore/internal/uriparam"
	"github.com/menuet/ustore/internal/ustoreerr"
	"github.com/menuet/ustore/internal/wire"
)

const (
	verbRead      = "read"
	verbReadPath  = "read_path"
	verbMatchPath = "match_path"
	verbScan      = "scan"
	verbSample    = "sample"
)

// DoExchange dispatches the five batch-in/batch-out verbs: read, read_path,
// match_path, scan, sample.
func (s *Server) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	ctx := stream.Context()

	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return toStatus("exchange", session.ID{}, err)
	}
	defer reader.Release()

	desc := reader.LatestFlightDescriptor()
	if desc == nil {
		return toStatus("exchange", session.ID{}, ustoreerr.InvalidArgumentf("missing flight descriptor"))
	}
	cmd := uriparam.Parse(string(desc.Cmd))
	verb := cmd.Verb

	params, err := parseSessionParams(ctx, cmd.Params)
	if err != nil {
		return toStatus(verb, session.ID{}, err)
	}

	return s.withHook(ctx, verb, params.id, func(ctx context.Context, stats *observability.CallStatistics) error {
		lock, err := s.pool.Lock(params.id)
		if err != nil {
			return toStatus(verb, params.id, err)
		}
		defer lock.Release()
		txn := engine.Txn(lock.Txn)
		mem := arenaAllocator(lock.Arena)

		var writer *flight.Writer
		for reader.Next() {
			batch := reader.Record()
			stats.RecordInput(batch)

			outBatch, err := s.dispatchExchangeVerb(verb, txn, params, batch, mem)
			if err != nil {
				return toStatus(verb, params.id, err)
			}
			if writer == nil {
				writer = flight.NewRecordWriter(stream, ipc.WithSchema(outBatch.Schema()))
				defer writer.Close()
			}
			if err := writer.Write(outBatch); err != nil {
				outBatch.Release()
				return toStatus(verb, params.id, err)
			}
			stats.RecordOutput(outBatch)
			outBatch.Release()
		}
		if err := reader.Err(); err != nil {
			return toStatus(verb, params.id, err)
		}
		return nil
	})
}

func (s *Server) dispatchExchangeVerb(verb string, txn engine.Txn, params sessionParams, batch arrow.RecordBatch, mem memory.Allocator) (arrow.RecordBatch, error) {
	switch verb {
	case verbRead:
		return s.doRead(txn, params, batch, mem)
	case verbReadPath:
		return s.doReadPath(txn, params, batch, mem)
	case verbMatchPath:
		return s.doMatchPath(txn, params, batch, mem)
	case verbScan:
		return s.doScan(txn, params, batch, mem, false)
	case verbSample:
		return s.doScan(txn, params, batch, mem, true)
	default:
		return nil, ustoreerr.NotImplementedf("unknown exchange verb %q", verb)
	}
}

// buildReadOutput shapes an engine.ReadResult into the verb's requested
// part: contents (vals), lengths, or presences.
func buildReadOutput(mem memory.Allocator, res engine.ReadResult, part string) arrow.RecordBatch {
	n := int64(len(res.Present))
	switch part {
	case partLengths:
		col := wire.BuildLengthsColumn(mem, res.Lengths)
		schema := arrow.NewSchema([]arrow.Field{{Name: "lengths", Type: arrow.PrimitiveTypes.Uint32, Nullable: true}}, nil)
		return wire.NewBatch(schema, []arrow.Array{col}, n)
	case partPresences:
		col := wire.BuildPresencesColumn(mem, res.Present)
		schema := arrow.NewSchema([]arrow.Field{{Name: "presences", Type: arrow.PrimitiveTypes.Uint8}}, nil)
		return wire.NewBatch(schema, []arrow.Array{col}, int64(wire.PresenceBitmapLen(len(res.Present))))
	default:
		col := wire.BuildValuesColumn(mem, res.Values)
		schema := arrow.NewSchema([]arrow.Field{{Name: "vals", Type: arrow.BinaryTypes.Binary, Nullable: true}}, nil)
		return wire.NewBatch(schema, []arrow.Array{col}, n)
	}
}

func (s *Server) doRead(txn engine.Txn, params sessionParams, batch arrow.RecordBatch, mem memory.Allocator) (arrow.RecordBatch, error) {
	keysCol := findColumn(batch, "keys")
	if keysCol == nil {
		return nil, ustoreerr.InvalidArgumentf("read: missing keys column")
	}
	n := int(batch.NumRows())
	keys, err := wire.ExtractInt64Column(keysCol, n)
	if err != nil {
		return nil, err
	}
	collections, err := collectionsForBatch(batch, params, n)
	if err != nil {
		return nil, err
	}
	res, err := s.eng.Read(s.handle, txn, collections, keys, params.readOptions(), mem)
	if err != nil {
		return nil, err
	}
	return buildReadOutput(mem, res, params.part), nil
}

func (s *Server) doReadPath(txn engine.Txn, params sessionParams, batch arrow.RecordBatch, mem memory.Allocator) (arrow.RecordBatch, error) {
	pathsCol := findColumn(batch, "paths")
	if pathsCol == nil {
		return nil, ustoreerr.InvalidArgumentf("read_path: missing paths column")
	}
	n := int(batch.NumRows())
	paths, err := wire.ExtractBinaryColumn(pathsCol)
	if err != nil {
		return nil, err
	}
	collections, err := collectionsForBatch(batch, params, n)
	if err != nil {
		return nil, err
	}
	sep := pathSeparatorForColumn(batch, "paths")
	res, err := s.eng.PathsRead(s.handle, txn, collections, paths, sep, params.readOptions(), mem)
	if err != nil {
		return nil, err
	}
	return buildReadOutput(mem, res, params.part), nil
}

func (s *Server) doMatchPath(txn engine.Txn, params sessionParams, batch arrow.RecordBatch, mem memory.Allocator) (arrow.RecordBatch, error) {
	patternsCol := findColumn(batch, "patterns")
	if patternsCol == nil {
		return nil, ustoreerr.InvalidArgumentf("match_path: missing patterns column")
	}
	n := int(batch.NumRows())
	patterns, err := wire.ExtractBinaryColumn(patternsCol)
	if err != nil {
		return nil, err
	}
	var previous [][]byte
	if prevCol := findColumn(batch, "previous"); prevCol != nil {
		previous, err = wire.ExtractBinaryColumn(prevCol)
		if err != nil {
			return nil, err
		}
	}
	limitsCol := findColumn(batch, "count_limits")
	if limitsCol == nil {
		return nil, ustoreerr.InvalidArgumentf("match_path: missing count_limits column")
	}
	limits, err := wire.ExtractUint32Column(limitsCol, n)
	if err != nil {
		return nil, err
	}
	collections, err := collectionsForBatch(batch, params, n)
	if err != nil {
		return nil, err
	}

	sep := pathSeparatorForColumn(batch, "patterns")
	res, err := s.eng.PathsMatch(s.handle, txn, collections, patterns, previous, limits, sep, mem)
	if err != nil {
		return nil, err
	}

	lengthsI32 := make([]int32, len(res.Counts))
	for i, c := range res.Counts {
		lengthsI32[i] = int32(c)
	}
	lengthsCol := wire.BuildLengthsColumn(mem, lengthsI32)

	if params.part == partLengths {
		schema := arrow.NewSchema([]arrow.Field{{Name: "lengths", Type: arrow.PrimitiveTypes.Uint32, Nullable: true}}, nil)
		return wire.NewBatch(schema, []arrow.Array{lengthsCol}, int64(n)), nil
	}

	valsCol := wire.BuildValuesColumn(mem, res.Paths)
	offsetsCol := wire.BuildOffsetsColumn(mem, res.Offsets)
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "lengths", Type: arrow.PrimitiveTypes.Uint32, Nullable: true},
		{Name: "vals", Type: arrow.BinaryTypes.Binary, Nullable: true},
		{Name: "offsets", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	return wire.NewBatch(schema, []arrow.Array{lengthsCol, valsCol, offsetsCol}, int64(n)), nil
}

func (s *Server) doScan(txn engine.Txn, params sessionParams, batch arrow.RecordBatch, mem memory.Allocator, sample bool) (arrow.RecordBatch, error) {
	n := int(batch.NumRows())
	limitsCol := findColumn(batch, "count_limits")
	if limitsCol == nil {
		return nil, ustoreerr.InvalidArgumentf("scan/sample: missing count_limits column")
	}
	limits, err := wire.ExtractUint32Column(limitsCol, n)
	if err != nil {
		return nil, err
	}
	collections, err := collectionsForBatch(batch, params, n)
	if err != nil {
		return nil, err
	}

	var res engine.ScanResult
	if sample {
		res, err = s.eng.Sample(s.handle, txn, collections, limits, mem)
	} else {
		startCol := findColumn(batch, "scan_starts")
		if startCol == nil {
			return nil, ustoreerr.InvalidArgumentf("scan: missing scan_starts column")
		}
		starts, err2 := wire.ExtractInt64Column(startCol, n)
		if err2 != nil {
			return nil, err2
		}
		res, err = s.eng.Scan(s.handle, txn, collections, starts, limits, mem)
	}
	if err != nil {
		return nil, err
	}

	totalKeys := int64(len(res.Keys))
	keysCol := wire.BuildKeysColumn(mem, res.Keys)
	offsetsCol := wire.BuildOffsetsColumn(mem, padOffsetsToLength(res.Offsets, totalKeys))
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "keys", Type: arrow.PrimitiveTypes.Int64},
		{Name: "offsets", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	return wire.NewBatch(schema, []arrow.Array{keysCol, offsetsCol}, totalKeys), nil
}

// padOffsetsToLength extends a prefix-sum offsets slice (one entry longer
// than the task count) up to n entries by repeating its final cumulative
// value, so the keys and offsets columns of a scan/sample record batch share
// one row count as the C++ reference implementation's exported buffers do
// (flight_server.cpp exports both at found_offsets[tasks_count]).
func padOffsetsToLength(offsets []int64, n int64) []int64 {
	if int64(len(offsets)) >= n {
		return offsets
	}
	padded := make([]int64, n)
	copy(padded, offsets)
	last := offsets[len(offsets)-1]
	for i := len(offsets); i < len(padded); i++ {
		padded[i] = last
	}
	return padded
}
