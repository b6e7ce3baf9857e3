package flightserver

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"

	"github.com/menuet/ustore/internal/engine"
	"github.com/menuet/ustore/internal/observability"
	"github.com/menuet/ustore/internal/session"
	"github.com/menuet/ustore/internal/uriparam"
	"github.com/menuet/ustore/internal/ustoreerr"
	"github.com/menuet/ustore/internal/wire"
)

const (
	verbWrite     = "write"
	verbWritePath = "write_path"
)

// DoPut dispatches write and write_path: batch in, empty PutResult
// acknowledgement out. Null entries in the values column delete the
// corresponding key.
func (s *Server) DoPut(stream flight.FlightService_DoPutServer) error {
	ctx := stream.Context()

	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return toStatus("write", session.ID{}, err)
	}
	defer reader.Release()

	desc := reader.LatestFlightDescriptor()
	if desc == nil {
		return toStatus("write", session.ID{}, ustoreerr.InvalidArgumentf("missing flight descriptor"))
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

		for reader.Next() {
			batch := reader.Record()
			stats.RecordInput(batch)
			if err := s.applyWriteBatch(verb, engine.Txn(lock.Txn), params, batch); err != nil {
				return toStatus(verb, params.id, err)
			}
		}
		if err := reader.Err(); err != nil {
			return toStatus(verb, params.id, err)
		}

		return stream.Send(&flight.PutResult{AppMetadata: []byte("ok")})
	})
}

func (s *Server) applyWriteBatch(verb string, txn engine.Txn, params sessionParams, batch arrow.RecordBatch) error {
	n := int(batch.NumRows())
	collections, err := collectionsForBatch(batch, params, n)
	if err != nil {
		return err
	}

	valuesCol := findColumn(batch, "vals")
	if valuesCol == nil {
		return ustoreerr.InvalidArgumentf("%s: missing vals column", verb)
	}
	values, err := wire.ExtractBinaryColumn(valuesCol)
	if err != nil {
		return err
	}

	switch verb {
	case verbWrite:
		keysCol := findColumn(batch, "keys")
		if keysCol == nil {
			return ustoreerr.InvalidArgumentf("write: missing keys column")
		}
		keys, err := wire.ExtractInt64Column(keysCol, n)
		if err != nil {
			return err
		}
		return s.eng.Write(s.handle, txn, collections, keys, values, params.writeOptions())
	case verbWritePath:
		pathsCol := findColumn(batch, "paths")
		if pathsCol == nil {
			return ustoreerr.InvalidArgumentf("write_path: missing paths column")
		}
		paths, err := wire.ExtractBinaryColumn(pathsCol)
		if err != nil {
			return err
		}
		sep := pathSeparatorForColumn(batch, "paths")
		return s.eng.PathsWrite(s.handle, txn, collections, paths, sep, values, params.writeOptions())
	default:
		return ustoreerr.NotImplementedf("unknown write verb %q", verb)
	}
}
