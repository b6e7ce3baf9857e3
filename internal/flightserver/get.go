package flightserver

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/menuet/ustore/internal/observability"
	"github.com/menuet/ustore/internal/session"
	"github.com/menuet/ustore/internal/uriparam"
	"github.com/menuet/ustore/internal/ustoreerr"
	"github.com/menuet/ustore/internal/wire"
)

const (
	verbListCollections = "list_cols"
	verbListSnapshots   = "list_snaps"
)

var (
	listCollectionsSchema = arrow.NewSchema([]arrow.Field{
		{Name: "ids", Type: arrow.PrimitiveTypes.Uint64},
		{Name: "names", Type: arrow.BinaryTypes.String},
	}, nil)
	listSnapshotsSchema = arrow.NewSchema([]arrow.Field{
		{Name: "ids", Type: arrow.PrimitiveTypes.Uint64},
	}, nil)
)

// GetFlightInfo answers the two catalog-listing verbs. For list_snaps with
// no open snapshots it returns an endpoint-less FlightInfo, signalling the
// client to skip the subsequent DoGet entirely rather than open a stream
// that would carry no batches.
func (s *Server) GetFlightInfo(ctx context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	cmd := uriparam.Parse(string(desc.Cmd))
	verb := cmd.Verb

	switch verb {
	case verbListCollections:
		return &flight.FlightInfo{
			Schema: flight.SerializeSchema(listCollectionsSchema, memory.NewGoAllocator()),
			FlightDescriptor: desc,
			Endpoint: []*flight.FlightEndpoint{{
				Ticket: &flight.Ticket{Ticket: desc.Cmd},
			}},
		}, nil
	case verbListSnapshots:
		ids, err := s.listSnapshotIDs()
		if err != nil {
			return nil, toStatus(verb, session.ID{}, err)
		}
		info := &flight.FlightInfo{
			Schema:           flight.SerializeSchema(listSnapshotsSchema, memory.NewGoAllocator()),
			FlightDescriptor: desc,
		}
		if len(ids) > 0 {
			info.Endpoint = []*flight.FlightEndpoint{{Ticket: &flight.Ticket{Ticket: desc.Cmd}}}
		}
		info.TotalRecords = int64(len(ids))
		return info, nil
	default:
		return nil, toStatus(verb, session.ID{}, ustoreerr.NotImplementedf("unknown get verb %q", verb))
	}
}

// DoGet answers list_cols and list_snaps: no input batch, one output batch.
func (s *Server) DoGet(ticket *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	ctx := stream.Context()
	cmd := uriparam.Parse(string(ticket.Ticket))
	verb := cmd.Verb

	params, err := parseSessionParams(ctx, cmd.Params)
	if err != nil {
		return toStatus(verb, session.ID{}, err)
	}

	return s.withHook(ctx, verb, params.id, func(ctx context.Context, stats *observability.CallStatistics) error {
		mem := memory.NewGoAllocator()
		var batch arrow.RecordBatch
		var err error
		switch verb {
		case verbListCollections:
			batch, err = s.buildListCollectionsBatch(mem)
		case verbListSnapshots:
			batch, err = s.buildListSnapshotsBatch(mem)
		default:
			err = ustoreerr.NotImplementedf("unknown get verb %q", verb)
		}
		if err != nil {
			return toStatus(verb, params.id, err)
		}
		if batch == nil {
			return nil
		}
		defer batch.Release()
		stats.RecordOutput(batch)

		writer := flight.NewRecordWriter(stream)
		defer writer.Close()
		return writer.Write(batch)
	})
}

func (s *Server) listSnapshotIDs() ([]uint64, error) {
	ids, err := s.eng.SnapshotList(s.handle)
	if err != nil {
		return nil, err
	}
	raw := make([]uint64, len(ids))
	for i, id := range ids {
		raw[i] = uint64(id)
	}
	return raw, nil
}

func (s *Server) buildListCollectionsBatch(mem memory.Allocator) (arrow.RecordBatch, error) {
	ids, names, err := s.eng.CollectionList(s.handle)
	if err != nil {
		return nil, err
	}
	rawIDs := make([]uint64, len(ids))
	for i, id := range ids {
		rawIDs[i] = uint64(id)
	}
	idsCol := wire.BuildIDsColumn(mem, rawIDs)
	namesCol := wire.BuildNamesColumn(mem, names)
	return wire.NewBatch(listCollectionsSchema, []arrow.Array{idsCol, namesCol}, int64(len(ids))), nil
}

func (s *Server) buildListSnapshotsBatch(mem memory.Allocator) (arrow.RecordBatch, error) {
	ids, err := s.listSnapshotIDs()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	idsCol := wire.BuildIDsColumn(mem, ids)
	return wire.NewBatch(listSnapshotsSchema, []arrow.Array{idsCol}, int64(len(ids))), nil
}
