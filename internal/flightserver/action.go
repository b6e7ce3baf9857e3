package flightserver

import (
	"context"
	"encoding/binary"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/google/uuid"

	"github.com/menuet/ustore/internal/engine"
	"github.com/menuet/ustore/internal/observability"
	"github.com/menuet/ustore/internal/session"
	"github.com/menuet/ustore/internal/uriparam"
	"github.com/menuet/ustore/internal/ustoreerr"
)

const (
	actionCollectionOpen = "collection_open"
	actionCollectionDrop = "collection_drop"
	actionSnapshotOpen   = "snapshot_open"
	actionSnapshotDrop   = "snapshot_drop"
	actionTxnBegin       = "txn_begin"
	actionTxnCommit      = "txn_commit"
	actionListActions    = "list_actions"
)

var knownActions = []string{
	actionCollectionOpen, actionCollectionDrop,
	actionSnapshotOpen, actionSnapshotDrop,
	actionTxnBegin, actionTxnCommit,
}

func scalar8(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

// DoAction dispatches the six scalar Action verbs plus the introspection
// verb list_actions, mirroring UStoreService::DoAction's is_query chain.
func (s *Server) DoAction(action *flight.Action, stream flight.FlightService_DoActionServer) error {
	ctx := stream.Context()
	verb := commandVerb(action.Type)

	if verb == actionListActions {
		for _, a := range knownActions {
			if err := stream.Send(&flight.Result{Body: []byte(a)}); err != nil {
				return err
			}
		}
		return nil
	}

	cmd := uriparam.Parse(action.Type)
	params, err := parseSessionParams(ctx, cmd.Params)
	if err != nil {
		return toStatus(verb, session.ID{}, err)
	}

	return s.withHook(ctx, verb, params.id, func(ctx context.Context, stats *observability.CallStatistics) error {
		switch verb {
		case actionCollectionOpen:
			id, err := s.doCollectionOpen(params, action.Body)
			if err != nil {
				return toStatus(verb, params.id, err)
			}
			return sendScalar(stream, uint64(id))
		case actionCollectionDrop:
			if err := s.doCollectionDrop(params); err != nil {
				return toStatus(verb, params.id, err)
			}
			return sendEmpty(stream)
		case actionSnapshotOpen:
			id, err := s.doSnapshotOpen(params)
			if err != nil {
				return toStatus(verb, params.id, err)
			}
			return sendScalar(stream, uint64(id))
		case actionSnapshotDrop:
			if err := s.doSnapshotDrop(params); err != nil {
				return toStatus(verb, params.id, err)
			}
			return sendEmpty(stream)
		case actionTxnBegin:
			txnID, err := s.doTxnBegin(&params)
			if err != nil {
				return toStatus(verb, params.id, err)
			}
			return sendScalar(stream, uint64(txnID))
		case actionTxnCommit:
			if err := s.doTxnCommit(params); err != nil {
				return toStatus(verb, params.id, err)
			}
			return sendEmpty(stream)
		default:
			return toStatus(verb, params.id, ustoreerr.NotImplementedf("unknown action %q", verb))
		}
	})
}

func sendScalar(stream flight.FlightService_DoActionServer, v uint64) error {
	return stream.Send(&flight.Result{Body: scalar8(v)})
}

func sendEmpty(stream flight.FlightService_DoActionServer) error {
	return stream.Send(&flight.Result{Body: []byte{}})
}

func (s *Server) doCollectionOpen(p sessionParams, body []byte) (engine.CollectionID, error) {
	if !p.hasName || p.colName == "" {
		return 0, ustoreerr.InvalidArgumentf("collection_open requires col_name")
	}
	return s.eng.CollectionCreate(s.handle, p.colName, body)
}

func (s *Server) doCollectionDrop(p sessionParams) error {
	if !p.hasCol {
		return ustoreerr.InvalidArgumentf("collection_drop requires col")
	}
	return s.eng.CollectionDrop(s.handle, p.col, p.dropMode)
}

func (s *Server) doSnapshotOpen(p sessionParams) (engine.SnapshotID, error) {
	if p.hasSnap {
		return 0, ustoreerr.InvalidArgumentf("snapshot_open does not accept snap")
	}
	return s.eng.SnapshotCreate(s.handle)
}

func (s *Server) doSnapshotDrop(p sessionParams) error {
	if !p.hasSnap {
		return ustoreerr.InvalidArgumentf("snapshot_drop requires snap")
	}
	return s.eng.SnapshotDrop(s.handle, p.snap)
}

// doTxnBegin assigns a transaction id drawn from a UUID when the caller did
// not supply one, admits the session, initializes the engine-side
// transaction, and holds the session idle — mirroring
// request_txn/engine-init/hold_txn. A UUID-derived id keeps collisions
// astronomically unlikely even at high session counts, unlike a
// linear-congruential generator's birthday bound. The pool's placeholder
// txn/arena handles exist only to gate capacity; the real engine.Txn
// returned by TransactionInit is what gets stored in the session record via
// HoldTxn and read back by doTxnCommit.
func (s *Server) doTxnBegin(p *sessionParams) (session.TxnID, error) {
	if !p.hasTxn {
		id := uuid.New()
		p.id.Txn = session.TxnID(binary.LittleEndian.Uint64(id[:8]))
	}

	_, arenaHandle, err := s.pool.RequestTxn(p.id)
	if err != nil {
		return 0, err
	}

	txn, err := s.eng.TransactionInit(s.handle, engine.TxnOptions{Flush: p.flush})
	if err != nil {
		s.pool.ReleaseTxn(p.id)
		return 0, err
	}

	s.pool.HoldTxn(p.id, session.TxnHandle(txn), arenaHandle)
	return p.id.Txn, nil
}

// doTxnCommit resumes the session exclusively, commits the engine-side
// transaction, and unconditionally releases the session regardless of
// commit outcome (see SPEC_FULL §9 open question: commit failure
// semantics).
func (s *Server) doTxnCommit(p sessionParams) error {
	if !p.hasTxn {
		return ustoreerr.InvalidArgumentf("txn_commit requires txn")
	}

	txnHandle, _, err := s.pool.ContinueTxn(p.id)
	if err != nil {
		s.pool.ReleaseTxn(p.id)
		return err
	}

	commitErr := s.eng.TransactionCommit(s.handle, engine.Txn(txnHandle), engine.TxnOptions{Flush: p.flush})
	s.pool.ReleaseTxn(p.id)
	_ = s.eng.TransactionFree(s.handle, engine.Txn(txnHandle))
	return commitErr
}
