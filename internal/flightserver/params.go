package flightserver

import (
	"context"
	"hash/fnv"
	"strconv"

	"google.golang.org/grpc/peer"

	"github.com/menuet/ustore/internal/engine"
	"github.com/menuet/ustore/internal/session"
	"github.com/menuet/ustore/internal/uriparam"
	"github.com/menuet/ustore/internal/ustoreerr"
)

const (
	paramTxn       = "txn"
	paramSnap      = "snap"
	paramCol       = "col"
	paramColName   = "col_name"
	paramDropMode  = "drop_mode"
	paramPart      = "part"
	paramFlush     = "flush"
	paramDontWatch = "dont_watch"
	paramSharedMem = "shared_mem"

	dropModeValues   = "values"
	dropModeContents = "contents"

	partLengths   = "lengths"
	partPresences = "presences"
)

// clientID derives a stable per-connection client identity from the gRPC
// peer address, mirroring the reference implementation's
// std::hash<std::string>{}(ctx.peer()).
func clientID(ctx context.Context) session.ClientID {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(p.Addr.String()))
	return session.ClientID(h.Sum64())
}

// sessionParams is the parsed (client,txn) identity plus the recognized
// query parameters of one command string.
type sessionParams struct {
	id session.ID

	hasTxn  bool
	hasSnap bool
	snap    engine.SnapshotID

	hasCol   bool
	col      engine.CollectionID
	colName  string
	hasName  bool

	dropMode engine.DropMode
	part     string

	flush     bool
	dontWatch bool
	sharedMem bool
}

func parseSessionParams(ctx context.Context, queryParams string) (sessionParams, error) {
	p := sessionParams{id: session.ID{Client: clientID(ctx)}, part: ""}

	if v, ok := uriparam.Value(queryParams, paramTxn); ok && v != "" {
		txn, err := strconv.ParseUint(v, 16, 64)
		if err != nil {
			return p, ustoreerr.InvalidArgumentf("malformed txn id %q: %v", v, err)
		}
		p.id.Txn = session.TxnID(txn)
		p.hasTxn = true
	}
	if v, ok := uriparam.Value(queryParams, paramSnap); ok && v != "" {
		snap, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return p, ustoreerr.InvalidArgumentf("malformed snapshot id %q: %v", v, err)
		}
		p.snap = engine.SnapshotID(snap)
		p.hasSnap = true
	}
	if v, ok := uriparam.Value(queryParams, paramCol); ok && v != "" {
		col, err := strconv.ParseUint(v, 16, 64)
		if err != nil {
			return p, ustoreerr.InvalidArgumentf("malformed collection id %q: %v", v, err)
		}
		p.col = engine.CollectionID(col)
		p.hasCol = true
	}
	if v, ok := uriparam.Value(queryParams, paramColName); ok {
		p.colName = v
		p.hasName = true
	}
	if v, ok := uriparam.Value(queryParams, paramDropMode); ok {
		switch v {
		case dropModeValues:
			p.dropMode = engine.DropValues
		case dropModeContents:
			p.dropMode = engine.DropContents
		default:
			p.dropMode = engine.DropCollection
		}
	}
	if v, ok := uriparam.Value(queryParams, paramPart); ok {
		p.part = v
	}
	p.flush = uriparam.Has(queryParams, paramFlush)
	p.dontWatch = uriparam.Has(queryParams, paramDontWatch)
	p.sharedMem = uriparam.Has(queryParams, paramSharedMem)
	return p, nil
}

func (p sessionParams) readOptions() engine.ReadOptions {
	return engine.ReadOptions{SnapshotID: p.snap, HasSnap: p.hasSnap, DontWatch: p.dontWatch, SharedMem: p.sharedMem}
}

func (p sessionParams) writeOptions() engine.WriteOptions {
	return engine.WriteOptions{Flush: p.flush, DontWatch: p.dontWatch}
}
