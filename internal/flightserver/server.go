// Package flightserver implements the Arrow Flight RPC surface: the
// request dispatcher that parses each call's URI-style command, acquires
// the appropriate session lock, translates columnar batches into engine
// arguments, invokes the engine, and packages its results back onto the
// wire.
package flightserver

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/menuet/ustore/internal/engine"
	"github.com/menuet/ustore/internal/observability"
	"github.com/menuet/ustore/internal/session"
	"github.com/menuet/ustore/internal/uriparam"
	"github.com/menuet/ustore/internal/ustoreerr"
)

// Server implements flight.FlightServer over one engine.Engine instance,
// mediated by a session.Pool. Unimplemented Flight surface (Handshake,
// ListFlights, PollFlightInfo, GetSchema, ListActions) falls through to
// flight.BaseFlightServer; the list_actions verb is served by DoAction.
type Server struct {
	flight.BaseFlightServer

	eng    engine.Engine
	handle engine.Handle
	pool   *session.Pool
	hook   *observability.Hook

	serverID string
	flightSrv flight.Server
}

// New constructs a dispatcher over an already-open engine handle.
func New(eng engine.Engine, handle engine.Handle, pool *session.Pool, hook *observability.Hook) *Server {
	return &Server{eng: eng, handle: handle, pool: pool, hook: hook, serverID: newServerID()}
}

func newServerID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uuid.New().String()
	}
	return fmt.Sprintf("%x", binary.BigEndian.Uint64(b[:]))
}

// Serve binds to listener and blocks until Shutdown is called or an
// unrecoverable transport error occurs, mirroring the teacher's own
// listen/serve/shutdown bootstrap sequence.
func (s *Server) Serve(listener net.Listener, opts ...grpc.ServerOption) error {
	s.flightSrv = flight.NewServerWithMiddleware(nil, opts...)
	s.flightSrv.RegisterFlightService(s)
	s.flightSrv.InitListener(listener)
	slog.Info("ustore flight server listening", "addr", listener.Addr().String(), "server_id", s.serverID)
	return s.flightSrv.Serve()
}

// Shutdown stops accepting new calls and waits for in-flight ones to drain.
func (s *Server) Shutdown() {
	if s.flightSrv != nil {
		s.flightSrv.Shutdown()
	}
}

// arenaAllocator returns the memory.Allocator backing one scoped lock's
// arena. The reference engine keeps no per-handle allocator state, so each
// call gets a fresh Go-backed arena; what matters for SPEC conformance is
// that output buffers are valid for the lifetime of the call, which
// memory.GoAllocator already guarantees via arrow-go's refcounting.
func arenaAllocator(_ session.ArenaHandle) memory.Allocator {
	return memory.NewGoAllocator()
}

// toStatus converts any error returned by a handler into a gRPC status,
// the single point of error-to-wire translation for every Flight method,
// mirroring the teacher's serveOne.
func toStatus(verb string, sessionID session.ID, err error) error {
	if err == nil {
		return nil
	}
	uerr := ustoreerr.AsUstoreError(err)
	slog.Error("dispatch failed", "verb", verb, "session_id", fmt.Sprintf("%v", sessionID), "code", uerr.Code)
	return status.Error(uerr.Code.GRPCCode(), uerr.Message)
}

// withHook wraps a handler body with the observability dispatch hook and a
// panic recovery that always releases the session lock, mirroring the
// teacher's recovered dispatch-hook panic handling.
func (s *Server) withHook(ctx context.Context, verb string, sessionID session.ID, fn func(ctx context.Context, stats *observability.CallStatistics) error) error {
	callInfo := observability.CallInfo{Verb: verb, SessionID: fmt.Sprintf("%v", sessionID), ServerID: s.serverID}
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		callInfo.TransportMetadata = make(map[string]string, len(md))
		for k, vs := range md {
			if len(vs) > 0 {
				callInfo.TransportMetadata[k] = vs[0]
			}
		}
	}
	ctx, span := s.hook.Start(ctx, callInfo)
	stats := &observability.CallStatistics{}
	var err error
	func() {
		defer func() {
			if rv := recover(); rv != nil {
				slog.Error("dispatch panic", "verb", verb, "err", rv)
				err = ustoreerr.Internalf("panic in %s handler: %v", verb, rv)
			}
		}()
		err = fn(ctx, stats)
	}()
	s.hook.End(ctx, span, callInfo, stats, err)
	return err
}

// commandVerb splits an Arrow Flight command/action-type string into its
// bare verb, dropping any "?params" suffix.
func commandVerb(raw string) string {
	return uriparam.Parse(raw).Verb
}
