// Package rpcserver is the local request server: a Unix-domain socket
// accepting one JSON-RPC 2.0 request per line, with a long-lived subscribe
// method that streams matched bus events until the client disconnects.
package rpcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/axbridge/axd/internal/axerr"
	"github.com/axbridge/axd/internal/bridge"
	"github.com/axbridge/axd/internal/eventbus"
	"github.com/axbridge/axd/internal/model"
)

// DefaultMaxBodySize caps a single request frame.
const DefaultMaxBodySize = 4 << 20

// AllowedMethods is the method allowlist validated before dispatch. Anything
// not in this set is rejected with CodeMethodNotFound before params are ever
// decoded.
var AllowedMethods = map[string]bool{
	"ping": true, "status": true, "health": true, "list": true,
	"snapshot": true, "act": true, "pipe": true, "screenshot": true,
	"web.extract": true, "web.eval": true,
	"process.watch": true, "process.unwatch": true, "process.list": true,
	"process.group.get": true, "process.group.clear": true, "process.group.list": true,
	"events": true, "events.subscribe.webhook": true, "events.unsubscribe": true,
	"events.subscriptions": true, "subscribe": true,
}

// Handler services one method's params, returning a JSON-encodable result or
// a tagged error.
type Handler func(ctx context.Context, params json.RawMessage) (any, *axerr.Error)

// Dispatcher maps method names to handlers, plus the bus subscribe needs to
// stream from.
type Dispatcher struct {
	handlers map[string]Handler
	bus      *eventbus.Bus
}

func NewDispatcher(bus *eventbus.Bus) *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler), bus: bus}
}

// Register binds a method to its handler. Registering a method not present
// in AllowedMethods is a programming error the daemon should catch at wiring
// time, not mask at runtime.
func (d *Dispatcher) Register(method string, h Handler) {
	d.handlers[method] = h
}

func (d *Dispatcher) lookup(method string) (Handler, bool) {
	h, ok := d.handlers[method]
	return h, ok
}

// Dispatch validates method against the allowlist and runs its handler
// under the deadline bridge.MethodTimeout assigns that method. Exported so
// the remote HTTP server's /rpc endpoint can share the exact same dispatch
// path as the local socket.
func (d *Dispatcher) Dispatch(ctx context.Context, method string, params json.RawMessage) (any, *axerr.Error) {
	if !AllowedMethods[method] {
		return nil, axerr.New(axerr.MethodNotAllowed, "method not allowed: "+method)
	}
	h, ok := d.lookup(method)
	if !ok {
		return nil, axerr.New(axerr.MethodNotAllowed, "no handler registered for "+method)
	}

	if timeout := bridge.MethodTimeout(method); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return h(ctx, params)
}

// Bus exposes the dispatcher's event bus for a caller (e.g. the remote
// server's federated ingest path) that needs to publish without going
// through a registered method.
func (d *Dispatcher) Bus() *eventbus.Bus { return d.bus }

// subscribeParams is the decoded shape of a subscribe/events request.
type subscribeParams struct {
	App   string   `json:"app,omitempty"`
	Types []string `json:"types,omitempty"`
	Limit int      `json:"limit,omitempty"`
}

// Server owns the Unix-domain socket listener and its accept loop.
type Server struct {
	sockPath   string
	dispatcher *Dispatcher
	log        zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

func NewServer(sockPath string, dispatcher *Dispatcher, log zerolog.Logger) *Server {
	return &Server{sockPath: sockPath, dispatcher: dispatcher, log: log}
}

// ListenAndServe removes any stale socket file, binds the listener, and runs
// the accept loop until ctx is cancelled or Close is called.
func (s *Server) ListenAndServe(ctx context.Context) error {
	_ = os.Remove(s.sockPath)
	ln, err := net.Listen("unix", s.sockPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			s.log.Warn().Err(err).Msg("rpcserver: accept failed")
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

// Close stops accepting new connections. In-flight connections are left to
// the caller's shutdown path to drain.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	_ = os.Remove(s.sockPath)
	s.listener = nil
	return err
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reader := bufio.NewReader(conn)
	for {
		line, _, err := bridge.ReadStdioMessageWithMode(reader, DefaultMaxBodySize)
		if err != nil {
			return
		}

		var req model.RPCRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeError(conn, nil, axerr.New(axerr.InvalidRequest, "malformed JSON-RPC request"))
			continue
		}

		if req.Method == "subscribe" {
			if !AllowedMethods["subscribe"] {
				s.writeError(conn, req.ID, axerr.New(axerr.MethodNotAllowed, "method not allowed: subscribe"))
				continue
			}
			s.streamSubscription(connCtx, conn, req)
			return
		}

		result, aerr := s.dispatcher.Dispatch(connCtx, req.Method, req.Params)
		if aerr != nil {
			s.writeError(conn, req.ID, aerr)
			continue
		}
		s.writeResult(conn, req.ID, result)
	}
}

// streamSubscription installs a bus subscription and streams matched events
// as JSON-RPC notifications, one per line, until the connection closes, the
// daemon shuts down, or the subscriber is dropped for backpressure.
func (s *Server) streamSubscription(ctx context.Context, conn net.Conn, req model.RPCRequest) {
	var params subscribeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.writeError(conn, req.ID, axerr.New(axerr.InvalidRequest, "invalid subscribe params"))
			return
		}
	}

	filter := eventbus.Filter{AppFilter: params.App, Types: params.Types}
	id, events, dropped := s.dispatcher.bus.Subscribe(filter)
	defer s.dispatcher.bus.Unsubscribe(id)

	s.writeResult(conn, req.ID, map[string]any{"subscription_id": id})

	// Detect client disconnect: any further bytes (or EOF) on this
	// connection ends the subscription, since the protocol does not expect
	// further requests on a streaming connection.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		buf := make([]byte, 1)
		_, _ = conn.Read(buf)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-dropped:
			s.writeNotification(conn, "subscription.dropped", map[string]any{"subscription_id": id})
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			s.writeNotification(conn, "event", e)
		}
	}
}

func (s *Server) writeResult(conn net.Conn, id *model.RPCID, result any) {
	s.writeLine(conn, model.RPCResponse{JSONRPC: "2.0", Result: result, ID: id})
}

func (s *Server) writeError(conn net.Conn, id *model.RPCID, aerr *axerr.Error) {
	s.writeLine(conn, model.RPCResponse{JSONRPC: "2.0", Error: aerr.JSONRPC(), ID: id})
}

func (s *Server) writeNotification(conn net.Conn, method string, params any) {
	s.writeLine(conn, model.NewNotification(method, params))
}

func (s *Server) writeLine(conn net.Conn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Error().Err(err).Msg("rpcserver: failed to marshal response")
		return
	}
	b = append(b, '\n')
	if _, err := conn.Write(b); err != nil {
		s.log.Debug().Err(err).Msg("rpcserver: write failed, client likely gone")
	}
}
