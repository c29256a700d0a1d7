// Copyright 2025 The srpc Authors
// SPDX-License-Identifier: MIT

package srpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"srpc.256lights.llc/pkg/jsonrpc"
	"srpc.256lights.llc/pkg/transport"
	"zombiezen.com/go/log"
	"zombiezen.com/go/xcontext"
)

// A Server accepts connections and serves JSON-RPC requests
// by invoking a single [Handler].
// Each connection runs one reader and one writer goroutine;
// each framed message is handled on its own goroutine,
// so responses may go out in any order relative to their requests.
type Server struct {
	handler Handler
	opts    *Options
}

// NewServer returns a new [Server] that dispatches requests to handler.
// If opts is nil, it is treated the same as the zero value.
func NewServer(handler Handler, opts *Options) *Server {
	return &Server{
		handler: handler,
		opts:    opts,
	}
}

// ListenAndServe listens on the given TCP address and calls [Server.Serve].
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Infof(ctx, "Listening on %v", l.Addr())
	return s.Serve(ctx, l)
}

// Serve accepts connections from l until the context is canceled
// or the listener fails,
// serving each connection on its own goroutine.
// Serve closes the listener and waits for open connections to finish
// before returning.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	closer := xcontext.CloseWhenDone(ctx, l)
	defer closer.Close()
	g := new(errgroup.Group)
	defer g.Wait()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		g.Go(func() error {
			if err := s.ServeConn(ctx, conn); err != nil {
				log.Errorf(ctx, "Serving connection from %v: %v", conn.RemoteAddr(), err)
			}
			return nil
		})
	}
}

// ServeConn serves JSON-RPC requests from a single connection
// until EOF or a read error,
// then waits for in-flight handlers before returning.
// The context passed to handlers carries the peer's address
// (see [CallerAddr]) and a connection identifier (see [ConnectionID]).
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	connID := uuid.New()
	ctx = WithCallerAddr(ctx, conn.RemoteAddr())
	ctx = WithConnectionID(ctx, connID)
	log.Debugf(ctx, "Connection %v accepted from %v", connID, conn.RemoteAddr())

	rd := transport.NewReader(conn, jsonrpc.ParseRequestSet, s.opts.readerOptions())
	sender := transport.SpawnWriter(ctx, conn, s.opts.writerOptions())
	defer sender.Close()
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		set, err := rd.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Debugf(ctx, "Connection %v hit EOF", connID)
				return nil
			}
			if code, ok := jsonrpc.CodeFromError(err); ok && code == jsonrpc.ParseError {
				// Malformed JSON in a single frame; the stream itself is intact.
				s.send(ctx, sender, jsonrpc.AppendErrorResponse(nil, jsonrpc.ID{}, err))
				continue
			}
			return fmt.Errorf("read requests: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleMessage(ctx, set, sender)
		}()
	}
}

// handleMessage produces and sends the response for one framed payload.
func (s *Server) handleMessage(ctx context.Context, set *jsonrpc.RequestSet, sender *transport.Sender) {
	if !set.Batch {
		if resp := s.handleItem(ctx, set.Items[0]); resp != nil {
			s.send(ctx, sender, resp)
		}
		return
	}

	if len(set.Items) == 0 {
		err := jsonrpc.Error(jsonrpc.InvalidRequest, errors.New("empty batch"))
		s.send(ctx, sender, jsonrpc.AppendErrorResponse(nil, jsonrpc.ID{}, err))
		return
	}

	responses := make([][]byte, len(set.Items))
	g := new(errgroup.Group)
	for i, item := range set.Items {
		g.Go(func() error {
			responses[i] = s.handleItem(ctx, item)
			return nil
		})
	}
	g.Wait()

	// The response array preserves the input order;
	// notifications contribute no elements.
	// A batch of only notifications yields [].
	buf := []byte{'['}
	first := true
	for _, resp := range responses {
		if resp == nil {
			continue
		}
		if !first {
			buf = append(buf, ',')
		}
		first = false
		buf = append(buf, resp...)
	}
	buf = append(buf, ']')
	s.send(ctx, sender, buf)
}

// handleItem invokes the handler for one request
// and returns its encoded response,
// or nil if the request is a notification.
func (s *Server) handleItem(ctx context.Context, item jsonrpc.RequestItem) []byte {
	if item.Err != nil {
		return jsonrpc.AppendErrorResponse(nil, item.ID, item.Err)
	}
	req := item.Req
	result, err := s.callHandler(ctx, req)
	if req.Notification() {
		if err != nil {
			log.Debugf(ctx, "Notification %s failed: %v", req.Method, err)
		}
		return nil
	}
	if err != nil {
		return jsonrpc.AppendErrorResponse(nil, item.ID, err)
	}
	return jsonrpc.AppendResponse(nil, item.ID, result)
}

// callHandler isolates handler failures:
// a panic is reported to the peer as an internal error
// and the connection survives.
func (s *Server) callHandler(ctx context.Context, req *jsonrpc.Request) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf(ctx, "Handler for %s panicked: %v", req.Method, r)
			result = nil
			err = jsonrpc.Error(jsonrpc.InternalError, fmt.Errorf("handler panic: %v", r))
		}
	}()
	return s.handler.ServeRPC(ctx, req)
}

func (s *Server) send(ctx context.Context, sender *transport.Sender, body []byte) {
	if err := sender.Send(ctx, body); err != nil {
		log.Warnf(ctx, "Sending response: %v", err)
	}
}
