// Copyright 2025 The srpc Authors
// SPDX-License-Identifier: MIT

package srpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"

	jsonv2 "github.com/go-json-experiment/json"
	"srpc.256lights.llc/pkg/jsonrpc"
	"srpc.256lights.llc/pkg/transport"
	"zombiezen.com/go/log"
	"zombiezen.com/go/xcontext"
)

// A Client issues JSON-RPC calls to a single server address
// over one persistent connection.
// The connection is opened lazily on the first call
// and reopened on the next call after it is lost.
// Methods on Client are safe to call from multiple goroutines concurrently.
type Client struct {
	addr      string
	transport *transport.Transport
	opts      *Options

	// bg outlives individual calls and governs the connection's
	// reader and writer goroutines.
	bg     context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	sender *transport.Sender
}

// NewClient returns a new [Client] that connects to the given TCP address
// and correlates responses through the given transport.
// If opts is nil, it is treated the same as the zero value.
// The caller is responsible for calling [Client.Close]
// when the Client is no longer in use.
func NewClient(addr string, t *transport.Transport, opts *Options) *Client {
	c := &Client{
		addr:      addr,
		transport: t,
		opts:      opts,
	}
	c.bg, c.cancel = context.WithCancel(context.Background())
	return c
}

// Close closes the client's connection, if one is open.
// Outstanding calls complete with a connection-closed error.
func (c *Client) Close() error {
	c.cancel()
	c.mu.Lock()
	sender := c.sender
	c.sender = nil
	c.mu.Unlock()
	if sender != nil {
		sender.Close()
	}
	return nil
}

// ensureConnection dials the server if no connection is open
// and returns the sender for the connection's writer.
// It is idempotent: a healthy connection is reused.
func (c *Client) ensureConnection(ctx context.Context) (*transport.Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sender != nil {
		return c.sender, nil
	}
	if c.bg.Err() != nil {
		return nil, errors.New("client closed")
	}

	log.Debugf(ctx, "Opening new JSON-RPC connection to %s...", c.addr)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, err
	}
	closer := xcontext.CloseWhenDone(c.bg, conn)
	readerDone := c.transport.SpawnReader(c.bg, conn, c.opts.readerOptions())
	sender := c.transport.SpawnWriter(c.bg, conn, c.opts.writerOptions())
	c.sender = sender

	go func() {
		// Once the reader terminates the connection is unusable:
		// drop the stored sender so the next call reconnects.
		<-readerDone
		sender.Close()
		closer.Close()
		c.mu.Lock()
		if c.sender == sender {
			c.sender = nil
		}
		c.mu.Unlock()
	}()
	return sender, nil
}

// Call sends a request to the server and awaits its response.
// Call assigns the request a fresh random id,
// overwriting any id the caller may have set.
// The returned error is either a transport-class failure
// or an error response from the server
// (distinguishable with [jsonrpc.CodeFromError]).
func (c *Client) Call(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	sender, err := c.ensureConnection(ctx)
	if err != nil {
		return nil, fmt.Errorf("call json rpc %s: %w", req.Method, err)
	}

	ch := make(chan transport.Result, 1)
	var id jsonrpc.ID
	for {
		id = jsonrpc.NumberID(rand.Uint32())
		err := c.transport.AddWaiter(id, ch)
		if err == nil {
			break
		}
		if !errors.Is(err, transport.ErrDuplicateID) {
			return nil, fmt.Errorf("call json rpc %s: %w", req.Method, err)
		}
		// Collision with an in-flight call: retry with a fresh id.
	}

	req2 := *req
	req2.ID = id
	body, err := jsonrpc.AppendRequest(nil, &req2)
	if err != nil {
		c.transport.RemoveWaiter(id)
		return nil, fmt.Errorf("call json rpc %s: %w", req.Method, err)
	}
	log.Debugf(ctx, "Writing %s JSON-RPC call with id=%v", req.Method, id)
	if err := sender.Send(ctx, body); err != nil {
		c.transport.RemoveWaiter(id)
		return nil, fmt.Errorf("call json rpc %s: %w", req.Method, err)
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("call json rpc %s: %w", req.Method, res.Err)
		}
		return res.Response, nil
	case <-ctx.Done():
		c.transport.RemoveWaiter(id)
		return nil, fmt.Errorf("call json rpc %s: %w", req.Method, ctx.Err())
	}
}

// Notify sends a request that expects no response.
// Notify never assigns an id and returns as soon as
// the message has been queued to the connection's writer.
func (c *Client) Notify(ctx context.Context, req *jsonrpc.Request) error {
	sender, err := c.ensureConnection(ctx)
	if err != nil {
		return fmt.Errorf("notify json rpc %s: %w", req.Method, err)
	}
	req2 := *req
	req2.ID = jsonrpc.ID{}
	body, err := jsonrpc.AppendRequest(nil, &req2)
	if err != nil {
		return fmt.Errorf("notify json rpc %s: %w", req.Method, err)
	}
	log.Debugf(ctx, "Writing %s JSON-RPC notification", req.Method)
	if err := sender.Send(ctx, body); err != nil {
		return fmt.Errorf("notify json rpc %s: %w", req.Method, err)
	}
	return nil
}

// Call invokes method on the server through c,
// encoding params as the request's parameter object
// and decoding the response's result into Result.
// It is the typed form of [Client.Call],
// shaped like the stubs a method catalog generates.
func Call[Params, Result any](ctx context.Context, c *Client, method string, params Params) (Result, error) {
	var result Result
	rawParams, err := jsonv2.Marshal(params)
	if err != nil {
		return result, fmt.Errorf("call json rpc %s: marshal params: %v", method, err)
	}
	resp, err := c.Call(ctx, &jsonrpc.Request{
		Method: method,
		Params: json.RawMessage(rawParams),
	})
	if err != nil {
		return result, err
	}
	if err := jsonv2.Unmarshal(resp.Result, &result); err != nil {
		return result, fmt.Errorf("call json rpc %s: unmarshal result: %v", method, err)
	}
	return result, nil
}

// Notify invokes method on the server through c as a notification,
// encoding params as the request's parameter object.
func Notify[Params any](ctx context.Context, c *Client, method string, params Params) error {
	rawParams, err := jsonv2.Marshal(params)
	if err != nil {
		return fmt.Errorf("notify json rpc %s: marshal params: %v", method, err)
	}
	return c.Notify(ctx, &jsonrpc.Request{
		Method: method,
		Params: json.RawMessage(rawParams),
	})
}
