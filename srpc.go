// Copyright 2025 The srpc Authors
// SPDX-License-Identifier: MIT

// Package srpc provides a JSON-RPC 2.0 client and server
// over a persistent, length-prefix-framed TCP transport.
//
// The client pipelines many outstanding calls over a single connection
// and correlates responses to callers by request id.
// The server fans incoming requests out to concurrently executing handlers
// and serializes their responses back onto the connection.
package srpc

import (
	"context"
	"encoding/json"
	"fmt"

	jsonv2 "github.com/go-json-experiment/json"
	"srpc.256lights.llc/pkg/internal/jsonstring"
	"srpc.256lights.llc/pkg/jsonrpc"
)

// A type that implements Handler responds to JSON-RPC requests.
// ServeRPC returns the result to place in the response,
// which may be any JSON (nil encodes as null),
// or an error to report to the peer.
// Errors wrapped with [jsonrpc.Error] select the wire error code;
// any other error is reported as [jsonrpc.InternalError].
// Implementations of ServeRPC must be safe to call
// from multiple goroutines concurrently.
type Handler interface {
	ServeRPC(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error)
}

// HandlerFunc is a function that implements [Handler].
type HandlerFunc func(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error)

// ServeRPC calls f.
func (f HandlerFunc) ServeRPC(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	return f(ctx, req)
}

// ServeMux is a mapping of method names to JSON-RPC handlers.
// The mapping must not be modified after the server has started.
type ServeMux map[string]Handler

// ServeRPC calls the handler that corresponds to the request's method
// or returns a [jsonrpc.MethodNotFound] error if no such handler is present.
func (mux ServeMux) ServeRPC(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
	h := mux[req.Method]
	if h == nil {
		return nil, jsonrpc.Error(jsonrpc.MethodNotFound, fmt.Errorf("method %s not found", req.Method))
	}
	return h.ServeRPC(ctx, req)
}

// Method returns a [Handler] that decodes the request's params into Params,
// calls f, and encodes its result.
// Params are decoded strictly:
// an unknown or mistyped member produces a [jsonrpc.InvalidParams] error
// whose data carries the decoder's message.
func Method[Params, Result any](f func(context.Context, Params) (Result, error)) Handler {
	return HandlerFunc(func(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
		p, err := decodeParams[Params](req.Params)
		if err != nil {
			return nil, err
		}
		result, err := f(ctx, p)
		if err != nil {
			return nil, err
		}
		out, err := jsonv2.Marshal(result)
		if err != nil {
			return nil, jsonrpc.Error(jsonrpc.InternalError, fmt.Errorf("marshal %s result: %v", req.Method, err))
		}
		return json.RawMessage(out), nil
	})
}

// UnitMethod returns a [Handler] for a method with no result:
// a successful call produces a null result on the wire.
func UnitMethod[Params any](f func(context.Context, Params) error) Handler {
	return HandlerFunc(func(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
		p, err := decodeParams[Params](req.Params)
		if err != nil {
			return nil, err
		}
		if err := f(ctx, p); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

func decodeParams[Params any](raw json.RawMessage) (Params, error) {
	var p Params
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := jsonv2.Unmarshal(raw, &p, jsonv2.RejectUnknownMembers(true)); err != nil {
		return p, jsonrpc.ErrorWithData(jsonrpc.InvalidParams, err, jsonstring.Append(nil, err.Error()))
	}
	return p, nil
}
