// Copyright 2025 The srpc Authors
// SPDX-License-Identifier: MIT

package srpc

import (
	"context"
	"net"

	"github.com/google/uuid"
)

type callerAddrKey struct{}

type connectionIDKey struct{}

// WithCallerAddr returns a copy of parent
// that carries the network address of the calling peer.
// The server arranges this for every handler invocation;
// it is exported for use in tests of handlers.
func WithCallerAddr(parent context.Context, addr net.Addr) context.Context {
	return context.WithValue(parent, callerAddrKey{}, addr)
}

// CallerAddr returns the network address of the peer
// that sent the request being handled.
// ok is false if ctx does not originate from a server connection.
func CallerAddr(ctx context.Context) (_ net.Addr, ok bool) {
	addr, ok := ctx.Value(callerAddrKey{}).(net.Addr)
	return addr, ok
}

// WithConnectionID returns a copy of parent
// that carries the server's identifier for the connection.
func WithConnectionID(parent context.Context, id uuid.UUID) context.Context {
	return context.WithValue(parent, connectionIDKey{}, id)
}

// ConnectionID returns the identifier the server assigned
// to the connection the request arrived on.
// All invocations on a connection share the same identifier.
func ConnectionID(ctx context.Context) (_ uuid.UUID, ok bool) {
	id, ok := ctx.Value(connectionIDKey{}).(uuid.UUID)
	return id, ok
}
