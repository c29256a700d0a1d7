// Copyright 2025 The srpc Authors
// SPDX-License-Identifier: MIT

package srpc

import (
	"srpc.256lights.llc/pkg/transport"
)

// Options is the set of optional parameters to [NewClient] and [NewServer].
// The zero value (or a nil pointer) uses the defaults.
type Options struct {
	// MaxPayloadBytes caps the size of a single frame body.
	// Outgoing messages over the limit are rejected locally;
	// an inbound frame over the limit terminates the connection.
	// If it is not positive, the wire format's maximum
	// ([transport.MaxPayloadBytes]) is used.
	MaxPayloadBytes int64
	// WriterChannelCapacity is the number of outbound messages
	// that may be queued per connection before senders block.
	// If it is not positive, 32 is used.
	WriterChannelCapacity int
	// ReadBufferBytes is the size of the inbound read chunk.
	// If it is not positive, 1024 is used.
	ReadBufferBytes int
}

func (opts *Options) readerOptions() *transport.ReaderOptions {
	if opts == nil {
		return nil
	}
	return &transport.ReaderOptions{
		ReadBufferBytes: opts.ReadBufferBytes,
		MaxPayloadBytes: opts.MaxPayloadBytes,
	}
}

func (opts *Options) writerOptions() *transport.WriterOptions {
	if opts == nil {
		return nil
	}
	return &transport.WriterOptions{
		ChannelCapacity: opts.WriterChannelCapacity,
		MaxPayloadBytes: opts.MaxPayloadBytes,
	}
}
