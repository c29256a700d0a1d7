// Copyright 2025 The srpc Authors
// SPDX-License-Identifier: MIT

package transport

import (
	"io"
)

// ReaderOptions is the set of optional parameters to [NewReader].
type ReaderOptions struct {
	// ReadBufferBytes is the size of the read chunk.
	// If it is not positive, 1024 is used.
	ReadBufferBytes int
	// MaxPayloadBytes is the largest inbound frame body accepted.
	// If it is not positive, [MaxPayloadBytes] is used.
	MaxPayloadBytes int64
}

func (opts *ReaderOptions) readBufferBytes() int {
	if opts == nil || opts.ReadBufferBytes <= 0 {
		return 1024
	}
	return opts.ReadBufferBytes
}

func (opts *ReaderOptions) maxPayloadBytes() int64 {
	if opts == nil {
		return 0
	}
	return opts.MaxPayloadBytes
}

// A Reader pulls framed messages from an underlying [io.Reader].
// The sequence it yields is not restartable:
// once Next returns an I/O error (including [io.EOF]),
// all subsequent calls return the same error.
// Decode errors are yielded in sequence and do not end it.
// The Reader never closes the underlying source.
type Reader[T any] struct {
	r     io.Reader
	codec *Codec[T]
	buf   []byte
	err   error
}

// NewReader returns a new [Reader] that reads frames from r
// and decodes their bodies with decode.
// If opts is nil, it is treated the same as the zero value.
func NewReader[T any](r io.Reader, decode DecodeFunc[T], opts *ReaderOptions) *Reader[T] {
	return &Reader[T]{
		r:     r,
		codec: NewCodec(decode, opts.maxPayloadBytes()),
		buf:   make([]byte, opts.readBufferBytes()),
	}
}

// Next returns the next message.
// Next blocks until a full frame has been received,
// the stream ends (in which case the error is [io.EOF]),
// or reading fails.
// A non-nil error with a non-terminated sequence
// (a frame body that failed to decode)
// is yielded exactly once and does not affect later messages.
func (rd *Reader[T]) Next() (T, error) {
	for {
		if p, ok := rd.codec.Drain(); ok {
			return p.Msg, p.Err
		}
		var zero T
		if rd.err != nil {
			return zero, rd.err
		}
		if err := rd.codec.Err(); err != nil {
			rd.err = err
			return zero, err
		}
		n, err := rd.r.Read(rd.buf)
		if n > 0 {
			rd.codec.Extend(rd.buf[:n])
		}
		if err != nil {
			// Drain any frames completed by the final read
			// before surfacing the error.
			rd.err = err
		}
	}
}
