// Copyright 2025 The srpc Authors
// SPDX-License-Identifier: MIT

// Package transport implements framed message exchange over a byte stream.
//
// Every message on the wire is a frame:
// a 4-byte little-endian unsigned length followed by that many bytes of JSON.
// The package provides a push-driven frame parser ([Codec]),
// a blocking message reader ([Reader]),
// a per-connection writer goroutine ([Sender]),
// and the client-side waiter table ([Transport]).
package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"srpc.256lights.llc/pkg/internal/deque"
)

// HeaderLen is the size in bytes of a frame's length prefix.
const HeaderLen = 4

// MaxPayloadBytes is the largest frame body the wire format can carry.
const MaxPayloadBytes = math.MaxUint32

// ErrTooLarge is returned when a message does not fit in a frame.
var ErrTooLarge = errors.New("frame payload too large")

// A DecodeFunc turns a frame body into a message value.
type DecodeFunc[T any] func(data []byte) (T, error)

// A Parsed is the outcome of decoding one frame body.
type Parsed[T any] struct {
	Msg T
	Err error
}

// A Codec incrementally parses a byte stream into frames
// and decodes each frame body with a [DecodeFunc].
// Decode failures are queued like successes and do not poison the codec.
// Codec is push-driven and not safe for concurrent use.
type Codec[T any] struct {
	decode  DecodeFunc[T]
	max     int64
	buf     []byte
	bodyLen int64 // -1 while waiting for a header
	parsed  deque.Deque[Parsed[T]]
	fail    error
}

// NewCodec returns a new [Codec] that decodes frame bodies with decode.
// If maxPayloadBytes is not positive, [MaxPayloadBytes] is used.
func NewCodec[T any](decode DecodeFunc[T], maxPayloadBytes int64) *Codec[T] {
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = MaxPayloadBytes
	}
	return &Codec[T]{
		decode:  decode,
		max:     maxPayloadBytes,
		bodyLen: -1,
	}
}

// Extend appends data to the codec's buffer
// and advances the parser as far as the buffered bytes allow.
// Completed frames are queued for [Codec.Drain].
func (c *Codec[T]) Extend(data []byte) {
	if c.fail != nil {
		return
	}
	c.buf = append(c.buf, data...)
	for {
		if c.bodyLen < 0 {
			if len(c.buf) < HeaderLen {
				break
			}
			c.bodyLen = int64(binary.LittleEndian.Uint32(c.buf))
			c.buf = c.buf[HeaderLen:]
			if c.bodyLen > c.max {
				c.fail = fmt.Errorf("inbound frame of %d bytes exceeds limit of %d bytes", c.bodyLen, c.max)
				return
			}
		}
		if int64(len(c.buf)) < c.bodyLen {
			break
		}
		body := bytes.Clone(c.buf[:c.bodyLen])
		c.buf = c.buf[c.bodyLen:]
		c.bodyLen = -1
		msg, err := c.decode(body)
		c.parsed.PushBack(Parsed[T]{Msg: msg, Err: err})
	}
	if len(c.buf) == 0 {
		c.buf = nil
	}
}

// Drain pops the oldest parsed frame.
// ok is false if no parsed frame is ready.
func (c *Codec[T]) Drain() (_ Parsed[T], ok bool) {
	return c.parsed.PopFront()
}

// Err returns the error that permanently stopped the codec, if any.
// The only such error is an inbound frame exceeding the payload limit.
func (c *Codec[T]) Err() error {
	return c.fail
}

// AppendFrame appends the frame encoding of body to dst.
// If maxPayloadBytes is not positive, [MaxPayloadBytes] is used.
// AppendFrame returns [ErrTooLarge] if body exceeds the limit.
func AppendFrame(dst []byte, body []byte, maxPayloadBytes int64) ([]byte, error) {
	if maxPayloadBytes <= 0 || maxPayloadBytes > MaxPayloadBytes {
		maxPayloadBytes = MaxPayloadBytes
	}
	if int64(len(body)) > maxPayloadBytes {
		return dst, fmt.Errorf("frame %d byte message: %w", len(body), ErrTooLarge)
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(body)))
	return append(dst, body...), nil
}
