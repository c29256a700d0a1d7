// Copyright 2025 The srpc Authors
// SPDX-License-Identifier: MIT

package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"zombiezen.com/go/log"
)

// ErrClosed is returned by [Sender.Send] after the sender has been closed.
var ErrClosed = errors.New("sender closed")

// WriterOptions is the set of optional parameters to [SpawnWriter].
type WriterOptions struct {
	// ChannelCapacity is the number of outbound messages
	// that may be queued before Send blocks.
	// If it is not positive, 32 is used.
	ChannelCapacity int
	// MaxPayloadBytes is the largest outbound frame body permitted.
	// If it is not positive, [MaxPayloadBytes] is used.
	MaxPayloadBytes int64
}

func (opts *WriterOptions) channelCapacity() int {
	if opts == nil || opts.ChannelCapacity <= 0 {
		return 32
	}
	return opts.ChannelCapacity
}

func (opts *WriterOptions) maxPayloadBytes() int64 {
	if opts == nil || opts.MaxPayloadBytes <= 0 || opts.MaxPayloadBytes > MaxPayloadBytes {
		return MaxPayloadBytes
	}
	return opts.MaxPayloadBytes
}

// A Sender enqueues message bodies to a connection's writer goroutine.
// The goroutine owns the connection's write half:
// it prefixes each body with its frame header
// and writes frames in enqueue order.
// Write errors are logged and the goroutine moves on to the next message;
// only [Sender.Close] stops it.
type Sender struct {
	ch   chan []byte
	quit chan struct{}
	once sync.Once
	max  int64
}

// SpawnWriter starts a writer goroutine that writes frames to w
// and returns the [Sender] feeding it.
// The context is used for logging only.
// The caller is responsible for calling [Sender.Close]
// when the connection is no longer in use.
func SpawnWriter(ctx context.Context, w io.Writer, opts *WriterOptions) *Sender {
	s := &Sender{
		ch:   make(chan []byte, opts.channelCapacity()),
		quit: make(chan struct{}),
		max:  opts.maxPayloadBytes(),
	}
	go s.writeLoop(ctx, w)
	return s
}

// Send enqueues body to be written as a single frame.
// Send blocks while the queue is full.
// Send returns [ErrTooLarge] if body exceeds the payload limit
// and [ErrClosed] after the sender has been closed.
func (s *Sender) Send(ctx context.Context, body []byte) error {
	if int64(len(body)) > s.max {
		return fmt.Errorf("send framed message: %d bytes: %w", len(body), ErrTooLarge)
	}
	select {
	case <-s.quit:
		return fmt.Errorf("send framed message: %w", ErrClosed)
	default:
	}
	select {
	case s.ch <- body:
		return nil
	case <-s.quit:
		return fmt.Errorf("send framed message: %w", ErrClosed)
	case <-ctx.Done():
		return fmt.Errorf("send framed message: %w", ctx.Err())
	}
}

// Close stops the writer goroutine.
// Messages still queued may be discarded without being written.
// Close is safe to call multiple times and from multiple goroutines.
func (s *Sender) Close() {
	s.once.Do(func() { close(s.quit) })
}

func (s *Sender) writeLoop(ctx context.Context, w io.Writer) {
	var header [HeaderLen]byte
	for {
		select {
		case body := <-s.ch:
			// The header and body form one frame:
			// nothing else may write between them.
			binary.LittleEndian.PutUint32(header[:], uint32(len(body)))
			if err := writeAll(w, header[:]); err != nil {
				log.Warnf(ctx, "Writing frame header: %v", err)
				continue
			}
			if err := writeAll(w, body); err != nil {
				log.Warnf(ctx, "Writing frame body: %v", err)
			}
		case <-s.quit:
			return
		}
	}
}

// writeAll writes p to w, resuming on partial writes.
// A zero-byte write is reported as [io.ErrShortWrite].
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
