// Copyright 2025 The srpc Authors
// SPDX-License-Identifier: MIT

package transport

import (
	"context"
	"errors"
	"io"
	"sync"

	"srpc.256lights.llc/pkg/jsonrpc"
	"zombiezen.com/go/log"
)

// ErrConnectionClosed is delivered to outstanding waiters
// when the connection's reader terminates before their responses arrive.
var ErrConnectionClosed = errors.New("jsonrpc connection closed")

// ErrDuplicateID is returned by [Transport.AddWaiter]
// when a waiter is already registered under the same id.
var ErrDuplicateID = errors.New("duplicate request id")

// A Result is the outcome of a single call delivered to a waiter.
// Exactly one of Response or Err is set.
type Result struct {
	Response *jsonrpc.Response
	Err      error
}

// A Transport owns the waiter table for a client connection:
// a mapping from request id to the channel
// on which the caller awaits the matching response.
// Methods on Transport are safe to call from multiple goroutines concurrently.
type Transport struct {
	mu      sync.Mutex
	waiters map[jsonrpc.ID]chan<- Result
}

// NewTransport returns a new [Transport] with an empty waiter table.
func NewTransport() *Transport {
	return &Transport{
		waiters: make(map[jsonrpc.ID]chan<- Result),
	}
}

// AddWaiter registers ch to receive the response for the given id.
// ch must have a buffer of at least 1.
// AddWaiter must be called before the request is written
// so the response cannot race the registration.
// AddWaiter returns [ErrDuplicateID] if a waiter is already registered for id.
func (t *Transport) AddWaiter(id jsonrpc.ID, ch chan<- Result) error {
	if id.IsZero() {
		return errors.New("add waiter: id missing")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.waiters[id]; exists {
		return ErrDuplicateID
	}
	t.waiters[id] = ch
	return nil
}

// RemoveWaiter removes the waiter registered for id, if any.
// It reports whether a waiter was removed.
func (t *Transport) RemoveWaiter(id jsonrpc.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, exists := t.waiters[id]
	delete(t.waiters, id)
	return exists
}

// SpawnReader starts a goroutine that reads framed responses from r
// and routes each one to the waiter registered under its id.
// The returned channel is closed when the goroutine exits
// (on EOF or a read error);
// at that point every outstanding waiter has been completed
// with [ErrConnectionClosed].
// The goroutine does not close r.
func (t *Transport) SpawnReader(ctx context.Context, r io.Reader, opts *ReaderOptions) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer t.failAll()
		t.readLoop(ctx, r, opts)
	}()
	return done
}

// SpawnWriter starts a writer goroutine for the connection's write half
// and returns the [Sender] used to enqueue outbound messages.
func (t *Transport) SpawnWriter(ctx context.Context, w io.Writer, opts *WriterOptions) *Sender {
	return SpawnWriter(ctx, w, opts)
}

func (t *Transport) readLoop(ctx context.Context, r io.Reader, opts *ReaderOptions) {
	rd := NewReader(r, jsonrpc.ParseResponseSet, opts)
	for {
		set, err := rd.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Debugf(ctx, "Hit EOF while reading responses")
				return
			}
			if code, ok := jsonrpc.CodeFromError(err); ok && code == jsonrpc.ParseError {
				log.Warnf(ctx, "Server sent invalid JSON: %v", err)
				continue
			}
			log.Errorf(ctx, "Reading responses: %v", err)
			return
		}
		if set.Batch {
			// This client never sends batches,
			// so a batched response cannot match any waiter.
			log.Errorf(ctx, "Server sent a batched response (%d elements): not supported; dropping", len(set.Items))
			continue
		}
		for _, item := range set.Items {
			t.route(ctx, item)
		}
	}
}

func (t *Transport) route(ctx context.Context, item jsonrpc.ResponseItem) {
	if item.ID.IsZero() {
		log.Warnf(ctx, "Response without a routable id; dropping")
		return
	}
	t.mu.Lock()
	ch := t.waiters[item.ID]
	delete(t.waiters, item.ID)
	t.mu.Unlock()
	if ch == nil {
		log.Warnf(ctx, "Response came with an unexpected id %v; dropping", item.ID)
		return
	}
	ch <- Result{Response: item.Response, Err: item.Err}
}

// failAll completes every outstanding waiter with [ErrConnectionClosed].
func (t *Transport) failAll() {
	t.mu.Lock()
	waiters := t.waiters
	t.waiters = make(map[jsonrpc.ID]chan<- Result)
	t.mu.Unlock()
	for _, ch := range waiters {
		ch <- Result{Err: ErrConnectionClosed}
	}
}
