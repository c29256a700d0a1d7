// Copyright 2025 The srpc Authors
// SPDX-License-Identifier: MIT

package transport

import (
	"errors"
	"io"
	"testing"
	"time"

	"srpc.256lights.llc/pkg/internal/testcontext"
	"srpc.256lights.llc/pkg/jsonrpc"
)

func TestAddWaiter(t *testing.T) {
	tr := NewTransport()
	ch := make(chan Result, 1)

	if err := tr.AddWaiter(jsonrpc.ID{}, ch); err == nil {
		t.Error("AddWaiter with zero id succeeded")
	}
	if err := tr.AddWaiter(jsonrpc.NumberID(1), ch); err != nil {
		t.Fatalf("AddWaiter: %v", err)
	}
	if err := tr.AddWaiter(jsonrpc.NumberID(1), ch); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("second AddWaiter = %v; want ErrDuplicateID", err)
	}
	if !tr.RemoveWaiter(jsonrpc.NumberID(1)) {
		t.Error("RemoveWaiter reported no waiter")
	}
	if tr.RemoveWaiter(jsonrpc.NumberID(1)) {
		t.Error("second RemoveWaiter reported a waiter")
	}
	if err := tr.AddWaiter(jsonrpc.NumberID(1), ch); err != nil {
		t.Errorf("AddWaiter after remove: %v", err)
	}
}

func TestSpawnReader(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	tr := NewTransport()
	pr, pw := io.Pipe()
	done := tr.SpawnReader(ctx, pr, nil)

	okChan := make(chan Result, 1)
	errChan := make(chan Result, 1)
	pendingChan := make(chan Result, 1)
	for id, ch := range map[jsonrpc.ID]chan Result{
		jsonrpc.NumberID(1): okChan,
		jsonrpc.NumberID(2): errChan,
		jsonrpc.NumberID(3): pendingChan,
	} {
		if err := tr.AddWaiter(id, ch); err != nil {
			t.Fatalf("AddWaiter(%v): %v", id, err)
		}
	}

	write := func(body string) {
		t.Helper()
		buf, err := AppendFrame(nil, []byte(body), 0)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := pw.Write(buf); err != nil {
			t.Fatal(err)
		}
	}

	// A response for an unknown id is discarded without affecting waiters.
	write(`{"jsonrpc":"2.0","result":1,"id":999}`)
	// A batched response is unsupported and dropped.
	write(`[{"jsonrpc":"2.0","result":1,"id":1}]`)
	// Invalid JSON in one frame does not terminate the reader.
	write(`{"jsonrpc":`)

	write(`{"jsonrpc":"2.0","result":true,"id":1}`)
	res := <-okChan
	if res.Err != nil {
		t.Errorf("waiter 1 result error: %v", res.Err)
	} else if got := string(res.Response.Result); got != "true" {
		t.Errorf("waiter 1 result = %s; want true", got)
	}

	write(`{"jsonrpc":"2.0","error":{"code":-32601,"message":"Method not found"},"id":2}`)
	res = <-errChan
	if code, ok := jsonrpc.CodeFromError(res.Err); !ok || code != jsonrpc.MethodNotFound {
		t.Errorf("waiter 2 error = %v; want MethodNotFound", res.Err)
	}

	// EOF completes the remaining waiter with a connection-closed error.
	pw.Close()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not terminate after EOF")
	}
	select {
	case res = <-pendingChan:
		if !errors.Is(res.Err, ErrConnectionClosed) {
			t.Errorf("waiter 3 error = %v; want ErrConnectionClosed", res.Err)
		}
	default:
		t.Error("waiter 3 was not completed after reader termination")
	}
}

func TestSpawnReaderIOError(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	tr := NewTransport()
	pr, pw := io.Pipe()
	done := tr.SpawnReader(ctx, pr, nil)

	ch := make(chan Result, 1)
	if err := tr.AddWaiter(jsonrpc.NumberID(7), ch); err != nil {
		t.Fatal(err)
	}

	pw.CloseWithError(errors.New("wire cut"))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reader did not terminate after IO error")
	}
	res := <-ch
	if !errors.Is(res.Err, ErrConnectionClosed) {
		t.Errorf("waiter error = %v; want ErrConnectionClosed", res.Err)
	}
}
