// Copyright 2025 The srpc Authors
// SPDX-License-Identifier: MIT

package srpc

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"srpc.256lights.llc/pkg/internal/testcontext"
	"srpc.256lights.llc/pkg/jsonrpc"
)

func writeFrame(tb testing.TB, w io.Writer, body string) {
	tb.Helper()
	buf := binary.LittleEndian.AppendUint32(nil, uint32(len(body)))
	buf = append(buf, body...)
	if _, err := w.Write(buf); err != nil {
		tb.Fatalf("writing frame: %v", err)
	}
}

func readFrame(tb testing.TB, r io.Reader) []byte {
	tb.Helper()
	body, err := readFrameErr(r)
	if err != nil {
		tb.Fatalf("reading frame: %v", err)
	}
	return body
}

func readFrameErr(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	body := make([]byte, binary.LittleEndian.Uint32(header[:]))
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// parseJSON parses data for comparison with go-cmp,
// keeping numbers as json.Number so ints survive.
func parseJSON(tb testing.TB, data []byte) any {
	tb.Helper()
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		tb.Fatalf("parsing %s: %v", data, err)
	}
	return parsed
}

type testContainsParams struct {
	Data string `json:"data"`
	Elem string `json:"elem"`
}

type testSetDataParams struct {
	IsCool bool `json:"is_cool"`
}

type testMaxParams struct {
	A int32 `json:"a"`
	B int32 `json:"b"`
}

// newTestMux returns the demonstration method table used by the tests
// and a counter of set_data invocations.
func newTestMux() (ServeMux, *atomic.Int32) {
	setDataCalls := new(atomic.Int32)
	mux := ServeMux{
		"contains": Method(func(ctx context.Context, p testContainsParams) (bool, error) {
			return strings.Contains(p.Data, p.Elem), nil
		}),
		"set_data": UnitMethod(func(ctx context.Context, p testSetDataParams) error {
			setDataCalls.Add(1)
			return nil
		}),
		"max": Method(func(ctx context.Context, p testMaxParams) (int32, error) {
			return max(p.A, p.B), nil
		}),
		"kaboom": HandlerFunc(func(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
			panic("kaboom")
		}),
	}
	return mux, setDataCalls
}

// startConn starts a server over one side of an in-memory connection
// and returns the peer side.
func startConn(t *testing.T, ctx context.Context, handler Handler) net.Conn {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	srv := NewServer(handler, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.ServeConn(ctx, serverConn); err != nil {
			t.Errorf("ServeConn: %v", err)
		}
	}()
	t.Cleanup(func() {
		clientConn.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not shut down after connection close")
		}
	})
	return clientConn
}

func TestServeConn(t *testing.T) {
	tests := []struct {
		name    string
		request string
		want    any
	}{
		{
			name:    "Contains",
			request: `{"jsonrpc":"2.0","method":"contains","params":{"data":"cool lib","elem":"lib"},"id":42}`,
			want: map[string]any{
				"jsonrpc": "2.0",
				"result":  true,
				"id":      json.Number("42"),
			},
		},
		{
			name:    "UnknownMethod",
			request: `{"jsonrpc":"2.0","method":"nope","params":null,"id":"x"}`,
			want: map[string]any{
				"jsonrpc": "2.0",
				"error": map[string]any{
					"code":    json.Number("-32601"),
					"message": "Method not found",
				},
				"id": "x",
			},
		},
		{
			name:    "UnitResult",
			request: `{"jsonrpc":"2.0","method":"set_data","params":{"is_cool":true},"id":7}`,
			want: map[string]any{
				"jsonrpc": "2.0",
				"result":  nil,
				"id":      json.Number("7"),
			},
		},
		{
			name:    "Panic",
			request: `{"jsonrpc":"2.0","method":"kaboom","params":null,"id":8}`,
			want: map[string]any{
				"jsonrpc": "2.0",
				"error": map[string]any{
					"code":    json.Number("-32603"),
					"message": "Internal error",
				},
				"id": json.Number("8"),
			},
		},
		{
			name:    "InvalidRequest",
			request: `{"jsonrpc":"2.0","method":"contains","id":5,"bogus":1}`,
			want: map[string]any{
				"jsonrpc": "2.0",
				"error": map[string]any{
					"code": json.Number("-32600"),
				},
				"id": json.Number("5"),
			},
		},
		{
			name:    "ParseError",
			request: `{"jsonrpc": "2.0", "method": "foobar, "params": "bar", "baz]`,
			want: map[string]any{
				"jsonrpc": "2.0",
				"error": map[string]any{
					"code": json.Number("-32700"),
				},
				"id": nil,
			},
		},
		{
			name:    "Batch",
			request: `[{"jsonrpc":"2.0","method":"contains","params":{"data":"ab","elem":"a"},"id":1},{"jsonrpc":"2.0","method":"nope","params":null,"id":2}]`,
			want: []any{
				map[string]any{
					"jsonrpc": "2.0",
					"result":  true,
					"id":      json.Number("1"),
				},
				map[string]any{
					"jsonrpc": "2.0",
					"error": map[string]any{
						"code":    json.Number("-32601"),
						"message": "Method not found",
					},
					"id": json.Number("2"),
				},
			},
		},
		{
			name:    "BatchOfNotifications",
			request: `[{"jsonrpc":"2.0","method":"set_data","params":{"is_cool":true}},{"jsonrpc":"2.0","method":"set_data","params":{"is_cool":false}}]`,
			want:    []any{},
		},
		{
			name:    "EmptyBatch",
			request: `[]`,
			want: map[string]any{
				"jsonrpc": "2.0",
				"error": map[string]any{
					"code": json.Number("-32600"),
				},
				"id": nil,
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ctx, cancel := testcontext.New(t)
			defer cancel()
			mux, _ := newTestMux()
			conn := startConn(t, ctx, mux)

			writeFrame(t, conn, test.request)
			got := parseJSON(t, readFrame(t, conn))

			ignoreErrorData := cmp.FilterPath(func(p cmp.Path) bool {
				for _, step := range p {
					if idx, ok := step.(cmp.MapIndex); ok {
						key := idx.Key()
						if key.Kind() != 0 && key.Interface() == "data" {
							return true
						}
					}
				}
				return false
			}, cmp.Ignore())
			ignoreErrorMessages := cmp.Options(nil)
			if test.name == "InvalidRequest" || test.name == "ParseError" || test.name == "EmptyBatch" {
				ignoreErrorMessages = cmp.Options{cmp.FilterPath(func(p cmp.Path) bool {
					for _, step := range p {
						if idx, ok := step.(cmp.MapIndex); ok {
							key := idx.Key()
							if key.Kind() != 0 && key.Interface() == "message" {
								return true
							}
						}
					}
					return false
				}, cmp.Ignore())}
			}

			if diff := cmp.Diff(test.want, got, ignoreErrorData, ignoreErrorMessages); diff != "" {
				t.Errorf("response (-want +got):\n%s", diff)
			}
		})
	}
}

func TestServeConnInvalidParams(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	mux, _ := newTestMux()
	conn := startConn(t, ctx, mux)

	writeFrame(t, conn, `{"jsonrpc":"2.0","method":"max","params":{"a":"no"},"id":9}`)
	got := parseJSON(t, readFrame(t, conn)).(map[string]any)

	errObj, ok := got["error"].(map[string]any)
	if !ok {
		t.Fatalf("response has no error object: %v", got)
	}
	if code := errObj["code"]; code != json.Number("-32602") {
		t.Errorf("error code = %v; want -32602", code)
	}
	if msg := errObj["message"]; msg != "Invalid params" {
		t.Errorf("error message = %v; want %q", msg, "Invalid params")
	}
	if data, ok := errObj["data"].(string); !ok || data == "" {
		t.Errorf("error data = %v; want the decoder's message", errObj["data"])
	}
	if id := got["id"]; id != json.Number("9") {
		t.Errorf("id = %v; want 9", id)
	}
}

func TestServeConnNotification(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	mux, setDataCalls := newTestMux()
	conn := startConn(t, ctx, mux)

	// The notification yields no response,
	// so the first response on the connection is the subsequent call's.
	// Messages are handled concurrently,
	// so the set_data invocation count is polled afterwards.
	writeFrame(t, conn, `{"jsonrpc":"2.0","method":"set_data","params":{"is_cool":true}}`)
	writeFrame(t, conn, `{"jsonrpc":"2.0","method":"contains","params":{"data":"ab","elem":"a"},"id":1}`)

	got := parseJSON(t, readFrame(t, conn)).(map[string]any)
	if id := got["id"]; id != json.Number("1") {
		t.Fatalf("first response was for id %v; a notification must not produce a response", id)
	}

	deadline := time.Now().Add(5 * time.Second)
	for setDataCalls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := setDataCalls.Load(); got != 1 {
		t.Errorf("set_data invoked %d times; want 1", got)
	}
}

func TestServeConnSurvivesFailures(t *testing.T) {
	// Parse errors and handler panics must not tear down the connection.
	ctx, cancel := testcontext.New(t)
	defer cancel()
	mux, _ := newTestMux()
	conn := startConn(t, ctx, mux)

	writeFrame(t, conn, `this is not json`)
	got := parseJSON(t, readFrame(t, conn)).(map[string]any)
	if got["id"] != nil {
		t.Errorf("parse error response id = %v; want null", got["id"])
	}

	writeFrame(t, conn, `{"jsonrpc":"2.0","method":"kaboom","params":null,"id":1}`)
	got = parseJSON(t, readFrame(t, conn)).(map[string]any)
	if errObj, ok := got["error"].(map[string]any); !ok || errObj["code"] != json.Number("-32603") {
		t.Errorf("panic response = %v; want internal error", got)
	}

	writeFrame(t, conn, `{"jsonrpc":"2.0","method":"contains","params":{"data":"ab","elem":"a"},"id":2}`)
	got = parseJSON(t, readFrame(t, conn)).(map[string]any)
	if got["result"] != true {
		t.Errorf("call after failures = %v; want result true", got)
	}
}

func TestServeConnCallerAddr(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	handler := HandlerFunc(func(ctx context.Context, req *jsonrpc.Request) (json.RawMessage, error) {
		addr, ok := CallerAddr(ctx)
		if !ok {
			return nil, errors.New("caller address missing")
		}
		if _, ok := ConnectionID(ctx); !ok {
			return nil, errors.New("connection id missing")
		}
		return json.RawMessage(fmt.Sprintf("%q", addr.String())), nil
	})
	conn := startConn(t, ctx, handler)

	writeFrame(t, conn, `{"jsonrpc":"2.0","method":"whoami","params":null,"id":1}`)
	got := parseJSON(t, readFrame(t, conn)).(map[string]any)
	if s, ok := got["result"].(string); !ok || s == "" {
		t.Errorf("result = %v; want the caller's address", got)
	}
}
