// Copyright 2025 The srpc Authors
// SPDX-License-Identifier: MIT

package srpc_test

import (
	"context"
	"fmt"
	"net"
	"strings"

	srpc "srpc.256lights.llc/pkg"
	"srpc.256lights.llc/pkg/transport"
)

type containsParams struct {
	Data string `json:"data"`
	Elem string `json:"elem"`
}

func Example() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Register the service's methods.
	mux := srpc.ServeMux{
		"contains": srpc.Method(func(ctx context.Context, p containsParams) (bool, error) {
			return strings.Contains(p.Data, p.Elem), nil
		}),
	}

	// Start a server on a loopback listener.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	srv := srpc.NewServer(mux, nil)
	srvDone := make(chan struct{})
	go func() {
		defer close(srvDone)
		srv.Serve(ctx, l)
	}()
	defer func() {
		cancel()
		<-srvDone
	}()

	// Call the server using a client.
	client := srpc.NewClient(l.Addr().String(), transport.NewTransport(), nil)
	defer client.Close()

	result, err := srpc.Call[containsParams, bool](ctx, client, "contains", containsParams{
		Data: "cool lib",
		Elem: "lib",
	})
	if err != nil {
		panic(err)
	}
	fmt.Println("Server returned", result)
	// Output:
	// Server returned true
}
