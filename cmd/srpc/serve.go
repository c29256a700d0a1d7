// Copyright 2025 The srpc Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/spf13/cobra"
	srpc "srpc.256lights.llc/pkg"
	"zombiezen.com/go/log"
)

func newServeCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "serve [options]",
		Short:                 "run the demo RPC server",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), g)
	}
	return c
}

func runServe(ctx context.Context, g *globalConfig) error {
	l, err := listen(ctx, g.Address)
	if err != nil {
		return err
	}
	srv := srpc.NewServer(demoMux(), g.options())
	return srv.Serve(ctx, l)
}

// listen prefers a socket-activated listener when one was passed in,
// falling back to binding the configured address.
func listen(ctx context.Context, addr string) (net.Listener, error) {
	listeners, err := activation.Listeners()
	if err != nil {
		log.Warnf(ctx, "Socket activation: %v", err)
	}
	for _, l := range listeners {
		if l != nil {
			log.Infof(ctx, "Listening on socket-activated %v", l.Addr())
			return l, nil
		}
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	log.Infof(ctx, "Listening on %v", l.Addr())
	return l, nil
}

// demoMux assembles the demonstration services:
// a string service and a number service.
func demoMux() srpc.ServeMux {
	str := new(strService)
	return srpc.ServeMux{
		"contains":  srpc.Method(str.contains),
		"set_data":  srpc.UnitMethod(str.setData),
		"max":       srpc.Method(maxMethod),
		"factorial": srpc.Method(factorialMethod),
	}
}

type strService struct {
	mu     sync.Mutex
	isCool bool
}

type containsParams struct {
	Data string `json:"data"`
	Elem string `json:"elem"`
}

func (s *strService) contains(ctx context.Context, p containsParams) (bool, error) {
	return strings.Contains(p.Data, p.Elem), nil
}

type setDataParams struct {
	IsCool bool `json:"is_cool"`
}

func (s *strService) setData(ctx context.Context, p setDataParams) error {
	s.mu.Lock()
	s.isCool = p.IsCool
	s.mu.Unlock()
	if addr, ok := srpc.CallerAddr(ctx); ok {
		log.Infof(ctx, "Set a cool variable to %t for %v", p.IsCool, addr)
	}
	return nil
}

type maxParams struct {
	A int32 `json:"a"`
	B int32 `json:"b"`
}

func maxMethod(ctx context.Context, p maxParams) (int32, error) {
	return max(p.A, p.B), nil
}

type factorialParams struct {
	N uint32 `json:"n"`
}

func factorialMethod(ctx context.Context, p factorialParams) (uint64, error) {
	result := uint64(1)
	for n := uint64(2); n <= uint64(p.N); n++ {
		result *= n
	}
	return result, nil
}
