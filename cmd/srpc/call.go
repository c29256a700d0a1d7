// Copyright 2025 The srpc Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	srpc "srpc.256lights.llc/pkg"
	"srpc.256lights.llc/pkg/jsonrpc"
	"srpc.256lights.llc/pkg/transport"
)

func newCallCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "call METHOD [PARAMS]",
		Short:                 "invoke a method and print its result",
		DisableFlagsInUseLine: true,
		Args:                  cobra.RangeArgs(1, 2),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runCall(cmd.Context(), g, args)
	}
	return c
}

func runCall(ctx context.Context, g *globalConfig, args []string) error {
	client := srpc.NewClient(g.Address, transport.NewTransport(), g.options())
	defer client.Close()

	resp, err := client.Call(ctx, &jsonrpc.Request{
		Method: args[0],
		Params: rawParams(args),
	})
	if err != nil {
		return err
	}
	fmt.Println(string(resp.Result))
	return nil
}

func newNotifyCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "notify METHOD [PARAMS]",
		Short:                 "send a notification",
		DisableFlagsInUseLine: true,
		Args:                  cobra.RangeArgs(1, 2),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runNotify(cmd.Context(), g, args)
	}
	return c
}

func runNotify(ctx context.Context, g *globalConfig, args []string) error {
	client := srpc.NewClient(g.Address, transport.NewTransport(), g.options())
	defer client.Close()
	return client.Notify(ctx, &jsonrpc.Request{
		Method: args[0],
		Params: rawParams(args),
	})
}

func rawParams(args []string) json.RawMessage {
	if len(args) < 2 {
		return nil
	}
	return json.RawMessage(args[1])
}
