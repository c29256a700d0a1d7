// Copyright 2025 The srpc Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"
	"zombiezen.com/go/bass/sigterm"
	"zombiezen.com/go/log"
)

func main() {
	rootCommand := &cobra.Command{
		Use:           "srpc",
		Short:         "JSON-RPC 2.0 over framed TCP",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	g := defaultGlobalConfig()
	configPath := rootCommand.PersistentFlags().String("config", defaultConfigPath(), "`path` to configuration file")
	addr := rootCommand.PersistentFlags().String("address", g.Address, "server `address`")
	showDebug := rootCommand.PersistentFlags().Bool("debug", false, "show debugging output")
	rootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		initLogging(*showDebug)
		if err := g.load(*configPath); err != nil {
			return err
		}
		if cmd.Flags().Changed("address") {
			g.Address = *addr
		}
		return nil
	}

	rootCommand.AddCommand(
		newServeCommand(g),
		newCallCommand(g),
		newNotifyCommand(g),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), sigterm.Signals()...)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		initLogging(*showDebug)
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "srpc: ", log.StdFlags, nil),
		})
	})
}
