// Copyright 2025 The srpc Authors
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/tailscale/hujson"
	"go4.org/xdgdir"
	srpc "srpc.256lights.llc/pkg"
)

// globalConfig is the CLI configuration,
// settable from the configuration file and flags.
type globalConfig struct {
	Address               string `json:"address"`
	MaxPayloadBytes       int64  `json:"maxPayloadBytes"`
	WriterChannelCapacity int    `json:"writerChannelCapacity"`
	ReadBufferBytes       int    `json:"readBufferBytes"`
}

func defaultGlobalConfig() *globalConfig {
	return &globalConfig{
		Address: "127.0.0.1:8080",
	}
}

// defaultConfigPath returns the path of the configuration file
// under the XDG configuration directory,
// or the empty string if no such directory is defined.
func defaultConfigPath() string {
	p := xdgdir.Config.Path()
	if p == "" {
		return ""
	}
	return filepath.Join(p, "srpc", "config.json")
}

// load merges the HuJSON configuration file at path into g.
// A missing file is not an error.
func (g *globalConfig) load(path string) error {
	if path == "" {
		return nil
	}
	huJSONData, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	jsonData, err := hujson.Standardize(huJSONData)
	if err != nil {
		return fmt.Errorf("read %s: %v", path, err)
	}
	if err := jsonv2.Unmarshal(jsonData, g, jsonv2.RejectUnknownMembers(false)); err != nil {
		return fmt.Errorf("read %s: %v", path, err)
	}
	return nil
}

func (g *globalConfig) options() *srpc.Options {
	return &srpc.Options{
		MaxPayloadBytes:       g.MaxPayloadBytes,
		WriterChannelCapacity: g.WriterChannelCapacity,
		ReadBufferBytes:       g.ReadBufferBytes,
	}
}
